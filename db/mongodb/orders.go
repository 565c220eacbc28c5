package mongodb

import (
	"context"
	"time"

	"botstore/models"

	"go.mongodb.org/mongo-driver/bson"
)

func orderKey(refCode, itemID string) bson.M {
	return bson.M{"ref_code": refCode, "item_id": itemID}
}

func (s *Store) InsertOrder(ctx context.Context, o models.Order) error {
	_, err := s.orders.InsertOne(ctx, o)
	return classify(err)
}

func (s *Store) OrderExists(ctx context.Context, refCode, itemID string) (bool, error) {
	n, err := s.orders.CountDocuments(ctx, orderKey(refCode, itemID))
	if err != nil {
		return false, classify(err)
	}
	return n > 0, nil
}

func (s *Store) GetOrder(ctx context.Context, refCode, itemID string) (models.Order, error) {
	var o models.Order
	if err := s.orders.FindOne(ctx, orderKey(refCode, itemID)).Decode(&o); err != nil {
		return models.Order{}, classify(err)
	}
	return o, nil
}

func (s *Store) ListOrders(ctx context.Context, limit, offset int) ([]models.Order, error) {
	cur, err := s.orders.Find(ctx, bson.M{}, pageOpts(limit, offset))
	if err != nil {
		return nil, classify(err)
	}
	defer cur.Close(ctx)
	var orders []models.Order
	if err := cur.All(ctx, &orders); err != nil {
		return nil, classify(err)
	}
	return orders, nil
}

func (s *Store) SetOrderStatus(ctx context.Context, refCode, itemID string, status models.OrderStatus, at time.Time) error {
	return mustMatch(s.orders.UpdateOne(ctx, orderKey(refCode, itemID),
		bson.M{"$set": bson.M{"status": status, "updated_at": at}}))
}

func (s *Store) TransitionOrder(ctx context.Context, refCode, itemID string, from []models.OrderStatus, to models.OrderStatus, receiptRef string, at time.Time) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}
	filter := orderKey(refCode, itemID)
	filter["status"] = bson.M{"$in": from}
	set := bson.M{"status": to, "updated_at": at}
	if receiptRef != "" {
		set["receipt_ref"] = receiptRef
	}
	return matched(s.orders.UpdateOne(ctx, filter, bson.M{"$set": set}))
}

func (s *Store) MarkDownloaded(ctx context.Context, refCode, itemID string) error {
	return mustMatch(s.orders.UpdateOne(ctx, orderKey(refCode, itemID),
		bson.M{"$set": bson.M{"downloaded": true}}))
}
