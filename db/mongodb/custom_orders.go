package mongodb

import (
	"context"
	"errors"
	"time"

	"botstore/db"
	"botstore/models"

	"go.mongodb.org/mongo-driver/bson"
)

func (s *Store) InsertCustomOrder(ctx context.Context, o models.CustomBotOrder) error {
	_, err := s.custom.InsertOne(ctx, o)
	return classify(err)
}

func (s *Store) count(ctx context.Context, filter bson.M) (bool, error) {
	n, err := s.custom.CountDocuments(ctx, filter)
	if err != nil {
		return false, classify(err)
	}
	return n > 0, nil
}

func (s *Store) CustomRefExists(ctx context.Context, refCode string) (bool, error) {
	return s.count(ctx, bson.M{"ref_code": refCode})
}

func (s *Store) TrackingNumberExists(ctx context.Context, trackingNumber string) (bool, error) {
	return s.count(ctx, bson.M{"tracking_number": trackingNumber})
}

func (s *Store) findCustom(ctx context.Context, filter bson.M) (models.CustomBotOrder, error) {
	var o models.CustomBotOrder
	if err := s.custom.FindOne(ctx, filter).Decode(&o); err != nil {
		return models.CustomBotOrder{}, classify(err)
	}
	return o, nil
}

func (s *Store) GetCustomOrder(ctx context.Context, id string) (models.CustomBotOrder, error) {
	return s.findCustom(ctx, bson.M{"_id": id})
}

func (s *Store) GetCustomOrderByRef(ctx context.Context, refCode string) (models.CustomBotOrder, error) {
	return s.findCustom(ctx, bson.M{"ref_code": refCode})
}

func (s *Store) GetCustomOrderByTracking(ctx context.Context, trackingNumber string) (models.CustomBotOrder, error) {
	return s.findCustom(ctx, bson.M{"tracking_number": trackingNumber})
}

func (s *Store) ListCustomOrders(ctx context.Context, limit, offset int) ([]models.CustomBotOrder, error) {
	cur, err := s.custom.Find(ctx, bson.M{}, pageOpts(limit, offset))
	if err != nil {
		return nil, classify(err)
	}
	defer cur.Close(ctx)
	var out []models.CustomBotOrder
	if err := cur.All(ctx, &out); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

func (s *Store) TransitionPayment(ctx context.Context, refCode string, from, to models.PaymentStatus, ev models.PaymentEvidence, at time.Time) (bool, error) {
	set := bson.M{"payment_status": to, "updated_at": at}
	if ev.MpesaCode != "" {
		set["evidence.mpesa_code"] = ev.MpesaCode
	}
	if ev.GatewayTxnID != "" {
		set["evidence.gateway_txn_id"] = ev.GatewayTxnID
	}
	if ev.CryptoInvoiceID != "" {
		set["evidence.crypto_invoice_id"] = ev.CryptoInvoiceID
	}
	return matched(s.custom.UpdateOne(ctx,
		bson.M{"ref_code": refCode, "status": models.CustomPending, "payment_status": from},
		bson.M{"$set": set}))
}

func actionable(id string) bson.M {
	return bson.M{"_id": id, "status": models.CustomPending, "payment_status": models.PaymentPaid}
}

func (s *Store) CompleteCustomOrder(ctx context.Context, id string, at time.Time) (bool, error) {
	return matched(s.custom.UpdateOne(ctx, actionable(id), bson.M{"$set": bson.M{
		"status":       models.CustomCompleted,
		"completed_at": at,
		"updated_at":   at,
	}}))
}

func (s *Store) RefundCustomOrder(ctx context.Context, id string, reason models.RefundReason, message string, at time.Time) (bool, error) {
	return matched(s.custom.UpdateOne(ctx, actionable(id), bson.M{"$set": bson.M{
		"status":                models.CustomRefunded,
		"refund_reason":         reason,
		"custom_refund_message": message,
		"refunded_at":           at,
		"updated_at":            at,
	}}))
}

func (s *Store) BeginEvidence(ctx context.Context, rec models.EvidenceRecord) (models.EvidenceRecord, bool, error) {
	rec.State = models.EvidenceInProgress
	rec.UpdatedAt = rec.CreatedAt
	_, err := s.evidence.InsertOne(ctx, rec)
	err = classify(err)
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, db.ErrDuplicate) {
		return models.EvidenceRecord{}, false, err
	}
	var stored models.EvidenceRecord
	if err := s.evidence.FindOne(ctx, bson.M{"ref_code": rec.RefCode, "evidence_id": rec.EvidenceID}).Decode(&stored); err != nil {
		return models.EvidenceRecord{}, false, classify(err)
	}
	return stored, false, nil
}

func (s *Store) FinishEvidence(ctx context.Context, refCode, evidenceID, outcome string, at time.Time) error {
	return mustMatch(s.evidence.UpdateOne(ctx,
		bson.M{"ref_code": refCode, "evidence_id": evidenceID},
		bson.M{"$set": bson.M{"state": models.EvidenceDone, "outcome": outcome, "updated_at": at}}))
}
