package mongodb

import (
	"context"

	"botstore/db"
	"botstore/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type settingDoc struct {
	Key   string `bson:"key"`
	Value string `bson:"value"`
}

func (s *Store) ListProducts(ctx context.Context) ([]models.Product, error) {
	cur, err := s.products.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, classify(err)
	}
	defer cur.Close(ctx)
	var products []models.Product
	if err := cur.All(ctx, &products); err != nil {
		return nil, classify(err)
	}
	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, itemID string) (models.Product, error) {
	var p models.Product
	if err := s.products.FindOne(ctx, bson.M{"item_id": itemID}).Decode(&p); err != nil {
		return models.Product{}, classify(err)
	}
	return p, nil
}

func (s *Store) InsertProduct(ctx context.Context, p models.Product) error {
	_, err := s.products.InsertOne(ctx, p)
	return classify(err)
}

func (s *Store) UpdateProduct(ctx context.Context, p models.Product) error {
	return mustMatch(s.products.UpdateOne(ctx, bson.M{"item_id": p.ItemID}, bson.M{"$set": bson.M{
		"name":        p.Name,
		"price":       p.Price,
		"description": p.Description,
		"image_ref":   p.ImageRef,
		"file_ref":    p.FileRef,
		"category":    p.Category,
		"is_new":      p.IsNew,
		"is_archived": p.IsArchived,
	}}))
}

func (s *Store) SetProductArchived(ctx context.Context, itemID string, archived bool) error {
	return mustMatch(s.products.UpdateOne(ctx, bson.M{"item_id": itemID},
		bson.M{"$set": bson.M{"is_archived": archived}}))
}

func (s *Store) ListCategories(ctx context.Context) ([]models.Category, error) {
	cur, err := s.categories.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "name", Value: 1}}))
	if err != nil {
		return nil, classify(err)
	}
	defer cur.Close(ctx)
	var cats []models.Category
	if err := cur.All(ctx, &cats); err != nil {
		return nil, classify(err)
	}
	return cats, nil
}

func (s *Store) InsertCategory(ctx context.Context, name string) error {
	_, err := s.categories.InsertOne(ctx, models.Category{Name: name})
	return classify(err)
}

func (s *Store) DeleteCategory(ctx context.Context, name string) error {
	res, err := s.categories.DeleteOne(ctx, bson.M{"name": name})
	if err != nil {
		return classify(err)
	}
	if res.DeletedCount == 0 {
		return db.ErrNotFound
	}
	return nil
}

func (s *Store) LoadSettings(ctx context.Context) (models.Settings, error) {
	cur, err := s.settings.Find(ctx, bson.M{})
	if err != nil {
		return nil, classify(err)
	}
	defer cur.Close(ctx)
	var docs []settingDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, classify(err)
	}
	settings := make(models.Settings, len(docs))
	for _, d := range docs {
		settings[d.Key] = d.Value
	}
	return settings, nil
}

func (s *Store) PutSetting(ctx context.Context, key, value string) error {
	_, err := s.settings.UpdateOne(ctx,
		bson.M{"key": key},
		bson.M{"$set": bson.M{"value": value}},
		options.Update().SetUpsert(true),
	)
	return classify(err)
}

func (s *Store) ListPages(ctx context.Context) ([]models.StaticPage, error) {
	cur, err := s.pages.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "slug", Value: 1}}))
	if err != nil {
		return nil, classify(err)
	}
	defer cur.Close(ctx)
	var pages []models.StaticPage
	if err := cur.All(ctx, &pages); err != nil {
		return nil, classify(err)
	}
	return pages, nil
}

func (s *Store) UpsertPage(ctx context.Context, p models.StaticPage) error {
	_, err := s.pages.UpdateOne(ctx,
		bson.M{"slug": p.Slug},
		bson.M{"$set": bson.M{"title": p.Title, "content": p.Content, "is_active": p.IsActive}},
		options.Update().SetUpsert(true),
	)
	return classify(err)
}
