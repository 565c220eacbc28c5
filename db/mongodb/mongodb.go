// Package mongodb is the production backing store.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"botstore/db"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type Store struct {
	client *mongo.Client

	products   *mongo.Collection
	categories *mongo.Collection
	settings   *mongo.Collection
	pages      *mongo.Collection
	orders     *mongo.Collection
	custom     *mongo.Collection
	evidence   *mongo.Collection
}

var _ db.Store = (*Store)(nil)

// Connect dials MongoDB, checks the connection and makes sure the unique
// indexes the repositories rely on exist.
func Connect(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	d := client.Database(database)
	s := &Store{
		client:     client,
		products:   d.Collection("products"),
		categories: d.Collection("categories"),
		settings:   d.Collection("settings"),
		pages:      d.Collection("static_pages"),
		orders:     d.Collection("orders"),
		custom:     d.Collection("custom_orders"),
		evidence:   d.Collection("payment_evidence"),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func unique(name string, keys bson.D) mongo.IndexModel {
	return mongo.IndexModel{
		Keys:    keys,
		Options: options.Index().SetUnique(true).SetName(name),
	}
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	plan := []struct {
		coll *mongo.Collection
		idxs []mongo.IndexModel
	}{
		{s.products, []mongo.IndexModel{unique("unique_item_id", bson.D{{Key: "item_id", Value: 1}})}},
		{s.categories, []mongo.IndexModel{unique("unique_name", bson.D{{Key: "name", Value: 1}})}},
		{s.settings, []mongo.IndexModel{unique("unique_key", bson.D{{Key: "key", Value: 1}})}},
		{s.pages, []mongo.IndexModel{unique("unique_slug", bson.D{{Key: "slug", Value: 1}})}},
		{s.orders, []mongo.IndexModel{
			unique("unique_ref_item", bson.D{{Key: "ref_code", Value: 1}, {Key: "item_id", Value: 1}}),
			{Keys: bson.D{{Key: "created_at", Value: -1}}, Options: options.Index().SetName("created_desc")},
		}},
		{s.custom, []mongo.IndexModel{
			unique("unique_ref_code", bson.D{{Key: "ref_code", Value: 1}}),
			unique("unique_tracking_number", bson.D{{Key: "tracking_number", Value: 1}}),
			{Keys: bson.D{{Key: "created_at", Value: -1}}, Options: options.Index().SetName("created_desc")},
		}},
		{s.evidence, []mongo.IndexModel{
			unique("unique_ref_evidence", bson.D{{Key: "ref_code", Value: 1}, {Key: "evidence_id", Value: 1}}),
		}},
	}
	for _, p := range plan {
		if _, err := p.coll.Indexes().CreateMany(ctx, p.idxs); err != nil {
			return fmt.Errorf("create indexes on %s: %w", p.coll.Name(), err)
		}
	}
	return nil
}

// classify maps driver errors onto the db sentinels.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return db.ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return fmt.Errorf("%w: %v", db.ErrDuplicate, err)
	case mongo.IsTimeout(err), mongo.IsNetworkError(err), errors.Is(err, context.DeadlineExceeded):
		return db.Transient(err)
	}
	return err
}

func matched(res *mongo.UpdateResult, err error) (bool, error) {
	if err != nil {
		return false, classify(err)
	}
	return res.MatchedCount > 0, nil
}

func mustMatch(res *mongo.UpdateResult, err error) error {
	ok, err := matched(res, err)
	if err != nil {
		return err
	}
	if !ok {
		return db.ErrNotFound
	}
	return nil
}

func pageOpts(limit, offset int) *options.FindOptions {
	return options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit)).
		SetSkip(int64(offset))
}
