// Package contact stores who has messaged whom. It is the neighbor index the
// traceback search walks.
package contact

import (
	"context"
	"fmt"

	"e2e_trace/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type (
	// Contact is one direction of a social edge.
	Contact struct {
		User string `bson:"user"`
		Peer string `bson:"peer"`
	}

	ContactRepo struct {
		collection *mongo.Collection
	}
)

func NewContactRepo(db *mongo.Database) *ContactRepo {
	return &ContactRepo{
		collection: db.Collection("contacts"),
	}
}

// EnsureIndexes makes (user, peer) unique, which also serves lookups by user.
func (r *ContactRepo) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "user", Value: 1}, {Key: "peer", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

// Add upserts both directions of every link.
func (r *ContactRepo) Add(ctx context.Context, links ...model.Link) error {
	writes := make([]mongo.WriteModel, 0, 2*len(links))
	for _, l := range links {
		if l.Sender == l.Receiver {
			continue
		}
		for _, c := range []Contact{
			{User: string(l.Sender), Peer: string(l.Receiver)},
			{User: string(l.Receiver), Peer: string(l.Sender)},
		} {
			writes = append(writes, mongo.NewUpdateOneModel().
				SetFilter(bson.M{"user": c.User, "peer": c.Peer}).
				SetUpdate(bson.M{"$setOnInsert": c}).
				SetUpsert(true))
		}
	}
	if len(writes) == 0 {
		return nil
	}
	_, err := r.collection.BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return fmt.Errorf("upsert contacts: %w", err)
	}
	return nil
}

// Query returns the peers of each user in insertion order.
func (r *ContactRepo) Query(ctx context.Context, users []model.UserID) (map[model.UserID][]model.UserID, error) {
	out := make(map[model.UserID][]model.UserID, len(users))
	if len(users) == 0 {
		return out, nil
	}
	names := make([]string, len(users))
	for i, u := range users {
		names[i] = string(u)
	}

	cur, err := r.collection.Find(ctx,
		bson.M{"user": bson.M{"$in": names}},
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("find contacts: %w", err)
	}
	defer cur.Close(ctx)

	for cur.Next(ctx) {
		var c Contact
		if err := cur.Decode(&c); err != nil {
			return nil, err
		}
		u := model.UserID(c.User)
		out[u] = append(out[u], model.UserID(c.Peer))
	}
	return out, cur.Err()
}

