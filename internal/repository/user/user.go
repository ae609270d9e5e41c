package user

import (
	"context"
	"errors"
	"fmt"

	"e2e_trace/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type (
	// UserRepo stores users and serves as the identity key store.
	UserRepo struct {
		collection *mongo.Collection
	}
)

func NewUserRepo(db *mongo.Database) *UserRepo {
	return &UserRepo{
		collection: db.Collection("users"),
	}
}

// EnsureIndexes makes user names unique.
func (r *UserRepo) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "name", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

func (r *UserRepo) GetByName(ctx context.Context, name string) (*model.User, error) {
	filter := bson.M{
		"name": name,
	}

	var user model.User
	err := r.collection.FindOne(ctx, filter).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return &user, nil
}

func (r *UserRepo) Create(ctx context.Context, user *model.User) (primitive.ObjectID, error) {
	res, err := r.collection.InsertOne(ctx, user)
	if err != nil {
		return primitive.NilObjectID, err
	}

	id := res.InsertedID.(primitive.ObjectID)
	user.ID = id
	return id, nil
}

// Query returns the identity keys of the named users. Unknown users and users
// without a well-formed key are left out.
func (r *UserRepo) Query(ctx context.Context, users []model.UserID) (map[model.UserID]model.IdentityKey, error) {
	out := make(map[model.UserID]model.IdentityKey, len(users))
	if len(users) == 0 {
		return out, nil
	}
	names := make([]string, len(users))
	for i, u := range users {
		names[i] = string(u)
	}

	cur, err := r.collection.Find(ctx,
		bson.M{"name": bson.M{"$in": names}},
		options.Find().SetProjection(bson.M{"name": 1, "identity_key": 1}),
	)
	if err != nil {
		return nil, fmt.Errorf("find users: %w", err)
	}
	defer cur.Close(ctx)

	for cur.Next(ctx) {
		var u model.User
		if err := cur.Decode(&u); err != nil {
			return nil, err
		}
		if ik, ok := u.Key(); ok {
			out[model.UserID(u.Name)] = ik
		}
	}
	return out, cur.Err()
}
