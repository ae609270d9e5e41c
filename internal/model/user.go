package model

import "go.mongodb.org/mongo-driver/bson/primitive"

type (
	User struct {
		ID          primitive.ObjectID `bson:"_id,omitempty"`
		Name        string             `bson:"name"`
		IdentityKey []byte             `bson:"identity_key"`
	}
)

func (u *User) Key() (IdentityKey, bool) {
	var ik IdentityKey
	if len(u.IdentityKey) != KeySize {
		return ik, false
	}
	copy(ik[:], u.IdentityKey)
	return ik, true
}
