package app

import (
	"context"

	"e2e_trace/internal/model"
	"e2e_trace/internal/protocol/keychain"
)

func (c *App) getUserAndCreateIfNotExist(ctx context.Context, username string) (*model.User, error) {
	user, err := c.userRepo.GetByName(ctx, username)
	if err != nil {
		return nil, err
	}

	if user != nil {
		return user, nil
	}

	ik, err := keychain.NewIdentityKey()
	if err != nil {
		return nil, err
	}

	user = &model.User{
		Name:        username,
		IdentityKey: ik[:],
	}

	_, err = c.userRepo.Create(ctx, user)
	if err != nil {
		return nil, err
	}

	return user, nil
}
