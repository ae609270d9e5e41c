package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"e2e_trace/internal/model"
)

func lastKey(user string) string {
	return fmt.Sprintf("last: %s", user)
}

// SaveLastReceived keeps the most recent envelope so it can still be
// forwarded or reported after a restart.
func (c *App) SaveLastReceived(ctx context.Context, user string, e *model.Envelope) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return c.redisService.Set(ctx, lastKey(user), data, 24*time.Hour)
}

func (c *App) GetLastReceived(ctx context.Context, user string) (*model.Envelope, error) {
	v, err := c.redisService.Get(ctx, lastKey(user))
	if err != nil {
		return nil, err
	}

	if v == "" {
		return nil, nil
	}

	var e model.Envelope
	err = json.Unmarshal([]byte(v), &e)
	if err != nil {
		return nil, err
	}

	return &e, nil
}
