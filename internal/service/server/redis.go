package server

import (
	"context"
	"encoding/json"
	"fmt"

	"e2e_trace/internal/model"
)

func inboxKey(to model.UserID) string {
	return fmt.Sprintf("inbox:%s", to)
}

// GetMessagesFromCache removes and returns the envelopes waiting for to.
func (s *HttpServer) GetMessagesFromCache(ctx context.Context, to model.UserID) ([][]byte, error) {
	vals, err := s.cache.Drain(ctx, inboxKey(to))
	if err != nil {
		return nil, err
	}

	res := make([][]byte, 0, len(vals))
	for _, v := range vals {
		res = append(res, []byte(v))
	}
	return res, nil
}

func (s *HttpServer) PutMessagesToCache(ctx context.Context, to model.UserID, envelopes ...*model.Envelope) error {
	vals := make([]any, 0, len(envelopes))
	for _, e := range envelopes {
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		vals = append(vals, data)
	}

	return s.cache.RPush(ctx, inboxKey(to), vals...)
}
