package persist

import (
	"context"
	"errors"
	"fmt"
)

// ReplayResult is what Replay did for one cached session.
type ReplayResult struct {
	SessionID string `json:"session_id" yaml:"session_id"`
	Persisted int    `json:"persisted" yaml:"persisted"`
	Remaining int    `json:"remaining" yaml:"remaining"`
	Error     string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Replay drains every cached session into store. Chunks the store does not
// confirm go back into the cache. The returned error joins per-session
// failures; results are reported for every session either way.
func Replay(ctx context.Context, cache FallbackCache, store Store) ([]ReplayResult, error) {
	sessions, err := cache.Sessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list cached sessions: %w", err)
	}

	var errs []error
	results := make([]ReplayResult, 0, len(sessions))
	for _, id := range sessions {
		res, err := replaySession(ctx, cache, store, id)
		if err != nil {
			res.Error = err.Error()
			errs = append(errs, fmt.Errorf("session %s: %w", id, err))
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

func replaySession(ctx context.Context, cache FallbackCache, store Store, sessionID string) (ReplayResult, error) {
	res := ReplayResult{SessionID: sessionID}

	chunks, err := cache.Drain(ctx, sessionID)
	if err != nil {
		return res, err
	}
	if len(chunks) == 0 {
		return res, nil
	}

	ids, writeErr := store.InsertMany(ctx, chunks)
	left := unconfirmed(chunks, ids)
	res.Persisted = len(chunks) - len(left)
	res.Remaining = len(left)

	if len(left) > 0 {
		if err := cache.Append(ctx, sessionID, left); err != nil {
			return res, errors.Join(writeErr, fmt.Errorf("re-cache %d chunks: %w", len(left), err))
		}
	}
	if writeErr != nil {
		return res, writeErr
	}
	if len(left) > 0 {
		return res, fmt.Errorf("store confirmed %d of %d chunks", res.Persisted, len(chunks))
	}
	return res, nil
}
