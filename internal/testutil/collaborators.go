package testutil

import (
	"context"
	"sync"

	"trackd/internal/model"
)

// StubMaintenance records DeleteFiles calls. Safe for concurrent use.
type StubMaintenance struct {
	mu    sync.Mutex
	Err   error
	calls []DeleteCall
}

// DeleteCall captures one DeleteFiles invocation.
type DeleteCall struct {
	Store model.StoreKey
	Paths []string
}

func (s *StubMaintenance) DeleteFiles(_ context.Context, store model.StoreKey, paths []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.calls = append(s.calls, DeleteCall{Store: store, Paths: append([]string{}, paths...)})
	return nil
}

// Calls returns the recorded DeleteFiles invocations.
func (s *StubMaintenance) Calls() []DeleteCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]DeleteCall{}, s.calls...)
}

// StubPromote answers PromotedPaths from a fixed map keyed by tracking id.
type StubPromote struct {
	Promoted map[string][]string
	Err      error
}

func (s *StubPromote) PromotedPaths(_ context.Context, trackingID string) (map[string]struct{}, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	out := make(map[string]struct{})
	for _, p := range s.Promoted[trackingID] {
		out[p] = struct{}{}
	}
	return out, nil
}
