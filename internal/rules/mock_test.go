package rules

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/rewards-engine/internal/model"
)

// mockJudge is a testify mock implementing Judge.
type mockJudge struct {
	mock.Mock
}

func (m *mockJudge) Evaluate(ctx context.Context, c model.Condition, value any) model.Judgment {
	args := m.Called(ctx, c, value)
	return args.Get(0).(model.Judgment)
}

// memStore is an in-memory Store with the same commit semantics as the
// SQL stores: the whole batch lands or none of it does.
type memStore struct {
	mu        sync.Mutex
	rules     []model.Rule
	events    []model.Event
	grants    map[model.GrantKey]model.Grant
	balances  map[string]int64
	commitErr error
	commits   int
}

func newMemStore(rules []model.Rule, events []model.Event) *memStore {
	return &memStore{
		rules:    rules,
		events:   events,
		grants:   make(map[model.GrantKey]model.Grant),
		balances: make(map[string]int64),
	}
}

func (s *memStore) ActiveRules(_ context.Context) ([]model.Rule, error) {
	var out []model.Rule
	for _, r := range s.rules {
		if r.Active {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memStore) GetRule(_ context.Context, id string) (*model.Rule, error) {
	for _, r := range s.rules {
		if r.ID == id {
			return &r, nil
		}
	}
	return nil, model.NotFound("rule", id)
}

func (s *memStore) ListEvents(_ context.Context, ids []string) ([]model.Event, error) {
	if len(ids) == 0 {
		return s.events, nil
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []model.Event
	for _, e := range s.events {
		if want[e.ID] {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *memStore) GrantKeys(_ context.Context) (map[model.GrantKey]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[model.GrantKey]struct{}, len(s.grants))
	for k := range s.grants {
		out[k] = struct{}{}
	}
	return out, nil
}

func (s *memStore) CommitGrants(_ context.Context, grants []model.Grant, deltas map[string]int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commits++
	if s.commitErr != nil {
		return s.commitErr
	}
	for _, g := range grants {
		if _, ok := s.grants[g.Key()]; ok {
			return model.Conflict(nil, "duplicate grant")
		}
	}
	for _, g := range grants {
		s.grants[g.Key()] = g
	}
	for id, d := range deltas {
		s.balances[id] += d
	}
	return nil
}
