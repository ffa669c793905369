// Package testutil provides configurable test fakes for core interfaces.
package testutil

import (
	"context"
	"sync"
	"time"

	core "github.com/bananapics/core/internal"
)

// FakeStore is an in-memory implementation of storage.Store for testing.
type FakeStore struct {
	mu sync.RWMutex

	users       map[string]*core.User
	usersByTg   map[int64]string
	usersByRef  map[string]string
	ledger      []*core.LedgerEntry
	models      map[string]*core.ModelCatalog
	prices      map[string]*core.ModelPrice // modelKey|variantKey
	requests    map[string]*core.GenerationRequest
	references  map[string]*core.GenerationReference
	results     map[string][]*core.GenerationResult // by request id
	jobs        map[string]*core.GenerationJob
	trials      map[string]*core.TrialUse
	broadcasts  map[string]*core.Broadcast
	recipients  map[string][]*core.BroadcastRecipient // by broadcast id
}

// NewFakeStore returns a FakeStore with empty collections.
func NewFakeStore() *FakeStore {
	return &FakeStore{
		users:      make(map[string]*core.User),
		usersByTg:  make(map[int64]string),
		usersByRef: make(map[string]string),
		models:     make(map[string]*core.ModelCatalog),
		prices:     make(map[string]*core.ModelPrice),
		requests:   make(map[string]*core.GenerationRequest),
		references: make(map[string]*core.GenerationReference),
		results:    make(map[string][]*core.GenerationResult),
		jobs:       make(map[string]*core.GenerationJob),
		trials:     make(map[string]*core.TrialUse),
		broadcasts: make(map[string]*core.Broadcast),
		recipients: make(map[string][]*core.BroadcastRecipient),
	}
}

// --- UserStore ---

func (s *FakeStore) CreateUser(_ context.Context, u *core.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
	s.usersByTg[u.TelegramID] = u.ID
	if u.ReferralCode != "" {
		s.usersByRef[u.ReferralCode] = u.ID
	}
	return nil
}

func (s *FakeStore) GetUserByTelegramID(_ context.Context, telegramID int64) (*core.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.usersByTg[telegramID]
	if !ok {
		return nil, core.ErrNotFound
	}
	return s.users[id], nil
}

func (s *FakeStore) GetUser(_ context.Context, id string) (*core.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	return u, nil
}

func (s *FakeStore) GetUserByReferralCode(_ context.Context, code string) (*core.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.usersByRef[code]
	if !ok {
		return nil, core.ErrNotFound
	}
	return s.users[id], nil
}

func (s *FakeStore) UpdateUser(_ context.Context, u *core.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
	return nil
}

func (s *FakeStore) TouchUserActive(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		u.LastActiveAt = &at
	}
	return nil
}

func (s *FakeStore) ListUserIDsByFilter(_ context.Context, _ core.BroadcastFilter, _ time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.users))
	for id := range s.users {
		ids = append(ids, id)
	}
	return ids, nil
}

// --- LedgerStore ---

func (s *FakeStore) PostEntry(_ context.Context, e *core.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.ledger {
		if existing.UserID == e.UserID && existing.EntryType == e.EntryType && existing.ReferenceID == e.ReferenceID {
			return nil
		}
	}
	s.ledger = append(s.ledger, e)
	return nil
}

func (s *FakeStore) Balance(_ context.Context, userID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total int64
	for _, e := range s.ledger {
		if e.UserID == userID {
			total += e.Amount
		}
	}
	return total, nil
}

func (s *FakeStore) ListEntriesByReference(_ context.Context, userID, refID string) ([]*core.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*core.LedgerEntry
	for _, e := range s.ledger {
		if e.UserID == userID && e.ReferenceID == refID {
			out = append(out, e)
		}
	}
	return out, nil
}

// --- CatalogStore ---

func (s *FakeStore) UpsertModel(_ context.Context, m *core.ModelCatalog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.models[m.Key] = m
	return nil
}

func (s *FakeStore) GetModel(_ context.Context, key string) (*core.ModelCatalog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.models[key]
	if !ok {
		return nil, core.ErrModelNotFound
	}
	return m, nil
}

func (s *FakeStore) ListModels(_ context.Context) ([]*core.ModelCatalog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*core.ModelCatalog, 0, len(s.models))
	for _, m := range s.models {
		out = append(out, m)
	}
	return out, nil
}

func (s *FakeStore) UpsertPrice(_ context.Context, p *core.ModelPrice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[p.ModelKey+"|"+p.VariantKey] = p
	return nil
}

func (s *FakeStore) GetPrice(_ context.Context, modelKey, variantKey string) (*core.ModelPrice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prices[modelKey+"|"+variantKey]
	if !ok {
		return nil, core.ErrNotFound
	}
	return p, nil
}

// --- GenerationStore ---

func (s *FakeStore) CreateRequest(_ context.Context, r *core.GenerationRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[r.ID] = r
	return nil
}

func (s *FakeStore) GetRequest(_ context.Context, id string) (*core.GenerationRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.requests[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	return r, nil
}

// AllRequests returns every generation request created so far, for test
// assertions that have no request id to look up by.
func (s *FakeStore) AllRequests() []*core.GenerationRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*core.GenerationRequest, 0, len(s.requests))
	for _, r := range s.requests {
		out = append(out, r)
	}
	return out
}

func (s *FakeStore) UpdateRequest(_ context.Context, r *core.GenerationRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[r.ID]; !ok {
		return core.ErrNotFound
	}
	s.requests[r.ID] = r
	return nil
}

func (s *FakeStore) CreateReference(_ context.Context, ref *core.GenerationReference) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.references[ref.ID] = ref
	return nil
}

func (s *FakeStore) GetReference(_ context.Context, id string) (*core.GenerationReference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ref, ok := s.references[id]
	if !ok {
		return nil, core.ErrReferenceNotFound
	}
	return ref, nil
}

func (s *FakeStore) CreateResult(_ context.Context, res *core.GenerationResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[res.GenerationID] = append(s.results[res.GenerationID], res)
	return nil
}

func (s *FakeStore) GetResultsByRequestID(_ context.Context, requestID string) ([]*core.GenerationResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.results[requestID], nil
}

func (s *FakeStore) CreateJob(_ context.Context, j *core.GenerationJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[j.ID] = j
	return nil
}

func (s *FakeStore) GetJob(_ context.Context, id string) (*core.GenerationJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	return j, nil
}

func (s *FakeStore) UpdateJob(_ context.Context, j *core.GenerationJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[j.ID] = j
	return nil
}

func (s *FakeStore) CountActiveJobsForUser(_ context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, j := range s.jobs {
		if j.UserID == userID && !j.IsTerminal() {
			n++
		}
	}
	return n, nil
}

func (s *FakeStore) GetActiveJobForUser(_ context.Context, userID string) (*core.GenerationJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, j := range s.jobs {
		if j.UserID == userID && !j.IsTerminal() {
			return j, nil
		}
	}
	return nil, core.ErrNotFound
}

func (s *FakeStore) ListNonTerminalJobs(_ context.Context) ([]*core.GenerationJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*core.GenerationJob
	for _, j := range s.jobs {
		if !j.IsTerminal() {
			out = append(out, j)
		}
	}
	return out, nil
}

func (s *FakeStore) ListStuckJobs(_ context.Context, olderThan time.Time) ([]*core.GenerationJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*core.GenerationJob
	for _, j := range s.jobs {
		if !j.IsTerminal() && j.SubmittedAt.Before(olderThan) {
			out = append(out, j)
		}
	}
	return out, nil
}

// --- TrialStore ---

func (s *FakeStore) MarkTrialUsed(_ context.Context, t *core.TrialUse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.trials[t.UserID]; ok {
		return core.ErrConflict
	}
	s.trials[t.UserID] = t
	return nil
}

func (s *FakeStore) HasUsedTrial(_ context.Context, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.trials[userID]
	return ok, nil
}

func (s *FakeStore) ClearTrialUsed(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.trials, userID)
	return nil
}

// --- BroadcastStore ---

func (s *FakeStore) CreateBroadcast(_ context.Context, b *core.Broadcast) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcasts[b.ID] = b
	return nil
}

func (s *FakeStore) GetBroadcast(_ context.Context, id string) (*core.Broadcast, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.broadcasts[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	return b, nil
}

func (s *FakeStore) UpdateBroadcast(_ context.Context, b *core.Broadcast) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcasts[b.ID] = b
	return nil
}

func (s *FakeStore) ListBroadcasts(_ context.Context, limit int) ([]*core.Broadcast, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*core.Broadcast, 0, len(s.broadcasts))
	for _, b := range s.broadcasts {
		out = append(out, b)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *FakeStore) CreateRecipients(_ context.Context, recipients []*core.BroadcastRecipient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range recipients {
		s.recipients[r.BroadcastID] = append(s.recipients[r.BroadcastID], r)
	}
	return nil
}

func (s *FakeStore) NextPendingRecipient(_ context.Context, broadcastID string) (*core.BroadcastRecipient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.recipients[broadcastID] {
		if r.Status == core.RecipientPending {
			return r, nil
		}
	}
	return nil, core.ErrNotFound
}

func (s *FakeStore) UpdateRecipientStatus(_ context.Context, id string, status core.BroadcastRecipientStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, recipients := range s.recipients {
		for _, r := range recipients {
			if r.ID == id {
				r.Status = status
				r.AttemptedAt = &at
				return nil
			}
		}
	}
	return core.ErrNotFound
}

func (s *FakeStore) IncrementCounters(_ context.Context, broadcastID string, sentDelta, failedDelta, blockedDelta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.broadcasts[broadcastID]
	if !ok {
		return core.ErrNotFound
	}
	b.SentCount += sentDelta
	b.FailedCount += failedDelta
	b.BlockedCount += blockedDelta
	return nil
}

// --- misc ---

func (s *FakeStore) Close() error { return nil }

// Ping reports readiness; always healthy for a fake store.
func (s *FakeStore) Ping(context.Context) error { return nil }
