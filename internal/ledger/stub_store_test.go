package ledger

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// stubStore is an in-memory Store with snapshot rollback.
type stubStore struct {
	mu      sync.Mutex
	entries map[uuid.UUID]Entry
	failTx  error
	// bumpOnRead simulates another actor writing between read and write.
	bumpOnRead bool
}

func newStubStore() *stubStore {
	return &stubStore{entries: make(map[uuid.UUID]Entry)}
}

func (s *stubStore) WithTx(ctx context.Context, fn func(context.Context, Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := make(map[uuid.UUID]Entry, len(s.entries))
	for k, v := range s.entries {
		snapshot[k] = v
	}
	if err := fn(ctx, &stubTx{store: s}); err != nil {
		s.entries = snapshot
		return err
	}
	if s.failTx != nil {
		s.entries = snapshot
		return s.failTx
	}
	return nil
}

func (s *stubStore) GetEntry(_ context.Context, id uuid.UUID) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return Entry{}, ErrEntryNotFound
	}
	if s.bumpOnRead {
		stored := e
		stored.Version++
		s.entries[id] = stored
	}
	return e, nil
}

func (s *stubStore) ListEntries(_ context.Context, filter Filter) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Entry
	for _, e := range s.entries {
		if filter.Matches(e) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

type stubTx struct {
	store *stubStore
}

func (t *stubTx) InsertEntry(_ context.Context, e Entry) error {
	t.store.entries[e.ID] = e
	return nil
}

func (t *stubTx) GetEntry(_ context.Context, id uuid.UUID) (Entry, error) {
	e, ok := t.store.entries[id]
	if !ok {
		return Entry{}, ErrEntryNotFound
	}
	return e, nil
}

func (t *stubTx) UpdateEntry(_ context.Context, e Entry, expectedVersion int64) (Entry, error) {
	stored, ok := t.store.entries[e.ID]
	if !ok {
		return Entry{}, ErrEntryNotFound
	}
	if stored.Version != expectedVersion {
		return Entry{}, ErrConcurrentModification
	}
	e.Version = expectedVersion + 1
	t.store.entries[e.ID] = e
	return e, nil
}

func (t *stubTx) DeleteEntry(_ context.Context, id uuid.UUID, expectedVersion int64) error {
	stored, ok := t.store.entries[id]
	if !ok {
		return ErrEntryNotFound
	}
	if stored.Version != expectedVersion {
		return ErrConcurrentModification
	}
	delete(t.store.entries, id)
	return nil
}

func (t *stubTx) FingerprintBooked(_ context.Context, statementID uuid.UUID, fingerprint string) (bool, error) {
	for _, e := range t.store.entries {
		if e.StatementID == statementID && e.Fingerprint == fingerprint && e.Status != StatusRejected && e.Status != StatusReversed {
			return true, nil
		}
	}
	return false, nil
}

func (t *stubTx) DeleteRunDrafts(_ context.Context, statementID uuid.UUID) (int, error) {
	n := 0
	for id, e := range t.store.entries {
		if e.StatementID == statementID && e.RunID != nil && e.Status == StatusDraft {
			delete(t.store.entries, id)
			n++
		}
	}
	return n, nil
}
