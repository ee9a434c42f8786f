package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
)

// Store persists execution documents. Update is a compare-and-swap on the
// version: it fails with ErrVersionConflict when the stored version is not
// expected, and on success leaves e.Version at expected+1.
type Store interface {
	Insert(ctx context.Context, e *Execution) error
	Get(ctx context.Context, id string) (*Execution, error)
	Update(ctx context.Context, e *Execution, expected int64) error
	List(ctx context.Context, limit int) ([]*Execution, error)
}

// MemoryStore keeps documents as JSON in a map. Every read returns a fresh
// copy, so callers can mutate what they get.
type MemoryStore struct {
	mu   sync.Mutex
	docs map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string][]byte)}
}

func (s *MemoryStore) Insert(_ context.Context, e *Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[e.ID]; ok {
		return fmt.Errorf("insert %s: %w", e.ID, ErrExists)
	}
	e.Version = 1
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode execution: %w", err)
	}
	s.docs[e.ID] = data
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Execution, error) {
	s.mu.Lock()
	data, ok := s.docs[id]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("execution %s: %w", id, ErrNotFound)
	}
	return decode(data)
}

func (s *MemoryStore) Update(_ context.Context, e *Execution, expected int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.docs[e.ID]
	if !ok {
		return fmt.Errorf("execution %s: %w", e.ID, ErrNotFound)
	}
	var stored struct {
		Version int64 `json:"version"`
	}
	if err := json.Unmarshal(data, &stored); err != nil {
		return fmt.Errorf("decode execution: %w", err)
	}
	if stored.Version != expected {
		return ErrVersionConflict
	}
	e.Version = expected + 1
	data, err := json.Marshal(e)
	if err != nil {
		e.Version = expected
		return fmt.Errorf("encode execution: %w", err)
	}
	s.docs[e.ID] = data
	return nil
}

func (s *MemoryStore) List(_ context.Context, limit int) ([]*Execution, error) {
	s.mu.Lock()
	out := make([]*Execution, 0, len(s.docs))
	for _, data := range s.docs {
		e, err := decode(data)
		if err != nil {
			s.mu.Unlock()
			return nil, err
		}
		out = append(out, e)
	}
	s.mu.Unlock()

	slices.SortFunc(out, newestFirst)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func newestFirst(a, b *Execution) int {
	if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
		return c
	}
	switch {
	case a.ID < b.ID:
		return 1
	case a.ID > b.ID:
		return -1
	}
	return 0
}

func decode(data []byte) (*Execution, error) {
	var e Execution
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode execution: %w", err)
	}
	if e.Agents == nil {
		e.Agents = []AgentStep{}
	}
	return &e, nil
}
