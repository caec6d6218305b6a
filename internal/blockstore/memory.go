// Package blockstore holds the append-only block stores. Every implementation treats a rewrite
// of the same block id as a no-op so the replayer can retry freely.
package blockstore

import (
	"context"
	"slices"
	"sync"

	"github.com/xrfq/chain_ledger/internal/apperrors"
	"github.com/xrfq/chain_ledger/internal/chain"
)

// MemoryStore keeps blocks in process. Used for local runs and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	blocks map[string]chain.Block
	order  []string
}

// NewMemory creates an empty in-memory block store.
func NewMemory() *MemoryStore {
	return &MemoryStore{blocks: make(map[string]chain.Block)}
}

func (s *MemoryStore) Write(_ context.Context, b chain.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.blocks[b.ID]; ok {
		if existing.ChainStampID != b.ChainStampID {
			return apperrors.InvalidRecordState("block %s already stored with a different chain stamp", b.ID)
		}
		return nil
	}
	b.EntryIDs = slices.Clone(b.EntryIDs)
	s.blocks[b.ID] = b
	s.order = append(s.order, b.ID)
	return nil
}

// Get returns a stored block.
func (s *MemoryStore) Get(id string) (chain.Block, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blocks[id]
	return b, ok
}

// Len reports how many distinct blocks are stored.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}
