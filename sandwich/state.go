package sandwich

import (
	"sync"

	"github.com/holiman/uint256"
	"github.com/sandolabs/mega-sando/metrics"
)

// BotState is shared between the pipeline, the sweeper and the detector inputs.
// Critical sections only touch fields, never the network.
type BotState struct {
	mu         sync.RWMutex
	balance    *uint256.Int
	pending    []PendingSandwich
	ids        map[string]struct{}
	generation uint64
}

func NewBotState() *BotState {
	return &BotState{
		balance: new(uint256.Int),
		ids:     make(map[string]struct{}),
	}
}

// WETHBalance is the last known WETH balance of the sandwich contract.
func (s *BotState) WETHBalance() *uint256.Int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return new(uint256.Int).Set(s.balance)
}

func (s *BotState) SetWETHBalance(balance *uint256.Int) {
	s.mu.Lock()
	s.balance = new(uint256.Int).Set(balance)
	s.mu.Unlock()
}

// AddPending queues a sandwich for the current aggregation window.
func (s *BotState) AddPending(sandwich PendingSandwich) error {
	metrics.IncSandwichesReceived()
	if err := sandwich.Validate(); err != nil {
		metrics.IncSandwichesRejected()
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[sandwich.ID]; ok {
		metrics.IncSandwichesRejected()
		return ErrDuplicateSandwich
	}
	s.ids[sandwich.ID] = struct{}{}
	s.pending = append(s.pending, sandwich)
	return nil
}

// ClearPending drops every pending sandwich and starts a new generation.
func (s *BotState) ClearPending() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = nil
	s.ids = make(map[string]struct{})
	s.generation++
	return s.generation
}

// DrainPending returns the pending sandwiches in arrival order and empties the set.
// Ids stay reserved until the next clear so a sandwich is never built twice per block.
func (s *BotState) DrainPending() []PendingSandwich {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PendingSandwich, len(s.pending))
	copy(out, s.pending)
	s.pending = nil
	return out
}

func (s *BotState) PendingCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pending)
}

// Generation is the number of times the pending set was cleared.
func (s *BotState) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}
