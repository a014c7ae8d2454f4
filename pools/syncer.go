package pools

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sandolabs/mega-sando/metrics"
	"go.uber.org/zap"
)

// Syncer keeps a Registry up to date with new pools and persists the snapshot
// after each successful sync.
type Syncer struct {
	log          *zap.Logger
	registry     *Registry
	discoverer   *LogDiscoverer
	dexes        []Dex
	snapshotFile string
	interval     uint64

	mu         sync.Mutex
	lastSynced uint64
	counter    uint64
}

func NewSyncer(log *zap.Logger, registry *Registry, discoverer *LogDiscoverer, dexes []Dex, snapshotFile string, intervalBlocks uint64) *Syncer {
	if intervalBlocks == 0 {
		intervalBlocks = 1
	}
	return &Syncer{
		log:          log.Named("pools"),
		registry:     registry,
		discoverer:   discoverer,
		dexes:        dexes,
		snapshotFile: snapshotFile,
		interval:     intervalBlocks,
	}
}

// Startup loads the snapshot into the registry and catches up to head.
func (s *Syncer) Startup(ctx context.Context, head uint64) error {
	snap, err := LoadSnapshot(s.snapshotFile)
	if err != nil {
		s.log.Warn("Failed to read pools snapshot, syncing from scratch", zap.Error(err))
		snap = Snapshot{}
	}
	s.registry.Add(snap.Pools...)

	from := uint64(0)
	if snap.LastBlockNumber > 0 {
		from = snap.LastBlockNumber + 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.sync(ctx, from, head); err != nil {
		return err
	}
	s.log.Info("Pools loaded", zap.Int("pools", s.registry.Len()), zap.Uint64("block", head))
	return nil
}

// OnHead re-scans the blocks seen since the last sync every interval heads.
func (s *Syncer) OnHead(ctx context.Context, header *types.Header) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counter++
	if s.counter < s.interval {
		return
	}
	s.counter = 0

	head := header.Number.Uint64()
	if head <= s.lastSynced {
		return
	}
	if err := s.sync(ctx, s.lastSynced+1, head); err != nil {
		s.log.Warn("Failed to sync new pools", zap.Uint64("block", head), zap.Error(err))
	}
}

func (s *Syncer) sync(ctx context.Context, from, to uint64) error {
	found, err := s.discoverer.SyncPools(ctx, s.dexes, from, to)
	if err != nil {
		return err
	}
	added := s.registry.Add(found...)
	s.lastSynced = to
	metrics.AddPoolsDiscovered(added)
	if added > 0 {
		s.log.Info("Added new pools", zap.Int("added", added), zap.Uint64("from", from), zap.Uint64("to", to))
	}

	if s.snapshotFile == "" {
		return nil
	}
	err = SaveSnapshot(s.snapshotFile, Snapshot{LastBlockNumber: to, Pools: s.registry.All()})
	if err != nil {
		s.log.Warn("Failed to write pools snapshot", zap.Error(err))
	}
	return nil
}

// LastSynced is the last block included in the registry.
func (s *Syncer) LastSynced() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSynced
}
