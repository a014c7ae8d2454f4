package sandwich

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
	"github.com/sandolabs/mega-sando/metrics"
	"go.uber.org/zap"
)

const archiveTimeout = 5 * time.Second

type NonceUpdater interface {
	UpdateSearcherNonce(ctx context.Context) (uint64, error)
}

type MegaSandwichMaker interface {
	MakeMegaSandwich(sandwiches []PendingSandwich, target BlockInfo) (*MegaSandwich, error)
}

type BundleSubmitter interface {
	SendBundle(ctx context.Context, bundle *BundleRequest) []RelayResult
	SimulateBundle(ctx context.Context, bundle *BundleRequest) (*CallBundleResult, error)
}

type BundleArchive interface {
	ArchiveBundle(ctx context.Context, mega *MegaSandwich, results []RelayResult) error
}

type BalanceRefresher interface {
	Refresh(ctx context.Context, blockNumber uint64) (*uint256.Int, error)
}

type SweepChecker interface {
	Check(ctx context.Context, latest, next BlockInfo) *types.Transaction
}

type PipelineOpts struct {
	Oracle  *BlockOracle
	State   *BotState
	Nonces  NonceUpdater
	Maker   MegaSandwichMaker
	Relays  BundleSubmitter
	Archive BundleArchive
	Balance BalanceRefresher
	Sweeper SweepChecker

	AggregationWindow time.Duration
	// Simulate runs eth_callBundle before submission, the result is only logged.
	Simulate bool
}

// Pipeline runs one cycle per block: reset, accumulate, predict, build and submit.
// A new head cancels the cycle of the previous block before the pending set is
// cleared, so a bundle is never sent for a block that has already passed.
type Pipeline struct {
	log  *zap.Logger
	opts PipelineOpts

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	builds     atomic.Uint64
	lastBundle atomic.Value
}

func NewPipeline(log *zap.Logger, opts PipelineOpts) *Pipeline {
	if opts.AggregationWindow <= 0 {
		opts.AggregationWindow = DefaultAggregationWindow
	}
	return &Pipeline{log: log.Named("pipeline"), opts: opts}
}

// OnHead is the head stream handler. It returns as soon as the new cycle is started.
func (p *Pipeline) OnHead(ctx context.Context, header *types.Header) {
	latest, next := p.opts.Oracle.Update(header)
	metrics.IncBlocksSeen()
	p.log.Info("New block",
		zap.Uint64("number", latest.Number),
		zap.Uint64("timestamp", latest.Timestamp),
		zap.Stringer("baseFee", latest.BaseFee),
		zap.Uint64("nextNumber", next.Number),
		zap.Uint64("nextTimestamp", next.Timestamp),
		zap.Stringer("nextBaseFee", next.BaseFee),
	)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopCycle()

	generation := p.opts.State.ClearPending()
	cycleCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.cancel, p.done = cancel, done

	go func() {
		defer close(done)
		p.runCycle(cycleCtx, latest, next, generation)
	}()
}

// stopCycle must be called with mu held.
func (p *Pipeline) stopCycle() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
	p.cancel, p.done = nil, nil
}

// Stop cancels the running cycle and waits for it.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopCycle()
}

func (p *Pipeline) runCycle(ctx context.Context, latest, next BlockInfo, generation uint64) {
	p.sweep(ctx, latest, next)

	timer := time.NewTimer(p.opts.AggregationWindow)
	select {
	case <-ctx.Done():
		timer.Stop()
		p.log.Debug("Cycle abandoned", zap.Uint64("block", latest.Number), zap.Uint64("generation", generation))
		return
	case <-timer.C:
	}

	p.build(ctx, next)
}

// sweep refreshes the contract balance for latest and checks it for a sweep. A
// failed refresh skips the sweep for the block.
func (p *Pipeline) sweep(ctx context.Context, latest, next BlockInfo) {
	if p.opts.Balance != nil {
		balance, err := p.opts.Balance.Refresh(ctx, latest.Number)
		if err != nil {
			if ctx.Err() == nil {
				metrics.IncBalanceRefreshFailed()
				p.log.Warn("Failed to refresh contract balance, skipping sweep",
					zap.Uint64("block", latest.Number), zap.Stringer("lastBalance", balance), zap.Error(err))
			}
			return
		}
	}
	if p.opts.Sweeper != nil {
		p.opts.Sweeper.Check(ctx, latest, next)
	}
}

func (p *Pipeline) build(ctx context.Context, target BlockInfo) {
	if _, err := p.opts.Nonces.UpdateSearcherNonce(ctx); err != nil {
		p.log.Warn("Failed to update searcher nonce", zap.Error(err))
	}

	sandwiches := p.opts.State.DrainPending()
	if len(sandwiches) == 0 {
		p.log.Debug("No sandwiches for block", zap.Uint64("block", target.Number))
		return
	}

	p.builds.Add(1)
	mega, err := p.opts.Maker.MakeMegaSandwich(sandwiches, target)
	if err != nil {
		metrics.IncMegaSandwichesFailed()
		p.log.Warn("Failed to build mega sandwich", zap.Uint64("block", target.Number), zap.Error(err))
		return
	}
	metrics.IncMegaSandwichesBuilt(len(mega.Sandwiches))

	if p.opts.Simulate {
		p.simulate(ctx, mega.Bundle)
	}
	if ctx.Err() != nil {
		return
	}

	results := p.opts.Relays.SendBundle(ctx, mega.Bundle)
	p.lastBundle.Store(mega.Bundle.Hash())

	if p.opts.Archive != nil {
		// the next head cancels ctx, a submitted bundle is archived regardless
		archiveCtx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
		defer cancel()
		if err := p.opts.Archive.ArchiveBundle(archiveCtx, mega, results); err != nil {
			p.log.Warn("Failed to archive bundle", zap.String("bundleHash", mega.Bundle.Hash().Hex()), zap.Error(err))
		}
	}
}

func (p *Pipeline) simulate(ctx context.Context, bundle *BundleRequest) {
	res, err := p.opts.Relays.SimulateBundle(ctx, bundle)
	if err != nil {
		p.log.Debug("Bundle simulation failed", zap.Error(err))
		return
	}
	if idx, reverted := res.Reverted(); reverted {
		p.log.Warn("Simulated bundle reverts", zap.Int("tx", idx), zap.String("error", res.Results[idx].Error))
		return
	}
	p.log.Info("Simulated bundle", zap.Uint64("gasUsed", res.TotalGasUsed), zap.String("coinbaseDiff", res.CoinbaseDiff))
}

// Builds is the number of mega sandwich builds started since the pipeline was created.
func (p *Pipeline) Builds() uint64 {
	return p.builds.Load()
}

// LastBundleHash is the hash of the last submitted bundle.
func (p *Pipeline) LastBundleHash() common.Hash {
	h, ok := p.lastBundle.Load().(common.Hash)
	if !ok {
		return common.Hash{}
	}
	return h
}
