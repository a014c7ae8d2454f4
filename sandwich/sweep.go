package sandwich

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
	"github.com/sandolabs/mega-sando/codec"
	"github.com/sandolabs/mega-sando/metrics"
	"go.uber.org/zap"
)

var DefaultSweepTip = big.NewInt(1_000_000_000)

type TxSender interface {
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
}

type SweepConfig struct {
	HighWaterMark *uint256.Int
	Target        *uint256.Int
	Tip           *big.Int
}

// Sweeper moves WETH above the high-water mark from the contract back to the
// searcher with a public transaction. Sweeping is best effort and happens at most
// once per block and never while a previous sweep is still unmined.
type Sweeper struct {
	log    *zap.Logger
	maker  *SandwichMaker
	sender TxSender
	state  *BotState
	cfg    SweepConfig

	mu        sync.Mutex
	lastBlock uint64
	inflight  *types.Transaction
}

func NewSweeper(log *zap.Logger, maker *SandwichMaker, sender TxSender, state *BotState, cfg SweepConfig) *Sweeper {
	if cfg.HighWaterMark == nil {
		cfg.HighWaterMark = DefaultHighWaterMark
	}
	if cfg.Target == nil {
		cfg.Target = DefaultSweepTarget
	}
	if cfg.Tip == nil {
		cfg.Tip = DefaultSweepTip
	}
	return &Sweeper{
		log:    log.Named("sweeper"),
		maker:  maker,
		sender: sender,
		state:  state,
		cfg:    cfg,
	}
}

// SweepAmount is the amount that brings balance down to target, snapped to the
// call-value unit. It is zero when balance is not above the high-water mark.
func (s *Sweeper) SweepAmount(balance *uint256.Int) *uint256.Int {
	if balance.Cmp(s.cfg.HighWaterMark) <= 0 || balance.Cmp(s.cfg.Target) <= 0 {
		return new(uint256.Int)
	}
	excess := new(uint256.Int).Sub(balance, s.cfg.Target)
	return codec.EncodeWETH(excess, s.maker.cfg.Divisor)
}

// Check sweeps the contract for the block latest if needed and returns the sent
// transaction. Errors are logged and not returned.
func (s *Sweeper) Check(ctx context.Context, latest, next BlockInfo) *types.Transaction {
	s.mu.Lock()
	if latest.Number != 0 && latest.Number <= s.lastBlock {
		s.mu.Unlock()
		return nil
	}
	s.lastBlock = latest.Number
	s.mu.Unlock()

	balance := s.state.WETHBalance()
	amount := s.SweepAmount(balance)
	if amount.IsZero() {
		return nil
	}
	if s.sweepPending(ctx) {
		return nil
	}

	tx, err := s.maker.RecoverTx(ctx, amount, next, s.cfg.Tip)
	if err == nil {
		err = s.sender.SendTransaction(ctx, tx)
	}
	if err != nil {
		metrics.IncSweepsFailed()
		s.log.Warn("Failed to send recover transaction", zap.Uint64("block", latest.Number), zap.Stringer("amount", amount), zap.Error(err))
		return nil
	}

	s.mu.Lock()
	s.inflight = tx
	s.mu.Unlock()

	metrics.IncSweepsSent()
	s.log.Info("Recover weth transaction",
		zap.Uint64("block", latest.Number),
		zap.Stringer("balance", balance),
		zap.Stringer("amount", amount),
		zap.String("txHash", tx.Hash().Hex()),
	)
	return tx
}

// sweepPending reports whether the last sent sweep can still be mined. A sweep is
// settled once the confirmed nonce passes it (mined or replaced) or the pending
// nonce falls back to it (dropped). Node errors count as pending.
func (s *Sweeper) sweepPending(ctx context.Context) bool {
	s.mu.Lock()
	inflight := s.inflight
	s.mu.Unlock()
	if inflight == nil {
		return false
	}

	searcher := s.maker.Searcher()
	confirmed, err := s.sender.NonceAt(ctx, searcher, nil)
	if err != nil {
		s.log.Warn("Failed to get confirmed nonce", zap.Error(err))
		return true
	}
	if confirmed > inflight.Nonce() {
		s.settle(inflight, "mined")
		return false
	}

	pending, err := s.maker.nonces.PendingNonceAt(ctx, searcher)
	if err != nil {
		s.log.Warn("Failed to get pending nonce", zap.Error(err))
		return true
	}
	if pending <= inflight.Nonce() {
		s.settle(inflight, "dropped")
		return false
	}

	s.log.Debug("Previous sweep is pending", zap.String("txHash", inflight.Hash().Hex()), zap.Uint64("nonce", inflight.Nonce()))
	return true
}

func (s *Sweeper) settle(tx *types.Transaction, status string) {
	s.mu.Lock()
	if s.inflight == tx {
		s.inflight = nil
	}
	s.mu.Unlock()
	s.log.Info("Previous sweep settled", zap.String("txHash", tx.Hash().Hex()), zap.String("status", status))
}
