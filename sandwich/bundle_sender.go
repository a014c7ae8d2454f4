package sandwich

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/sandolabs/mega-sando/metrics"
	"github.com/sandolabs/mega-sando/pools"
	"go.uber.org/zap"
)

var ErrNoSandwiches = errors.New("no sandwiches to build")

// MegaSandwich is one bundle holding every sandwich of a block.
type MegaSandwich struct {
	Bundle     *BundleRequest
	Sandwiches []PendingSandwich
	FirstNonce uint64
	// Skipped holds ids of sandwiches that could not be encoded.
	Skipped []string
}

type legGroup struct {
	legs []SandwichLeg
	tip  *big.Int
}

// BundleSender joins pending sandwiches into a mega sandwich: all frontruns, then all
// victims, then all backruns. V2 legs share one multi pair frontrun and backrun,
// every V3 leg gets its own pair of transactions.
type BundleSender struct {
	log   *zap.Logger
	maker *SandwichMaker
}

func NewBundleSender(log *zap.Logger, maker *SandwichMaker) *BundleSender {
	return &BundleSender{log: log.Named("bundle_sender"), maker: maker}
}

func (b *BundleSender) accept(s PendingSandwich) error {
	for _, leg := range s.Legs {
		if _, err := b.maker.resolve([]SandwichLeg{leg}); err != nil {
			return err
		}
	}
	return nil
}

func (b *BundleSender) groups(sandwiches []PendingSandwich) []legGroup {
	v2 := legGroup{tip: new(big.Int)}
	var v3 []legGroup
	for _, s := range sandwiches {
		for _, leg := range s.Legs {
			pool, _ := b.maker.registry.Get(leg.Pool)
			if pool.Variant == pools.UniswapV3 {
				v3 = append(v3, legGroup{legs: []SandwichLeg{leg}, tip: s.tip()})
				continue
			}
			v2.legs = append(v2.legs, leg)
			if tip := s.tip(); tip.Cmp(v2.tip) > 0 {
				v2.tip = tip
			}
		}
	}
	if len(v2.legs) == 0 {
		return v3
	}
	return append([]legGroup{v2}, v3...)
}

// MakeMegaSandwich signs the bundle for target using consecutive nonces starting
// at the current searcher nonce.
func (b *BundleSender) MakeMegaSandwich(sandwiches []PendingSandwich, target BlockInfo) (*MegaSandwich, error) {
	mega := &MegaSandwich{FirstNonce: b.maker.Nonce()}
	for _, s := range sandwiches {
		if err := b.accept(s); err != nil {
			b.log.Warn("Skipping sandwich", zap.String("id", s.ID), zap.Error(err))
			metrics.IncSandwichesRejected()
			mega.Skipped = append(mega.Skipped, s.ID)
			continue
		}
		mega.Sandwiches = append(mega.Sandwiches, s)
	}
	if len(mega.Sandwiches) == 0 {
		return nil, ErrNoSandwiches
	}

	baseFee := target.BaseFee
	if baseFee == nil {
		baseFee = new(big.Int)
	}
	groups := b.groups(mega.Sandwiches)
	nonce := mega.FirstNonce

	txs := make([]hexutil.Bytes, 0, 2*len(groups)+len(mega.Sandwiches))
	for _, g := range groups {
		payload, err := b.maker.BuildFrontrun(g.legs, target.Number)
		if err != nil {
			return nil, fmt.Errorf("frontrun: %w", err)
		}
		gas := b.maker.cfg.FrontrunGas * uint64(len(g.legs))
		tx, err := b.maker.SignTx(nonce, payload, new(big.Int), baseFee, gas)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
		nonce++
	}

	seen := make(map[string]struct{})
	for _, s := range mega.Sandwiches {
		for _, victim := range s.Victims {
			if _, ok := seen[string(victim)]; ok {
				continue
			}
			seen[string(victim)] = struct{}{}
			txs = append(txs, victim)
		}
	}

	for _, g := range groups {
		payload, err := b.maker.BuildBackrun(g.legs, target.Number)
		if err != nil {
			return nil, fmt.Errorf("backrun: %w", err)
		}
		gas := b.maker.cfg.BackrunGas * uint64(len(g.legs))
		feeCap := new(big.Int).Add(baseFee, g.tip)
		tx, err := b.maker.SignTx(nonce, payload, g.tip, feeCap, gas)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
		nonce++
	}

	mega.Bundle = NewBundleRequest(txs, target)
	b.log.Info("Built mega sandwich",
		zap.Uint64("block", target.Number),
		zap.Int("sandwiches", len(mega.Sandwiches)),
		zap.Int("txs", len(txs)),
		zap.Uint64("nonce", mega.FirstNonce),
		zap.String("bundleHash", mega.Bundle.Hash().Hex()),
	)
	return mega, nil
}
