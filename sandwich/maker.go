package sandwich

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/sandolabs/mega-sando/codec"
	"github.com/sandolabs/mega-sando/pools"
)

var (
	ErrUnknownPool = errors.New("pool is not in the registry")
	ErrNotWETHPool = errors.New("pool does not trade WETH")
	ErrMixedLegs   = errors.New("only V2 legs can be joined into one payload")
)

type NonceSource interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

type MakerConfig struct {
	ChainID     *big.Int
	SearcherKey *ecdsa.PrivateKey
	Contract    common.Address
	WETH        common.Address
	Labels      codec.JumpLabels
	Divisor     *uint256.Int

	FrontrunGas uint64
	BackrunGas  uint64
	RecoverGas  uint64
}

// SandwichMaker turns sandwich legs into signed transactions to the sandwich contract.
type SandwichMaker struct {
	cfg      MakerConfig
	signer   types.Signer
	searcher common.Address
	v2       *codec.V2Builder
	v3       *codec.V3Builder
	registry *pools.Registry
	nonces   NonceSource

	mu    sync.Mutex
	nonce uint64
}

func NewSandwichMaker(cfg MakerConfig, registry *pools.Registry, nonces NonceSource) *SandwichMaker {
	if cfg.Divisor == nil {
		cfg.Divisor = codec.DefaultWETHDivisor
	}
	if cfg.FrontrunGas == 0 {
		cfg.FrontrunGas = DefaultFrontrunGas
	}
	if cfg.BackrunGas == 0 {
		cfg.BackrunGas = DefaultBackrunGas
	}
	if cfg.RecoverGas == 0 {
		cfg.RecoverGas = DefaultRecoverGas
	}
	return &SandwichMaker{
		cfg:      cfg,
		signer:   types.LatestSignerForChainID(cfg.ChainID),
		searcher: crypto.PubkeyToAddress(cfg.SearcherKey.PublicKey),
		v2:       codec.NewV2Builder(cfg.Labels, cfg.WETH, cfg.Divisor),
		v3:       codec.NewV3Builder(cfg.Labels, cfg.Divisor),
		registry: registry,
		nonces:   nonces,
	}
}

func (m *SandwichMaker) Searcher() common.Address {
	return m.searcher
}

// UpdateSearcherNonce replaces the stored nonce with the chain pending nonce, which
// may be lower than before when a transaction was dropped. On error the stored
// nonce is kept.
func (m *SandwichMaker) UpdateSearcherNonce(ctx context.Context) (uint64, error) {
	pending, err := m.nonces.PendingNonceAt(ctx, m.searcher)
	if err != nil {
		return m.Nonce(), err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nonce = pending
	return m.nonce, nil
}

func (m *SandwichMaker) Nonce() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nonce
}

type resolvedLeg struct {
	leg   SandwichLeg
	pool  pools.Pool
	other common.Address
}

func (m *SandwichMaker) resolve(legs []SandwichLeg) ([]resolvedLeg, error) {
	if len(legs) == 0 {
		return nil, ErrNoLegs
	}
	out := make([]resolvedLeg, 0, len(legs))
	for _, leg := range legs {
		pool, ok := m.registry.Get(leg.Pool)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownPool, leg.Pool.Hex())
		}
		other, ok := pool.OtherToken(m.cfg.WETH)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNotWETHPool, leg.Pool.Hex())
		}
		out = append(out, resolvedLeg{leg: leg, pool: pool, other: other})
	}
	if len(out) > 1 {
		for _, r := range out {
			if r.pool.Variant != pools.UniswapV2 {
				return nil, ErrMixedLegs
			}
		}
	}
	return out, nil
}

func poolKey(p pools.Pool) codec.PoolKey {
	return codec.PoolKey{Token0: p.Token0, Token1: p.Token1, Fee: p.SwapFee}
}

// BuildFrontrun encodes the WETH -> token swaps of legs. A single leg uses the
// single pool path, several V2 legs are joined into one multi pair call.
func (m *SandwichMaker) BuildFrontrun(legs []SandwichLeg, blockNumber uint64) (codec.Payload, error) {
	resolved, err := m.resolve(legs)
	if err != nil {
		return codec.Payload{}, err
	}
	if len(resolved) == 1 {
		r := resolved[0]
		if r.pool.Variant == pools.UniswapV3 {
			return m.v3.WETHInput(r.leg.FrontrunIn, m.cfg.WETH, r.other, r.pool.Address, poolKey(r.pool)), nil
		}
		return m.v2.WETHInput(blockNumber, r.leg.FrontrunIn, r.leg.FrontrunOut, r.other, r.pool.Address), nil
	}

	parts := make([]codec.Payload, len(resolved))
	for i, r := range resolved {
		parts[i] = m.v2.MultiWETHInput(blockNumber, r.leg.FrontrunIn, r.leg.FrontrunOut, r.other, r.pool.Address, i == 0)
	}
	return codec.Concat(parts...), nil
}

// BuildBackrun encodes the token -> WETH swaps of legs.
func (m *SandwichMaker) BuildBackrun(legs []SandwichLeg, blockNumber uint64) (codec.Payload, error) {
	resolved, err := m.resolve(legs)
	if err != nil {
		return codec.Payload{}, err
	}
	if len(resolved) == 1 {
		r := resolved[0]
		if r.pool.Variant == pools.UniswapV3 {
			return m.v3.WETHOutput(r.leg.BackrunIn, r.other, m.cfg.WETH, r.pool.Address, poolKey(r.pool)), nil
		}
		return m.v2.WETHOutput(blockNumber, r.leg.BackrunIn, r.leg.BackrunOut, r.other, r.pool.Address), nil
	}

	parts := make([]codec.Payload, len(resolved))
	for i, r := range resolved {
		parts[i] = m.v2.MultiWETHOutput(blockNumber, r.leg.BackrunIn, r.leg.BackrunOut, r.other, r.pool.Address, i == 0)
	}
	return codec.Concat(parts...), nil
}

// SignTx signs a dynamic fee call to the sandwich contract and returns its binary encoding.
func (m *SandwichMaker) SignTx(nonce uint64, payload codec.Payload, tip, feeCap *big.Int, gas uint64) (hexutil.Bytes, error) {
	value := new(big.Int)
	if payload.Value != nil {
		value = payload.Value.ToBig()
	}
	contract := m.cfg.Contract
	tx, err := types.SignNewTx(m.cfg.SearcherKey, m.signer, &types.DynamicFeeTx{
		ChainID:   m.cfg.ChainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &contract,
		Value:     value,
		Data:      payload.Data,
	})
	if err != nil {
		return nil, err
	}
	return tx.MarshalBinary()
}

// RecoverTx builds the public transaction that withdraws amount of WETH from the
// contract. The nonce is taken from the chain pending nonce.
func (m *SandwichMaker) RecoverTx(ctx context.Context, amount *uint256.Int, next BlockInfo, tip *big.Int) (*types.Transaction, error) {
	nonce, err := m.nonces.PendingNonceAt(ctx, m.searcher)
	if err != nil {
		return nil, err
	}
	payload := codec.RecoverPayload(m.cfg.Labels, amount, m.cfg.Divisor)

	baseFee := next.BaseFee
	if baseFee == nil {
		baseFee = new(big.Int)
	}
	feeCap := new(big.Int).Add(new(big.Int).Mul(baseFee, big.NewInt(2)), tip)
	contract := m.cfg.Contract
	return types.SignNewTx(m.cfg.SearcherKey, m.signer, &types.DynamicFeeTx{
		ChainID:   m.cfg.ChainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       m.cfg.RecoverGas,
		To:        &contract,
		Value:     payload.Value.ToBig(),
		Data:      payload.Data,
	})
}
