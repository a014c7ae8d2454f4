package pools

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

const factoryABIJSON = `[
	{"anonymous":false,"name":"PairCreated","type":"event","inputs":[
		{"indexed":true,"name":"token0","type":"address"},
		{"indexed":true,"name":"token1","type":"address"},
		{"indexed":false,"name":"pair","type":"address"},
		{"indexed":false,"name":"","type":"uint256"}]},
	{"anonymous":false,"name":"PoolCreated","type":"event","inputs":[
		{"indexed":true,"name":"token0","type":"address"},
		{"indexed":true,"name":"token1","type":"address"},
		{"indexed":true,"name":"fee","type":"uint24"},
		{"indexed":false,"name":"tickSpacing","type":"int24"},
		{"indexed":false,"name":"pool","type":"address"}]}
]`

// v2 pairs charge a flat 0.3%
const v2SwapFee = 3000

var (
	factoryABI = mustParseABI(factoryABIJSON)

	PairCreatedEvent = factoryABI.Events["PairCreated"].ID
	PoolCreatedEvent = factoryABI.Events["PoolCreated"].ID

	ErrMalformedLog = errors.New("malformed factory log")
)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return parsed
}

// LogFilterer is the part of ethclient.Client used for discovery.
type LogFilterer interface {
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// LogDiscoverer finds pools created by dex factories in a block range.
type LogDiscoverer struct {
	log       *zap.Logger
	client    LogFilterer
	chunkSize uint64
}

const defaultChunkSize = 10_000

func NewLogDiscoverer(log *zap.Logger, client LogFilterer, chunkSize uint64) *LogDiscoverer {
	if chunkSize == 0 {
		chunkSize = defaultChunkSize
	}
	return &LogDiscoverer{log: log.Named("discovery"), client: client, chunkSize: chunkSize}
}

// SyncPools returns the pools created by dexes in blocks [from, to]. Blocks before a
// dex's creation block are skipped.
func (d *LogDiscoverer) SyncPools(ctx context.Context, dexes []Dex, from, to uint64) ([]Pool, error) {
	var found []Pool
	for _, dex := range dexes {
		start := from
		if dex.CreatedBlock > start {
			start = dex.CreatedBlock
		}
		if start > to {
			continue
		}

		topic, err := creationTopic(dex.Variant)
		if err != nil {
			return nil, err
		}

		for chunkStart := start; chunkStart <= to; chunkStart += d.chunkSize {
			chunkEnd := chunkStart + d.chunkSize - 1
			if chunkEnd > to {
				chunkEnd = to
			}

			logs, err := d.client.FilterLogs(ctx, ethereum.FilterQuery{
				FromBlock: new(big.Int).SetUint64(chunkStart),
				ToBlock:   new(big.Int).SetUint64(chunkEnd),
				Addresses: []common.Address{dex.Factory},
				Topics:    [][]common.Hash{{topic}},
			})
			if err != nil {
				return nil, fmt.Errorf("filter logs of %s [%d, %d]: %w", dex.Name, chunkStart, chunkEnd, err)
			}

			for _, l := range logs {
				pool, err := DecodeCreationLog(l)
				if err != nil {
					d.log.Debug("Skipping factory log", zap.String("dex", dex.Name), zap.Stringer("tx", l.TxHash), zap.Error(err))
					continue
				}
				found = append(found, pool)
			}
		}
	}
	return found, nil
}

func creationTopic(v Variant) (common.Hash, error) {
	switch v {
	case UniswapV2:
		return PairCreatedEvent, nil
	case UniswapV3:
		return PoolCreatedEvent, nil
	}
	return common.Hash{}, fmt.Errorf("%w: %d", ErrUnknownVariant, v)
}

// DecodeCreationLog turns a PairCreated or PoolCreated log into a Pool.
func DecodeCreationLog(l types.Log) (Pool, error) {
	if len(l.Topics) < 3 {
		return Pool{}, ErrMalformedLog
	}
	token0 := common.BytesToAddress(l.Topics[1].Bytes())
	token1 := common.BytesToAddress(l.Topics[2].Bytes())

	switch l.Topics[0] {
	case PairCreatedEvent:
		values, err := factoryABI.Events["PairCreated"].Inputs.NonIndexed().Unpack(l.Data)
		if err != nil {
			return Pool{}, fmt.Errorf("%w: %v", ErrMalformedLog, err)
		}
		pair, ok := values[0].(common.Address)
		if !ok {
			return Pool{}, ErrMalformedLog
		}
		return Pool{Address: pair, Token0: token0, Token1: token1, SwapFee: v2SwapFee, Variant: UniswapV2}, nil
	case PoolCreatedEvent:
		if len(l.Topics) < 4 {
			return Pool{}, ErrMalformedLog
		}
		values, err := factoryABI.Events["PoolCreated"].Inputs.NonIndexed().Unpack(l.Data)
		if err != nil {
			return Pool{}, fmt.Errorf("%w: %v", ErrMalformedLog, err)
		}
		pool, ok := values[1].(common.Address)
		if !ok {
			return Pool{}, ErrMalformedLog
		}
		fee := new(big.Int).SetBytes(l.Topics[3].Bytes()).Uint64()
		return Pool{Address: pool, Token0: token0, Token1: token1, SwapFee: uint32(fee), Variant: UniswapV3}, nil
	}
	return Pool{}, ErrMalformedLog
}
