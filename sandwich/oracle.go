package sandwich

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/consensus/misc/eip1559"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"
)

// BlockOracle holds the latest observed block and the prediction of the next one.
// It keeps its last value while the head stream is reconnecting.
type BlockOracle struct {
	config *params.ChainConfig

	mu     sync.RWMutex
	latest BlockInfo
	next   BlockInfo
	seen   bool
}

func NewBlockOracle(config *params.ChainConfig) *BlockOracle {
	return &BlockOracle{config: config}
}

// Update replaces both snapshots from a new head. The prediction is computed
// before the lock is taken.
func (o *BlockOracle) Update(header *types.Header) (latest, next BlockInfo) {
	latest = BlockInfoFromHeader(header)
	next = PredictNext(o.config, header)

	o.mu.Lock()
	o.latest = latest
	o.next = next
	o.seen = true
	o.mu.Unlock()

	return latest.copy(), next.copy()
}

func (o *BlockOracle) Latest() (BlockInfo, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.latest.copy(), o.seen
}

func (o *BlockOracle) Next() (BlockInfo, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.next.copy(), o.seen
}

// PredictNext extrapolates the block after header: one slot later, base fee from
// the EIP-1559 adjustment rule.
func PredictNext(config *params.ChainConfig, header *types.Header) BlockInfo {
	next := BlockInfo{
		Timestamp: header.Time + uint64(BlockTime.Seconds()),
		GasLimit:  header.GasLimit,
	}
	if header.Number != nil {
		next.Number = header.Number.Uint64() + 1
	}
	if header.BaseFee == nil || header.Number == nil {
		next.BaseFee = new(big.Int).SetUint64(params.InitialBaseFee)
		return next
	}
	next.BaseFee = eip1559.CalcBaseFee(config, header)
	return next
}
