package sandwich

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
	"golang.org/x/crypto/sha3"
)

var (
	ErrNoLegs            = errors.New("sandwich has no legs")
	ErrNoVictims         = errors.New("sandwich has no victim transactions")
	ErrInvalidLeg        = errors.New("sandwich leg has empty amounts")
	ErrMissingID         = errors.New("sandwich id is empty")
	ErrDuplicateSandwich = errors.New("sandwich already pending")
)

const (
	SendBundleEndpointName = "eth_sendBundle"
	CallBundleEndpointName = "eth_callBundle"
)

// BlockInfo is the part of a block header the pipeline cares about.
type BlockInfo struct {
	Number    uint64
	Timestamp uint64
	BaseFee   *big.Int
	GasUsed   uint64
	GasLimit  uint64
}

func BlockInfoFromHeader(header *types.Header) BlockInfo {
	info := BlockInfo{
		Timestamp: header.Time,
		GasUsed:   header.GasUsed,
		GasLimit:  header.GasLimit,
	}
	if header.Number != nil {
		info.Number = header.Number.Uint64()
	}
	if header.BaseFee != nil {
		info.BaseFee = new(big.Int).Set(header.BaseFee)
	}
	return info
}

func (b BlockInfo) copy() BlockInfo {
	if b.BaseFee != nil {
		b.BaseFee = new(big.Int).Set(b.BaseFee)
	}
	return b
}

// SandwichLeg is one pool swapped around the victims. The frontrun buys the other
// token with WETH and the backrun sells it back.
type SandwichLeg struct {
	Pool        common.Address `json:"pool"`
	FrontrunIn  *uint256.Int   `json:"frontrunIn"`
	FrontrunOut *uint256.Int   `json:"frontrunOut"`
	BackrunIn   *uint256.Int   `json:"backrunIn"`
	BackrunOut  *uint256.Int   `json:"backrunOut"`
}

func (l SandwichLeg) Validate() error {
	for _, v := range []*uint256.Int{l.FrontrunIn, l.FrontrunOut, l.BackrunIn, l.BackrunOut} {
		if v == nil || v.IsZero() {
			return ErrInvalidLeg
		}
	}
	return nil
}

// PendingSandwich is an opportunity found by the detector for the current block.
type PendingSandwich struct {
	ID      string          `json:"id"`
	Victims []hexutil.Bytes `json:"victims"`
	Legs    []SandwichLeg   `json:"legs"`
	// BackrunTip is the priority fee per gas of the backrun.
	BackrunTip *hexutil.Big `json:"backrunTip,omitempty"`
}

func (s *PendingSandwich) Validate() error {
	if s.ID == "" {
		return ErrMissingID
	}
	if len(s.Victims) == 0 {
		return ErrNoVictims
	}
	if len(s.Legs) == 0 {
		return ErrNoLegs
	}
	for _, leg := range s.Legs {
		if err := leg.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (s *PendingSandwich) tip() *big.Int {
	if s.BackrunTip == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(s.BackrunTip.ToInt())
}

// BundleRequest is one relay submission. It is built by NewBundleRequest and not
// modified afterwards.
type BundleRequest struct {
	Txs          []hexutil.Bytes `json:"txs"`
	BlockNumber  hexutil.Uint64  `json:"blockNumber"`
	MinTimestamp uint64          `json:"minTimestamp,omitempty"`
	MaxTimestamp uint64          `json:"maxTimestamp,omitempty"`

	SimulationBlock uint64 `json:"-"`
}

// NewBundleRequest targets the predicted next block. The timestamp window is closed
// on the predicted timestamp and simulation runs on top of the parent block.
func NewBundleRequest(txs []hexutil.Bytes, target BlockInfo) *BundleRequest {
	body := make([]hexutil.Bytes, len(txs))
	copy(body, txs)
	return &BundleRequest{
		Txs:             body,
		BlockNumber:     hexutil.Uint64(target.Number),
		MinTimestamp:    target.Timestamp,
		MaxTimestamp:    target.Timestamp,
		SimulationBlock: target.Number - 1,
	}
}

// Hash is keccak256 over the concatenated transaction hashes.
func (b *BundleRequest) Hash() common.Hash {
	hasher := sha3.NewLegacyKeccak256()
	for _, tx := range b.Txs {
		txHasher := sha3.NewLegacyKeccak256()
		_, _ = txHasher.Write(tx)
		_, _ = hasher.Write(txHasher.Sum(nil))
	}
	return common.BytesToHash(hasher.Sum(nil))
}

// CallBundleArgs is the eth_callBundle request derived from a bundle.
type CallBundleArgs struct {
	Txs              []hexutil.Bytes `json:"txs"`
	BlockNumber      hexutil.Uint64  `json:"blockNumber"`
	StateBlockNumber string          `json:"stateBlockNumber"`
	Timestamp        uint64          `json:"timestamp,omitempty"`
}

func (b *BundleRequest) CallArgs() CallBundleArgs {
	return CallBundleArgs{
		Txs:              b.Txs,
		BlockNumber:      b.BlockNumber,
		StateBlockNumber: hexutil.EncodeUint64(b.SimulationBlock),
		Timestamp:        b.MinTimestamp,
	}
}

type CallBundleTxResult struct {
	TxHash   common.Hash `json:"txHash"`
	GasUsed  uint64      `json:"gasUsed"`
	Error    string      `json:"error,omitempty"`
	Revert   string      `json:"revert,omitempty"`
	GasPrice string      `json:"gasPrice,omitempty"`
}

type CallBundleResult struct {
	BundleHash       common.Hash          `json:"bundleHash"`
	CoinbaseDiff     string               `json:"coinbaseDiff"`
	TotalGasUsed     uint64               `json:"totalGasUsed"`
	StateBlockNumber uint64               `json:"stateBlockNumber"`
	BundleGasPrice   string               `json:"bundleGasPrice"`
	Results          []CallBundleTxResult `json:"results"`
}

// Reverted returns the index of the first reverted transaction.
func (r *CallBundleResult) Reverted() (int, bool) {
	for i, res := range r.Results {
		if res.Error != "" || res.Revert != "" {
			return i, true
		}
	}
	return 0, false
}
