// Package sandwich implements the block synchronized mega sandwich pipeline.
// Here is a full flow of data through the bot:
//
// HeadStream -> Pipeline.OnHead for every new block:
//   - BlockOracle records the block and predicts the next one
//   - Sweeper recovers WETH above the high-water mark
//   - BotState pending set is cleared
//
// detector -> BotState.AddPending while the aggregation window is open
// (redis opportunity feed, JSON-RPC API)
//
// Pipeline cycle, once the window closes:
//
//	SandwichMaker refreshes the searcher nonce and signs frontruns and backruns
//	BundleSender joins all pending sandwiches into one mega sandwich
//	RelaySet fans the bundle out to every relay
//	BundleArchive stores the bundle together with per relay outcomes
package sandwich

import (
	"time"

	"github.com/holiman/uint256"
)

const (
	BlockTime = 12 * time.Second

	DefaultAggregationWindow = 10_500 * time.Millisecond
	DefaultRelayTimeout      = 2 * time.Second

	DefaultFrontrunGas uint64 = 250_000
	DefaultBackrunGas  uint64 = 250_000
	DefaultRecoverGas  uint64 = 70_000
)

var (
	// DefaultHighWaterMark is the contract WETH balance above which funds are swept.
	DefaultHighWaterMark = uint256.NewInt(4_500_000_000_000_000_000)
	// DefaultSweepTarget is the balance a sweep leaves on the contract.
	DefaultSweepTarget = uint256.NewInt(4_000_000_000_000_000_000)
)
