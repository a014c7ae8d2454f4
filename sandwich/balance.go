package sandwich

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/sandolabs/mega-sando/spike"
	"go.uber.org/zap"
)

const erc20BalanceOfABI = `[{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"}]`

var (
	erc20ABI = func() abi.ABI {
		parsed, err := abi.JSON(strings.NewReader(erc20BalanceOfABI))
		if err != nil {
			panic(err)
		}
		return parsed
	}()

	ErrBalanceOverflow = errors.New("balance does not fit 256 bits")
)

type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// BalanceTracker refreshes the contract WETH balance in BotState once per block.
// Concurrent refreshes of the same block share one balanceOf call.
type BalanceTracker struct {
	log      *zap.Logger
	caller   ContractCaller
	weth     common.Address
	contract common.Address
	state    *BotState

	spikeManager *spike.Manager[*uint256.Int]
}

func NewBalanceTracker(log *zap.Logger, caller ContractCaller, weth, contract common.Address, state *BotState) *BalanceTracker {
	t := &BalanceTracker{
		log:      log.Named("balance"),
		caller:   caller,
		weth:     weth,
		contract: contract,
		state:    state,
	}
	t.spikeManager = spike.NewManager(t.fetchBalance, BlockTime)
	return t
}

func (t *BalanceTracker) fetchBalance(ctx context.Context, key string) (*uint256.Int, error) {
	block, err := strconv.ParseUint(key, 10, 64)
	if err != nil {
		return nil, err
	}
	data, err := erc20ABI.Pack("balanceOf", t.contract)
	if err != nil {
		return nil, err
	}
	out, err := t.caller.CallContract(ctx, ethereum.CallMsg{To: &t.weth, Data: data}, new(big.Int).SetUint64(block))
	if err != nil {
		return nil, fmt.Errorf("balanceOf at block %d: %w", block, err)
	}
	res, err := erc20ABI.Unpack("balanceOf", out)
	if err != nil {
		return nil, err
	}
	raw, ok := res[0].(*big.Int)
	if !ok {
		return nil, ErrBalanceOverflow
	}
	balance, overflow := uint256.FromBig(raw)
	if overflow {
		return nil, ErrBalanceOverflow
	}
	return balance, nil
}

// Refresh loads the balance at blockNumber and stores it in BotState. On error the
// previous balance is kept.
func (t *BalanceTracker) Refresh(ctx context.Context, blockNumber uint64) (*uint256.Int, error) {
	balance, err := t.spikeManager.GetResult(ctx, strconv.FormatUint(blockNumber, 10))
	if err != nil {
		return t.state.WETHBalance(), err
	}
	t.state.SetWETHBalance(balance)
	t.log.Debug("Contract balance", zap.Uint64("block", blockNumber), zap.Stringer("weth", balance))
	return new(uint256.Int).Set(balance), nil
}
