package codec

import (
	"bytes"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// PoolKey identifies a V3 pool inside the contract.
type PoolKey struct {
	Token0 common.Address
	Token1 common.Address
	Fee    uint32
}

// Hash is keccak256(abi.encode(token0, token1, fee)).
func (k PoolKey) Hash() common.Hash {
	return crypto.Keccak256Hash(
		common.LeftPadBytes(k.Token0.Bytes(), 32),
		common.LeftPadBytes(k.Token1.Bytes(), 32),
		common.LeftPadBytes(uint256.NewInt(uint64(k.Fee)).Bytes(), 32),
	)
}

// V3Builder builds payloads for Uniswap V3 style pools.
type V3Builder struct {
	labels  JumpLabels
	divisor *uint256.Int
}

func NewV3Builder(labels JumpLabels, divisor *uint256.Int) *V3Builder {
	return &V3Builder{labels: labels, divisor: divisor}
}

func inputIsToken0(input, output common.Address) bool {
	return bytes.Compare(input.Bytes(), output.Bytes()) < 0
}

// WETHInput is the frontrun of a V3 pool: WETH (input) for output.
func (b *V3Builder) WETHInput(amountIn *uint256.Int, input, output, pool common.Address, key PoolKey) Payload {
	jump := b.labels.Offset(FindV3SwapCase(true, inputIsToken0(input, output)))
	poolKeyHash := key.Hash()

	data := Pack(
		Byte(jump),
		Address(pool),
		Bytes(poolKeyHash.Bytes()),
	)
	return Payload{Data: data, Value: WETHCallValue(amountIn, b.divisor)}
}

// WETHOutput is the backrun of a V3 pool: input for WETH (output). The amount in is
// sent five byte encoded together with its byte shift.
func (b *V3Builder) WETHOutput(amountIn *uint256.Int, input, output, pool common.Address, key PoolKey) Payload {
	jump := b.labels.Offset(FindV3SwapCase(false, inputIsToken0(input, output)))
	in := EncodeV3FiveBytes(amountIn)
	poolKeyHash := key.Hash()

	data := Pack(
		Byte(jump),
		Address(pool),
		Address(input),
		Bytes(poolKeyHash.Bytes()),
		Byte(in.ByteShift),
		Uint(in.MantissaInt(), int(FiveBytes)),
	)
	return Payload{Data: data, Value: new(uint256.Int)}
}
