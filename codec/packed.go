// Package codec encodes sandwich swap instructions into the compact call-data
// understood by the sandwich contract.
//
// Amounts are sent as a short mantissa plus a byte shift. The contract writes the
// mantissa into its outgoing swap call at a memory offset that depends on the shift,
// so the low-order bytes of every amount are dropped. That precision loss is
// bounded by 2^(8*shift) and is expected.
package codec

import (
	"github.com/holiman/uint256"
)

// Width is the number of bytes a mantissa is packed into.
type Width uint8

const (
	FourBytes Width = 4
	FiveBytes Width = 5
)

// Memory bases of the encoded amount inside the swap call the contract builds.
// The offset sent on the wire is base - byteShift.
const (
	// 4 + 32 + 32 - 4: amount1Out slot of a V2 swap(uint,uint,address,bytes)
	V2AmountSlot1Base uint8 = 64
	// 4 + 32 - 4: amount0Out slot
	V2AmountSlot0Base uint8 = 32

	V2TransferToken0Base uint8 = 68
	V2TransferToken1Base uint8 = 100

	// 4 + 32 + 32 - 5
	V3AmountBase uint8 = 63
)

// DefaultWETHDivisor is the unit call-values are snapped to before they are sent.
var DefaultWETHDivisor = uint256.NewInt(100_000)

// EncodedSwapValue is an amount compressed to Mantissa << (8 * ByteShift).
type EncodedSwapValue struct {
	Mantissa  uint64
	ByteShift uint8
	MemOffset uint8
}

// Encode picks the smallest byte shift for which amount >> (8*shift) fits in width
// bytes and derives the memory offset from memBase.
func Encode(amount *uint256.Int, width Width, memBase uint8) EncodedSwapValue {
	shift := 0
	if excess := amount.BitLen() - 8*int(width); excess > 0 {
		shift = (excess + 7) / 8
	}
	mantissa := new(uint256.Int).Rsh(amount, uint(8*shift))
	return EncodedSwapValue{
		Mantissa:  mantissa.Uint64(),
		ByteShift: uint8(shift),
		MemOffset: memBase - uint8(shift),
	}
}

// Decode returns the amount the contract will actually see.
func (v EncodedSwapValue) Decode() *uint256.Int {
	return new(uint256.Int).Lsh(uint256.NewInt(v.Mantissa), 8*uint(v.ByteShift))
}

// DecodeWithDust decodes Mantissa-1 so that the contract always keeps a small
// residual balance of the token. A zero mantissa decodes to zero.
func (v EncodedSwapValue) DecodeWithDust() *uint256.Int {
	if v.Mantissa == 0 {
		return new(uint256.Int)
	}
	v.Mantissa--
	return v.Decode()
}

// MantissaInt returns the mantissa as a 256 bit integer for packing.
func (v EncodedSwapValue) MantissaInt() *uint256.Int {
	return uint256.NewInt(v.Mantissa)
}

// EncodeWETH rounds amount down to a multiple of divisor.
func EncodeWETH(amount, divisor *uint256.Int) *uint256.Int {
	q := new(uint256.Int).Div(amount, divisor)
	return q.Mul(q, divisor)
}

// WETHCallValue is the call-value the contract multiplies back by divisor.
func WETHCallValue(amount, divisor *uint256.Int) *uint256.Int {
	return new(uint256.Int).Div(amount, divisor)
}

// V2FourByteBase selects the memory base for a four byte V2 amount.
func V2FourByteBase(isWETHInput, wethIsToken0 bool) uint8 {
	if isWETHInput && !wethIsToken0 {
		return V2AmountSlot0Base
	}
	return V2AmountSlot1Base
}

// V2FiveByteBase selects the memory base for a five byte V2 amount.
func V2FiveByteBase(wethIsToken0 bool) uint8 {
	if wethIsToken0 {
		return V2TransferToken0Base
	}
	return V2TransferToken1Base
}

func EncodeV2FourBytes(amount *uint256.Int, isWETHInput, wethIsToken0 bool) EncodedSwapValue {
	return Encode(amount, FourBytes, V2FourByteBase(isWETHInput, wethIsToken0))
}

func EncodeV2FiveBytes(amount *uint256.Int, wethIsToken0 bool) EncodedSwapValue {
	return Encode(amount, FiveBytes, V2FiveByteBase(wethIsToken0))
}

func EncodeV3FiveBytes(amount *uint256.Int) EncodedSwapValue {
	return Encode(amount, FiveBytes, V3AmountBase)
}

// V2IntermediaryWithDust is the intermediary token amount the backrun will swap
// when the frontrun received amountIn, leaving dust on the contract.
func V2IntermediaryWithDust(amountIn *uint256.Int, isWETHInput, wethIsToken0 bool) *uint256.Int {
	return EncodeV2FourBytes(amountIn, isWETHInput, wethIsToken0).DecodeWithDust()
}

// V2DecodeIntermediary returns amountIn after the encode/decode round trip.
func V2DecodeIntermediary(amountIn *uint256.Int, isWETHInput, wethIsToken0 bool) *uint256.Int {
	return EncodeV2FourBytes(amountIn, isWETHInput, wethIsToken0).Decode()
}

// V3DecodeIntermediary returns amountIn after the five byte encode/decode round trip.
func V3DecodeIntermediary(amountIn *uint256.Int) *uint256.Int {
	return EncodeV3FiveBytes(amountIn).Decode()
}
