package codec

import (
	"bytes"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Payload is the call-data and call-value of one contract call.
type Payload struct {
	Data  []byte
	Value *uint256.Int
}

// Concat joins payload fragments of a multi hop call. The call-value is carried by
// the first fragment only.
func Concat(parts ...Payload) Payload {
	if len(parts) == 0 {
		return Payload{Value: new(uint256.Int)}
	}
	var data []byte
	for _, p := range parts {
		data = append(data, p.Data...)
	}
	return Payload{Data: data, Value: parts[0].Value}
}

// V2Builder builds payloads for Uniswap V2 style pairs. Every V2 payload starts
// with the low byte of the target block number.
type V2Builder struct {
	labels  JumpLabels
	weth    common.Address
	divisor *uint256.Int
}

func NewV2Builder(labels JumpLabels, weth common.Address, divisor *uint256.Int) *V2Builder {
	return &V2Builder{labels: labels, weth: weth, divisor: divisor}
}

func (b *V2Builder) wethIsToken0(other common.Address) bool {
	return bytes.Compare(b.weth.Bytes(), other.Bytes()) < 0
}

// WETHInput is the frontrun of a single pair: WETH in, otherToken out.
func (b *V2Builder) WETHInput(blockNumber uint64, amountIn, amountOut *uint256.Int, otherToken, pair common.Address) Payload {
	out := EncodeV2FourBytes(amountOut, true, b.wethIsToken0(otherToken))
	jump := b.labels.Offset(FindV2SwapCase(false, false, true, b.wethIsToken0(otherToken)))

	data := Pack(
		Uint64(blockNumber, 1),
		Byte(jump),
		Byte(out.MemOffset),
		Address(pair),
		Uint(out.MantissaInt(), int(FourBytes)),
	)
	return Payload{Data: data, Value: WETHCallValue(amountIn, b.divisor)}
}

// WETHOutput is the backrun of a single pair: otherToken in, WETH out.
func (b *V2Builder) WETHOutput(blockNumber uint64, amountIn, amountOut *uint256.Int, otherToken, pair common.Address) Payload {
	in := EncodeV2FourBytes(amountIn, false, b.wethIsToken0(otherToken))
	jump := b.labels.Offset(FindV2SwapCase(false, false, false, b.wethIsToken0(otherToken)))

	data := Pack(
		Uint64(blockNumber, 1),
		Byte(jump),
		Byte(in.MemOffset),
		Address(pair),
		Address(otherToken),
		Uint(in.MantissaInt(), int(FourBytes)),
	)
	return Payload{Data: data, Value: WETHCallValue(amountOut, b.divisor)}
}

// MultiWETHInput is one frontrun leg of a multi pair call. Only the first leg carries
// the call-value; later legs inline their WETH amount.
func (b *V2Builder) MultiWETHInput(blockNumber uint64, amountIn, amountOut *uint256.Int, otherToken, pair common.Address, isFirst bool) Payload {
	out := EncodeV2FourBytes(amountOut, true, b.wethIsToken0(otherToken))
	jump := b.labels.Offset(FindV2SwapCase(true, isFirst, true, b.wethIsToken0(otherToken)))
	encodedIn := WETHCallValue(amountIn, b.divisor)

	fields := []Field{
		Uint64(blockNumber, 1),
		Byte(jump),
		Byte(out.MemOffset),
		Address(pair),
		Uint(out.MantissaInt(), int(FourBytes)),
	}
	if isFirst {
		return Payload{Data: Pack(fields...), Value: encodedIn}
	}
	fields = append(fields, Uint(encodedIn, int(FiveBytes)))
	return Payload{Data: Pack(fields...), Value: new(uint256.Int)}
}

// MultiWETHOutput is one backrun leg of a multi pair call. The WETH amount out is
// five byte encoded: the first leg sends its mantissa as call-value, later legs
// inline it.
func (b *V2Builder) MultiWETHOutput(blockNumber uint64, amountIn, amountOut *uint256.Int, otherToken, pair common.Address, isFirst bool) Payload {
	wethIsToken0 := b.wethIsToken0(otherToken)
	out := EncodeV2FiveBytes(amountOut, wethIsToken0)
	in := EncodeV2FourBytes(amountIn, false, wethIsToken0)
	jump := b.labels.Offset(FindV2SwapCase(true, isFirst, false, wethIsToken0))

	fields := []Field{
		Uint64(blockNumber, 1),
		Byte(jump),
		Byte(in.MemOffset),
		Address(pair),
		Address(otherToken),
		Uint(in.MantissaInt(), int(FourBytes)),
	}
	if isFirst {
		fields = append(fields, Byte(out.MemOffset))
		return Payload{Data: Pack(fields...), Value: out.MantissaInt()}
	}
	fields = append(fields, Uint(out.MantissaInt(), int(FiveBytes)), Byte(out.MemOffset))
	return Payload{Data: Pack(fields...), Value: new(uint256.Int)}
}
