package codec

import "github.com/holiman/uint256"

// RecoverPayload withdraws amount of WETH from the contract to the searcher.
func RecoverPayload(labels JumpLabels, amount, divisor *uint256.Int) Payload {
	return Payload{
		Data:  Pack(Byte(labels.Offset(Recover))),
		Value: WETHCallValue(amount, divisor),
	}
}
