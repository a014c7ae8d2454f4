package sandwich

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func TestPendingSandwichJSON(t *testing.T) {
	data := `{
		"id": "0xabc",
		"victims": ["0x02f801"],
		"legs": [{
			"pool": "0x0d4a11d5EEaaC28EC3F61d100daF4d40471f1852",
			"frontrunIn": "1000000000000000000",
			"frontrunOut": "0x6e44c280",
			"backrunIn": "1850000000",
			"backrunOut": "1010000000000000000"
		}],
		"backrunTip": "0x3b9aca00"
	}`

	var s PendingSandwich
	require.NoError(t, json.Unmarshal([]byte(data), &s))
	require.NoError(t, s.Validate())
	require.Equal(t, "0xabc", s.ID)
	require.Equal(t, []hexutil.Bytes{{0x02, 0xf8, 0x01}}, s.Victims)
	require.Equal(t, testV2USDT, s.Legs[0].Pool)
	require.Equal(t, oneETH, s.Legs[0].FrontrunIn)
	require.Equal(t, uint256.NewInt(1_850_000_000), s.Legs[0].FrontrunOut)
	require.Equal(t, big.NewInt(1_000_000_000), s.tip())
}

func TestPendingSandwichValidate(t *testing.T) {
	valid := testSandwich("a", 1, []hexutil.Bytes{victim(1)}, testV2USDT)
	require.NoError(t, valid.Validate())

	zeroLeg := testLeg(testV2USDT)
	zeroLeg.BackrunOut = new(uint256.Int)
	nilLeg := testLeg(testV2USDT)
	nilLeg.FrontrunIn = nil

	testCases := map[string]struct {
		sandwich PendingSandwich
		err      error
	}{
		"missing id":  {PendingSandwich{Victims: valid.Victims, Legs: valid.Legs}, ErrMissingID},
		"no victims":  {PendingSandwich{ID: "a", Legs: valid.Legs}, ErrNoVictims},
		"no legs":     {PendingSandwich{ID: "a", Victims: valid.Victims}, ErrNoLegs},
		"zero amount": {PendingSandwich{ID: "a", Victims: valid.Victims, Legs: []SandwichLeg{zeroLeg}}, ErrInvalidLeg},
		"nil amount":  {PendingSandwich{ID: "a", Victims: valid.Victims, Legs: []SandwichLeg{nilLeg}}, ErrInvalidLeg},
	}
	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			require.ErrorIs(t, testCase.sandwich.Validate(), testCase.err)
		})
	}

	var noTip PendingSandwich
	require.Equal(t, new(big.Int), noTip.tip())
}

func TestNewBundleRequest(t *testing.T) {
	txs := []hexutil.Bytes{{0x01}, {0x02, 0x03}}
	target := BlockInfo{Number: 17_000_001, Timestamp: 1_690_000_012, BaseFee: big.NewInt(30)}

	bundle := NewBundleRequest(txs, target)
	require.Equal(t, hexutil.Uint64(17_000_001), bundle.BlockNumber)
	require.Equal(t, uint64(17_000_000), bundle.SimulationBlock)
	require.Equal(t, uint64(1_690_000_012), bundle.MinTimestamp)
	require.Equal(t, bundle.MinTimestamp, bundle.MaxTimestamp)

	// the request owns its transaction list
	txs[0] = hexutil.Bytes{0xff}
	require.Equal(t, hexutil.Bytes{0x01}, bundle.Txs[0])

	data, err := json.Marshal(bundle)
	require.NoError(t, err)
	require.JSONEq(t, `{"txs":["0x01","0x0203"],"blockNumber":"0x1036641","minTimestamp":1690000012,"maxTimestamp":1690000012}`, string(data))

	callArgs, err := json.Marshal(bundle.CallArgs())
	require.NoError(t, err)
	require.JSONEq(t, `{"txs":["0x01","0x0203"],"blockNumber":"0x1036641","stateBlockNumber":"0x1036640","timestamp":1690000012}`, string(callArgs))
}

func TestBundleRequestHash(t *testing.T) {
	bundle := NewBundleRequest([]hexutil.Bytes{{0x01}, {0x02, 0x03}}, BlockInfo{Number: 2})

	expected := crypto.Keccak256Hash(
		crypto.Keccak256([]byte{0x01}),
		crypto.Keccak256([]byte{0x02, 0x03}),
	)
	require.Equal(t, expected, bundle.Hash())
	require.Equal(t, bundle.Hash(), NewBundleRequest(bundle.Txs, BlockInfo{Number: 5}).Hash())
	require.NotEqual(t, bundle.Hash(), NewBundleRequest(bundle.Txs[:1], BlockInfo{Number: 2}).Hash())
}

func TestBlockInfoFromHeader(t *testing.T) {
	header := &types.Header{Number: big.NewInt(10), Time: 120, BaseFee: big.NewInt(7), GasUsed: 1, GasLimit: 2}
	info := BlockInfoFromHeader(header)
	require.Equal(t, BlockInfo{Number: 10, Timestamp: 120, BaseFee: big.NewInt(7), GasUsed: 1, GasLimit: 2}, info)

	header.BaseFee.SetInt64(8)
	require.Equal(t, big.NewInt(7), info.BaseFee)

	require.Nil(t, BlockInfoFromHeader(&types.Header{Number: big.NewInt(1)}).BaseFee)
}

func TestCallBundleResultReverted(t *testing.T) {
	res := CallBundleResult{Results: []CallBundleTxResult{{}, {Revert: "0x"}, {Error: "execution reverted"}}}
	idx, reverted := res.Reverted()
	require.True(t, reverted)
	require.Equal(t, 1, idx)

	_, reverted = (&CallBundleResult{Results: []CallBundleTxResult{{}}}).Reverted()
	require.False(t, reverted)
}
