package sandwich

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/sandolabs/mega-sando/codec"
	"github.com/stretchr/testify/require"
)

func TestUpdateSearcherNonce(t *testing.T) {
	nonces := &fakeNonces{nonce: 5}
	maker := newTestMaker(t, nonces)

	n, err := maker.UpdateSearcherNonce(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(5), n)

	nonces.set(9, nil)
	n, err = maker.UpdateSearcherNonce(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(9), n)

	// a dropped sweep at nonce 8 leaves the pending nonce at 8 again
	nonces.set(8, nil)
	n, err = maker.UpdateSearcherNonce(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(8), n)
	require.Equal(t, uint64(8), maker.Nonce())

	errNode := errors.New("node down")
	nonces.set(0, errNode)
	n, err = maker.UpdateSearcherNonce(context.Background())
	require.ErrorIs(t, err, errNode)
	require.Equal(t, uint64(8), n)
	require.Equal(t, uint64(8), maker.Nonce())
}

func TestBuildSingleLeg(t *testing.T) {
	maker := newTestMaker(t, &fakeNonces{})
	labels := codec.NewJumpLabels(codec.DefaultLayout)
	v2 := codec.NewV2Builder(labels, testWETH, codec.DefaultWETHDivisor)
	v3 := codec.NewV3Builder(labels, codec.DefaultWETHDivisor)
	leg := testLeg(testV2USDT)

	front, err := maker.BuildFrontrun([]SandwichLeg{leg}, 101)
	require.NoError(t, err)
	require.Equal(t, v2.WETHInput(101, leg.FrontrunIn, leg.FrontrunOut, testUSDT, testV2USDT), front)

	back, err := maker.BuildBackrun([]SandwichLeg{leg}, 101)
	require.NoError(t, err)
	require.Equal(t, v2.WETHOutput(101, leg.BackrunIn, leg.BackrunOut, testUSDT, testV2USDT), back)

	v3Leg := testLeg(testV3USDT)
	key := codec.PoolKey{Token0: testWETH, Token1: testUSDT, Fee: 500}
	front, err = maker.BuildFrontrun([]SandwichLeg{v3Leg}, 101)
	require.NoError(t, err)
	require.Equal(t, v3.WETHInput(v3Leg.FrontrunIn, testWETH, testUSDT, testV3USDT, key), front)

	back, err = maker.BuildBackrun([]SandwichLeg{v3Leg}, 101)
	require.NoError(t, err)
	require.Equal(t, v3.WETHOutput(v3Leg.BackrunIn, testUSDT, testWETH, testV3USDT, key), back)
}

func TestBuildMultiLeg(t *testing.T) {
	maker := newTestMaker(t, &fakeNonces{})
	v2 := codec.NewV2Builder(codec.NewJumpLabels(codec.DefaultLayout), testWETH, codec.DefaultWETHDivisor)
	usdt, dai := testLeg(testV2USDT), testLeg(testV2DAI)
	dai.FrontrunIn = uint256.NewInt(100_000_000_000_000_000)

	front, err := maker.BuildFrontrun([]SandwichLeg{usdt, dai}, 101)
	require.NoError(t, err)
	expected := codec.Concat(
		v2.MultiWETHInput(101, usdt.FrontrunIn, usdt.FrontrunOut, testUSDT, testV2USDT, true),
		v2.MultiWETHInput(101, dai.FrontrunIn, dai.FrontrunOut, testDAI, testV2DAI, false),
	)
	require.Equal(t, expected, front)
	require.Equal(t, codec.WETHCallValue(usdt.FrontrunIn, codec.DefaultWETHDivisor), front.Value)

	back, err := maker.BuildBackrun([]SandwichLeg{usdt, dai}, 101)
	require.NoError(t, err)
	require.Equal(t, codec.Concat(
		v2.MultiWETHOutput(101, usdt.BackrunIn, usdt.BackrunOut, testUSDT, testV2USDT, true),
		v2.MultiWETHOutput(101, dai.BackrunIn, dai.BackrunOut, testDAI, testV2DAI, false),
	), back)
}

func TestBuildErrors(t *testing.T) {
	maker := newTestMaker(t, &fakeNonces{})

	_, err := maker.BuildFrontrun(nil, 1)
	require.ErrorIs(t, err, ErrNoLegs)

	_, err = maker.BuildFrontrun([]SandwichLeg{testLeg(common.HexToAddress("0x01"))}, 1)
	require.ErrorIs(t, err, ErrUnknownPool)

	_, err = maker.BuildBackrun([]SandwichLeg{testLeg(testNoWETH)}, 1)
	require.ErrorIs(t, err, ErrNotWETHPool)

	_, err = maker.BuildFrontrun([]SandwichLeg{testLeg(testV2USDT), testLeg(testV3USDT)}, 1)
	require.ErrorIs(t, err, ErrMixedLegs)
}

func TestSignTx(t *testing.T) {
	maker := newTestMaker(t, &fakeNonces{})
	payload := codec.Payload{Data: []byte{0x01, 0x02}, Value: uint256.NewInt(42)}

	raw, err := maker.SignTx(7, payload, big.NewInt(2), big.NewInt(30), 250_000)
	require.NoError(t, err)

	tx, sender := decodeTx(t, raw)
	require.Equal(t, maker.Searcher(), sender)
	require.Equal(t, uint64(7), tx.Nonce())
	require.Equal(t, testContract, *tx.To())
	require.Equal(t, big.NewInt(42), tx.Value())
	require.Equal(t, []byte{0x01, 0x02}, tx.Data())
	require.Equal(t, big.NewInt(2), tx.GasTipCap())
	require.Equal(t, big.NewInt(30), tx.GasFeeCap())
	require.Equal(t, uint64(250_000), tx.Gas())
	require.Equal(t, testChainID, tx.ChainId())
}

func TestRecoverTx(t *testing.T) {
	maker := newTestMaker(t, &fakeNonces{nonce: 3})
	amount := uint256.NewInt(500_000_000_000_000_000)

	tx, err := maker.RecoverTx(context.Background(), amount, BlockInfo{Number: 10, BaseFee: big.NewInt(10)}, big.NewInt(1))
	require.NoError(t, err)
	require.Equal(t, uint64(3), tx.Nonce())
	require.Equal(t, []byte{124}, tx.Data())
	require.Equal(t, big.NewInt(5_000_000_000_000), tx.Value())
	require.Equal(t, big.NewInt(21), tx.GasFeeCap())
	require.Equal(t, DefaultRecoverGas, tx.Gas())
}
