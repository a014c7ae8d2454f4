package sandwich

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/sandolabs/mega-sando/codec"
	"github.com/sandolabs/mega-sando/pools"
	"github.com/stretchr/testify/require"
)

var (
	testWETH = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	testUSDT = common.HexToAddress("0xdAC17F958D2ee523a2206206994597C13D831ec7")
	testDAI  = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")

	testV2USDT = common.HexToAddress("0x0d4a11d5EEaaC28EC3F61d100daF4d40471f1852")
	testV2DAI  = common.HexToAddress("0xA478c2975Ab1Ea89e8196811F51A7B7Ade33eB11")
	testV3USDT = common.HexToAddress("0x11b815efB8f581194ae79006d24E0d814B7697F6")
	testNoWETH = common.HexToAddress("0x3041CbD36888bECc7bbCBc0045E3B1f144466f5f")

	testContract = common.HexToAddress("0x6b75d8AF000000e20B7a7DDf000Ba900b4009A80")
	testChainID  = big.NewInt(1)

	oneETH = uint256.NewInt(1_000_000_000_000_000_000)
)

const testSearcherKey = "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"

func testKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := crypto.HexToECDSA(testSearcherKey)
	require.NoError(t, err)
	return key
}

func testRegistry() *pools.Registry {
	return pools.NewRegistry(
		pools.Pool{Address: testV2USDT, Token0: testWETH, Token1: testUSDT, SwapFee: 3000, Variant: pools.UniswapV2},
		pools.Pool{Address: testV2DAI, Token0: testDAI, Token1: testWETH, SwapFee: 3000, Variant: pools.UniswapV2},
		pools.Pool{Address: testV3USDT, Token0: testWETH, Token1: testUSDT, SwapFee: 500, Variant: pools.UniswapV3},
		pools.Pool{Address: testNoWETH, Token0: testDAI, Token1: testUSDT, SwapFee: 100, Variant: pools.UniswapV3},
	)
}

type fakeNonces struct {
	mu    sync.Mutex
	nonce uint64
	err   error
	calls int
}

func (f *fakeNonces) PendingNonceAt(_ context.Context, _ common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.nonce, f.err
}

func (f *fakeNonces) set(nonce uint64, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nonce, f.err = nonce, err
}

func (f *fakeNonces) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestMaker(t *testing.T, nonces NonceSource) *SandwichMaker {
	t.Helper()
	return NewSandwichMaker(MakerConfig{
		ChainID:     testChainID,
		SearcherKey: testKey(t),
		Contract:    testContract,
		WETH:        testWETH,
		Labels:      codec.NewJumpLabels(codec.DefaultLayout),
	}, testRegistry(), nonces)
}

func testLeg(pool common.Address) SandwichLeg {
	return SandwichLeg{
		Pool:        pool,
		FrontrunIn:  new(uint256.Int).Set(oneETH),
		FrontrunOut: uint256.NewInt(1_850_000_000),
		BackrunIn:   uint256.NewInt(1_850_000_000),
		BackrunOut:  uint256.NewInt(1_010_000_000_000_000_000),
	}
}

func testSandwich(id string, tip int64, victims []hexutil.Bytes, poolAddresses ...common.Address) PendingSandwich {
	s := PendingSandwich{ID: id, Victims: victims, BackrunTip: (*hexutil.Big)(big.NewInt(tip))}
	for _, pool := range poolAddresses {
		s.Legs = append(s.Legs, testLeg(pool))
	}
	return s
}

func victim(b ...byte) hexutil.Bytes {
	return append(hexutil.Bytes{0x02, 0xf8}, b...)
}

func decodeTx(t *testing.T, raw hexutil.Bytes) (*types.Transaction, common.Address) {
	t.Helper()
	tx := new(types.Transaction)
	require.NoError(t, tx.UnmarshalBinary(raw))
	sender, err := types.Sender(types.LatestSignerForChainID(testChainID), tx)
	require.NoError(t, err)
	return tx, sender
}
