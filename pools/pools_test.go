package pools

import (
	"context"
	"math/big"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	weth      = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	usdt      = common.HexToAddress("0xdAC17F958D2ee523a2206206994597C13D831ec7")
	v2Pair    = common.HexToAddress("0x0d4a11d5EEaaC28EC3F61d100daF4d40471f1852")
	v3Pool    = common.HexToAddress("0x11b815efB8f581194ae79006d24E0d814B7697F6")
	v2Factory = common.HexToAddress("0x5C69bEe701ef814a2B6a3EDD4B1652CB9cc5aA6f")
	v3Factory = common.HexToAddress("0x1F98431c8aD98523631AE4a59f267346ea31F984")
)

func pairCreatedLog(t *testing.T, block uint64, token0, token1, pair common.Address) types.Log {
	t.Helper()
	data, err := factoryABI.Events["PairCreated"].Inputs.NonIndexed().Pack(pair, big.NewInt(1))
	require.NoError(t, err)
	return types.Log{
		Address:     v2Factory,
		BlockNumber: block,
		Topics: []common.Hash{
			PairCreatedEvent,
			common.BytesToHash(token0.Bytes()),
			common.BytesToHash(token1.Bytes()),
		},
		Data: data,
	}
}

func poolCreatedLog(t *testing.T, block uint64, token0, token1 common.Address, fee int64, pool common.Address) types.Log {
	t.Helper()
	data, err := factoryABI.Events["PoolCreated"].Inputs.NonIndexed().Pack(big.NewInt(10), pool)
	require.NoError(t, err)
	return types.Log{
		Address:     v3Factory,
		BlockNumber: block,
		Topics: []common.Hash{
			PoolCreatedEvent,
			common.BytesToHash(token0.Bytes()),
			common.BytesToHash(token1.Bytes()),
			common.BigToHash(big.NewInt(fee)),
		},
		Data: data,
	}
}

func TestDecodeCreationLog(t *testing.T) {
	pool, err := DecodeCreationLog(pairCreatedLog(t, 1, weth, usdt, v2Pair))
	require.NoError(t, err)
	require.Equal(t, Pool{Address: v2Pair, Token0: weth, Token1: usdt, SwapFee: 3000, Variant: UniswapV2}, pool)

	pool, err = DecodeCreationLog(poolCreatedLog(t, 1, weth, usdt, 500, v3Pool))
	require.NoError(t, err)
	require.Equal(t, Pool{Address: v3Pool, Token0: weth, Token1: usdt, SwapFee: 500, Variant: UniswapV3}, pool)

	_, err = DecodeCreationLog(types.Log{Topics: []common.Hash{PairCreatedEvent}})
	require.ErrorIs(t, err, ErrMalformedLog)

	_, err = DecodeCreationLog(types.Log{Topics: []common.Hash{{1}, {2}, {3}}})
	require.ErrorIs(t, err, ErrMalformedLog)
}

type fakeFilterer struct {
	mu      sync.Mutex
	logs    []types.Log
	queries []ethereum.FilterQuery
}

func (f *fakeFilterer) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)

	var out []types.Log
	for _, l := range f.logs {
		if l.BlockNumber < q.FromBlock.Uint64() || l.BlockNumber > q.ToBlock.Uint64() {
			continue
		}
		if len(q.Addresses) > 0 && l.Address != q.Addresses[0] {
			continue
		}
		if len(q.Topics) > 0 && l.Topics[0] != q.Topics[0][0] {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func TestLogDiscovererSyncPools(t *testing.T) {
	otherPair := common.HexToAddress("0xB4e16d0168e52d35CaCD2c6185b44281EC28c9Dc")
	filterer := &fakeFilterer{logs: []types.Log{
		pairCreatedLog(t, 105, weth, usdt, v2Pair),
		pairCreatedLog(t, 250, weth, usdt, otherPair),
		poolCreatedLog(t, 180, weth, usdt, 500, v3Pool),
	}}
	dexes := []Dex{
		{Name: "v2", Factory: v2Factory, Variant: UniswapV2, CreatedBlock: 100},
		{Name: "v3", Factory: v3Factory, Variant: UniswapV3, CreatedBlock: 150},
	}

	d := NewLogDiscoverer(zap.NewNop(), filterer, 50)
	found, err := d.SyncPools(context.Background(), dexes, 0, 200)
	require.NoError(t, err)
	require.Len(t, found, 2)

	addresses := []common.Address{found[0].Address, found[1].Address}
	require.ElementsMatch(t, []common.Address{v2Pair, v3Pool}, addresses)

	// v2: [100,149] [150,199] [200,200], v3: [150,199] [200,200]
	require.Len(t, filterer.queries, 5)
	require.Equal(t, uint64(100), filterer.queries[0].FromBlock.Uint64())
	require.Equal(t, uint64(149), filterer.queries[0].ToBlock.Uint64())
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(Pool{Address: v2Pair, Token0: weth, Token1: usdt})
	require.Equal(t, 1, r.Len())

	require.Equal(t, 0, r.Add(Pool{Address: v2Pair}))
	require.Equal(t, 1, r.Add(Pool{Address: v3Pool, Variant: UniswapV3}))

	p, ok := r.Get(v2Pair)
	require.True(t, ok)
	require.Equal(t, usdt, p.Token1)

	other, ok := p.OtherToken(weth)
	require.True(t, ok)
	require.Equal(t, usdt, other)
	_, ok = p.OtherToken(v3Pool)
	require.False(t, ok)

	_, ok = r.Get(common.Address{})
	require.False(t, ok)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				addr := common.BigToAddress(big.NewInt(int64(1000 + j)))
				r.Add(Pool{Address: addr})
				_, _ = r.Get(v2Pair)
			}
		}(i)
	}
	wg.Wait()
	require.Equal(t, 102, r.Len())
	require.Len(t, r.All(), 102)
}

func TestSnapshot(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "pools.json.snappy")

	snap, err := LoadSnapshot(file)
	require.NoError(t, err)
	require.Equal(t, Snapshot{}, snap)

	in := Snapshot{LastBlockNumber: 17_000_000, Pools: []Pool{
		{Address: v2Pair, Token0: weth, Token1: usdt, SwapFee: 3000, Variant: UniswapV2},
		{Address: v3Pool, Token0: weth, Token1: usdt, SwapFee: 500, Variant: UniswapV3},
	}}
	require.NoError(t, SaveSnapshot(file, in))

	out, err := LoadSnapshot(file)
	require.NoError(t, err)
	require.Equal(t, in, out)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temporary files are cleaned up")

	require.NoError(t, os.WriteFile(file, []byte("not snappy"), 0o600))
	_, err = LoadSnapshot(file)
	require.Error(t, err)
}

func TestSyncer(t *testing.T) {
	file := filepath.Join(t.TempDir(), "pools.json.snappy")
	require.NoError(t, SaveSnapshot(file, Snapshot{
		LastBlockNumber: 120,
		Pools:           []Pool{{Address: v2Pair, Token0: weth, Token1: usdt, Variant: UniswapV2}},
	}))

	newPair := common.HexToAddress("0xB4e16d0168e52d35CaCD2c6185b44281EC28c9Dc")
	filterer := &fakeFilterer{logs: []types.Log{
		pairCreatedLog(t, 105, weth, usdt, v2Pair),
		poolCreatedLog(t, 130, weth, usdt, 500, v3Pool),
		pairCreatedLog(t, 142, weth, usdt, newPair),
	}}
	dexes := []Dex{
		{Name: "v2", Factory: v2Factory, Variant: UniswapV2, CreatedBlock: 100},
		{Name: "v3", Factory: v3Factory, Variant: UniswapV3, CreatedBlock: 100},
	}

	registry := NewRegistry()
	s := NewSyncer(zap.NewNop(), registry, NewLogDiscoverer(zap.NewNop(), filterer, 0), dexes, file, 2)
	require.NoError(t, s.Startup(context.Background(), 135))
	require.Equal(t, 2, registry.Len())
	require.Equal(t, uint64(135), s.LastSynced())
	for _, q := range filterer.queries {
		require.Equal(t, uint64(121), q.FromBlock.Uint64())
	}

	s.OnHead(context.Background(), &types.Header{Number: big.NewInt(140)})
	require.Equal(t, 2, registry.Len(), "first head only counts")

	s.OnHead(context.Background(), &types.Header{Number: big.NewInt(145)})
	require.Equal(t, 3, registry.Len())
	require.Equal(t, uint64(145), s.LastSynced())

	snap, err := LoadSnapshot(file)
	require.NoError(t, err)
	require.Equal(t, uint64(145), snap.LastBlockNumber)
	sort.Slice(snap.Pools, func(i, j int) bool { return snap.Pools[i].Address.Hex() < snap.Pools[j].Address.Hex() })
	require.Len(t, snap.Pools, 3)
}

func TestLoadDexes(t *testing.T) {
	file := filepath.Join(t.TempDir(), "dexes.yaml")
	content := `dexes:
  - name: uniswap-v2
    factory: "0x5C69bEe701ef814a2B6a3EDD4B1652CB9cc5aA6f"
    variant: uniswap_v2
    created_block: 10000835
  - name: uniswap-v3
    factory: "0x1F98431c8aD98523631AE4a59f267346ea31F984"
    variant: uniswap_v3
    created_block: 12369621
`
	require.NoError(t, os.WriteFile(file, []byte(content), 0o600))

	dexes, err := LoadDexes(file)
	require.NoError(t, err)
	require.Equal(t, []Dex{
		{Name: "uniswap-v2", Factory: v2Factory, Variant: UniswapV2, CreatedBlock: 10000835},
		{Name: "uniswap-v3", Factory: v3Factory, Variant: UniswapV3, CreatedBlock: 12369621},
	}, dexes)
}
