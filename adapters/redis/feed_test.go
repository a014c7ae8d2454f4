package redis

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
	"github.com/redis/go-redis/v9"
	"github.com/sandolabs/mega-sando/sandwich"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memorySink struct {
	mu    sync.Mutex
	added []sandwich.PendingSandwich
}

func (m *memorySink) AddPending(s sandwich.PendingSandwich) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.added = append(m.added, s)
	return nil
}

func (m *memorySink) ids() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, len(m.added))
	for i, s := range m.added {
		ids[i] = s.ID
	}
	return ids
}

func testOpportunity(id string) sandwich.PendingSandwich {
	return sandwich.PendingSandwich{
		ID:      id,
		Victims: []hexutil.Bytes{{0x02, 0xf8, 0x01}},
		Legs: []sandwich.SandwichLeg{{
			Pool:        common.HexToAddress("0x0d4a11d5EEaaC28EC3F61d100daF4d40471f1852"),
			FrontrunIn:  uint256.NewInt(1_000_000_000_000_000_000),
			FrontrunOut: uint256.NewInt(1_850_000_000),
			BackrunIn:   uint256.NewInt(1_850_000_000),
			BackrunOut:  uint256.NewInt(1_010_000_000_000_000_000),
		}},
		BackrunTip: (*hexutil.Big)(uint256.NewInt(1_000_000_000).ToBig()),
	}
}

func TestDecodeOpportunity(t *testing.T) {
	testCases := map[string]struct {
		payload string
		err     bool
	}{
		"empty":      {payload: "", err: true},
		"not json":   {payload: "sandwich", err: true},
		"no victims": {payload: `{"id":"a","legs":[]}`, err: true},
		"valid": {payload: `{"id":"a","victims":["0x02f801"],"legs":[{"pool":"0x0d4a11d5EEaaC28EC3F61d100daF4d40471f1852",` +
			`"frontrunIn":"1000000000000000000","frontrunOut":"1850000000","backrunIn":"1850000000","backrunOut":"1010000000000000000"}],"backrunTip":"0x1"}`},
	}
	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			s, err := DecodeOpportunity(testCase.payload)
			if testCase.err {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, "a", s.ID)
		})
	}
}

func TestOpportunityFeedHandle(t *testing.T) {
	sink := &memorySink{}
	feed := NewOpportunityFeed(zap.NewNop(), nil, "", sink)

	feed.handle("garbage")
	feed.handle(`{"id":"x"}`)
	require.Empty(t, sink.ids())

	feed.handle(`{"id":"a","victims":["0x02f801"],"legs":[{"pool":"0x0d4a11d5EEaaC28EC3F61d100daF4d40471f1852",` +
		`"frontrunIn":"1","frontrunOut":"1","backrunIn":"1","backrunOut":"1"}]}`)
	require.Equal(t, []string{"a"}, sink.ids())
}

func TestOpportunityFeedRedis(t *testing.T) {
	endpoint := os.Getenv("TEST_REDIS_ENDPOINT")
	if endpoint == "" {
		t.Skip("TEST_REDIS_ENDPOINT is not set")
	}
	client := redis.NewClient(&redis.Options{Addr: endpoint})
	t.Cleanup(func() { _ = client.Close() })

	channel := "sando:test:" + time.Now().Format(time.RFC3339Nano)
	sink := &memorySink{}
	feed := NewOpportunityFeed(zap.NewNop(), client, channel, sink)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- feed.Run(ctx) }()

	// publish until the subscription is up
	require.Eventually(t, func() bool {
		_ = Publish(ctx, client, channel, testOpportunity("a"))
		return len(sink.ids()) > 0
	}, 5*time.Second, 50*time.Millisecond)
	require.NoError(t, client.Publish(ctx, channel, "not json").Err())

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	require.Equal(t, "a", sink.ids()[0])
}
