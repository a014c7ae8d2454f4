package sandwich

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/sandolabs/mega-sando/jsonrpcserver"
	"github.com/sandolabs/mega-sando/metrics"
	"github.com/ybbus/jsonrpc/v3"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"
)

var (
	ErrInvalidRelay      = errors.New("invalid relay specification")
	ErrNoSimulationRelay = errors.New("no relay is configured for simulation")
)

type RelayConfig struct {
	Name     string `yaml:"name"`
	URL      string `yaml:"url"`
	Disabled bool   `yaml:"disabled"`
	Simulate bool   `yaml:"simulate"`

	// RateLimit is the number of requests per second, 0 is unlimited.
	RateLimit float64 `yaml:"rate_limit"`
}

type RelaysConfig struct {
	Relays []RelayConfig `yaml:"relays"`
}

var DefaultRelays = []RelayConfig{
	{Name: "builder0x69", URL: "https://builder0x69.io/"},
	{Name: "rsync-builder", URL: "https://rsync-builder.xyz/"},
	{Name: "beaverbuild", URL: "https://rpc.beaverbuild.org/"},
	{Name: "titanbuilder", URL: "https://rpc.titanbuilder.xyz"},
	{Name: "flashbots", URL: "https://relay.flashbots.net/", Simulate: true},
	{Name: "eth-builder", URL: "https://eth-builder.com/"},
	{Name: "gambitlabs", URL: "https://builder.gmbit.co/rpc"},
	{Name: "boba-builder", URL: "https://boba-builder.com/searcher"},
	{Name: "nfactorial", URL: "https://rpc.nfactorial.xyz"},
	{Name: "buildAI", URL: "https://buildai.net"},
	{Name: "payload", URL: "https://rpc.payload.de"},
}

// LoadRelayConfig parses a relay config from a file. An empty path gives DefaultRelays.
func LoadRelayConfig(file string) ([]RelayConfig, error) {
	if file == "" {
		return DefaultRelays, nil
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}

	var config RelaysConfig
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, err
	}
	for _, relay := range config.Relays {
		if relay.Name == "" || relay.URL == "" || relay.RateLimit < 0 {
			return nil, fmt.Errorf("%w: %q", ErrInvalidRelay, relay.Name)
		}
	}
	return config.Relays, nil
}

// signingTransport adds the flashbots signature of the request body signed by the
// bundle auth key.
type signingTransport struct {
	key  *ecdsa.PrivateKey
	base http.RoundTripper
}

func (t *signingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Body == nil {
		return t.base.RoundTrip(req)
	}
	body, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return nil, err
	}
	signature, err := jsonrpcserver.SignBody(body, t.key)
	if err != nil {
		return nil, err
	}

	signed := req.Clone(req.Context())
	signed.Body = io.NopCloser(bytes.NewReader(body))
	signed.ContentLength = int64(len(body))
	signed.Header.Set(jsonrpcserver.SignatureHeader, signature)
	return t.base.RoundTrip(signed)
}

type Relay struct {
	Name     string
	Client   jsonrpc.RPCClient
	Simulate bool
	limiter  *rate.Limiter
}

func NewRelay(config RelayConfig, authKey *ecdsa.PrivateKey) *Relay {
	httpClient := &http.Client{Transport: &signingTransport{key: authKey, base: http.DefaultTransport}}
	relay := &Relay{
		Name:     config.Name,
		Client:   jsonrpc.NewClientWithOpts(config.URL, &jsonrpc.RPCClientOpts{HTTPClient: httpClient}),
		Simulate: config.Simulate,
	}
	if config.RateLimit > 0 {
		relay.limiter = rate.NewLimiter(rate.Limit(config.RateLimit), 1)
	}
	return relay
}

// NewRelays builds every enabled relay of configs.
func NewRelays(configs []RelayConfig, authKey *ecdsa.PrivateKey) []*Relay {
	relays := make([]*Relay, 0, len(configs))
	for _, config := range configs {
		if config.Disabled {
			continue
		}
		relays = append(relays, NewRelay(config, authKey))
	}
	return relays
}

func (r *Relay) wait(ctx context.Context) error {
	if r.limiter == nil {
		return nil
	}
	return r.limiter.Wait(ctx)
}

func (r *Relay) SendBundle(ctx context.Context, bundle *BundleRequest) error {
	if err := r.wait(ctx); err != nil {
		return err
	}
	res, err := r.Client.Call(ctx, SendBundleEndpointName, []BundleRequest{*bundle})
	if err != nil {
		return err
	}
	if res.Error != nil {
		return res.Error
	}
	return nil
}

func (r *Relay) CallBundle(ctx context.Context, bundle *BundleRequest) (*CallBundleResult, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	res, err := r.Client.Call(ctx, CallBundleEndpointName, []CallBundleArgs{bundle.CallArgs()})
	if err != nil {
		return nil, err
	}
	if res.Error != nil {
		return nil, res.Error
	}
	var result CallBundleResult
	if err := res.GetObject(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

type RelayResult struct {
	Relay    string
	Err      error
	Duration time.Duration
}

// RelaySet submits the same bundle to every relay.
type RelaySet struct {
	log     *zap.Logger
	relays  []*Relay
	timeout time.Duration
}

func NewRelaySet(log *zap.Logger, relays []*Relay, timeout time.Duration) *RelaySet {
	if timeout <= 0 {
		timeout = DefaultRelayTimeout
	}
	return &RelaySet{log: log.Named("relays"), relays: relays, timeout: timeout}
}

func (s *RelaySet) Len() int {
	return len(s.relays)
}

// SendBundle sends a bundle to all relays in parallel. Every relay has its own
// timeout and a failing relay does not affect the others.
func (s *RelaySet) SendBundle(ctx context.Context, bundle *BundleRequest) []RelayResult {
	results := make([]RelayResult, len(s.relays))
	var wg sync.WaitGroup
	for idx, relay := range s.relays {
		wg.Add(1)
		go func(relay *Relay, idx int) {
			defer wg.Done()

			relayCtx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()

			start := time.Now()
			err := relay.SendBundle(relayCtx, bundle)
			duration := time.Since(start)
			s.log.Debug("Sent bundle to relay", zap.String("relay", relay.Name), zap.Duration("duration", duration), zap.Error(err))
			metrics.RecordRelaySubmission(relay.Name, err == nil, duration.Milliseconds())

			if err != nil {
				s.log.Warn("Failed to send bundle to relay", zap.Error(err), zap.String("relay", relay.Name))
			}
			results[idx] = RelayResult{Relay: relay.Name, Err: err, Duration: duration}
		}(relay, idx)
	}
	wg.Wait()

	sent := 0
	for _, res := range results {
		if res.Err == nil {
			sent++
		}
	}
	if sent == 0 && len(results) > 0 {
		s.log.Error("Failed to send bundle to any relay", zap.Uint64("block", uint64(bundle.BlockNumber)))
	}
	return results
}

// SimulateBundle runs eth_callBundle on the first simulation relay that answers.
func (s *RelaySet) SimulateBundle(ctx context.Context, bundle *BundleRequest) (*CallBundleResult, error) {
	var errs []error
	for _, relay := range s.relays {
		if !relay.Simulate {
			continue
		}
		relayCtx, cancel := context.WithTimeout(ctx, s.timeout)
		res, err := relay.CallBundle(relayCtx, bundle)
		cancel()
		if err == nil {
			return res, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", relay.Name, err))
	}
	if len(errs) == 0 {
		return nil, ErrNoSimulationRelay
	}
	return nil, errors.Join(errs...)
}
