package main

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"flag"
	"fmt"
	"math/big"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/params"
	"github.com/flashbots/go-utils/cli"
	"github.com/redis/go-redis/v9"
	redisfeed "github.com/sandolabs/mega-sando/adapters/redis"
	"github.com/sandolabs/mega-sando/codec"
	"github.com/sandolabs/mega-sando/jsonrpcserver"
	"github.com/sandolabs/mega-sando/pools"
	"github.com/sandolabs/mega-sando/sandwich"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

var (
	version = "dev" // is set during build process

	// Default values
	defaultDebug             = os.Getenv("DEBUG") == "1"
	defaultLogProd           = os.Getenv("LOG_PROD") == "1"
	defaultLogService        = os.Getenv("LOG_SERVICE")
	defaultPort              = cli.GetEnv("PORT", "8080")
	defaultMetricsPort       = cli.GetEnv("METRICS_PORT", "8088")
	defaultEthEndpoint       = cli.GetEnv("ETH_WS_ENDPOINT", "ws://127.0.0.1:8546")
	defaultSearcherKey       = cli.GetEnv("SEARCHER_PRIVATE_KEY", "")
	defaultAuthKey           = cli.GetEnv("FLASHBOTS_AUTH_KEY", "")
	defaultContract          = cli.GetEnv("SANDWICH_CONTRACT", "")
	defaultWETH              = cli.GetEnv("WETH_ADDRESS", "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	defaultRelaysConfig      = cli.GetEnv("RELAYS_CONFIG", "")
	defaultJumpLabelsConfig  = cli.GetEnv("JUMP_LABELS_CONFIG", "")
	defaultDexesConfig       = cli.GetEnv("DEXES_CONFIG", "")
	defaultPoolsSnapshot     = cli.GetEnv("POOLS_SNAPSHOT", "pools.snappy")
	defaultPoolsInterval     = cli.GetEnv("POOLS_SYNC_INTERVAL_BLOCKS", "5")
	defaultRedisEndpoint     = cli.GetEnv("REDIS_ENDPOINT", "")
	defaultChannelName       = cli.GetEnv("REDIS_CHANNEL_NAME", redisfeed.DefaultOpportunityChannel)
	defaultPostgresDSN       = cli.GetEnv("POSTGRES_DSN", "")
	defaultAggregationWindow = cli.GetEnv("AGGREGATION_WINDOW_MS", "10500")
	defaultRelayTimeout      = cli.GetEnv("RELAY_TIMEOUT_MS", "2000")
	defaultSimulate          = os.Getenv("SIMULATE_BUNDLES") == "1"
	defaultAllowedSigners    = cli.GetEnv("ALLOWED_SIGNERS", "")

	// Flags
	debugPtr             = flag.Bool("debug", defaultDebug, "print debug output")
	logProdPtr           = flag.Bool("log-prod", defaultLogProd, "log in production mode (json)")
	logServicePtr        = flag.String("log-service", defaultLogService, "'service' tag to logs")
	portPtr              = flag.String("port", defaultPort, "port of the detector JSON-RPC API")
	metricsPortPtr       = flag.String("metrics-port", defaultMetricsPort, "port of the metrics and pprof server")
	ethPtr               = flag.String("eth", defaultEthEndpoint, "eth websocket endpoint")
	searcherKeyPtr       = flag.String("searcher-key", defaultSearcherKey, "searcher private key (hex)")
	authKeyPtr           = flag.String("auth-key", defaultAuthKey, "bundle signing key for relays (hex)")
	contractPtr          = flag.String("contract", defaultContract, "sandwich contract address")
	wethPtr              = flag.String("weth", defaultWETH, "WETH address")
	relaysConfigPtr      = flag.String("relays-config", defaultRelaysConfig, "relays config file, built in relays when empty")
	jumpLabelsConfigPtr  = flag.String("jump-labels-config", defaultJumpLabelsConfig, "jump labels config file, built in layout when empty")
	dexesConfigPtr       = flag.String("dexes-config", defaultDexesConfig, "dex factories config file, mainnet dexes when empty")
	poolsSnapshotPtr     = flag.String("pools-snapshot", defaultPoolsSnapshot, "pools snapshot file")
	poolsIntervalPtr     = flag.String("pools-interval", defaultPoolsInterval, "number of blocks between pool syncs")
	redisPtr             = flag.String("redis", defaultRedisEndpoint, "redis url of the opportunity feed, disabled when empty")
	channelPtr           = flag.String("channel", defaultChannelName, "redis pub/sub channel name string")
	postgresDSNPtr       = flag.String("postgres-dsn", defaultPostgresDSN, "postgres dsn of the bundle archive, disabled when empty")
	aggregationWindowPtr = flag.String("aggregation-window", defaultAggregationWindow, "time after a new head to accept sandwiches (ms)")
	relayTimeoutPtr      = flag.String("relay-timeout", defaultRelayTimeout, "per relay submission timeout (ms)")
	simulatePtr          = flag.Bool("simulate", defaultSimulate, "simulate bundles with eth_callBundle before sending")
	allowedSignersPtr    = flag.String("allowed-signers", defaultAllowedSigners, "detector addresses allowed to use the API (comma separated), anyone when empty")
)

func parseKey(logger *zap.Logger, name, value string) *ecdsa.PrivateKey {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(value, "0x"))
	if err != nil {
		logger.Fatal("Failed to parse private key", zap.String("key", name), zap.Error(err))
	}
	return key
}

func parseAddress(logger *zap.Logger, name, value string) common.Address {
	if !common.IsHexAddress(value) {
		logger.Fatal("Invalid address", zap.String("address", name), zap.String("value", value))
	}
	return common.HexToAddress(value)
}

func parseMillis(logger *zap.Logger, name, value string) time.Duration {
	ms, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		logger.Fatal("Failed to parse duration", zap.String("name", name), zap.Error(err))
	}
	return time.Duration(ms) * time.Millisecond
}

func chainConfig(chainID *big.Int) *params.ChainConfig {
	if chainID.Cmp(params.MainnetChainConfig.ChainID) == 0 {
		return params.MainnetChainConfig
	}
	config := *params.AllEthashProtocolChanges
	config.ChainID = chainID
	return &config
}

func dialHeads(endpoint string) sandwich.Dialer {
	return func(ctx context.Context) (sandwich.HeadSource, error) {
		client, err := ethclient.DialContext(ctx, endpoint)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

func main() {
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	if *logProdPtr {
		atom := zap.NewAtomicLevel()
		if *debugPtr {
			atom.SetLevel(zap.DebugLevel)
		}

		encoderCfg := zap.NewProductionEncoderConfig()
		encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		logger = zap.New(zapcore.NewCore(
			zapcore.NewJSONEncoder(encoderCfg),
			zapcore.Lock(os.Stdout),
			atom,
		))
	}
	defer func() { _ = logger.Sync() }()
	if *logServicePtr != "" {
		logger = logger.With(zap.String("service", *logServicePtr))
	}

	ctx, ctxCancel := context.WithCancel(context.Background())
	defer ctxCancel()

	logger.Info("Starting mega-sando", zap.String("version", version))

	searcherKey := parseKey(logger, "searcher", *searcherKeyPtr)
	authKey := parseKey(logger, "auth", *authKeyPtr)
	contract := parseAddress(logger, "contract", *contractPtr)
	weth := parseAddress(logger, "weth", *wethPtr)
	aggregationWindow := parseMillis(logger, "aggregation-window", *aggregationWindowPtr)
	relayTimeout := parseMillis(logger, "relay-timeout", *relayTimeoutPtr)

	var allowedSigners []common.Address
	for _, signer := range strings.Split(*allowedSignersPtr, ",") {
		if signer = strings.TrimSpace(signer); signer != "" {
			allowedSigners = append(allowedSigners, parseAddress(logger, "allowed-signer", signer))
		}
	}

	layout := codec.DefaultLayout
	if *jumpLabelsConfigPtr != "" {
		var err error
		layout, err = codec.LoadLayout(*jumpLabelsConfigPtr)
		if err != nil {
			logger.Fatal("Failed to load jump labels", zap.Error(err))
		}
	}

	relayConfigs, err := sandwich.LoadRelayConfig(*relaysConfigPtr)
	if err != nil {
		logger.Fatal("Failed to load relays config", zap.Error(err))
	}
	relays := sandwich.NewRelaySet(logger, sandwich.NewRelays(relayConfigs, authKey), relayTimeout)
	if relays.Len() == 0 {
		logger.Fatal("No relays enabled")
	}

	dexes := pools.MainnetDexes
	if *dexesConfigPtr != "" {
		dexes, err = pools.LoadDexes(*dexesConfigPtr)
		if err != nil {
			logger.Fatal("Failed to load dexes config", zap.Error(err))
		}
	}
	poolsInterval, err := strconv.ParseUint(*poolsIntervalPtr, 10, 64)
	if err != nil {
		logger.Fatal("Failed to parse pools interval", zap.Error(err))
	}

	ethBackend, err := ethclient.DialContext(ctx, *ethPtr)
	if err != nil {
		logger.Fatal("Failed to connect to eth endpoint", zap.Error(err))
	}
	defer ethBackend.Close()

	chainID, err := ethBackend.ChainID(ctx)
	if err != nil {
		logger.Fatal("Failed to get chain id", zap.Error(err))
	}

	registry := pools.NewRegistry()
	syncer := pools.NewSyncer(logger, registry, pools.NewLogDiscoverer(logger, ethBackend, 0), dexes, *poolsSnapshotPtr, poolsInterval)
	head, err := ethBackend.BlockNumber(ctx)
	if err != nil {
		logger.Fatal("Failed to get head block", zap.Error(err))
	}
	if err := syncer.Startup(ctx, head); err != nil {
		logger.Fatal("Failed to sync pools", zap.Error(err))
	}

	state := sandwich.NewBotState()
	oracle := sandwich.NewBlockOracle(chainConfig(chainID))
	maker := sandwich.NewSandwichMaker(sandwich.MakerConfig{
		ChainID:     chainID,
		SearcherKey: searcherKey,
		Contract:    contract,
		WETH:        weth,
		Labels:      codec.NewJumpLabels(layout),
	}, registry, ethBackend)
	if _, err := maker.UpdateSearcherNonce(ctx); err != nil {
		logger.Fatal("Failed to get searcher nonce", zap.Error(err))
	}
	logger.Info("Searcher ready", zap.String("address", maker.Searcher().Hex()), zap.Uint64("nonce", maker.Nonce()))

	opts := sandwich.PipelineOpts{
		Oracle:            oracle,
		State:             state,
		Nonces:            maker,
		Maker:             sandwich.NewBundleSender(logger, maker),
		Relays:            relays,
		Balance:           sandwich.NewBalanceTracker(logger, ethBackend, weth, contract, state),
		Sweeper:           sandwich.NewSweeper(logger, maker, ethBackend, state, sandwich.SweepConfig{}),
		AggregationWindow: aggregationWindow,
		Simulate:          *simulatePtr,
	}
	if *postgresDSNPtr != "" {
		dbBackend, err := sandwich.NewDBBackend(*postgresDSNPtr)
		if err != nil {
			logger.Fatal("Failed to create postgres backend", zap.Error(err))
		}
		defer dbBackend.Close()
		opts.Archive = dbBackend
	}
	pipeline := sandwich.NewPipeline(logger, opts)

	api := sandwich.NewAPI(logger, state, oracle, pipeline, allowedSigners)
	jsonRPCServer, err := jsonrpcserver.NewHandler(api.Methods())
	if err != nil {
		logger.Fatal("Failed to create jsonrpc server", zap.Error(err))
	}
	if len(allowedSigners) > 0 {
		jsonRPCServer.RequireSignature()
	}
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", *portPtr),
		ReadHeaderTimeout: 5 * time.Second,
		Handler:           jsonRPCServer,
	}

	metricsMux := http.NewServeMux()
	metricsMux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.WritePrometheus(w, true)
	})
	metricsMux.Handle("/debug/pprof/", http.HandlerFunc(pprof.Index))
	metricsMux.Handle("/debug/pprof/cmdline", http.HandlerFunc(pprof.Cmdline))
	metricsMux.Handle("/debug/pprof/profile", http.HandlerFunc(pprof.Profile))
	metricsMux.Handle("/debug/pprof/symbol", http.HandlerFunc(pprof.Symbol))
	metricsMux.Handle("/debug/pprof/trace", http.HandlerFunc(pprof.Trace))
	metricsServer := &http.Server{
		Addr:              fmt.Sprintf("0.0.0.0:%s", *metricsPortPtr),
		ReadHeaderTimeout: 5 * time.Second,
		Handler:           metricsMux,
	}

	g, gctx := errgroup.WithContext(ctx)

	heads := sandwich.NewHeadStream(logger, dialHeads(*ethPtr), 0, 0)
	g.Go(func() error {
		return heads.Run(gctx, func(header *types.Header) {
			pipeline.OnHead(gctx, header)
		})
	})

	poolHeads := sandwich.NewHeadStream(logger.Named("pools"), dialHeads(*ethPtr), 0, 0)
	g.Go(func() error {
		return poolHeads.Run(gctx, func(header *types.Header) {
			syncer.OnHead(gctx, header)
		})
	})

	if *redisPtr != "" {
		redisOpts, err := redis.ParseURL(*redisPtr)
		if err != nil {
			logger.Fatal("Failed to parse redis url", zap.Error(err))
		}
		redisClient := redis.NewClient(redisOpts)
		defer redisClient.Close()

		feed := redisfeed.NewOpportunityFeed(logger, redisClient, *channelPtr, state)
		g.Go(func() error {
			return feed.Run(gctx)
		})
	}

	g.Go(func() error {
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		err := metricsServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Failed to shutdown server", zap.Error(err))
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("Failed to shutdown metrics server", zap.Error(err))
		}
		return nil
	})

	go func() {
		notifier := make(chan os.Signal, 1)
		signal.Notify(notifier, os.Interrupt, syscall.SIGTERM)
		select {
		case <-notifier:
			logger.Info("Shutting down...")
		case <-gctx.Done():
		}
		ctxCancel()
	}()

	err = g.Wait()
	pipeline.Stop()
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Stopped with error", zap.Error(err))
	}
	logger.Info("Stopped", zap.Uint64("builds", pipeline.Builds()))
}
