package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"safe-trade-bot/internal/aggregator"
	"safe-trade-bot/internal/bus"
	"safe-trade-bot/internal/chain"
	"safe-trade-bot/internal/config"
	"safe-trade-bot/internal/directory"
	"safe-trade-bot/internal/health"
	"safe-trade-bot/internal/pricefeed"
	"safe-trade-bot/internal/registry"
	"safe-trade-bot/internal/safe"
	signalpkg "safe-trade-bot/internal/signal"
	"safe-trade-bot/internal/storage"
	"safe-trade-bot/internal/token"
	"safe-trade-bot/internal/trading"
)

func main() {
	setupLogger()
	printBanner()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	cfg, err := config.NewManager(configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", configPath).Msg("failed to load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	signerKeyHex := cfg.GetSignerKey()
	if signerKeyHex == "" {
		log.Fatal().Str("env", cfg.Get().Wallet.SignerKeyEnv).Msg("signer key not set")
	}
	signerKey, err := crypto.HexToECDSA(strings.TrimPrefix(signerKeyHex, "0x"))
	if err != nil {
		log.Fatal().Err(err).Msg("invalid signer key")
	}
	signerAddr := crypto.PubkeyToAddress(signerKey.PublicKey)
	log.Info().Str("signer", signerAddr.Hex()).Msg("signer loaded")

	dir := buildDirectory(cfg.Get())

	// per-network chain clients, wallet executors, and base funding assets
	envs := make(map[token.NetworkKey]trading.Env)
	bases := make(map[token.NetworkKey]token.Binding)
	readers := make(map[token.NetworkKey]safe.ChainReader)
	var clients []*chain.Client
	var probes []health.Probe
	var gasReserve *big.Int
	minNativeWei := new(big.Int)

	for _, cc := range cfg.Get().Chains {
		network := token.NetworkKey(cc.Network)
		client, err := chain.Dial(ctx, network, cfg.GetRPCURL(cc.Network), cc.ChainID)
		if err != nil {
			log.Fatal().Err(err).Str("network", cc.Network).Msg("chain dial failed")
		}
		clients = append(clients, client)
		readers[network] = client
		probes = append(probes, health.RPCProbe("rpc:"+cc.Network, cfg.GetRPCURL(cc.Network)))

		bases[network] = token.Binding{
			Symbol:          cc.BaseSymbol,
			Network:         network,
			ContractAddress: cc.BaseContract,
			Decimals:        cc.BaseDecimals,
			IsNative:        cc.BaseIsNative,
			Verified:        true,
		}

		walletAddr, ok := walletOn(dir, network)
		if !ok {
			log.Warn().Str("network", cc.Network).Msg("no wallet deployment configured, network is read-only")
			continue
		}
		wallet := safe.NewWallet(client, walletAddr, signerKey, chain.FeeOptions{
			GasBumpPercent: cc.GasBumpPercent,
			MinGasPrice:    big.NewInt(cc.MinGasPriceWei),
		}, time.Duration(cc.ReceiptWaitSeconds)*time.Second)
		envs[network] = trading.Env{Chain: client, Wallet: wallet}

		if cc.NativeGasReserve != "" && gasReserve == nil {
			if raw, err := token.ToRaw(cc.NativeGasReserve, 18); err == nil {
				gasReserve = raw
			}
		}
		if cc.MinNativeWei > 0 && minNativeWei.Sign() == 0 {
			minNativeWei = big.NewInt(cc.MinNativeWei)
		}
	}
	if len(envs) == 0 {
		log.Fatal().Msg("no tradable network configured")
	}
	if gasReserve == nil {
		// 0.001 native kept unspent so exits can still pay for gas
		gasReserve = big.NewInt(1_000_000_000_000_000)
	}

	validator := safe.NewValidator(dir, readers, signerAddr, minNativeWei)
	resolver := token.NewResolver(builtinBindings(cfg.Get()), registrySources(cfg)...)

	aggCfg := cfg.Get().Aggregator
	agg := aggregator.NewClient(
		aggCfg.BaseURL,
		10*time.Second,
		cfg.GetAggregatorAPIKeys(),
		parsePermits(aggCfg.PermitContracts),
		parseMinSells(aggCfg.MinSellAmounts),
	)
	probes = append(probes, health.HTTPProbe("aggregator", aggCfg.BaseURL))

	pfCfg := cfg.Get().PriceFeed
	prices := pricefeed.NewClient(pfCfg.RESTURL, "", 10*time.Second, cfg.GetPriceMaxAge())
	var stream *pricefeed.Stream
	if pfCfg.StreamURL != "" {
		stream = pricefeed.NewStream(pfCfg.StreamURL, prices)
		stream.Start(ctx)
	}

	db, err := storage.NewDB(cfg.Get().Storage.SQLitePath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}

	events := bus.New()
	store := trading.NewStore()
	dedup := signalpkg.NewDedup(10_000)

	trCfg := cfg.GetTrading()
	sizer := trading.NewSizer(trading.SizerConfig{
		PositionPercent:     trCfg.PositionPercent,
		MinPositionUSD:      trCfg.MinPositionUSD,
		MaxPositionUSD:      trCfg.MaxPositionUSD,
		NativeGasReserveRaw: gasReserve,
	}, agg.MinSellAmount)

	executor := trading.NewExecutor(store, agg, trading.NewAllowanceManager(), trCfg.SlippageBps,
		func(wallet string, network token.NetworkKey) {
			validator.Invalidate(wallet, network)
		})

	monitor := trading.NewMonitor(trading.MonitorConfig{
		Interval:        cfg.GetMonitorInterval(),
		TrailingStopBps: cfg.Get().Monitor.TrailingStopBps,
	}, prices)
	if stream != nil {
		monitor.SetStreamHooks(stream.Subscribe, stream.Unsubscribe)
	}

	sched := trading.NewScheduler(trading.SchedulerConfig{
		AutoTradingEnabled: trCfg.AutoTradingEnabled,
		FanOut:             trCfg.FanOut,
		TP1ExitPercent:     trCfg.TP1ExitPercent,
		TrailingEnabled:    trCfg.TrailingEnabled,
		ExitRetryMax:       trCfg.ExitRetryMaxAttempts,
	}, store, dedup, dir, resolver, validator, sizer, executor, monitor, events, envs, bases)

	// hot reload: cadence and the admission gate follow the file, everything
	// else applies to new trades only
	cfg.SetOnChange(func(c *config.Config) {
		sched.SetAutoTrading(c.Trading.AutoTradingEnabled)
		monitor.SetInterval(time.Duration(c.Monitor.IntervalMs) * time.Millisecond)
	})

	if err := db.Bind(events, func(tradeID string) string {
		if t, ok := store.Get(tradeID); ok {
			return string(t.State)
		}
		return ""
	}); err != nil {
		log.Fatal().Err(err).Msg("failed to bind persistence")
	}

	checker := health.NewChecker(probes...)
	checker.Start(ctx)

	srvCfg := cfg.Get().Server
	server := signalpkg.NewServer(srvCfg.ListenHost, srvCfg.ListenPort, sched, checker.Snapshot)

	sched.Start(ctx)
	go func() {
		if err := server.Start(); err != nil {
			log.Fatal().Err(err).Msg("signal server failed")
		}
	}()
	log.Info().
		Str("host", srvCfg.ListenHost).
		Int("port", srvCfg.ListenPort).
		Int("networks", len(envs)).
		Bool("autoTrading", trCfg.AutoTradingEnabled).
		Msg("orchestrator started")

	<-ctx.Done()
	log.Info().Msg("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(); err != nil {
		log.Warn().Err(err).Msg("server shutdown")
	}
	sched.Shutdown(shutdownCtx)
	if stream != nil {
		stream.Stop()
	}
	for _, c := range clients {
		c.Close()
	}
	if err := db.Close(); err != nil {
		log.Warn().Err(err).Msg("database close")
	}
	log.Info().Msg("goodbye")
}

func buildDirectory(cfg *config.Config) *directory.Static {
	records := make([]directory.Record, 0, len(cfg.Directory))
	for _, e := range cfg.Directory {
		deployments := make([]directory.Deployment, 0, len(e.Deployments))
		for _, d := range e.Deployments {
			deployments = append(deployments, directory.Deployment{
				Network: token.NetworkKey(d.Network),
				Address: d.Address,
				Active:  d.Active,
			})
		}
		records = append(records, directory.Record{
			CallerID:      e.CallerID,
			WalletAddress: e.Wallet,
			Deployments:   deployments,
		})
	}
	return directory.NewStatic(records)
}

// walletOn picks the wallet this instance operates on a network. One wallet
// per network; multi-tenant routing stays in the directory.
func walletOn(dir *directory.Static, network token.NetworkKey) (common.Address, bool) {
	for _, r := range dir.Records() {
		for _, d := range r.Deployments {
			if d.Network == network && d.Active {
				return common.HexToAddress(d.Address), true
			}
		}
	}
	return common.Address{}, false
}

func builtinBindings(cfg *config.Config) []token.Binding {
	bindings := make([]token.Binding, 0, len(cfg.Tokens))
	for _, t := range cfg.Tokens {
		bindings = append(bindings, token.Binding{
			Symbol:          t.Symbol,
			Network:         token.NetworkKey(t.Network),
			ContractAddress: t.Contract,
			Decimals:        t.Decimals,
			IsNative:        t.Native,
			Source:          token.SourceKnown,
			Verified:        true,
		})
	}
	return bindings
}

func registrySources(cfg *config.Manager) []token.Lookup {
	var sources []token.Lookup
	reg := cfg.Get().Registry
	if reg.MetadataURL != "" {
		sources = append(sources, registry.NewMetadataClient(reg.MetadataURL, cfg.GetRegistryAPIKey(), 10*time.Second))
	}
	if reg.ListingURL != "" {
		sources = append(sources, registry.NewListingClient(reg.ListingURL, reg.MinLiquidityUSD, 10*time.Second))
	}
	return sources
}

func parsePermits(raw map[string]string) map[token.NetworkKey]common.Address {
	out := make(map[token.NetworkKey]common.Address, len(raw))
	for network, addr := range raw {
		out[token.NetworkKey(network)] = common.HexToAddress(addr)
	}
	return out
}

func parseMinSells(raw map[string]string) map[token.NetworkKey]*big.Int {
	out := make(map[token.NetworkKey]*big.Int, len(raw))
	for network, amount := range raw {
		if v, ok := new(big.Int).SetString(amount, 10); ok {
			out[token.NetworkKey(network)] = v
		}
	}
	return out
}

func setupLogger() {
	log.Logger = zerolog.New(
		zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"},
	).With().Timestamp().Logger()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "1" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

func printBanner() {
	c := color.New(color.FgCyan, color.Bold)
	c.Fprintln(os.Stderr, "safe-trade-bot")
	fmt.Fprintln(os.Stderr, "signal-driven trade orchestration for multi-sig wallets")
}
