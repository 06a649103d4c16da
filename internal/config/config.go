// Package config loads the orchestrator configuration from YAML with
// hot-reload on file change. Secrets never live in the file: the config names
// the environment variables that hold them.
package config

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config holds all orchestrator configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Wallet     WalletConfig     `mapstructure:"wallet"`
	Chains     []ChainConfig    `mapstructure:"chains"`
	Directory  []DirectoryEntry `mapstructure:"directory"`
	Trading    TradingConfig    `mapstructure:"trading"`
	Monitor    MonitorConfig    `mapstructure:"monitor"`
	Aggregator AggregatorConfig `mapstructure:"aggregator"`
	PriceFeed  PriceFeedConfig  `mapstructure:"pricefeed"`
	Registry   RegistryConfig   `mapstructure:"registry"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Tokens     []TokenConfig    `mapstructure:"tokens"`
}

type ServerConfig struct {
	ListenHost string `mapstructure:"listen_host"`
	ListenPort int    `mapstructure:"listen_port"`
}

type WalletConfig struct {
	SignerKeyEnv string `mapstructure:"signer_key_env"`
}

// ChainConfig is one supported network, including the funding asset trades
// are sized in on that network.
type ChainConfig struct {
	Network      string `mapstructure:"network"`
	RPCURL       string `mapstructure:"rpc_url"`
	RPCAPIKeyEnv string `mapstructure:"rpc_api_key_env"`
	ChainID      int64  `mapstructure:"chain_id"`

	BaseSymbol   string `mapstructure:"base_symbol"`
	BaseContract string `mapstructure:"base_contract"`
	BaseDecimals int    `mapstructure:"base_decimals"`
	BaseIsNative bool   `mapstructure:"base_is_native"`

	// NativeGasReserve is withheld from native balances, decimal string.
	NativeGasReserve   string `mapstructure:"native_gas_reserve"`
	GasBumpPercent     int64  `mapstructure:"gas_bump_percent"`
	MinGasPriceWei     int64  `mapstructure:"min_gas_price_wei"`
	MinNativeWei       int64  `mapstructure:"min_native_wei"`
	ReceiptWaitSeconds int    `mapstructure:"receipt_wait_seconds"`
}

type DirectoryEntry struct {
	CallerID    string             `mapstructure:"caller_id"`
	Wallet      string             `mapstructure:"wallet"`
	Deployments []DeploymentConfig `mapstructure:"deployments"`
}

type DeploymentConfig struct {
	Network string `mapstructure:"network"`
	Address string `mapstructure:"address"`
	Active  bool   `mapstructure:"active"`
}

type TradingConfig struct {
	AutoTradingEnabled bool   `mapstructure:"auto_trading_enabled"`
	PositionPercent    int    `mapstructure:"position_percent"`
	MinPositionUSD     string `mapstructure:"min_position_usd"`
	MaxPositionUSD     string `mapstructure:"max_position_usd"`
	SlippageBps        int    `mapstructure:"slippage_bps"`

	// TP1ExitPercent of the position sold at the first profit target;
	// TrailingEnabled turns TP2 into a trailing-stop arm instead of an exit.
	TP1ExitPercent  int  `mapstructure:"tp1_exit_percent"`
	TrailingEnabled bool `mapstructure:"trailing_enabled"`

	FanOut               int `mapstructure:"fan_out"`
	ExitRetryMaxAttempts int `mapstructure:"exit_retry_max_attempts"`
}

type MonitorConfig struct {
	IntervalMs      int   `mapstructure:"interval_ms"`
	TrailingStopBps int64 `mapstructure:"trailing_stop_bps"`
}

type AggregatorConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	APIKeysEnv string `mapstructure:"api_keys_env"`
	// PermitContracts and MinSellAmounts are keyed by network.
	PermitContracts map[string]string `mapstructure:"permit_contracts"`
	MinSellAmounts  map[string]string `mapstructure:"min_sell_amounts"`
}

type PriceFeedConfig struct {
	RESTURL   string `mapstructure:"rest_url"`
	StreamURL string `mapstructure:"stream_url"`
	MaxAgeMs  int    `mapstructure:"max_age_ms"`
}

type RegistryConfig struct {
	MetadataURL       string  `mapstructure:"metadata_url"`
	MetadataAPIKeyEnv string  `mapstructure:"metadata_api_key_env"`
	ListingURL        string  `mapstructure:"listing_url"`
	MinLiquidityUSD   float64 `mapstructure:"min_liquidity_usd"`
}

type StorageConfig struct {
	SQLitePath string `mapstructure:"sqlite_path"`
}

// TokenConfig is one builtin token binding, trusted without registry lookup.
type TokenConfig struct {
	Symbol   string `mapstructure:"symbol"`
	Network  string `mapstructure:"network"`
	Contract string `mapstructure:"contract"`
	Decimals int    `mapstructure:"decimals"`
	Native   bool   `mapstructure:"native"`
}

// Manager handles config loading and hot-reload.
type Manager struct {
	mu       sync.RWMutex
	config   *Config
	viper    *viper.Viper
	onChange func(*Config)
}

// NewManager loads the config file and starts watching it.
func NewManager(configPath string) (*Manager, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	m := &Manager{
		config: &cfg,
		viper:  v,
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		log.Info().Str("file", e.Name).Msg("config file changed, reloading")
		m.reload()
	})

	return m, nil
}

// NewStatic wraps an in-memory config, for tests and tools.
func NewStatic(cfg *Config) *Manager {
	return &Manager{config: cfg}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen_host", "0.0.0.0")
	v.SetDefault("server.listen_port", 8080)
	v.SetDefault("wallet.signer_key_env", "SIGNER_PRIVATE_KEY")
	v.SetDefault("trading.position_percent", 20)
	v.SetDefault("trading.min_position_usd", "0.01")
	v.SetDefault("trading.slippage_bps", 50)
	v.SetDefault("trading.tp1_exit_percent", 100)
	v.SetDefault("trading.trailing_enabled", true)
	v.SetDefault("trading.fan_out", 8)
	v.SetDefault("trading.exit_retry_max_attempts", 5)
	v.SetDefault("monitor.interval_ms", 30_000)
	v.SetDefault("monitor.trailing_stop_bps", 200)
	v.SetDefault("aggregator.base_url", "https://api.0x.org")
	v.SetDefault("aggregator.api_keys_env", "AGGREGATOR_API_KEYS")
	v.SetDefault("pricefeed.max_age_ms", 5000)
	v.SetDefault("registry.min_liquidity_usd", 50_000)
	v.SetDefault("storage.sqlite_path", "./data/bot.db")
}

// Get returns the current config (thread-safe).
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// GetTrading returns the trading section, the most frequently read one.
func (m *Manager) GetTrading() TradingConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.Trading
}

// SetOnChange registers a callback for config changes.
func (m *Manager) SetOnChange(fn func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = fn
}

// Update modifies the runtime-tunable trading knobs and saves them to file.
func (m *Manager) Update(fn func(*Config)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	fn(m.config)

	m.viper.Set("trading.auto_trading_enabled", m.config.Trading.AutoTradingEnabled)
	m.viper.Set("trading.position_percent", m.config.Trading.PositionPercent)
	m.viper.Set("trading.slippage_bps", m.config.Trading.SlippageBps)
	m.viper.Set("trading.tp1_exit_percent", m.config.Trading.TP1ExitPercent)
	m.viper.Set("trading.trailing_enabled", m.config.Trading.TrailingEnabled)

	if err := m.viper.WriteConfig(); err != nil {
		return err
	}

	if m.onChange != nil {
		m.onChange(m.config)
	}

	return nil
}

func (m *Manager) reload() {
	m.mu.Lock()
	defer m.mu.Unlock()

	var cfg Config
	if err := m.viper.Unmarshal(&cfg); err != nil {
		log.Error().Err(err).Msg("failed to unmarshal config on reload")
		return
	}

	m.config = &cfg
	if m.onChange != nil {
		m.onChange(&cfg)
	}
}

// GetSignerKey loads the signer private key from the environment.
func (m *Manager) GetSignerKey() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return os.Getenv(m.config.Wallet.SignerKeyEnv)
}

// GetAggregatorAPIKeys loads the comma-separated aggregator key pool from
// the environment.
func (m *Manager) GetAggregatorAPIKeys() []string {
	m.mu.RLock()
	env := m.config.Aggregator.APIKeysEnv
	m.mu.RUnlock()

	raw := os.Getenv(env)
	if raw == "" {
		return nil
	}
	var keys []string
	for _, k := range strings.Split(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// GetChain returns the chain section for a network.
func (m *Manager) GetChain(network string) (ChainConfig, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.config.Chains {
		if c.Network == network {
			return c, true
		}
	}
	return ChainConfig{}, false
}

// GetRPCURL returns the RPC URL for a network with its API key injected.
func (m *Manager) GetRPCURL(network string) string {
	c, ok := m.GetChain(network)
	if !ok {
		return ""
	}
	return injectKey(c.RPCURL, os.Getenv(c.RPCAPIKeyEnv))
}

// GetRegistryAPIKey loads the metadata registry key from the environment.
func (m *Manager) GetRegistryAPIKey() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return os.Getenv(m.config.Registry.MetadataAPIKeyEnv)
}

// GetMonitorInterval returns the monitor tick interval as a duration.
func (m *Manager) GetMonitorInterval() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return time.Duration(m.config.Monitor.IntervalMs) * time.Millisecond
}

// GetPriceMaxAge returns the price cache freshness window as a duration.
func (m *Manager) GetPriceMaxAge() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return time.Duration(m.config.PriceFeed.MaxAgeMs) * time.Millisecond
}

func injectKey(url, key string) string {
	if key == "" || url == "" {
		return url
	}
	if strings.Contains(url, "?") {
		return url + "&api_key=" + key
	}
	return url + "?api_key=" + key
}
