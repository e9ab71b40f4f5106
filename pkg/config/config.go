// Package config provides a reusable loader for the execution core's
// configuration files and environment variables. It is versioned so that
// call sites can depend on a stable API contract.
//
// Version: v0.1.0
package config

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/peycheff-com/titan-execution-core/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config is the unified configuration for one execution-core process. It
// mirrors the recognized options enumerated in spec §6.
type Config struct {
	Bus struct {
		URL           string `mapstructure:"url" json:"url"`
		MaxDeliver    int    `mapstructure:"max_deliver" json:"max_deliver"`
		BackoffMS     []int  `mapstructure:"backoff_schedule_ms" json:"backoff_schedule_ms"`
		DedupWindowMS int    `mapstructure:"command_dedup_window_ms" json:"command_dedup_window_ms"`
	} `mapstructure:"bus" json:"bus"`

	Intent struct {
		TTLMs                int `mapstructure:"intent_ttl_ms" json:"intent_ttl_ms"`
		ClockSkewToleranceMS int `mapstructure:"clock_skew_tolerance_ms" json:"clock_skew_tolerance_ms"`
	} `mapstructure:"intent" json:"intent"`

	Leader struct {
		LeaseTTLMs          int      `mapstructure:"leader_lease_ttl_ms" json:"leader_lease_ttl_ms"`
		HeartbeatIntervalMS int      `mapstructure:"heartbeat_interval_ms" json:"heartbeat_interval_ms"`
		EtcdEndpoints       []string `mapstructure:"etcd_endpoints" json:"etcd_endpoints"`
	} `mapstructure:"leader" json:"leader"`

	Reconcile struct {
		PeriodMS             int     `mapstructure:"reconcile_period_ms" json:"reconcile_period_ms"`
		DriftTolerance       float64 `mapstructure:"drift_tolerance" json:"drift_tolerance"`
		StalenessThresholdMS int     `mapstructure:"staleness_threshold_ms" json:"staleness_threshold_ms"`
		SentinelTimeoutMS    int     `mapstructure:"sentinel_timeout_ms" json:"sentinel_timeout_ms"`
	} `mapstructure:"reconcile" json:"reconcile"`

	Market struct {
		VolumeWindowMS  int64 `mapstructure:"volume_window_ms" json:"volume_window_ms"`
		VolumeThreshold int   `mapstructure:"volume_threshold" json:"volume_threshold"`
	} `mapstructure:"market" json:"market"`

	Venue struct {
		CallDeadlineMS int `mapstructure:"venue_call_deadline_ms" json:"venue_call_deadline_ms"`
	} `mapstructure:"venue" json:"venue"`

	Risk struct {
		Capital         float64 `mapstructure:"capital" json:"capital"`
		MaxPositionPct  float64 `mapstructure:"max_position_pct" json:"max_position_pct"`
		MaxLeverage     float64 `mapstructure:"max_leverage" json:"max_leverage"`
		MaxDrawdownPct  float64 `mapstructure:"max_drawdown_pct" json:"max_drawdown_pct"`
		MaxDailyLossPct float64 `mapstructure:"max_daily_loss_pct" json:"max_daily_loss_pct"`
		MaxSlippageBps  int     `mapstructure:"max_slippage_bps" json:"max_slippage_bps"`
	} `mapstructure:"risk" json:"risk"`

	Credentials struct {
		HMACKeyFile string `mapstructure:"hmac_key_file" json:"hmac_key_file"`
		RBACFile    string `mapstructure:"rbac_roles_file" json:"rbac_roles_file"`
	} `mapstructure:"credentials" json:"credentials"`

	Store struct {
		DBPath string `mapstructure:"db_path" json:"db_path"`
	} `mapstructure:"store" json:"store"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`

	AdminHTTP struct {
		BindAddr string `mapstructure:"bind_addr" json:"bind_addr"`
	} `mapstructure:"admin_http" json:"admin_http"`

	// Accounts enumerates the (venue, account) pairs the reconciliation
	// loop reconciles and the venue adapters the lifecycle manager
	// dispatches orders to.
	Accounts []AccountConfig `mapstructure:"accounts" json:"accounts"`
}

// AccountConfig names one (venue, account) pair this process trades and
// reconciles.
type AccountConfig struct {
	Venue   string `mapstructure:"venue" json:"venue"`
	Account string `mapstructure:"account" json:"account"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads the default configuration file and merges any environment
// specific overrides named by env. The resulting configuration is stored
// in AppConfig and returned. If env is empty, only the default
// configuration is loaded.
func Load(env string) (*Config, error) {
	_ = godotenv.Load(".env")

	viper.SetConfigName("default")
	viper.AddConfigPath("config")
	viper.AddConfigPath(".")
	viper.SetConfigType("yaml")
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, utils.Wrap(err, "load config")
		}
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.SetEnvPrefix("TITAN")
	viper.AutomaticEnv()

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the TITAN_ENV environment variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("TITAN_ENV", ""))
}

func setDefaults() {
	viper.SetDefault("bus.max_deliver", 5)
	viper.SetDefault("bus.backoff_schedule_ms", []int{1000, 5000, 15000, 30000})
	viper.SetDefault("bus.command_dedup_window_ms", 60_000)
	viper.SetDefault("bus.url", "nats://127.0.0.1:4222")

	viper.SetDefault("intent.intent_ttl_ms", 60_000)
	viper.SetDefault("intent.clock_skew_tolerance_ms", 5_000)

	viper.SetDefault("leader.leader_lease_ttl_ms", 10_000)
	viper.SetDefault("leader.heartbeat_interval_ms", 3_000)
	viper.SetDefault("leader.etcd_endpoints", []string{"127.0.0.1:2379"})

	viper.SetDefault("reconcile.reconcile_period_ms", 5_000)
	viper.SetDefault("reconcile.drift_tolerance", 0.001)
	viper.SetDefault("reconcile.staleness_threshold_ms", 10_000)
	viper.SetDefault("reconcile.sentinel_timeout_ms", 10_000)

	viper.SetDefault("market.volume_window_ms", 100)
	viper.SetDefault("market.volume_threshold", 10)

	viper.SetDefault("venue.venue_call_deadline_ms", 3_000)

	viper.SetDefault("risk.capital", 0.0)
	viper.SetDefault("risk.max_position_pct", 0.25)
	viper.SetDefault("risk.max_leverage", 10.0)
	viper.SetDefault("risk.max_drawdown_pct", 0.20)
	viper.SetDefault("risk.max_daily_loss_pct", 0.10)
	viper.SetDefault("risk.max_slippage_bps", 50)

	viper.SetDefault("store.db_path", "./data/execution.db")
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("admin_http.bind_addr", ":8090")
}
