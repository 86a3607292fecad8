// Package config loads the engine's YAML configuration with environment
// overrides, grounded on AlejandroRuiz99-polybot/config/config.go's
// Load/applyEnvOverrides/setDefaults three-step shape. That repo reads the
// YAML by hand with gopkg.in/yaml.v3 and os.Getenv; this repo instead reads
// through spf13/viper (declared in the teacher's go.mod but never wired
// there) so env overrides and future live-reload come for free, with
// joho/godotenv loading an optional .env first exactly as the teacher does.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/atlas-desktop/volbalance/pkg/types"
)

// StorageDriver selects the repository backend.
type StorageDriver string

const (
	StorageMemory StorageDriver = "memory"
	StorageSQLite StorageDriver = "sqlite"
)

// MarketDataDriver selects the MarketData adapter.
type MarketDataDriver string

const (
	MarketDataSynthetic MarketDataDriver = "synthetic"
	MarketDataHTTP      MarketDataDriver = "http"
)

// ServerConfig carries the admin façade's bind address and timeouts.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// StorageConfig selects and parameterizes the repository backend.
type StorageConfig struct {
	Driver StorageDriver `mapstructure:"driver"`
	DSN    string        `mapstructure:"dsn"`
}

// MarketDataConfig selects and parameterizes the MarketData adapter.
type MarketDataConfig struct {
	Driver  MarketDataDriver `mapstructure:"driver"`
	BaseURL string           `mapstructure:"base_url"`
	APIKey  string           `mapstructure:"api_key"`
}

// SchedulerConfig controls the live tick cadence and worker concurrency.
type SchedulerConfig struct {
	TickIntervalSeconds int   `mapstructure:"tick_interval_seconds"`
	MaxConcurrency      int64 `mapstructure:"max_concurrency"`
}

// AlertConfig controls the periodic invariant-check worker.
type AlertConfig struct {
	IntervalSeconds        int `mapstructure:"interval_seconds"`
	NoEvalMinutes          int `mapstructure:"no_eval_minutes"`
	GuardrailSkipThreshold int `mapstructure:"guardrail_skip_threshold"`
	PriceStaleMinutes      int `mapstructure:"price_stale_minutes"`
}

// LogConfig controls logger level and encoding.
type LogConfig struct {
	Level    string `mapstructure:"level"`
	Encoding string `mapstructure:"encoding"`
}

// Config is the engine's full runtime configuration.
type Config struct {
	Server      ServerConfig            `mapstructure:"server"`
	Storage     StorageConfig           `mapstructure:"storage"`
	MarketData  MarketDataConfig        `mapstructure:"market_data"`
	Scheduler   SchedulerConfig         `mapstructure:"scheduler"`
	Alert       AlertConfig             `mapstructure:"alert"`
	Log         LogConfig               `mapstructure:"log"`
	AuditPath   string                  `mapstructure:"audit_path"`
	Trigger     types.TriggerConfig     `mapstructure:"trigger"`
	Guardrail   types.GuardrailConfig   `mapstructure:"guardrail"`
	OrderPolicy types.OrderPolicyConfig `mapstructure:"order_policy"`
}

// Load reads an optional .env file, then the YAML file at path (if it
// exists), then VB_-prefixed environment overrides, applying sane defaults
// for anything left unset. A missing path is not an error: a bare
// environment-only configuration is valid.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("VB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config: read %q: %w", path, err)
			}
		}
	}

	// pkg/types' config structs carry yaml/json tags only, so their
	// snake_case keys are matched to Go field names with underscores ignored.
	matchSnakeCase := func(dc *mapstructure.DecoderConfig) {
		dc.MatchName = func(mapKey, fieldName string) bool {
			return strings.EqualFold(strings.ReplaceAll(mapKey, "_", ""), fieldName)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decimalDecodeHook(), matchSnakeCase); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)

	v.SetDefault("storage.driver", string(StorageMemory))
	v.SetDefault("storage.dsn", "volbalance.db")

	v.SetDefault("market_data.driver", string(MarketDataSynthetic))

	v.SetDefault("scheduler.tick_interval_seconds", 60)
	v.SetDefault("scheduler.max_concurrency", 4)

	v.SetDefault("alert.interval_seconds", 30)
	v.SetDefault("alert.no_eval_minutes", 15)
	v.SetDefault("alert.guardrail_skip_threshold", 5)
	v.SetDefault("alert.price_stale_minutes", 10)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")

	v.SetDefault("audit_path", "volbalance-events.jsonl")

	def := types.DefaultTriggerConfig()
	v.SetDefault("trigger.tau_up", def.TauUp.String())
	v.SetDefault("trigger.tau_down", def.TauDown.String())
	v.SetDefault("trigger.rebalance_ratio", def.RebalanceRatio.String())
	v.SetDefault("trigger.anomaly_threshold", def.AnomalyThreshold.String())
	v.SetDefault("trigger.anomaly_reset_enabled", def.AnomalyResetEnabled)

	g := types.DefaultGuardrailConfig()
	v.SetDefault("guardrail.min_stock_pct", g.MinStockPct.String())
	v.SetDefault("guardrail.max_stock_pct", g.MaxStockPct.String())
	v.SetDefault("guardrail.max_orders_per_day", g.MaxOrdersPerDay)

	op := types.DefaultOrderPolicyConfig()
	v.SetDefault("order_policy.min_qty", op.MinQty.String())
	v.SetDefault("order_policy.min_notional", op.MinNotional.String())
	v.SetDefault("order_policy.lot_size", op.LotSize.String())
	v.SetDefault("order_policy.qty_step", op.QtyStep.String())
	v.SetDefault("order_policy.action_below_min", string(op.ActionBelowMin))
	v.SetDefault("order_policy.commission_rate", op.CommissionRate.String())
	v.SetDefault("order_policy.allow_after_hours", op.AllowAfterHours)
}

// TickInterval returns the scheduler's configured tick cadence.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Scheduler.TickIntervalSeconds) * time.Second
}

// AlertInterval returns the alert worker's configured polling cadence.
func (c *Config) AlertInterval() time.Duration {
	return time.Duration(c.Alert.IntervalSeconds) * time.Second
}

// Validate checks the decoded config's nested value objects and reports the
// first violation found.
func (c *Config) Validate() error {
	if err := c.Trigger.Validate(); err != nil {
		return fmt.Errorf("trigger: %w", err)
	}
	if err := c.Guardrail.Validate(); err != nil {
		return fmt.Errorf("guardrail: %w", err)
	}
	if err := c.OrderPolicy.Validate(); err != nil {
		return fmt.Errorf("order_policy: %w", err)
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be positive")
	}
	return nil
}

// decimalDecodeHook lets viper's mapstructure decode YAML/env string values
// straight into decimal.Decimal fields via its encoding.TextUnmarshaler
// implementation, and strings like "15s" into time.Duration fields.
func decimalDecodeHook() viper.DecoderConfigOption {
	return viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
	))
}
