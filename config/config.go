package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Markflow  MarkflowConfig  `yaml:"markflow"`
	Engine    EngineConfig    `yaml:"engine"`
	Risk      RiskConfig      `yaml:"risk"`
	Sources   SourcesConfig   `yaml:"sources"`
	Channels  ChannelsConfig  `yaml:"channels"`
	Writer    WriterConfig    `yaml:"writer"`
	Storage   StorageConfig   `yaml:"storage"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type MarkflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// EngineConfig carries the aggregation and mark-price parameters. The risk
// critical thresholds have no defaults; validation rejects missing values.
type EngineConfig struct {
	Symbol           string        `yaml:"symbol"`
	TickInterval     time.Duration `yaml:"tick_interval"`
	CycleTimeout     time.Duration `yaml:"cycle_timeout"`
	MinSources       int           `yaml:"min_sources"`
	MaxStaleness     time.Duration `yaml:"max_staleness"`
	OutlierThreshold float64       `yaml:"outlier_threshold"`
	MarkMode         string        `yaml:"mark_mode"`
	FundingClamp     float64       `yaml:"funding_clamp"`
	StepLimit        float64       `yaml:"step_limit"`
	SmoothingAlpha   float64       `yaml:"smoothing_alpha"`
	MaxOutage        time.Duration `yaml:"max_outage_duration"`
	HistoryDepth     int           `yaml:"history_depth"`
}

// Mark price modes accepted by engine.mark_mode.
const (
	MarkModeDirect          = "direct"
	MarkModeFundingAdjusted = "funding_adjusted"
	MarkModeSmoothed        = "smoothed"
)

type RiskConfig struct {
	MaintenanceMarginRatio float64 `yaml:"maintenance_margin_ratio"`
	LiquidationBufferCount int     `yaml:"liquidation_buffer_count"`
	MaxWorkers             int     `yaml:"max_workers"`
}

// SourcesConfig declares the feed sources. Weights is keyed by source id and
// must cover every source that submits samples.
type SourcesConfig struct {
	Weights map[string]float64  `yaml:"weights"`
	Binance BinanceSourceConfig `yaml:"binance"`
	Bybit   BybitSourceConfig   `yaml:"bybit"`
	Kucoin  KucoinSourceConfig  `yaml:"kucoin"`
	Okx     OkxSourceConfig     `yaml:"okx"`
	Sim     SimSourceConfig     `yaml:"sim"`
}

type BinanceSourceConfig struct {
	Enabled        bool          `yaml:"enabled"`
	URL            string        `yaml:"url"`
	RestURL        string        `yaml:"rest_url"`
	Symbol         string        `yaml:"symbol"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	PollInterval   time.Duration `yaml:"poll_interval"`
}

type BybitSourceConfig struct {
	Enabled        bool          `yaml:"enabled"`
	URL            string        `yaml:"url"`
	Category       string        `yaml:"category"`
	Symbol         string        `yaml:"symbol"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	PollInterval   time.Duration `yaml:"poll_interval"`
}

type KucoinSourceConfig struct {
	Enabled        bool                 `yaml:"enabled"`
	URL            string               `yaml:"url"`
	Symbol         string               `yaml:"symbol"`
	PollInterval   time.Duration        `yaml:"poll_interval"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	ConnectionPool ConnectionPoolConfig `yaml:"connection_pool"`
	Timeout        time.Duration        `yaml:"timeout"`
}

type OkxSourceConfig struct {
	Enabled      bool            `yaml:"enabled"`
	URL          string          `yaml:"url"`
	InstID       string          `yaml:"inst_id"`
	InstType     string          `yaml:"inst_type"`
	PollInterval time.Duration   `yaml:"poll_interval"`
	RateLimit    RateLimitConfig `yaml:"rate_limit"`
	Timeout      time.Duration   `yaml:"timeout"`
}

// SimSourceConfig drives the deterministic feed simulator used in development
// deployments and integration tests.
type SimSourceConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Sources       []string      `yaml:"sources"`
	Interval      time.Duration `yaml:"interval"`
	BasePrice     float64       `yaml:"base_price"`
	Drift         float64       `yaml:"drift"`
	Seed          int64         `yaml:"seed"`
	TradeInterval time.Duration `yaml:"trade_interval"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	BurstSize         int `yaml:"burst_size"`
}

type ConnectionPoolConfig struct {
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	MaxConnsPerHost int           `yaml:"max_conns_per_host"`
	IdleConnTimeout time.Duration `yaml:"idle_conn_timeout"`
}

type ChannelsConfig struct {
	SnapshotBuffer int `yaml:"snapshot_buffer"`
	EventBuffer    int `yaml:"event_buffer"`
}

type WriterConfig struct {
	Archive ArchiveWriterConfig `yaml:"archive"`
	Events  EventWriterConfig   `yaml:"events"`
}

type ArchiveWriterConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	TimeFormat    string        `yaml:"time_format"`
}

type EventWriterConfig struct {
	Enabled bool `yaml:"enabled"`
}

type StorageConfig struct {
	S3    S3Config    `yaml:"s3"`
	Kafka KafkaConfig `yaml:"kafka"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type MetricsConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Addr         string `yaml:"addr"`
	ChannelStats bool   `yaml:"channel_stats"`
	SourceHealth bool   `yaml:"source_health"`
}

type DashboardConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Addr            string        `yaml:"addr"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	MetricLimit     int           `yaml:"metric_limit"`
	LogLimit        int           `yaml:"log_limit"`
	CaptureLogs     bool          `yaml:"capture_logs"`
	Resources       bool          `yaml:"resources"`
	ResourcePath    string        `yaml:"resource_path"`
}

type LoggingConfig struct {
	Level         string                 `yaml:"level"`
	Format        string                 `yaml:"format"`
	Output        string                 `yaml:"output"`
	MaxAge        int                    `yaml:"max_age"`
	Fields        map[string]interface{} `yaml:"fields"`
	DashboardName string                 `yaml:"dashboard_name"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Engine: EngineConfig{
			HistoryDepth: 1024,
		},
		Risk: RiskConfig{
			MaxWorkers: 4,
		},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Override S3 settings from environment variables if available
	if config.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		brokers := strings.Split(v, ",")
		for i := range brokers {
			brokers[i] = strings.TrimSpace(brokers[i])
		}
		config.Storage.Kafka.Brokers = brokers
	}

	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)
	config.Engine.MarkMode = strings.ToLower(strings.TrimSpace(config.Engine.MarkMode))

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Markflow.Name == "" {
		return fmt.Errorf("markflow.name is required")
	}

	if cfg.Markflow.Version == "" {
		return fmt.Errorf("markflow.version is required")
	}

	if cfg.Engine.Symbol == "" {
		return fmt.Errorf("engine.symbol is required")
	}
	if cfg.Engine.TickInterval <= 0 {
		return fmt.Errorf("engine.tick_interval must be greater than 0")
	}
	if cfg.Engine.CycleTimeout <= 0 {
		return fmt.Errorf("engine.cycle_timeout must be greater than 0")
	}
	if cfg.Engine.MinSources <= 0 {
		return fmt.Errorf("engine.min_sources must be greater than 0")
	}
	if cfg.Engine.MaxStaleness <= 0 {
		return fmt.Errorf("engine.max_staleness must be greater than 0")
	}
	if cfg.Engine.OutlierThreshold <= 0 {
		return fmt.Errorf("engine.outlier_threshold must be greater than 0")
	}
	switch cfg.Engine.MarkMode {
	case MarkModeDirect, MarkModeFundingAdjusted, MarkModeSmoothed:
	default:
		return fmt.Errorf("engine.mark_mode '%s' is invalid", cfg.Engine.MarkMode)
	}
	if cfg.Engine.FundingClamp <= 0 {
		return fmt.Errorf("engine.funding_clamp must be greater than 0")
	}
	if cfg.Engine.StepLimit <= 0 {
		return fmt.Errorf("engine.step_limit must be greater than 0")
	}
	if cfg.Engine.MarkMode == MarkModeSmoothed {
		if cfg.Engine.SmoothingAlpha <= 0 || cfg.Engine.SmoothingAlpha > 1 {
			return fmt.Errorf("engine.smoothing_alpha must be in (0, 1] for smoothed mode")
		}
	}
	if cfg.Engine.MaxOutage <= 0 {
		return fmt.Errorf("engine.max_outage_duration must be greater than 0")
	}
	if cfg.Engine.HistoryDepth <= 0 {
		return fmt.Errorf("engine.history_depth must be greater than 0")
	}

	if cfg.Risk.MaintenanceMarginRatio <= 0 {
		return fmt.Errorf("risk.maintenance_margin_ratio must be greater than 0")
	}
	if cfg.Risk.LiquidationBufferCount <= 0 {
		return fmt.Errorf("risk.liquidation_buffer_count must be greater than 0")
	}
	if cfg.Risk.MaxWorkers <= 0 {
		return fmt.Errorf("risk.max_workers must be greater than 0")
	}

	if len(cfg.Sources.Weights) == 0 {
		return fmt.Errorf("sources.weights must declare at least one source")
	}
	for id, w := range cfg.Sources.Weights {
		if w <= 0 {
			return fmt.Errorf("sources.weights['%s'] must be greater than 0", id)
		}
	}
	if len(cfg.Sources.Weights) < cfg.Engine.MinSources {
		return fmt.Errorf("sources.weights declares %d sources, fewer than engine.min_sources %d",
			len(cfg.Sources.Weights), cfg.Engine.MinSources)
	}

	if cfg.Sources.Binance.Enabled {
		if cfg.Sources.Binance.URL == "" || cfg.Sources.Binance.Symbol == "" {
			return fmt.Errorf("sources.binance.url and sources.binance.symbol are required when binance is enabled")
		}
	}
	if cfg.Sources.Bybit.Enabled {
		if cfg.Sources.Bybit.URL == "" || cfg.Sources.Bybit.Symbol == "" {
			return fmt.Errorf("sources.bybit.url and sources.bybit.symbol are required when bybit is enabled")
		}
		if cfg.Sources.Bybit.Category == "" {
			return fmt.Errorf("sources.bybit.category is required when bybit is enabled")
		}
	}
	if cfg.Sources.Kucoin.Enabled {
		if cfg.Sources.Kucoin.Symbol == "" {
			return fmt.Errorf("sources.kucoin.symbol is required when kucoin is enabled")
		}
		if cfg.Sources.Kucoin.PollInterval <= 0 {
			return fmt.Errorf("sources.kucoin.poll_interval must be greater than 0")
		}
	}
	if cfg.Sources.Okx.Enabled {
		if cfg.Sources.Okx.URL == "" || cfg.Sources.Okx.InstID == "" {
			return fmt.Errorf("sources.okx.url and sources.okx.inst_id are required when okx is enabled")
		}
		if cfg.Sources.Okx.PollInterval <= 0 {
			return fmt.Errorf("sources.okx.poll_interval must be greater than 0")
		}
	}
	if cfg.Sources.Sim.Enabled {
		if len(cfg.Sources.Sim.Sources) == 0 {
			return fmt.Errorf("sources.sim.sources must declare at least one source id")
		}
		if cfg.Sources.Sim.Interval <= 0 {
			return fmt.Errorf("sources.sim.interval must be greater than 0")
		}
		if cfg.Sources.Sim.BasePrice <= 0 {
			return fmt.Errorf("sources.sim.base_price must be greater than 0")
		}
	}

	if cfg.Channels.SnapshotBuffer <= 0 {
		return fmt.Errorf("channels.snapshot_buffer must be greater than 0")
	}
	if cfg.Channels.EventBuffer <= 0 {
		return fmt.Errorf("channels.event_buffer must be greater than 0")
	}

	if cfg.Writer.Archive.Enabled {
		if cfg.Writer.Archive.BatchSize <= 0 {
			return fmt.Errorf("writer.archive.batch_size must be greater than 0")
		}
		if cfg.Writer.Archive.FlushInterval <= 0 {
			return fmt.Errorf("writer.archive.flush_interval must be greater than 0")
		}
		if !cfg.Storage.S3.Enabled {
			return fmt.Errorf("writer.archive requires storage.s3 to be enabled")
		}
	}

	if cfg.Writer.Events.Enabled {
		if len(cfg.Storage.Kafka.Brokers) == 0 {
			return fmt.Errorf("storage.kafka.brokers is required when event writing is enabled")
		}
		if cfg.Storage.Kafka.Topic == "" {
			return fmt.Errorf("storage.kafka.topic is required when event writing is enabled")
		}
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if cfg.Storage.S3.AccessKeyID == "" || cfg.Storage.S3.SecretAccessKey == "" {
			return fmt.Errorf("storage.s3.access_key_id and storage.s3.secret_access_key are required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
	}

	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
