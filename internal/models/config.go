package models

import "time"

// ProjectConfig is the top-level configuration for oaiharvest
type ProjectConfig struct {
	HTTP         HTTPConfig         `yaml:"http" json:"http"`
	Retry        RetryConfig        `yaml:"retry" json:"retry"`
	Job          JobConfig          `yaml:"job" json:"job"`
	Sink         SinkConfig         `yaml:"sink" json:"sink"`
	Repositories []RepositoryConfig `yaml:"repositories" json:"repositories" validate:"dive"`
	JobsDir      string             `yaml:"jobs_dir" json:"jobs_dir" validate:"required"`
}

// HTTPConfig controls how repositories are contacted
type HTTPConfig struct {
	TimeoutSeconds int     `yaml:"timeout_seconds" json:"timeout_seconds" validate:"gt=0"`
	UserAgent      string  `yaml:"user_agent" json:"user_agent"`
	From           string  `yaml:"from" json:"from" validate:"omitempty,email"` // Contact address sent in the From header
	RateLimit      float64 `yaml:"rate_limit" json:"rate_limit" validate:"gte=0"` // Requests per second, 0 = unlimited
	RateBurst      int     `yaml:"rate_burst" json:"rate_burst" validate:"gte=0"`
	Method         string  `yaml:"method" json:"method" validate:"omitempty,oneof=GET POST"`
}

// RetryConfig controls transport-level retries for transient failures
type RetryConfig struct {
	MaxAttempts      int   `yaml:"max_attempts" json:"max_attempts" validate:"gte=1,lte=10"`
	InitialBackoffMs int64 `yaml:"initial_backoff_ms" json:"initial_backoff_ms" validate:"gt=0"`
	MaxBackoffMs     int64 `yaml:"max_backoff_ms" json:"max_backoff_ms" validate:"gtfield=InitialBackoffMs"`
}

// JobConfig holds the producer/consumer tuning of a harvest job
type JobConfig struct {
	BatchSize      int `yaml:"batch_size" json:"batch_size" validate:"gt=0"`
	QueueCapacity  int `yaml:"queue_capacity" json:"queue_capacity" validate:"gt=0"`
	OfferTimeoutMs int `yaml:"offer_timeout_ms" json:"offer_timeout_ms" validate:"gt=0"`
	PollTimeoutMs  int `yaml:"poll_timeout_ms" json:"poll_timeout_ms" validate:"gt=0"`
	MaxConcurrent  int `yaml:"max_concurrent_harvests" json:"max_concurrent_harvests" validate:"gte=0"` // 0 = no limit
}

// SinkConfig selects where harvested records are stored
type SinkConfig struct {
	Driver string `yaml:"driver" json:"driver" validate:"oneof=sqlite3 postgres memory"`
	DSN    string `yaml:"dsn" json:"dsn" validate:"required_unless=Driver memory"`
	Table  string `yaml:"table" json:"table" validate:"required,sql_identifier"`
}

// RepositoryConfig describes one repository harvest in the config file
type RepositoryConfig struct {
	BaseURL        string `yaml:"base_url" mapstructure:"base_url" json:"base_url" validate:"required,url"`
	Verb           string `yaml:"verb" mapstructure:"verb" json:"verb" validate:"omitempty,oneof=ListRecords ListIdentifiers GetRecord ListSets ListMetadataFormats Identify"`
	MetadataPrefix string `yaml:"metadata_prefix" mapstructure:"metadata_prefix" json:"metadata_prefix"`
	Set            string `yaml:"set" mapstructure:"set" json:"set"`
	Identifier     string `yaml:"identifier" mapstructure:"identifier" json:"identifier"`
	From           string `yaml:"from" mapstructure:"from" json:"from" validate:"omitempty,datetime=2006-01-02"`
	Until          string `yaml:"until" mapstructure:"until" json:"until" validate:"omitempty,datetime=2006-01-02"`
	Window         string `yaml:"window" mapstructure:"window" json:"window" validate:"omitempty,oneof=none daily weekly monthly"`
}

// Job defaults
const (
	DefaultBatchSize     = 25
	DefaultQueueCapacity = 10000
	DefaultOfferTimeout  = 100 * time.Millisecond
	DefaultPollTimeout   = 100 * time.Millisecond
)

// DefaultJobConfig returns the producer/consumer defaults
func DefaultJobConfig() JobConfig {
	return JobConfig{
		BatchSize:      DefaultBatchSize,
		QueueCapacity:  DefaultQueueCapacity,
		OfferTimeoutMs: int(DefaultOfferTimeout / time.Millisecond),
		PollTimeoutMs:  int(DefaultPollTimeout / time.Millisecond),
	}
}

// OfferTimeout returns the producer enqueue wait
func (c JobConfig) OfferTimeout() time.Duration {
	return time.Duration(c.OfferTimeoutMs) * time.Millisecond
}

// PollTimeout returns the consumer dequeue wait
func (c JobConfig) PollTimeout() time.Duration {
	return time.Duration(c.PollTimeoutMs) * time.Millisecond
}

// WithDefaults fills zero fields with the defaults
func (c JobConfig) WithDefaults() JobConfig {
	d := DefaultJobConfig()
	if c.BatchSize == 0 {
		c.BatchSize = d.BatchSize
	}
	if c.QueueCapacity == 0 {
		c.QueueCapacity = d.QueueCapacity
	}
	if c.OfferTimeoutMs == 0 {
		c.OfferTimeoutMs = d.OfferTimeoutMs
	}
	if c.PollTimeoutMs == 0 {
		c.PollTimeoutMs = d.PollTimeoutMs
	}
	return c
}

// Timeout returns the HTTP client timeout
func (c HTTPConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() ProjectConfig {
	return ProjectConfig{
		HTTP: HTTPConfig{
			TimeoutSeconds: 300,
			UserAgent:      "oaiharvest/0.1.0",
			RateLimit:      0,
			RateBurst:      1,
			Method:         "GET",
		},
		Retry: RetryConfig{
			MaxAttempts:      5,
			InitialBackoffMs: 1000,
			MaxBackoffMs:     30000,
		},
		Job: DefaultJobConfig(),
		Sink: SinkConfig{
			Driver: "sqlite3",
			DSN:    "~/.local/share/oaiharvest/records.db",
			Table:  "harvested_records",
		},
		JobsDir: "./jobs",
	}
}
