package config

import (
	"fmt"
	"strings"
	"time"

	"eventrelay/pkg/validator"

	"github.com/spf13/viper"
)

type Config struct {
	Server       Server     `mapstructure:"server"`
	Postgres     Postgres   `mapstructure:"postgres"`
	Broker       Broker     `mapstructure:"broker"`
	Dispatcher   Dispatcher `mapstructure:"dispatcher"`
	Producer     Producer   `mapstructure:"producer"`
	Cleanup      Cleanup    `mapstructure:"cleanup"`
	LoggingLevel string     `mapstructure:"logging-level"`
}

type Server struct {
	Port      string `mapstructure:"port"`
	BodyLimit int    `mapstructure:"body_limit"`
}

type Postgres struct {
	ConnString     string `mapstructure:"conn_string"`
	MaxConnections int32  `mapstructure:"max_connections"`
}

type Broker struct {
	Kafka Kafka `mapstructure:"kafka"`
}

type Kafka struct {
	Brokers         string `mapstructure:"brokers"`
	Topic           string `mapstructure:"topic"`
	DeadLetterTopic string `mapstructure:"deadLetterTopic"`
	ReplayEnabled   bool   `mapstructure:"replayEnabled"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
}

// Dispatcher tunes the outbox poll loop. Batch cliffs and breaker
// thresholds are deliberately configuration, not constants: the numbers the
// pattern is usually shipped with are folklore, not derived.
type Dispatcher struct {
	Workers        int           `mapstructure:"workers" validate:"min=1,max=64"`
	BatchSize      int           `mapstructure:"batchSize" validate:"min=1"`
	MaxBatchSize   int           `mapstructure:"maxBatchSize"`
	DynamicBatch   bool          `mapstructure:"dynamicBatch"`
	HighWatermark  int64         `mapstructure:"highWatermark"`
	LowWatermark   int64         `mapstructure:"lowWatermark"`
	Lease          time.Duration `mapstructure:"lease"`
	PollPeriod     time.Duration `mapstructure:"pollPeriod"`
	MaxRetries     int           `mapstructure:"maxRetries" validate:"min=1"`
	BaseRetryDelay time.Duration `mapstructure:"baseRetryDelay"`
	MaxRetryDelay  time.Duration `mapstructure:"maxRetryDelay"`
	SendTimeout    time.Duration `mapstructure:"sendTimeout"`
	StatsLogPeriod time.Duration `mapstructure:"statsLogPeriod"` // 0 disables the periodic stats log
	Breaker        Breaker       `mapstructure:"breaker"`
}

type Breaker struct {
	Enabled          bool          `mapstructure:"enabled"`
	FailureThreshold int           `mapstructure:"failureThreshold" validate:"min=1"`
	OpenDuration     time.Duration `mapstructure:"openDuration"`
}

// Producer tunes the direct (non-outbox) publish path.
type Producer struct {
	MaxAttempts     int           `mapstructure:"maxAttempts" validate:"min=1"`
	SendTimeout     time.Duration `mapstructure:"sendTimeout"`
	AsyncTimeout    time.Duration `mapstructure:"asyncTimeout"`
	FailOnError     bool          `mapstructure:"failOnError"`
	DeadLetterAsync bool          `mapstructure:"deadLetterAsync"`
	BackupDir       string        `mapstructure:"backupDir"`
}

type Cleanup struct {
	Enabled       bool   `mapstructure:"enabled"`
	RetentionDays int    `mapstructure:"retentionDays" validate:"min=1"`
	BatchLimit    int    `mapstructure:"batchLimit" validate:"min=1"`
	Schedule      string `mapstructure:"schedule"` // cron spec with seconds, e.g. "0 0 3 * * *"
	Interval      string `mapstructure:"interval"` // "@every 24h"; Schedule wins when both set
}

func NewConfig() (Config, error) {
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")

	var conf Config
	err := viper.ReadInConfig()
	// a missing config file is fine, environment variables cover it
	if err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return conf, err
		}
	}

	if err = viper.Unmarshal(&conf); err != nil {
		return conf, err
	}

	conf.applyDefaults()

	if err = validator.Validate.Struct(conf); err != nil {
		return conf, fmt.Errorf("config validation: %w", err)
	}

	return conf, nil
}

func (c *Config) applyDefaults() {
	d := &c.Dispatcher
	if d.Workers == 0 {
		d.Workers = 4
	}
	if d.BatchSize == 0 {
		d.BatchSize = 50
	}
	if d.MaxBatchSize == 0 {
		d.MaxBatchSize = d.BatchSize * 4
	}
	if d.HighWatermark == 0 {
		d.HighWatermark = int64(d.BatchSize) * 10
	}
	if d.LowWatermark == 0 {
		d.LowWatermark = int64(d.BatchSize) / 2
	}
	if d.Lease == 0 {
		d.Lease = 30 * time.Second
	}
	if d.PollPeriod == 0 {
		d.PollPeriod = time.Second
	}
	if d.MaxRetries == 0 {
		d.MaxRetries = 5
	}
	if d.BaseRetryDelay == 0 {
		d.BaseRetryDelay = time.Second
	}
	if d.MaxRetryDelay == 0 {
		d.MaxRetryDelay = 30 * time.Minute
	}
	if d.SendTimeout == 0 {
		d.SendTimeout = 10 * time.Second
	}
	if d.Breaker.FailureThreshold == 0 {
		d.Breaker.FailureThreshold = 5
	}
	if d.Breaker.OpenDuration == 0 {
		d.Breaker.OpenDuration = time.Minute
	}

	p := &c.Producer
	if p.MaxAttempts == 0 {
		p.MaxAttempts = 3
	}
	if p.SendTimeout == 0 {
		p.SendTimeout = 10 * time.Second
	}
	if p.AsyncTimeout == 0 {
		p.AsyncTimeout = 30 * time.Second
	}

	cl := &c.Cleanup
	if cl.RetentionDays == 0 {
		cl.RetentionDays = 7
	}
	if cl.BatchLimit == 0 {
		cl.BatchLimit = 1000
	}
}
