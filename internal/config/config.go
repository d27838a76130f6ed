package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	DB         DBConfig         `mapstructure:"db"`
	Cron       CronConfig       `mapstructure:"cron"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Detection  DetectionConfig  `mapstructure:"detection"`
	Ingest     IngestConfig     `mapstructure:"ingest"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
}

type CronConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	FindingSweep string `mapstructure:"finding_sweep"`
	StuckJobs    string `mapstructure:"stuck_jobs"`
}

// QueueConfig configures the lmstfy accelerator queue. Disabled means every
// enqueue runs through the direct executor.
type QueueConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	Namespace   string        `mapstructure:"namespace"`
	Token       string        `mapstructure:"token"`
	QueueName   string        `mapstructure:"queue_name"`
	Concurrency int           `mapstructure:"concurrency"`
	PollTimeout time.Duration `mapstructure:"poll_timeout"`
	TTR         time.Duration `mapstructure:"ttr"`
	JobTTL      time.Duration `mapstructure:"job_ttl"`
	Tries       int           `mapstructure:"tries"`
}

type ClassifierConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type DetectionConfig struct {
	ScanWindowDays int           `mapstructure:"scan_window_days"`
	JobTimeout     time.Duration `mapstructure:"job_timeout"`
}

type IngestConfig struct {
	MaxBatchRows int `mapstructure:"max_batch_rows"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.finding_sweep", "0 0 * * * *")
	v.SetDefault("cron.stuck_jobs", "0 */10 * * * *")
	v.SetDefault("queue.enabled", false)
	v.SetDefault("queue.host", "127.0.0.1")
	v.SetDefault("queue.port", 7777)
	v.SetDefault("queue.namespace", "clawback")
	v.SetDefault("queue.queue_name", "detection_jobs")
	v.SetDefault("queue.concurrency", 2)
	v.SetDefault("queue.poll_timeout", "3s")
	v.SetDefault("queue.ttr", "30m")
	v.SetDefault("queue.job_ttl", "24h")
	v.SetDefault("queue.tries", 3)
	v.SetDefault("classifier.base_url", "")
	v.SetDefault("classifier.timeout", "180s")
	v.SetDefault("detection.scan_window_days", 180)
	v.SetDefault("detection.job_timeout", "25m")
	v.SetDefault("ingest.max_batch_rows", 10000)

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
