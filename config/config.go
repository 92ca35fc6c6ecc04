package config

import (
	"database/sql"
	"errors"
	"fmt"
	_ "github.com/lib/pq"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	"strings"
	"time"
)

type Config struct {
	App           App           `yaml:"app"`
	Server        Server        `yaml:"server"`
	Database      Database      `yaml:"database"`
	Queue         *RabbitMQ     `yaml:"rabbitmq"`
	MinIO         MinIO         `yaml:"minio"`
	Redis         Redis         `yaml:"redis"`
	Poll          Poll          `yaml:"poll"`
	Presence      Presence      `yaml:"presence"`
	Transcription Transcription `yaml:"transcription"`
	Classifier    Classifier    `yaml:"classifier"`
	Risk          Risk          `yaml:"risk"`
	Worker        Worker        `yaml:"worker"`
}

type App struct {
	Environment string `yaml:"environment"`
	Host        string `yaml:"host"`
	Protocol    string `yaml:"protocol"`
}

type Server struct {
	HttpPort string `yaml:"http_port"`
	Workers  int    `yaml:"workers"`
}

type Database struct {
	DSN string `yaml:"dsn"`
}

type RabbitMQ struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	User         string `json:"user"`
	Pass         string `json:"pass"`
	ExchangeName string `json:"exchange_name"`
	Kind         string `json:"kind"`
	QueueName    string `json:"queue_name"`
	RoutingKey   string `json:"routing_key"`
}

func (r *RabbitMQ) Enabled() bool {
	return r != nil && r.Host != ""
}

type MinIO struct {
	URL             string `yaml:"url"`
	AccessID        string `yaml:"access_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Bucket          string `yaml:"bucket"`
	Secure          bool   `yaml:"secure"`
}

func (m MinIO) Enabled() bool {
	return m.URL != "" && m.Bucket != ""
}

type Redis struct {
	Addr          string `yaml:"addr"`
	Password      string `yaml:"password"`
	DB            int    `yaml:"db"`
	ChannelPrefix string `yaml:"channel_prefix"`
}

func (r Redis) Enabled() bool {
	return r.Addr != ""
}

type Poll struct {
	Interval    time.Duration `yaml:"interval"`
	Concurrency int           `yaml:"concurrency"`
}

type Presence struct {
	BaseURL   string        `yaml:"base_url"`
	UserAgent string        `yaml:"user_agent"`
	Timeout   time.Duration `yaml:"timeout"`
}

type Transcription struct {
	SegmentDuration time.Duration `yaml:"segment_duration"`
	Language        string        `yaml:"language"`
	Model           string        `yaml:"model"`
	BaseURL         string        `yaml:"base_url"`
	APIKey          string        `yaml:"api_key"`
	FFmpegPath      string        `yaml:"ffmpeg_path"`
	WorkDir         string        `yaml:"work_dir"`
}

type Classifier struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

type Risk struct {
	Threshold float64 `yaml:"threshold"`
}

type Worker struct {
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "develop")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.workers", 4)
	v.SetDefault("rabbitmq_port", 5672)
	v.SetDefault("rabbitmq_kind", "direct")
	v.SetDefault("rabbitmq_exchange", "live_exchange")
	v.SetDefault("rabbitmq_queue", "live_evaluate_queue")
	v.SetDefault("rabbitmq_routing_key", "live.evaluate")
	v.SetDefault("redis.channel_prefix", "live-monitor:events:")
	v.SetDefault("poll.interval", 2*time.Minute)
	v.SetDefault("poll.concurrency", 8)
	v.SetDefault("presence.base_url", "https://www.tiktok.com")
	v.SetDefault("presence.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	v.SetDefault("presence.timeout", 10*time.Second)
	v.SetDefault("transcription.segment_duration", 15*time.Second)
	v.SetDefault("transcription.language", "fr")
	v.SetDefault("transcription.model", "whisper-large-v3")
	v.SetDefault("transcription.base_url", "https://api.groq.com/openai/v1")
	v.SetDefault("transcription.ffmpeg_path", "ffmpeg")
	v.SetDefault("transcription.work_dir", "temp")
	v.SetDefault("classifier.base_url", "https://api.groq.com/openai/v1")
	v.SetDefault("classifier.model", "llama-3.3-70b-versatile")
	v.SetDefault("classifier.timeout", 30*time.Second)
	v.SetDefault("risk.threshold", 0.7)
	v.SetDefault("worker.shutdown_timeout", 10*time.Second)
}

func Load(path string) (*Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	err := v.ReadInConfig()
	if err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{
		App: App{
			Environment: v.GetString("app.environment"),
			Host:        v.GetString("app.host"),
			Protocol:    v.GetString("app.protocol"),
		},
		Server: Server{
			HttpPort: v.GetString("server.port"),
			Workers:  v.GetInt("server.workers"),
		},
		Database: Database{
			DSN: v.GetString("postgresql_host"),
		},
		Queue: &RabbitMQ{
			Host:         v.GetString("rabbitmq_host"),
			Port:         v.GetInt("rabbitmq_port"),
			User:         v.GetString("rabbitmq_user"),
			Pass:         v.GetString("rabbitmq_pass"),
			Kind:         v.GetString("rabbitmq_kind"),
			ExchangeName: v.GetString("rabbitmq_exchange"),
			QueueName:    v.GetString("rabbitmq_queue"),
			RoutingKey:   v.GetString("rabbitmq_routing_key"),
		},
		MinIO: MinIO{
			URL:             v.GetString("minio.url"),
			AccessID:        v.GetString("minio.access_id"),
			SecretAccessKey: v.GetString("minio.secret_access_key"),
			Bucket:          v.GetString("minio.bucket"),
			Secure:          v.GetBool("minio.secure"),
		},
		Redis: Redis{
			Addr:          v.GetString("redis.addr"),
			Password:      v.GetString("redis.password"),
			DB:            v.GetInt("redis.db"),
			ChannelPrefix: v.GetString("redis.channel_prefix"),
		},
		Poll: Poll{
			Interval:    v.GetDuration("poll.interval"),
			Concurrency: v.GetInt("poll.concurrency"),
		},
		Presence: Presence{
			BaseURL:   v.GetString("presence.base_url"),
			UserAgent: v.GetString("presence.user_agent"),
			Timeout:   v.GetDuration("presence.timeout"),
		},
		Transcription: Transcription{
			SegmentDuration: v.GetDuration("transcription.segment_duration"),
			Language:        v.GetString("transcription.language"),
			Model:           v.GetString("transcription.model"),
			BaseURL:         v.GetString("transcription.base_url"),
			APIKey:          v.GetString("transcription.api_key"),
			FFmpegPath:      v.GetString("transcription.ffmpeg_path"),
			WorkDir:         v.GetString("transcription.work_dir"),
		},
		Classifier: Classifier{
			BaseURL: v.GetString("classifier.base_url"),
			APIKey:  v.GetString("classifier.api_key"),
			Model:   v.GetString("classifier.model"),
			Timeout: v.GetDuration("classifier.timeout"),
		},
		Risk: Risk{
			Threshold: v.GetFloat64("risk.threshold"),
		},
		Worker: Worker{
			ShutdownTimeout: v.GetDuration("worker.shutdown_timeout"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Risk.Threshold < 0 || c.Risk.Threshold > 1 {
		return fmt.Errorf("risk.threshold must be within [0, 1], got %v", c.Risk.Threshold)
	}
	if c.Transcription.SegmentDuration <= 0 {
		return fmt.Errorf("transcription.segment_duration must be positive")
	}
	if c.Classifier.Timeout <= 0 {
		return fmt.Errorf("classifier.timeout must be positive")
	}
	return nil
}

func NewDB(cfg Database) (*sql.DB, error) {
	if cfg.DSN == "" {
		return nil, errors.New("postgresql_host is not configured")
	}
	return sql.Open("postgres", cfg.DSN)
}

func NewMinIO(cfg MinIO) (*minio.Client, error) {
	return minio.New(cfg.URL, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessID, cfg.SecretAccessKey, ""),
		Secure: cfg.Secure,
	})
}

func NewRedis(cfg Redis) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}
