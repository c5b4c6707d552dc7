package config

import (
	"log"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type MQConfig struct {
	URL string `yaml:"url"`
}

type ServerConfig struct {
	Port        string `yaml:"port"`
	MetricsPort string `yaml:"metrics_port"`
}

// QueueConfig 队列引擎参数，零值表示使用引擎默认值
type QueueConfig struct {
	PollIntervalSeconds     int    `yaml:"poll_interval_seconds"`
	BatchSize               int    `yaml:"batch_size"`
	Concurrency             int    `yaml:"concurrency"`
	SendTimeoutSeconds      int    `yaml:"send_timeout_seconds"`
	DefaultMaxAttempts      int    `yaml:"default_max_attempts"`
	RetryBackoff            string `yaml:"retry_backoff"` // none / constant / linear / exponential
	RetryBackoffBaseSeconds int    `yaml:"retry_backoff_base_seconds"`
	RetryBackoffMaxSeconds  int    `yaml:"retry_backoff_max_seconds"`
}

// JanitorConfig 定时维护参数
type JanitorConfig struct {
	ReaperSchedule    string `yaml:"reaper_schedule"`
	CleanupSchedule   string `yaml:"cleanup_schedule"`
	StaleAfterMinutes int    `yaml:"stale_after_minutes"`
	RetentionDays     int    `yaml:"retention_days"`
}

type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	From     string `yaml:"from"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type SMSConfig struct {
	GatewayURL string `yaml:"gateway_url"`
	APIKey     string `yaml:"api_key"`
}

// SendersConfig 发送通道配置
// Routes 把通知类型映射到通道（email / sms），缺省走 email
type SendersConfig struct {
	SMTP   SMTPConfig        `yaml:"smtp"`
	SMS    SMSConfig         `yaml:"sms"`
	Routes map[string]string `yaml:"routes"`
}

type Config struct {
	DB      DBConfig      `yaml:"db"`
	Redis   RedisConfig   `yaml:"redis"`
	MQ      MQConfig      `yaml:"mq"`
	Server  ServerConfig  `yaml:"server"`
	Queue   QueueConfig   `yaml:"queue"`
	Janitor JanitorConfig `yaml:"janitor"`
	Senders SendersConfig `yaml:"senders"`
}

func Load() *Config {
	f, err := os.Open("config.yaml")
	if err != nil {
		log.Fatalf("failed to open config.yaml: %v", err)
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		log.Fatalf("failed to decode config.yaml: %v", err)
	}

	// 环境变量覆盖（生产环境使用）
	overrideFromEnv(&cfg)
	setDefaults(&cfg)

	return &cfg
}

func overrideFromEnv(cfg *Config) {
	// DB配置
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.DB.Host = host
	}
	if port := os.Getenv("DB_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.DB.Port = p
		}
	}
	if user := os.Getenv("DB_USER"); user != "" {
		cfg.DB.User = user
	}
	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.DB.Password = password
	}
	if name := os.Getenv("DB_NAME"); name != "" {
		cfg.DB.Name = name
	}

	// Redis配置
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.Redis.Password = password
	}

	// MQ配置
	if url := os.Getenv("MQ_URL"); url != "" {
		cfg.MQ.URL = url
	}

	// Server配置
	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Server.Port = port
	}
	if port := os.Getenv("METRICS_PORT"); port != "" {
		cfg.Server.MetricsPort = port
	}

	// 发送通道配置
	if host := os.Getenv("SMTP_HOST"); host != "" {
		cfg.Senders.SMTP.Host = host
	}
	if port := os.Getenv("SMTP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Senders.SMTP.Port = p
		}
	}
	if from := os.Getenv("SMTP_FROM"); from != "" {
		cfg.Senders.SMTP.From = from
	}
	if username := os.Getenv("SMTP_USERNAME"); username != "" {
		cfg.Senders.SMTP.Username = username
	}
	if password := os.Getenv("SMTP_PASSWORD"); password != "" {
		cfg.Senders.SMTP.Password = password
	}
	if url := os.Getenv("SMS_GATEWAY_URL"); url != "" {
		cfg.Senders.SMS.GatewayURL = url
	}
	if key := os.Getenv("SMS_API_KEY"); key != "" {
		cfg.Senders.SMS.APIKey = key
	}
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == "" {
		cfg.Server.Port = ":8080"
	}
	if cfg.Server.MetricsPort == "" {
		cfg.Server.MetricsPort = ":9100"
	}
	if cfg.Senders.SMTP.Port == 0 {
		cfg.Senders.SMTP.Port = 587
	}
}
