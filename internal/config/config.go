package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	Database struct {
		Driver   string `yaml:"driver"` // mysql | postgres | memory
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Name     string `yaml:"name"`
		SSLMode  string `yaml:"sslmode"` // postgres only
	} `yaml:"database"`

	Minio struct {
		Endpoint   string `yaml:"endpoint"`
		AccessKey  string `yaml:"accessKey"`
		SecretKey  string `yaml:"secretKey"`
		BucketName string `yaml:"bucketName"`
		Region     string `yaml:"region"`
		UseSSL     bool   `yaml:"useSSL"`
	} `yaml:"minio"`

	Audit struct {
		TimeoutSeconds       int `yaml:"timeout_seconds"`
		MaxConcurrent        int `yaml:"max_concurrent"`
		RetryAttempts        int `yaml:"retry_attempts"`
		RetryDelaySeconds    int `yaml:"retry_delay_seconds"`
		RetryDelayCapSeconds int `yaml:"retry_delay_cap_seconds"`
		// Categories restricts which check categories the tool runs;
		// empty means the canonical default list.
		Categories []string `yaml:"categories"`
	} `yaml:"audit"`

	// Scoring holds the per-severity penalty for fail-verdict findings
	// and the report badge thresholds (labels only, not scoring).
	Scoring struct {
		Critical      int     `yaml:"critical"`
		High          int     `yaml:"high"`
		Medium        int     `yaml:"medium"`
		Low           int     `yaml:"low"`
		Info          int     `yaml:"info"`
		CriticalBelow float64 `yaml:"critical_below"`
		WarningBelow  float64 `yaml:"warning_below"`
	} `yaml:"scoring"`

	Executor struct {
		Driver                  string   `yaml:"driver"` // local | ssh | docker
		Command                 []string `yaml:"command"`
		Image                   string   `yaml:"image"` // docker driver only
		HandshakeTimeoutSeconds int      `yaml:"handshake_timeout_seconds"`
	} `yaml:"executor"`

	AI struct {
		APIKey string `yaml:"apiKey"`
		Model  string `yaml:"model"`
	} `yaml:"ai"`
}

// Default returns the built-in configuration; YAML and env only override.
func Default() *Config {
	cfg := &Config{}
	cfg.Server.Port = 8080
	cfg.Log.Level = "info"
	cfg.Database.Driver = "memory"
	cfg.Database.Port = 3306
	cfg.Database.SSLMode = "disable"
	cfg.Minio.Region = "us-east-1"
	cfg.Minio.BucketName = "audit-reports"
	cfg.Audit.TimeoutSeconds = 300
	cfg.Audit.MaxConcurrent = 3
	cfg.Audit.RetryAttempts = 3
	cfg.Audit.RetryDelaySeconds = 5
	cfg.Audit.RetryDelayCapSeconds = 30
	cfg.Scoring.Critical = 20
	cfg.Scoring.High = 10
	cfg.Scoring.Medium = 5
	cfg.Scoring.Low = 2
	cfg.Scoring.Info = 0
	cfg.Scoring.CriticalBelow = 60
	cfg.Scoring.WarningBelow = 80
	cfg.Executor.Driver = "local"
	cfg.Executor.Command = []string{"firewall-audit"}
	cfg.Executor.HandshakeTimeoutSeconds = 15
	return cfg
}

// Load reads the YAML file over the defaults, then applies env overrides.
// An empty path skips the file entirely.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	envInt("PORT", &c.Server.Port)
	envStr("LOG_LEVEL", &c.Log.Level)

	envStr("DB_DRIVER", &c.Database.Driver)
	envStr("DB_HOST", &c.Database.Host)
	envInt("DB_PORT", &c.Database.Port)
	envStr("DB_USER", &c.Database.User)
	envStr("DB_PASSWORD", &c.Database.Password)
	envStr("DB_NAME", &c.Database.Name)

	envStr("MINIO_ENDPOINT", &c.Minio.Endpoint)
	envStr("MINIO_ACCESS_KEY", &c.Minio.AccessKey)
	envStr("MINIO_SECRET_KEY", &c.Minio.SecretKey)
	envStr("MINIO_BUCKET", &c.Minio.BucketName)

	envInt("AUDIT_TIMEOUT", &c.Audit.TimeoutSeconds)
	envInt("MAX_CONCURRENT_AUDITS", &c.Audit.MaxConcurrent)
	envInt("RETRY_ATTEMPTS", &c.Audit.RetryAttempts)
	envInt("RETRY_DELAY", &c.Audit.RetryDelaySeconds)

	envStr("EXECUTOR_DRIVER", &c.Executor.Driver)
	envStr("EXECUTOR_IMAGE", &c.Executor.Image)

	envStr("OPENAI_API_KEY", &c.AI.APIKey)
	envStr("OPENAI_MODEL", &c.AI.Model)
}

func envStr(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// Helper to build the MySQL DSN
func (c *Config) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4&loc=UTC",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
	)
}

// Helper to build the Postgres DSN
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.Name,
		c.Database.SSLMode,
	)
}

func (c *Config) AuditTimeout() time.Duration {
	return time.Duration(c.Audit.TimeoutSeconds) * time.Second
}

func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.Audit.RetryDelaySeconds) * time.Second
}

func (c *Config) RetryDelayCap() time.Duration {
	return time.Duration(c.Audit.RetryDelayCapSeconds) * time.Second
}

func (c *Config) HandshakeTimeout() time.Duration {
	return time.Duration(c.Executor.HandshakeTimeoutSeconds) * time.Second
}
