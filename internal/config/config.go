// Package config loads process configuration from a TOML file into a
// package-level singleton, the same shape the rest of this lineage uses
// for its config layer.
package config

import (
	"os"
	"sync"

	"github.com/BurntSushi/toml"
)

type redisConfig struct {
	Addr             string   `toml:"addr"`
	User             string   `toml:"user"`
	Password         string   `toml:"password"`
	DB               int      `toml:"db"`
	UseSentinel      bool     `toml:"useSentinel"`
	SentinelAddrs    []string `toml:"sentinelAddrs"`
	MasterName       string   `toml:"masterName"`
	SentinelPassword string   `toml:"sentinelPassword"`
	PoolSize         int      `toml:"poolSize"`
	MinIdleConns     int      `toml:"minIdleConns"`
	MaxRetries       int      `toml:"maxRetries"`
	DialTimeout      int      `toml:"dialTimeout"`
	ReadTimeout      int      `toml:"readTimeout"`
	WriteTimeout     int      `toml:"writeTimeout"`
}

type mysqlConfig struct {
	DSN              string `toml:"dsn"`
	MaxOpenConns     int    `toml:"maxOpenConns"`
	MaxIdleConns     int    `toml:"maxIdleConns"`
	ConnMaxIdleTime  int    `toml:"connMaxIdleTime"`
	ConnMaxLifetime  int    `toml:"connMaxLifetime"`
}

type serverConfig struct {
	APIAddr         string   `toml:"apiAddr"`
	JWTSecret       string   `toml:"jwtSecret"`
	AllowedOrigins  []string `toml:"allowedOrigins"`
}

type auditConfig struct {
	Brokers          string `toml:"brokers"`
	JobsTopic        string `toml:"jobsTopic"`
	DLQTopic         string `toml:"dlqTopic"`
	ConsumerGroupID  string `toml:"consumerGroupId"`
	WorkerCount      int    `toml:"workerCount"`
	MaxAttempts      int    `toml:"maxAttempts"`
	BaseBackoffMs    int    `toml:"baseBackoffMs"`
	MaxBackoffMs     int    `toml:"maxBackoffMs"`
	CompletedRetain  int    `toml:"completedRetain"`
	HTTPAddr         string `toml:"httpAddr"`
}

type logConfig struct {
	LogRootDir       string `toml:"logRootDir"`
	LogLevel         int    `toml:"logLevel"`
	EnableStacktrace bool   `toml:"enableStacktrace"`
}

// Config is the root configuration document for every SyncKairos binary.
type Config struct {
	Redis  redisConfig  `toml:"redis"`
	MySQL  mysqlConfig  `toml:"mysql"`
	Server serverConfig `toml:"server"`
	Audit  auditConfig  `toml:"audit"`
	Log    logConfig    `toml:"log"`
}

var (
	instance *Config
	once     sync.Once
)

const defaultConfigPath = "/etc/synckairos/config.toml"

// GetInstance returns the process-wide config, loading it from
// SYNCKAIROS_CONFIG (or the default path) on first call.
func GetInstance() *Config {
	once.Do(func() {
		path := os.Getenv("SYNCKAIROS_CONFIG")
		if path == "" {
			path = defaultConfigPath
		}
		instance = withDefaults(&Config{})
		// A missing config file is tolerated; callers running under
		// tests or local dev rely on the defaults below.
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, instance); err != nil {
				panic("config: failed to decode " + path + ": " + err.Error())
			}
			instance = withDefaults(instance)
		}
	})
	return instance
}

func withDefaults(c *Config) *Config {
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 10
	}
	if c.Redis.MaxRetries == 0 {
		c.Redis.MaxRetries = 3
	}
	if c.Redis.DialTimeout == 0 {
		c.Redis.DialTimeout = 5
	}
	if c.Redis.ReadTimeout == 0 {
		c.Redis.ReadTimeout = 3
	}
	if c.Redis.WriteTimeout == 0 {
		c.Redis.WriteTimeout = 3
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "127.0.0.1:6379"
	}
	if c.MySQL.MaxOpenConns == 0 {
		c.MySQL.MaxOpenConns = 20
	}
	if c.MySQL.MaxIdleConns == 0 {
		c.MySQL.MaxIdleConns = 5
	}
	if c.MySQL.ConnMaxIdleTime == 0 {
		c.MySQL.ConnMaxIdleTime = 300
	}
	if c.MySQL.ConnMaxLifetime == 0 {
		c.MySQL.ConnMaxLifetime = 3600
	}
	if c.Server.APIAddr == "" {
		c.Server.APIAddr = ":8080"
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"http://localhost:3000"}
	}
	if c.Audit.JobsTopic == "" {
		c.Audit.JobsTopic = "synckairos-audit-jobs"
	}
	if c.Audit.DLQTopic == "" {
		c.Audit.DLQTopic = "synckairos-audit-jobs-dlq"
	}
	if c.Audit.ConsumerGroupID == "" {
		c.Audit.ConsumerGroupID = "synckairos-audit-worker"
	}
	if c.Audit.WorkerCount == 0 {
		c.Audit.WorkerCount = 10
	}
	if c.Audit.MaxAttempts == 0 {
		c.Audit.MaxAttempts = 5
	}
	if c.Audit.BaseBackoffMs == 0 {
		c.Audit.BaseBackoffMs = 2000
	}
	if c.Audit.MaxBackoffMs == 0 {
		c.Audit.MaxBackoffMs = 32000
	}
	if c.Audit.CompletedRetain == 0 {
		c.Audit.CompletedRetain = 100
	}
	if c.Audit.HTTPAddr == "" {
		c.Audit.HTTPAddr = ":8081"
	}
	return c
}
