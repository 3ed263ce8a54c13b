package config

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Service struct {
		LogLevel  string `yaml:"log_level"`
		LogFormat string `yaml:"log_format"`
	} `yaml:"service"`

	Engine struct {
		MonitorIntervalMs int      `yaml:"monitor_interval_ms"`
		Symbols           []string `yaml:"symbols"`
	} `yaml:"engine"`

	Queue struct {
		Workers           int  `yaml:"workers"`
		MaxAttempts       int  `yaml:"max_attempts"`
		RetryBaseDelayMs  int  `yaml:"retry_base_delay_ms"`
		RetryMaxDelayMs   int  `yaml:"retry_max_delay_ms"`
		BatchingEnabled   bool `yaml:"batching_enabled"`
		MaxBatchSize      int  `yaml:"max_batch_size"`
		BatchFlushMs      int  `yaml:"batch_flush_ms"`
		CleanupOlderThanH int  `yaml:"cleanup_older_than_hours"`
	} `yaml:"queue"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Kafka struct {
		BrokerAddr     string `yaml:"broker_addr"`
		ExecutionTopic string `yaml:"execution_topic"`
		FillTopic      string `yaml:"fill_topic"`
		FillGroupID    string `yaml:"fill_group_id"`
		AuditTopic     string `yaml:"audit_topic"`
	} `yaml:"kafka"`
}

// Default configuration values
var (
	configFile      = flag.String("config", "", "Path to config file (YAML)")
	logLevel        = flag.String("log_level", "info", "Log level: debug, info, warn, error")
	logFormat       = flag.String("log_format", "pretty", "Log format: json, pretty")
	monitorInterval = flag.Int("monitor_interval_ms", 1000, "Price monitoring interval in milliseconds")
	queueWorkers    = flag.Int("queue_workers", 4, "Number of order queue workers")
)

// MonitorInterval returns the engine polling interval as a duration
func (c *Config) MonitorInterval() time.Duration {
	return time.Duration(c.Engine.MonitorIntervalMs) * time.Millisecond
}

// RetryBaseDelay returns the queue retry base delay as a duration
func (c *Config) RetryBaseDelay() time.Duration {
	return time.Duration(c.Queue.RetryBaseDelayMs) * time.Millisecond
}

// RetryMaxDelay returns the queue retry delay cap as a duration
func (c *Config) RetryMaxDelay() time.Duration {
	return time.Duration(c.Queue.RetryMaxDelayMs) * time.Millisecond
}

// BatchFlushInterval returns the symbol batch flush interval
func (c *Config) BatchFlushInterval() time.Duration {
	return time.Duration(c.Queue.BatchFlushMs) * time.Millisecond
}

// LoadConfig loads the configuration from command line flags and optionally from a config file
func LoadConfig() (*Config, error) {
	// Parse command line flags
	flag.Parse()

	// Create default configuration
	config := &Config{}
	config.Service.LogLevel = *logLevel
	config.Service.LogFormat = *logFormat
	config.Engine.MonitorIntervalMs = *monitorInterval
	config.Engine.Symbols = []string{"BTC-USDT"}
	config.Queue.Workers = *queueWorkers
	config.Queue.MaxAttempts = 3
	config.Queue.RetryBaseDelayMs = 100
	config.Queue.RetryMaxDelayMs = 5000
	config.Queue.MaxBatchSize = 10
	config.Queue.BatchFlushMs = 50
	config.Queue.CleanupOlderThanH = 24
	config.Redis.Addr = "localhost:6379"
	config.Kafka.BrokerAddr = "localhost:9092"
	config.Kafka.ExecutionTopic = "order-executions"
	config.Kafka.FillTopic = "order-fills"
	config.Kafka.FillGroupID = "papertrade-fills"
	config.Kafka.AuditTopic = "order-audit"

	// Load configuration from file if specified
	if *configFile != "" {
		yamlFile, err := os.ReadFile(*configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		// Parse YAML configuration
		if err := yaml.Unmarshal(yamlFile, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}

		// Log loaded configuration
		log.Printf("Loaded configuration from %s", *configFile)
	}

	if err := validate(config); err != nil {
		return nil, err
	}
	return config, nil
}

func validate(config *Config) error {
	if config.Engine.MonitorIntervalMs <= 0 {
		return fmt.Errorf("monitor_interval_ms must be positive")
	}
	if config.Queue.Workers <= 0 {
		return fmt.Errorf("queue workers must be positive")
	}
	if config.Queue.MaxAttempts <= 0 {
		return fmt.Errorf("queue max_attempts must be positive")
	}
	return nil
}
