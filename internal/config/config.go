package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const FileName = "dealflow.yml"

// Config models dealflow.yml.
type Config struct {
	Pipeline      PipelineConfig      `yaml:"pipeline"`
	Proposals     ProposalsConfig     `yaml:"proposals"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Storage       StorageConfig       `yaml:"storage"`
	Server        ServerConfig        `yaml:"server"`
}

type PipelineConfig struct {
	Key              string        `yaml:"key"`
	Seed             string        `yaml:"seed"`
	SyncInterval     time.Duration `yaml:"sync_interval"`
	MoveAllowsClosed bool          `yaml:"move_allows_closed"`
}

type ProposalsConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	History       int           `yaml:"history"`
	WaitTimeout   time.Duration `yaml:"wait_timeout"`
}

type NotificationsConfig struct {
	Display  time.Duration   `yaml:"display"`
	Buffer   int             `yaml:"buffer"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
	AMQP     AMQPConfig      `yaml:"amqp"`
	Mail     MailConfig      `yaml:"mail"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

type AMQPConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

type MailConfig struct {
	Host     string   `yaml:"host"`
	Port     int      `yaml:"port"`
	User     string   `yaml:"user"`
	Password string   `yaml:"password"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
	Kinds    []string `yaml:"kinds"`
}

type StorageConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type ServerConfig struct {
	Addr        string   `yaml:"addr"`
	BasePath    string   `yaml:"base_path"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with dealflow init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional falls back to Default when the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Pipeline.Key) == "" {
		return fmt.Errorf("config.pipeline.key is required")
	}
	switch c.Pipeline.Seed {
	case "sample", "empty":
	default:
		return fmt.Errorf("config.pipeline.seed must be 'sample' or 'empty'")
	}
	if c.Pipeline.SyncInterval < 0 {
		return fmt.Errorf("config.pipeline.sync_interval must not be negative")
	}
	if c.Proposals.TTL < 0 {
		return fmt.Errorf("config.proposals.ttl must not be negative")
	}
	if c.Proposals.History <= 0 {
		return fmt.Errorf("config.proposals.history must be positive")
	}
	if c.Notifications.Display <= 0 {
		return fmt.Errorf("config.notifications.display must be positive")
	}
	for i, hook := range c.Notifications.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.notifications.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.notifications.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	if c.Notifications.AMQP.URL != "" && c.Notifications.AMQP.Exchange == "" {
		return fmt.Errorf("config.notifications.amqp.exchange is required when url is set")
	}
	if m := c.Notifications.Mail; m.Host != "" {
		if m.From == "" || len(m.To) == 0 {
			return fmt.Errorf("config.notifications.mail requires from and to when host is set")
		}
	}
	switch c.Storage.Driver {
	case "sqlite":
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("config.storage.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("config.storage.driver must be 'sqlite' or 'postgres'")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys absent from
// data keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `pipeline:
  key: dealflow-deals
  seed: sample
  sync_interval: 2s
  move_allows_closed: false

proposals:
  ttl: 15m
  sweep_interval: 30s
  history: 256
  wait_timeout: 10m

notifications:
  display: 4s
  buffer: 64
  webhooks: []
  amqp:
    url: ""
    exchange: dealflow.notifications
  mail:
    host: ""
    port: 587
    kinds: [deal.won]

storage:
  driver: sqlite
  dsn: ""

server:
  addr: 127.0.0.1:8080
  base_path: /v0
  cors_origins: ["*"]
`
