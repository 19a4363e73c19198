package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"wisefido-vitals/common/config"

	"gopkg.in/yaml.v3"
)

// ConfigFileEnv 配置文件路径环境变量（--config 未指定时使用）
const ConfigFileEnv = "VITALS_CONFIG_FILE"

// Config 生命体征网关配置
type Config struct {
	Database config.DatabaseConfig `yaml:"database"`
	Redis    config.RedisConfig    `yaml:"redis"`
	MQTT     config.MQTTConfig     `yaml:"mqtt"`

	Gateway GatewayConfig `yaml:"gateway"`
	Ingest  IngestConfig  `yaml:"ingest"`
	Cache   CacheConfig   `yaml:"cache"`
	Monitor MonitorConfig `yaml:"monitor"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// GatewayConfig websocket 网关配置
type GatewayConfig struct {
	ListenAddr     string        `yaml:"listen_addr"`      // HTTP 监听地址，默认 ":8080"
	Path           string        `yaml:"path"`             // websocket 路径，默认 "/ws"
	SendBufferSize int           `yaml:"send_buffer_size"` // 每个连接的发送队列长度，默认 64
	ReadLimit      int64         `yaml:"read_limit"`       // 单条入站消息上限（字节），默认 64KB
	PongWait       time.Duration `yaml:"pong_wait"`        // 默认 60s
	WriteTimeout   time.Duration `yaml:"write_timeout"`    // 默认 10s
}

// IngestConfig 设备数据接入配置（MQTT / Redis Streams，可选）
type IngestConfig struct {
	MQTTEnabled  bool   `yaml:"mqtt_enabled"`
	MQTTTopic    string `yaml:"mqtt_topic"`    // 默认 "vitals/+/data"
	BatteryTopic string `yaml:"battery_topic"` // 默认 "devices/+/battery"；为空不订阅

	StreamEnabled bool          `yaml:"stream_enabled"`
	InputStream   string        `yaml:"input_stream"`   // 默认 "vitals:data:stream"
	ConsumerGroup string        `yaml:"consumer_group"` // 默认 "vitals-gateway-group"
	ConsumerName  string        `yaml:"consumer_name"`  // 默认 "vitals-gateway-1"
	BatchSize     int64         `yaml:"batch_size"`     // 默认 10
	Block         time.Duration `yaml:"block"`          // XREADGROUP 阻塞时长，默认 5s

	AlertStream string `yaml:"alert_stream"` // 已提交报警输出流，默认 "vitals:alerts:stream"；为空不发布
}

// CacheConfig 患者实时缓存配置
type CacheConfig struct {
	Enabled        bool          `yaml:"enabled"`
	KeyPrefix      string        `yaml:"key_prefix"`      // 默认 "vitals:patient:"
	RealtimeSuffix string        `yaml:"realtime_suffix"` // 默认 ":realtime"
	AlertsSuffix   string        `yaml:"alerts_suffix"`   // 默认 ":alerts"
	TTL            time.Duration `yaml:"ttl"`             // 默认 5m
}

// MonitorConfig 监控客户端配置
type MonitorConfig struct {
	GatewayURL string   `yaml:"gateway_url"` // 默认 "ws://localhost:8080/ws"
	HealthURL  string   `yaml:"health_url"`  // 默认 "http://localhost:8080/healthz"
	AlertsURL  string   `yaml:"alerts_url"`  // 默认 "http://localhost:8080/alerts/unresolved"；为空不拉取积压报警
	PatientIDs []string `yaml:"patient_ids"`
}

// Default 默认配置
func Default() *Config {
	cfg := &Config{}

	cfg.Database.Host = "localhost"
	cfg.Database.Port = 5432
	cfg.Database.User = "postgres"
	cfg.Database.Password = "postgres"
	cfg.Database.Database = "healthcare"
	cfg.Database.SSLMode = "disable"
	cfg.Database.MaxConns = 20
	cfg.Database.MaxIdle = 5
	cfg.Database.ConnMaxLifetime = 30 * time.Minute
	cfg.Database.PingTimeout = 5 * time.Second

	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.PoolSize = 20
	cfg.Redis.PingTimeout = 3 * time.Second

	cfg.MQTT.Broker = "tcp://localhost:1883"
	cfg.MQTT.ClientID = "wisefido-vitals"
	cfg.MQTT.QoS = 1

	cfg.Gateway.ListenAddr = ":8080"
	cfg.Gateway.Path = "/ws"
	cfg.Gateway.SendBufferSize = 64
	cfg.Gateway.ReadLimit = 64 * 1024
	cfg.Gateway.PongWait = 60 * time.Second
	cfg.Gateway.WriteTimeout = 10 * time.Second

	cfg.Ingest.MQTTTopic = "vitals/+/data"
	cfg.Ingest.BatteryTopic = "devices/+/battery"
	cfg.Ingest.InputStream = "vitals:data:stream"
	cfg.Ingest.ConsumerGroup = "vitals-gateway-group"
	cfg.Ingest.ConsumerName = "vitals-gateway-1"
	cfg.Ingest.BatchSize = 10
	cfg.Ingest.Block = 5 * time.Second
	cfg.Ingest.AlertStream = "vitals:alerts:stream"

	cfg.Cache.Enabled = true
	cfg.Cache.KeyPrefix = "vitals:patient:"
	cfg.Cache.RealtimeSuffix = ":realtime"
	cfg.Cache.AlertsSuffix = ":alerts"
	cfg.Cache.TTL = 5 * time.Minute

	cfg.Monitor.GatewayURL = "ws://localhost:8080/ws"
	cfg.Monitor.HealthURL = "http://localhost:8080/healthz"
	cfg.Monitor.AlertsURL = "http://localhost:8080/alerts/unresolved"

	cfg.Log.Level = "info"
	cfg.Log.Format = "json"

	return cfg
}

// Load 加载配置：默认值 → YAML 文件（可选）→ 环境变量（优先级最高）
// path 为空时读取 VITALS_CONFIG_FILE
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(ConfigFileEnv)
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.loadEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) loadEnv() {
	c.Database.LoadFromEnv("DB")
	c.Redis.LoadFromEnv("REDIS")
	c.MQTT.LoadFromEnv("MQTT")

	c.Gateway.ListenAddr = getEnv("GATEWAY_LISTEN_ADDR", c.Gateway.ListenAddr)
	c.Gateway.Path = getEnv("GATEWAY_PATH", c.Gateway.Path)
	c.Gateway.SendBufferSize = getEnvInt("GATEWAY_SEND_BUFFER_SIZE", c.Gateway.SendBufferSize)
	c.Gateway.ReadLimit = int64(getEnvInt("GATEWAY_READ_LIMIT", int(c.Gateway.ReadLimit)))
	c.Gateway.PongWait = getEnvDuration("GATEWAY_PONG_WAIT", c.Gateway.PongWait)
	c.Gateway.WriteTimeout = getEnvDuration("GATEWAY_WRITE_TIMEOUT", c.Gateway.WriteTimeout)

	c.Ingest.MQTTEnabled = getEnvBool("INGEST_MQTT_ENABLED", c.Ingest.MQTTEnabled)
	c.Ingest.MQTTTopic = getEnv("INGEST_MQTT_TOPIC", c.Ingest.MQTTTopic)
	c.Ingest.BatteryTopic = getEnv("INGEST_BATTERY_TOPIC", c.Ingest.BatteryTopic)
	c.Ingest.StreamEnabled = getEnvBool("INGEST_STREAM_ENABLED", c.Ingest.StreamEnabled)
	c.Ingest.InputStream = getEnv("INGEST_INPUT_STREAM", c.Ingest.InputStream)
	c.Ingest.ConsumerGroup = getEnv("INGEST_CONSUMER_GROUP", c.Ingest.ConsumerGroup)
	c.Ingest.ConsumerName = getEnv("INGEST_CONSUMER_NAME", c.Ingest.ConsumerName)
	c.Ingest.BatchSize = int64(getEnvInt("INGEST_BATCH_SIZE", int(c.Ingest.BatchSize)))
	c.Ingest.Block = getEnvDuration("INGEST_BLOCK", c.Ingest.Block)
	c.Ingest.AlertStream = getEnv("INGEST_ALERT_STREAM", c.Ingest.AlertStream)

	c.Cache.Enabled = getEnvBool("CACHE_ENABLED", c.Cache.Enabled)
	c.Cache.KeyPrefix = getEnv("CACHE_KEY_PREFIX", c.Cache.KeyPrefix)
	c.Cache.TTL = getEnvDuration("CACHE_TTL", c.Cache.TTL)

	c.Monitor.GatewayURL = getEnv("MONITOR_GATEWAY_URL", c.Monitor.GatewayURL)
	c.Monitor.HealthURL = getEnv("MONITOR_HEALTH_URL", c.Monitor.HealthURL)
	c.Monitor.AlertsURL = getEnv("MONITOR_ALERTS_URL", c.Monitor.AlertsURL)
	if ids := os.Getenv("MONITOR_PATIENT_IDS"); ids != "" {
		c.Monitor.PatientIDs = splitList(ids)
	}

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)
}

// Validate 校验必填项
func (c *Config) Validate() error {
	if c.Gateway.ListenAddr == "" {
		return fmt.Errorf("gateway.listen_addr is required")
	}
	if c.Gateway.SendBufferSize <= 0 {
		return fmt.Errorf("gateway.send_buffer_size must be positive")
	}
	if c.Gateway.PongWait <= 0 || c.Gateway.WriteTimeout <= 0 {
		return fmt.Errorf("gateway timeouts must be positive")
	}
	if c.Ingest.StreamEnabled && (c.Ingest.InputStream == "" || c.Ingest.ConsumerGroup == "") {
		return fmt.Errorf("ingest.input_stream and ingest.consumer_group are required when streams are enabled")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.Atoi(value); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.ParseBool(value); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if v, err := time.ParseDuration(value); err == nil {
			return v
		}
	}
	return defaultValue
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
