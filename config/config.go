package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// 全局配置实例，main 中调用 Load 后生效
var Cfg *Config

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	DB        DBConfig        `yaml:"db"`
	JWT       JWTConfig       `yaml:"jwt"`
	Model     ModelConfig     `yaml:"model"`
	Milvus    MilvusConfig    `yaml:"milvus"`
	OSS       OSSConfig       `yaml:"oss"`
	MQ        MQConfig        `yaml:"mq"`
	MCP       MCPConfig       `yaml:"mcp"`
	Voice     VoiceConfig     `yaml:"voice"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

type ServerConfig struct {
	Port         int      `yaml:"port"`
	AllowOrigins []string `yaml:"allow_origins"`
}

type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

type JWTConfig struct {
	SecretKey string `yaml:"secret_key"`
}

type ModelConfig struct {
	APIKey string `yaml:"api_key"`
}

type MilvusConfig struct {
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
}

type OSSConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	AccessKeySecret string `yaml:"access_key_secret"`
	BucketName      string `yaml:"bucket_name"`
	Host            string `yaml:"host"`
}

type MQConfig struct {
	NameServer []string `yaml:"name_server"`
}

type MCPConfig struct {
	Host string `yaml:"host"`
	Port string `yaml:"port"`
}

type VoiceConfig struct {
	APIKey   string `yaml:"api_key"`
	Endpoint string `yaml:"endpoint"`

	// 识别模型与音频参数，空值使用默认
	Model      string `yaml:"model"`
	SampleRate int    `yaml:"sample_rate"`
	Format     string `yaml:"format"`
}

// SchedulerConfig 文件处理调度器配置
type SchedulerConfig struct {
	// 调度周期
	TickInterval time.Duration `yaml:"tick_interval"`

	// 文件卡在 PROCESSING 状态超过该阈值会被重置回 PENDING
	StaleThreshold time.Duration `yaml:"stale_threshold"`

	// 每个周期处理的文件数量上限
	BatchSize int `yaml:"batch_size"`

	// 单文件处理超时时间
	FileTimeout time.Duration `yaml:"file_timeout"`

	// 失败文件自动重试次数上限，0 表示关闭自动重试（仅保留人工重试）
	MaxRetryAttempts int `yaml:"max_retry_attempts"`

	// 自动重试的退避基数，第 n 次重试需等待 backoff_base * 2^(n-1)
	RetryBackoffBase time.Duration `yaml:"retry_backoff_base"`
}

const (
	DefaultTickInterval     = 2 * time.Minute
	DefaultStaleThreshold   = 5 * time.Minute
	DefaultBatchSize        = 10
	DefaultFileTimeout      = 3 * time.Minute
	DefaultRetryBackoffBase = 10 * time.Minute
)

const (
	DefaultVoiceModel      = "paraformer-realtime-v2"
	DefaultVoiceSampleRate = 16000
	DefaultVoiceFormat     = "wav"
)

func Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %v", path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %v", path, err)
	}

	applySchedulerDefaults(&cfg.Scheduler)
	applyVoiceDefaults(&cfg.Voice)

	Cfg = cfg
	return nil
}

func applyVoiceDefaults(c *VoiceConfig) {
	if c.Model == "" {
		c.Model = DefaultVoiceModel
	}
	if c.SampleRate <= 0 {
		c.SampleRate = DefaultVoiceSampleRate
	}
	if c.Format == "" {
		c.Format = DefaultVoiceFormat
	}
}

func applySchedulerDefaults(c *SchedulerConfig) {
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.StaleThreshold <= 0 {
		c.StaleThreshold = DefaultStaleThreshold
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.FileTimeout <= 0 {
		c.FileTimeout = DefaultFileTimeout
	}
	if c.RetryBackoffBase <= 0 {
		c.RetryBackoffBase = DefaultRetryBackoffBase
	}
}
