// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Log           LogConfig           `mapstructure:"log"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Moderation    ModerationConfig    `mapstructure:"moderation"`
	AI            AIConfig            `mapstructure:"ai"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储 Kafka 相关的配置。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Addresses   string `mapstructure:"addresses"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	IndexPrefix string `mapstructure:"index_prefix"`
}

// EmbeddingConfig 存储 Embedding 模型相关的配置。
type EmbeddingConfig struct {
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	Model      string `mapstructure:"model"`
	Dimensions int    `mapstructure:"dimensions"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Model      string              `mapstructure:"model"`
	Generation LLMGenerationConfig `mapstructure:"generation"`
}

// LLMGenerationConfig 配置默认生成参数（调用方可覆盖）。
type LLMGenerationConfig struct {
	Temperature      float64 `mapstructure:"temperature"`
	TopP             float64 `mapstructure:"top_p"`
	MaxTokens        int     `mapstructure:"max_tokens"`
	FrequencyPenalty float64 `mapstructure:"frequency_penalty"`
	PresencePenalty  float64 `mapstructure:"presence_penalty"`
}

// ModerationConfig 存储外部内容审核服务的配置。
type ModerationConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

// AIConfig 存储 AI 子系统自身的业务配置。
type AIConfig struct {
	Safety   SafetyConfig   `mapstructure:"safety"`
	Quota    QuotaConfig    `mapstructure:"quota"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Indexing IndexingConfig `mapstructure:"indexing"`
	Cost     CostConfig     `mapstructure:"cost"`
}

// SafetyConfig 配置内容安全过滤器。
type SafetyConfig struct {
	MaxInputLength int `mapstructure:"max_input_length"`
	// ModerationFailMode 决定外部审核调用自身出错时的行为：
	// "open" 沿用前三阶段的结果继续，"closed" 直接拒绝。
	ModerationFailMode string `mapstructure:"moderation_fail_mode"`
}

// QuotaConfig 配置每用户每日请求配额。
type QuotaConfig struct {
	DailyLimit int `mapstructure:"daily_limit"`
}

// CacheConfig 配置响应缓存。
type CacheConfig struct {
	TTLSeconds int `mapstructure:"ttl_seconds"`
}

// IndexingConfig 配置 RAG 索引管道。
type IndexingConfig struct {
	BatchSize            int `mapstructure:"batch_size"`
	PageSize             int `mapstructure:"page_size"`
	ReconcileWindowHours int `mapstructure:"reconcile_window_hours"`
	ReconcileEveryHours  int `mapstructure:"reconcile_every_hours"`
}

// CostConfig 配置成本估算（每千 token 的价格，单位美元）。
type CostConfig struct {
	PromptPer1K     float64 `mapstructure:"prompt_per_1k"`
	CompletionPer1K float64 `mapstructure:"completion_per_1k"`
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
func Init(configPath string) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("读取配置文件失败: %w", err))
	}

	if err := viper.Unmarshal(&Conf); err != nil {
		panic(fmt.Errorf("无法将配置解析到结构体中: %w", err))
	}

	applyDefaults(&Conf)
}

// applyDefaults 为缺省的业务配置项填充默认值。
func applyDefaults(c *Config) {
	if c.AI.Safety.MaxInputLength == 0 {
		c.AI.Safety.MaxInputLength = 8000
	}
	if c.AI.Safety.ModerationFailMode == "" {
		c.AI.Safety.ModerationFailMode = "open"
	}
	if c.AI.Quota.DailyLimit == 0 {
		c.AI.Quota.DailyLimit = 100
	}
	if c.AI.Cache.TTLSeconds == 0 {
		c.AI.Cache.TTLSeconds = 600
	}
	if c.AI.Indexing.BatchSize == 0 {
		c.AI.Indexing.BatchSize = 10
	}
	if c.AI.Indexing.PageSize == 0 {
		c.AI.Indexing.PageSize = 100
	}
	if c.AI.Indexing.ReconcileWindowHours == 0 {
		c.AI.Indexing.ReconcileWindowHours = 24
	}
	if c.AI.Indexing.ReconcileEveryHours == 0 {
		c.AI.Indexing.ReconcileEveryHours = 6
	}
	if c.Embedding.Dimensions == 0 {
		c.Embedding.Dimensions = 1024
	}
}
