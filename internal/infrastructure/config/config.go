package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	Gateway        GatewayConfig      `mapstructure:"gateway"`
	Database       DatabaseConfig     `mapstructure:"database"`
	Redis          RedisConfig        `mapstructure:"redis"`
	NATS           NATSConfig         `mapstructure:"nats"`
	Embedding      EmbeddingConfig    `mapstructure:"embedding"`
	Summarizer     SummarizerConfig   `mapstructure:"summarizer"`
	KnowledgeGraph KGConfig           `mapstructure:"knowledge_graph"`
	Preprocessor   PreprocessorConfig `mapstructure:"preprocessor"`
	Models         ModelsConfig       `mapstructure:"models"`
	Memory         MemoryConfig       `mapstructure:"memory"`
	Worker         WorkerConfig       `mapstructure:"worker"`
	Log            LogConfig          `mapstructure:"log"`
}

// GatewayConfig 网关配置
type GatewayConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // local, production
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Type     string `mapstructure:"type"` // postgres, sqlite
	DSN      string `mapstructure:"dsn"`
	MinConns int    `mapstructure:"min_conns"`
	MaxConns int    `mapstructure:"max_conns"`
}

// RedisConfig 短期记忆存储配置
type RedisConfig struct {
	URL string `mapstructure:"url"`
}

// NATSConfig 作业队列配置
type NATSConfig struct {
	URL string `mapstructure:"url"`
}

// EmbeddingConfig 嵌入服务配置
type EmbeddingConfig struct {
	URL       string `mapstructure:"url"`
	Model     string `mapstructure:"model"`
	Dimension int    `mapstructure:"dimension"`
}

// SummarizerConfig 摘要模型配置
type SummarizerConfig struct {
	URL   string `mapstructure:"url"`
	Model string `mapstructure:"model"`
}

// KGConfig 知识图谱存储配置
type KGConfig struct {
	URL string `mapstructure:"url"`
}

// PreprocessorConfig 代码预处理服务配置
type PreprocessorConfig struct {
	URL  string `mapstructure:"url"`
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// ModelsConfig 模型路由配置
type ModelsConfig struct {
	Routes []ModelRoute `mapstructure:"routes"`
}

// ModelRoute 单条模型路由: 外部别名 → 后端
type ModelRoute struct {
	Alias        string `mapstructure:"alias"`
	BackendURL   string `mapstructure:"backend_url"`
	BackendModel string `mapstructure:"backend_model"`
}

// MemoryConfig 记忆分层参数
type MemoryConfig struct {
	PromoteAfterTurns  int `mapstructure:"promote_after_turns"`
	ArchivalAfterTurns int `mapstructure:"archival_after_turns"`
	RecallTopK         int `mapstructure:"recall_top_k"`
	ArchivalTopK       int `mapstructure:"archival_top_k"`
	SessionTTLSeconds  int `mapstructure:"session_ttl_seconds"`
	TaskQueueSize      int `mapstructure:"task_queue_size"`
}

// WorkerConfig 摄取 worker 配置
type WorkerConfig struct {
	BatchSize       int `mapstructure:"batch_size"`
	MaxRedeliveries int `mapstructure:"max_redeliveries"`
	AckWaitSeconds  int `mapstructure:"ack_wait_seconds"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load 加载配置
// 优先级 (低 → 高): 默认值 → 全局 ~/.memflow/config.yaml → 项目本地 → 环境变量
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	// Layer 1: 全局配置
	globalDir := filepath.Join(os.Getenv("HOME"), ".memflow")
	v.AddConfigPath(globalDir)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read global config: %w", err)
		}
	}

	// Layer 2: 项目本地配置, 用 MergeConfigMap 叠加
	for _, localDir := range []string{"./config", "."} {
		localPath := filepath.Join(localDir, "config.yaml")
		if _, err := os.Stat(localPath); err == nil {
			v2 := viper.New()
			v2.SetConfigFile(localPath)
			if err := v2.ReadInConfig(); err == nil {
				_ = v.MergeConfigMap(v2.AllSettings())
			}
			break
		}
	}

	// 环境变量覆盖
	v.SetEnvPrefix("MEMFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults 设置默认配置
func setDefaults(v *viper.Viper) {
	// Gateway 默认值
	v.SetDefault("gateway.host", "0.0.0.0")
	v.SetDefault("gateway.port", 8080)
	v.SetDefault("gateway.mode", "local")

	// 数据存储默认值
	v.SetDefault("database.type", "postgres")
	v.SetDefault("database.dsn", "host=postgresql port=5432 user=lightrag password=lightrag dbname=lightrag sslmode=disable")
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("redis.url", "redis://redis:6379/0")
	v.SetDefault("nats.url", "nats://nats:4222")

	// 外部服务默认值
	v.SetDefault("embedding.url", "http://ollama-embed:11434")
	v.SetDefault("embedding.model", "qwen3-embedding:0.6b")
	v.SetDefault("embedding.dimension", 1024)
	v.SetDefault("summarizer.url", "http://ollama-extract:11434")
	v.SetDefault("summarizer.model", "qwen3:8b")
	v.SetDefault("knowledge_graph.url", "http://lightrag:9621")
	v.SetDefault("preprocessor.url", "http://code-preprocessor:8090")
	v.SetDefault("preprocessor.host", "0.0.0.0")
	v.SetDefault("preprocessor.port", 8090)

	// 记忆分层默认值
	v.SetDefault("memory.promote_after_turns", 10)
	v.SetDefault("memory.archival_after_turns", 20)
	v.SetDefault("memory.recall_top_k", 3)
	v.SetDefault("memory.archival_top_k", 3)
	v.SetDefault("memory.session_ttl_seconds", 7200)
	v.SetDefault("memory.task_queue_size", 1000)

	// Worker 默认值
	v.SetDefault("worker.batch_size", 20)
	v.SetDefault("worker.max_redeliveries", 3)
	v.SetDefault("worker.ack_wait_seconds", 600)

	// Log 默认值
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}
