package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置结构
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	Chunking  ChunkingConfig  `mapstructure:"chunking"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Answer    AnswerConfig    `mapstructure:"answer"`
	Dedup     DedupConfig     `mapstructure:"dedup"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	Format     string `mapstructure:"format"`      // json, console
	OutputPath string `mapstructure:"output_path"` // stdout, stderr, /path/to/log
}

// DatabaseConfig PostgreSQL/pgvector 数据库配置
type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	SSLMode         string `mapstructure:"sslmode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"` // 秒
	AutoMigrate     bool   `mapstructure:"auto_migrate"`      // 是否自动迁移表结构
}

// RedisConfig Redis 配置 (向量缓存 L2 层, 可选)
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	CacheTTL string `mapstructure:"cache_ttl"` // 缓存过期时间(如"168h"表示7天)
}

// OpenAIConfig OpenAI 配置 (向量化 + 答案生成后端)
type OpenAIConfig struct {
	APIKey          string `mapstructure:"api_key"`
	BaseURL         string `mapstructure:"base_url"`
	EmbeddingModel  string `mapstructure:"embedding_model"`  // 默认 text-embedding-3-small
	CompletionModel string `mapstructure:"completion_model"` // 默认 gpt-4o-mini
	MaxRetries      int    `mapstructure:"max_retries"`      // 退避重试上限
	TimeoutSeconds  int    `mapstructure:"timeout_seconds"`  // 单次后端调用超时
}

// ChunkingConfig 分块配置
type ChunkingConfig struct {
	ChunkSize    int `mapstructure:"chunk_size"`    // 每个分块的字符数
	ChunkOverlap int `mapstructure:"chunk_overlap"` // 相邻分块之间的重叠字符数
	EmbedBatch   int `mapstructure:"embed_batch"`   // 向量化批大小
}

// IngestConfig 入库配置
type IngestConfig struct {
	Workers int `mapstructure:"workers"` // 并行入库的文档数上限
}

// RetrievalConfig 检索配置
type RetrievalConfig struct {
	FanOutFactor  int     `mapstructure:"fan_out_factor"` // 候选集放大倍数 (top_k × fan_out)
	MinSimilarity float64 `mapstructure:"min_similarity"` // 最小相似度阈值, 低于则丢弃

	// 章节加权因子 (查询意图命中对应章节时的提升倍数)
	SectionBoost     float64 `mapstructure:"section_boost"`     // 意图命中章节
	GeneralBoost     float64 `mapstructure:"general_boost"`     // 通用查询对摘要/结论的提升
	SecondaryBoost   float64 `mapstructure:"secondary_boost"`   // 方法查询对结果章节的弱提升
	FiguresSpillover float64 `mapstructure:"figures_spillover"` // 图表查询对结果章节的提升
}

// AnswerConfig 答案生成配置
type AnswerConfig struct {
	ConfidenceScale float64 `mapstructure:"confidence_scale"` // 置信度缩放因子
	MaxTokens       int     `mapstructure:"max_tokens"`
	Temperature     float64 `mapstructure:"temperature"`
}

// DedupConfig 去重检测配置
type DedupConfig struct {
	Threshold float64 `mapstructure:"threshold"` // 近重复相似度阈值 (归一化后)
	Neighbors int     `mapstructure:"neighbors"` // 每个分块查询的近邻数
}

var globalConfig *Config

// Load 加载配置
// env: 环境名称（dev, prod, test）
// configPath: 配置文件路径（可选）
func Load(env string, configPath string) (*Config, error) {
	v := viper.New()

	if configPath == "" {
		v.SetConfigName(env) // dev.yaml, prod.yaml
		v.AddConfigPath("./config")
		v.AddConfigPath("../config")
	} else {
		v.SetConfigFile(configPath)
	}

	v.SetConfigType("yaml")

	// 读取环境变量（优先级高于配置文件）
	v.SetEnvPrefix("LITNAV")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // 支持嵌套配置：LITNAV_DATABASE_HOST

	setDefaults(v)

	// 配置文件允许缺失, 此时全部使用默认值 + 环境变量
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	globalConfig = &cfg
	return &cfg, nil
}

// setDefaults 设置策略常量的默认值
// 章节加权因子、去重阈值、意图关键词等属于策略常量, 默认值为本实现的显式决策, 可通过配置覆盖
func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output_path", "stdout")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 3600)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.cache_ttl", "168h")

	v.SetDefault("openai.embedding_model", "text-embedding-3-small")
	v.SetDefault("openai.completion_model", "gpt-4o-mini")
	v.SetDefault("openai.max_retries", 3)
	v.SetDefault("openai.timeout_seconds", 30)

	v.SetDefault("chunking.chunk_size", 1200)
	v.SetDefault("chunking.chunk_overlap", 180)
	v.SetDefault("chunking.embed_batch", 64)

	v.SetDefault("ingest.workers", 4)

	v.SetDefault("retrieval.fan_out_factor", 3)
	v.SetDefault("retrieval.min_similarity", 0.2)
	v.SetDefault("retrieval.section_boost", 1.5)
	v.SetDefault("retrieval.general_boost", 1.15)
	v.SetDefault("retrieval.secondary_boost", 1.1)
	v.SetDefault("retrieval.figures_spillover", 1.2)

	v.SetDefault("answer.confidence_scale", 1.2)
	v.SetDefault("answer.max_tokens", 1024)
	v.SetDefault("answer.temperature", 0.2)

	v.SetDefault("dedup.threshold", 0.92)
	v.SetDefault("dedup.neighbors", 6)
}

// Get 获取全局配置
func Get() *Config {
	if globalConfig == nil {
		panic("配置未初始化，请先调用 Load()")
	}
	return globalConfig
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// GetCacheTTL 解析缓存过期时间, 解析失败时返回 7 天
func (c *RedisConfig) GetCacheTTL() time.Duration {
	d, err := time.ParseDuration(c.CacheTTL)
	if err != nil || d <= 0 {
		return 7 * 24 * time.Hour
	}
	return d
}

// GetTimeout 获取后端调用超时时间
func (c *OpenAIConfig) GetTimeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}
