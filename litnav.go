// Package litnav 提供文献导航核心的生产组装入口。
// 调用方 (CLI、服务等外层) 只需加载配置并调用 Open, 即可获得
// 已接好 PostgreSQL/pgvector 存储、Redis 向量缓存与 OpenAI 后端的 Navigator。
package litnav

import (
	"litnav/internal/config"
	"litnav/internal/infra"
	"litnav/internal/logger"
	"litnav/internal/rag"
)

// Open 按配置组装生产依赖并返回导航服务
// 返回的 cleanup 负责释放数据库与 Redis 连接
func Open(cfg *config.Config) (*rag.Navigator, func(), error) {
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath); err != nil {
		return nil, nil, err
	}

	db, err := infra.InitDatabase(&cfg.Database)
	if err != nil {
		return nil, nil, err
	}

	rdb, err := infra.InitRedis(&cfg.Redis)
	if err != nil {
		_ = infra.CloseDatabase(db)
		return nil, nil, err
	}

	embedder := rag.NewOpenAIEmbeddingProvider(
		cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.EmbeddingModel,
		cfg.OpenAI.MaxRetries, cfg.OpenAI.GetTimeout(),
	)
	cache := rag.NewEmbeddingCache(rdb, "", cfg.Redis.GetCacheTTL())
	cachedEmbedder := rag.NewCachedEmbeddingProvider(embedder, cache)

	completion := rag.NewOpenAICompletionProvider(
		cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.CompletionModel,
		cfg.Answer.MaxTokens, cfg.Answer.Temperature,
		cfg.OpenAI.MaxRetries, cfg.OpenAI.GetTimeout(),
	)

	store, err := rag.NewPgVectorStore(db, embedder.GetDimension(), cfg.Database.AutoMigrate)
	if err != nil {
		if rdb != nil {
			_ = rdb.Close()
		}
		_ = infra.CloseDatabase(db)
		return nil, nil, err
	}

	cleanup := func() {
		if rdb != nil {
			_ = rdb.Close()
		}
		_ = infra.CloseDatabase(db)
		_ = logger.Sync()
	}
	return rag.NewNavigator(store, cachedEmbedder, completion, cfg), cleanup, nil
}

// OpenLocal 组装无外部存储依赖的本地实例 (内存向量存储, 纯本地缓存)
// 适合小规模集合与离线评估; 向量化与生成仍走配置的 OpenAI 后端
func OpenLocal(cfg *config.Config) (*rag.Navigator, error) {
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath); err != nil {
		return nil, err
	}

	embedder := rag.NewOpenAIEmbeddingProvider(
		cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.EmbeddingModel,
		cfg.OpenAI.MaxRetries, cfg.OpenAI.GetTimeout(),
	)
	cache := rag.NewEmbeddingCache(nil, "", cfg.Redis.GetCacheTTL())
	cachedEmbedder := rag.NewCachedEmbeddingProvider(embedder, cache)

	completion := rag.NewOpenAICompletionProvider(
		cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.CompletionModel,
		cfg.Answer.MaxTokens, cfg.Answer.Temperature,
		cfg.OpenAI.MaxRetries, cfg.OpenAI.GetTimeout(),
	)

	store := rag.NewMemoryVectorStore(embedder.GetDimension())
	return rag.NewNavigator(store, cachedEmbedder, completion, cfg), nil
}
