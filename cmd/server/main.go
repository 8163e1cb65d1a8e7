// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crm-copilot-go/internal/cache"
	"crm-copilot-go/internal/config"
	"crm-copilot-go/internal/handler"
	"crm-copilot-go/internal/middleware"
	"crm-copilot-go/internal/pipeline"
	"crm-copilot-go/internal/repository"
	"crm-copilot-go/internal/safety"
	"crm-copilot-go/internal/service"
	"crm-copilot-go/internal/vectorstore"
	"crm-copilot-go/pkg/database"
	"crm-copilot-go/pkg/embedding"
	"crm-copilot-go/pkg/es"
	"crm-copilot-go/pkg/kafka"
	"crm-copilot-go/pkg/llm"
	"crm-copilot-go/pkg/log"
	"crm-copilot-go/pkg/moderation"

	"github.com/gin-gonic/gin"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库、Redis、Elasticsearch、Kafka
	database.InitMySQL(cfg.Database.MySQL.DSN)
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)

	collections := make([]string, 0, len(vectorstore.AllCollections))
	for _, c := range vectorstore.AllCollections {
		collections = append(collections, string(c))
	}
	if err := es.InitES(cfg.Elasticsearch, cfg.Embedding.Dimensions, collections); err != nil {
		log.Errorf("es 初始化失败 %s", err)
		return
	}
	kafka.InitProducer(cfg.Kafka)

	// 4. 初始化 Repository
	dealRepo := repository.NewDealRepository(database.DB)
	objectionRepo := repository.NewObjectionRepository(database.DB)
	interactionRepo := repository.NewInteractionRepository(database.DB)
	personaRepo := repository.NewPersonaRepository(database.DB)
	auditRepo := repository.NewAuditLogRepository(database.DB)
	quotaRepo := repository.NewQuotaRepository(database.DB)

	// 5. 初始化 Service (依赖注入)
	embeddingClient := embedding.NewClient(cfg.Embedding)
	llmClient := llm.NewClient(cfg.LLM)
	moderationClient := moderation.NewClient(cfg.Moderation)
	contentFilter := safety.NewFilter(cfg.AI.Safety, moderationClient, cfg.Moderation.Enabled)
	responseCache := cache.NewRedisResponseCache(database.RDB, time.Duration(cfg.AI.Cache.TTLSeconds)*time.Second)
	store := vectorstore.NewESStore(es.ESClient, embeddingClient, cfg.Elasticsearch)
	quotaService := service.NewQuotaService(auditRepo, quotaRepo, cfg.AI.Quota.DailyLimit)
	aiService := service.NewAIService(contentFilter, quotaService, responseCache, llmClient, auditRepo, cfg.AI.Cost)

	// 6. 初始化 RAG 索引管道 (Indexer)
	indexer := pipeline.NewIndexer(
		dealRepo,
		objectionRepo,
		interactionRepo,
		personaRepo,
		store,
		cfg.AI.Indexing,
	)

	// 7. 启动后台 Kafka 消费者，处理 CRM 实体变更事件
	go kafka.StartConsumer(cfg.Kafka, indexer)

	// 7.1 启动定时对账：周期性重放尾随窗口内的变更，兜底带外写入
	reconcileCtx, cancelReconcile := context.WithCancel(context.Background())
	defer cancelReconcile()
	go runReconcileLoop(reconcileCtx, indexer, cfg.AI.Indexing)

	// 8. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 9. 注册路由
	apiV1 := r.Group("/api/v1")
	{
		ai := apiV1.Group("/ai")
		{
			aiHandler := handler.NewAIHandler(aiService, store, responseCache, auditRepo)
			ai.POST("/generate", aiHandler.Generate)
			ai.GET("/history", aiHandler.History)
			ai.POST("/cache/clear", aiHandler.ClearCache)

			index := ai.Group("/index")
			{
				index.POST("/full", handler.NewIndexHandler(indexer, store).FullIndex)
				index.POST("/reindex", handler.NewIndexHandler(indexer, store).Reindex)
				index.GET("/stats", handler.NewIndexHandler(indexer, store).Stats)
			}
		}
	}

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}

	log.Info("服务已退出")
}

// runReconcileLoop 按配置的周期执行索引对账。
func runReconcileLoop(ctx context.Context, indexer *pipeline.Indexer, cfg config.IndexingConfig) {
	interval := time.Duration(cfg.ReconcileEveryHours) * time.Hour
	window := time.Duration(cfg.ReconcileWindowHours) * time.Hour
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := indexer.Reconcile(ctx, window)
			if err != nil {
				log.Errorf("[main] 定时对账失败: %v", err)
				continue
			}
			log.Infof("[main] 定时对账完成, 成功: %d, 失败: %d", report.Indexed, report.Failed)
		}
	}
}
