package bootstrap

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"secretary_server/adapter/out/graph"
	"secretary_server/adapter/out/mongodb"
	"secretary_server/adapter/out/persistence"
	"secretary_server/adapter/out/provider"
	"secretary_server/config"
	"secretary_server/core/agent"
	"secretary_server/core/agent/llm"
	"secretary_server/core/port/out"
	"secretary_server/core/service/email"
	"secretary_server/core/service/filtering"
	"secretary_server/core/service/learning"
	"secretary_server/infra/database"
	"secretary_server/pkg/cache"
	"secretary_server/pkg/logger"
)

type Dependencies struct {
	Config  *config.Config
	DB      *pgxpool.Pool
	SQLDB   *sqlx.DB
	Redis   *redis.Client
	MongoDB *mongo.Client
	Neo4j   neo4j.DriverWithContext

	// Repositories
	EmailCacheRepo out.EmailCacheRepository
	EmailBodyRepo  out.EmailBodyRepository
	ContentCache   out.ContentCache
	VectorStore    out.VectorStore

	// Providers
	GmailProvider *provider.GmailAdapter

	// Agents
	LLMClient  *llm.Client
	Analyzer   *agent.Analyzer
	Responder  *agent.Responder
	Organizer  *agent.Organizer
	Supervisor *agent.Supervisor

	// Services
	EmailService     *email.Service
	FilteringService *filtering.Service
	LearningService  *learning.Service
}

// NewDependencies wires the full dependency graph. All backing stores
// are required; only the LLM gateway and provider credentials may be
// absent, in which case callers take their fallback paths.
func NewDependencies(cfg *config.Config) (*Dependencies, func(), error) {
	deps := &Dependencies{Config: cfg}
	var cleanups []func()

	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	// Postgres (pgxpool for health checks, sqlx for adapters)
	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		return fail(fmt.Errorf("postgres connection failed: %w", err))
	}
	deps.DB = db
	cleanups = append(cleanups, func() { db.Close() })

	sqlDB, err := database.NewSQLX(cfg.DatabaseURL)
	if err != nil {
		return fail(fmt.Errorf("sqlx connection failed: %w", err))
	}
	deps.SQLDB = sqlDB
	cleanups = append(cleanups, func() { sqlDB.Close() })

	// Redis
	redisClient, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		return fail(fmt.Errorf("redis connection failed: %w", err))
	}
	deps.Redis = redisClient
	cleanups = append(cleanups, func() { redisClient.Close() })
	deps.ContentCache = cache.NewRedisCache(redisClient)

	// MongoDB
	mongoClient, err := mongodb.NewClient(cfg.MongoDBURL)
	if err != nil {
		return fail(fmt.Errorf("mongodb connection failed: %w", err))
	}
	deps.MongoDB = mongoClient
	cleanups = append(cleanups, func() {
		mongoClient.Disconnect(context.Background())
	})

	bodyAdapter := mongodb.NewEmailBodyAdapter(mongoClient.Database(cfg.MongoDBName))
	if err := bodyAdapter.EnsureIndexes(context.Background()); err != nil {
		logger.WithError(err).Warn("failed to ensure MongoDB indexes")
	}
	deps.EmailBodyRepo = bodyAdapter

	// Neo4j
	neo4jDriver, err := graph.NewDriver(cfg.Neo4jURL, cfg.Neo4jUsername, cfg.Neo4jPassword)
	if err != nil {
		return fail(fmt.Errorf("neo4j connection failed: %w", err))
	}
	deps.Neo4j = neo4jDriver
	cleanups = append(cleanups, func() {
		neo4jDriver.Close(context.Background())
	})

	// LLM gateway. An empty API key leaves the gateway unconfigured;
	// every caller falls back deterministically.
	deps.LLMClient = llm.NewClientWithConfig(llm.ClientConfig{
		APIKey:      cfg.OpenAIAPIKey,
		Model:       cfg.LLMModel,
		MaxTokens:   cfg.LLMMaxTokens,
		Temperature: cfg.LLMTemperature,
		Timeout:     cfg.LLMTimeout,
	})

	vectorAdapter := graph.NewVectorStoreAdapter(neo4jDriver, cfg.Neo4jDatabase, deps.LLMClient)
	if err := vectorAdapter.EnsureIndexes(context.Background()); err != nil {
		logger.WithError(err).Warn("failed to ensure Neo4j indexes")
	}
	deps.VectorStore = vectorAdapter

	deps.EmailCacheRepo = persistence.NewEmailCacheAdapter(sqlDB)

	// Gmail provider
	deps.GmailProvider = provider.NewGmailAdapter(provider.GmailConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
		RefreshToken: cfg.GoogleRefreshToken,
	})
	if !deps.GmailProvider.IsConfigured() {
		logger.Warn("Gmail provider credentials missing, provider calls will fail")
	}

	// Services
	deps.LearningService = learning.NewService(deps.VectorStore)
	deps.FilteringService = filtering.NewService(deps.LLMClient, deps.VectorStore)

	// Agents
	deps.Analyzer = agent.NewAnalyzer(deps.LLMClient)
	deps.Responder = agent.NewResponder(deps.LLMClient, deps.LearningService)
	deps.Organizer = agent.NewOrganizer(deps.LLMClient)
	deps.Supervisor = agent.NewSupervisor(deps.LLMClient, deps.Analyzer, deps.Responder, deps.Organizer)

	deps.EmailService = email.NewService(
		deps.GmailProvider,
		deps.EmailCacheRepo,
		deps.EmailBodyRepo,
		deps.ContentCache,
		deps.Analyzer,
		deps.FilteringService,
		email.Options{
			RetentionDays:  cfg.RetentionDays,
			MinCacheCount:  cfg.CacheHitMinCount,
			SyncMaxResults: cfg.SyncMaxResults,
			ContentTTL:     cfg.ContentCacheTTL,
		},
	)

	logger.Info("dependencies initialized")
	return deps, cleanup, nil
}
