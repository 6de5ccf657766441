package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver for database/sql (migrations)
	"go.uber.org/zap"

	"github.com/bildwerk/boq-engine/pkg/config"
	"github.com/bildwerk/boq-engine/pkg/database"
	"github.com/bildwerk/boq-engine/pkg/handlers"
	"github.com/bildwerk/boq-engine/pkg/logging"
	"github.com/bildwerk/boq-engine/pkg/middleware"
	"github.com/bildwerk/boq-engine/pkg/repositories"
	"github.com/bildwerk/boq-engine/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("Configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("database", cfg.Database.Database),
		zap.String("database_host", cfg.Database.Host),
		zap.String("redis_host", cfg.Redis.Host))

	ctx := context.Background()

	db, err := database.NewConnection(ctx, &cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	// Run migrations using database/sql (required by golang-migrate)
	sqlDB, err := sql.Open("pgx", cfg.Database.DSN())
	if err != nil {
		logger.Fatal("Failed to open migration connection", zap.Error(err))
	}
	if err := database.RunMigrations(sqlDB, cfg.MigrationsPath, logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}
	_ = sqlDB.Close()

	redisClient, err := database.NewRedisClient(&cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	if redisClient != nil {
		defer redisClient.Close() //nolint:errcheck
	}

	// Repositories
	versionRepo := repositories.NewScenarioVersionRepository()
	lineRepo := repositories.NewBoqLineRepository()
	wbsRepo := repositories.NewWbsLevelRepository()

	// Services
	wbsService := services.NewWbsLevelService(wbsRepo, redisClient, cfg.WbsCacheTTL, logger)
	versionService := services.NewScenarioVersionService(versionRepo, logger)
	lineService := services.NewBoqLineService(lineRepo, versionRepo, wbsService, logger)
	importService := services.NewBoqImportService(lineService, wbsService, logger)

	mux := http.NewServeMux()
	scope := handlers.ScopeMiddleware(database.WithProjectContext(db, logger))

	// Register handlers
	healthHandler := handlers.NewHealthHandler(cfg, logger)
	healthHandler.RegisterRoutes(mux)

	versionsHandler := handlers.NewScenarioVersionsHandler(versionService, logger)
	versionsHandler.RegisterRoutes(mux, scope)

	linesHandler := handlers.NewBoqLinesHandler(lineService, importService, logger)
	linesHandler.RegisterRoutes(mux, scope)

	wbsHandler := handlers.NewWbsLevelsHandler(wbsService, logger)
	wbsHandler.RegisterRoutes(mux, scope)

	handler := middleware.RequestLogger(logger)(mux)

	addr := cfg.BindAddr + ":" + cfg.Port
	logger.Info("Starting boq-engine",
		zap.String("addr", addr),
		zap.String("version", cfg.Version))
	if err := http.ListenAndServe(addr, handler); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
}
