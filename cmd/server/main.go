package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/shopspring/decimal"
	"github.com/subosito/gotenv"
	"go.uber.org/zap"

	"github.com/splitmate/receipt-splitter/internal/allocation"
	"github.com/splitmate/receipt-splitter/internal/application/service"
	"github.com/splitmate/receipt-splitter/internal/config"
	"github.com/splitmate/receipt-splitter/internal/export"
	"github.com/splitmate/receipt-splitter/internal/gate"
	"github.com/splitmate/receipt-splitter/internal/infrastructure/external/openai"
	"github.com/splitmate/receipt-splitter/internal/infrastructure/persistence/repository"
	httpiface "github.com/splitmate/receipt-splitter/internal/interfaces/http"
	"github.com/splitmate/receipt-splitter/pkg/database"
	"github.com/splitmate/receipt-splitter/pkg/utils"
)

func main() {
	_ = gotenv.Load()

	cfg, err := config.Load("configs/config.yaml")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting receipt splitter",
		zap.Int("port", cfg.Server.Port),
		zap.String("database", cfg.Database.Path))

	db, err := database.Open(database.Config{
		Path:            cfg.Database.Path,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	migrator := database.NewMigrator(db, logger)
	if err := migrator.Run(context.Background(), cfg.Database.MigrationsDir); err != nil {
		logger.Fatal("Failed to run database migrations", zap.Error(err))
	}

	receiptRepo := repository.NewReceiptRepository(db, logger)
	assignmentRepo := repository.NewAssignmentRepository(db, logger)
	auditRepo := repository.NewAuditRepository(db, logger)

	extractor := openai.NewExtractor(
		cfg.OpenAI.APIKey,
		cfg.OpenAI.VisionModel,
		cfg.Engine.ConfidenceThreshold,
		logger,
	)
	interpreter := openai.NewInterpreter(
		cfg.OpenAI.APIKey,
		cfg.OpenAI.InterviewModel,
		cfg.OpenAI.Temperature,
		logger,
	)

	sessions := service.NewSessionService(
		gate.New(cfg.Engine.LowConfidenceRatio, logger),
		allocation.New(decimal.NewFromFloat(cfg.Engine.MismatchTolerance), logger),
		interpreter,
		receiptRepo,
		assignmentRepo,
		auditRepo,
		service.Config{StrictReconciliation: cfg.Engine.StrictReconciliation},
		logger,
	)

	server := httpiface.NewServer(
		httpiface.ServerConfig{
			Host:         cfg.Server.Host,
			Port:         cfg.Server.Port,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
		sessions,
		extractor,
		export.NewSettlementExporter(logger),
		logger,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.Start(ctx); err != nil {
		logger.Fatal("HTTP server failed", zap.Error(err))
	}

	logger.Info("Server exited")
}
