package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/meridian-pos/meridian-pos/internal/accounting"
	"github.com/meridian-pos/meridian-pos/internal/accounting/accounts"
	"github.com/meridian-pos/meridian-pos/internal/accounting/ledger"
	"github.com/meridian-pos/meridian-pos/internal/accounting/mappings"
	"github.com/meridian-pos/meridian-pos/internal/accounting/periods"
	"github.com/meridian-pos/meridian-pos/internal/app"
	"github.com/meridian-pos/meridian-pos/internal/audit"
	"github.com/meridian-pos/meridian-pos/internal/inventory"
	"github.com/meridian-pos/meridian-pos/internal/invoices"
	"github.com/meridian-pos/meridian-pos/internal/platform/cache"
	"github.com/meridian-pos/meridian-pos/internal/platform/db"
	"github.com/meridian-pos/meridian-pos/internal/sales/documents"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	auditRecorder := audit.NewRecorder(logger)
	auditRepo := audit.NewRepository(dbpool)
	auditHandler := audit.NewHandler(logger, auditRepo)

	accountRepo := accounts.NewRepository(dbpool)
	directory := mappings.NewDirectory(mappings.NewRepository(), accountRepo, redisClient)

	periodRepo := periods.NewRepository(dbpool)
	periodService := periods.NewService(periodRepo, auditRecorder)
	periodHandler := periods.NewHandler(logger, periodService)

	ledgerEngine := ledger.NewEngine(ledger.NewRepository(), directory, periodService, auditRecorder, logger)
	accountingHandler := accounting.NewHandler(logger, accountRepo, directory, dbpool)

	inventoryRepo := inventory.NewRepository(dbpool)
	inventoryService := inventory.NewService(inventoryRepo, auditRecorder, logger)
	inventoryHandler := inventory.NewHandler(logger, inventoryService, inventoryRepo)

	invoiceRepo := invoices.NewRepository(dbpool)
	invoiceService := invoices.NewService(invoiceRepo, ledgerEngine, inventoryService, inventoryRepo, auditRecorder, logger)
	invoiceHandler := invoices.NewHandler(logger, invoiceService)

	documentRepo := documents.NewRepository(dbpool)
	documentService := documents.NewService(documentRepo, invoiceRepo, invoiceService, inventoryRepo, auditRecorder, logger)
	documentHandler := documents.NewHandler(logger, documentService, documentRepo)

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		InvoiceHandler:    invoiceHandler,
		InventoryHandler:  inventoryHandler,
		DocumentHandler:   documentHandler,
		PeriodHandler:     periodHandler,
		AccountingHandler: accountingHandler,
		AuditHandler:      auditHandler,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
