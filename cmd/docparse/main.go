// Точка входа Docparse — сервис разбора структуры документов.
// Загружает конфигурацию, применяет миграции, подключается к PostgreSQL,
// инициализирует хранилище артефактов и клиент layout-parsing, собирает
// сервисный слой и API handlers, запускает HTTP-сервер с graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/arturkryukov/docparse/internal/api/handlers"
	"github.com/arturkryukov/docparse/internal/config"
	"github.com/arturkryukov/docparse/internal/database"
	"github.com/arturkryukov/docparse/internal/ocrclient"
	"github.com/arturkryukov/docparse/internal/repository"
	"github.com/arturkryukov/docparse/internal/server"
	"github.com/arturkryukov/docparse/internal/service"
	"github.com/arturkryukov/docparse/internal/storage/blobstore"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Docparse запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 5. Хранилище артефактов на диске
	blobs, err := blobstore.New(cfg.MediaDir)
	if err != nil {
		logger.Error("Ошибка инициализации media-хранилища",
			slog.String("dir", cfg.MediaDir),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	logger.Info("Media-хранилище инициализировано", slog.String("dir", cfg.MediaDir))

	// 6. Клиент сервиса layout-parsing
	parser := ocrclient.New(cfg.OCRAPIURL, cfg.OCRTimeout, logger)
	logger.Info("Клиент layout-parsing создан",
		slog.String("url", cfg.OCRAPIURL),
		slog.String("timeout", cfg.OCRTimeout.String()),
	)

	// 7. Repositories
	uploadRepo := repository.NewUploadRepository(pool)
	resultRepo := repository.NewParseResultRepository(pool)
	txRunner := repository.NewTxRunner(pool)
	resultWriter := repository.NewTxParseResultWriter(txRunner)

	// 8. Services
	pipelineSvc := service.NewPipelineService(
		cfg, uploadRepo, resultRepo, resultWriter, blobs, parser, logger,
	)
	historySvc := service.NewHistoryService(uploadRepo, resultRepo, blobs, logger)
	statsSvc := service.NewStatsService(uploadRepo, cfg.StatsCacheTTL, logger)

	// 9. Readiness checker (PostgreSQL)
	pgChecker := database.NewReadinessChecker(pool)
	healthHandler := handlers.NewHealthHandler(pgChecker)

	// 10. API handler
	apiHandler := handlers.NewAPIHandler(
		cfg, pipelineSvc, historySvc, statsSvc, healthHandler, logger,
	)

	// 11. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, apiHandler)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("Docparse остановлен")
}
