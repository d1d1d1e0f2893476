// Пакет server — HTTP-сервер Docparse с graceful shutdown.
// Без TLS — HTTP внутри кластера, TLS termination на API Gateway.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/arturkryukov/docparse/internal/api/handlers"
	"github.com/arturkryukov/docparse/internal/api/middleware"
	"github.com/arturkryukov/docparse/internal/config"
)

// Server — HTTP-сервер Docparse.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт новый HTTP-сервер с настроенными routes и middleware.
func New(cfg *config.Config, logger *slog.Logger, handler *handlers.APIHandler) *Server {
	router := NewRouter(cfg, logger, handler)

	// WriteTimeout должен перекрывать синхронный вызов layout-parsing,
	// иначе сервер оборвёт ответ раньше таймаута клиента
	writeTimeout := cfg.OCRTimeout + 30*time.Second

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: writeTimeout,
		IdleTimeout:  120 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// NewRouter собирает chi-роутер со всеми маршрутами и middleware.
// Вынесен отдельно, чтобы тесты могли поднимать роутер без сервера.
func NewRouter(cfg *config.Config, logger *slog.Logger, handler *handlers.APIHandler) chi.Router {
	router := chi.NewRouter()

	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.MetricsMiddleware())

	// Health и метрики
	router.Get("/health/live", handler.HealthLive)
	router.Get("/health/ready", handler.HealthReady)
	router.Get("/metrics", handler.GetMetrics)

	// API v1
	router.Route("/api/v1", func(r chi.Router) {
		r.Post("/conversions", handler.CreateConversion)

		r.Route("/records", func(r chi.Router) {
			r.Get("/", handler.ListRecords)
			r.Post("/bulk-delete", handler.BulkDeleteRecords)
			r.Get("/export", handler.ExportRecords)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", handler.GetRecord)
				r.Delete("/", handler.DeleteRecord)
				r.Post("/retry", handler.RetryConversion)
				r.Get("/results/{index}", handler.GetRecordResult)
			})
		})

		r.Get("/statistics", handler.GetStatistics)
	})

	// Артефакты (оригиналы и извлечённые изображения) раздаются напрямую
	// из media-директории
	fileServer := http.FileServer(http.Dir(cfg.MediaDir))
	router.Handle("/media/*", http.StripPrefix("/media/", fileServer))

	return router
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM).
// При получении сигнала выполняется graceful shutdown.
func (s *Server) Run() error {
	// Канал для ошибок сервера
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)

		err := s.httpServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Ожидание сигнала завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
