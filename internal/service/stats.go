// stats.go — агрегированная статистика загрузок с кэшированием.
// Агрегаты считаются в PostgreSQL; готовый ответ живёт в LRU-кэше
// с TTL, чтобы дашборд не нагружал базу на каждое обновление.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/arturkryukov/docparse/internal/domain/model"
	"github.com/arturkryukov/docparse/internal/repository"
)

// Метрики кэша статистики.
var (
	statsCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dp_stats_cache_hits_total",
		Help: "Количество ответов статистики, отданных из кэша.",
	})
	statsCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dp_stats_cache_misses_total",
		Help: "Количество ответов статистики, посчитанных в PostgreSQL.",
	})
)

// MaxStatsDays — максимальная глубина посуточной статистики.
const MaxStatsDays = 365

// Statistics — агрегированная статистика загрузок.
type Statistics struct {
	DailyStats         []DailyStat       `json:"daily_stats"`
	StatusDistribution []NamedCount      `json:"status_distribution"`
	SizeDistribution   []NamedCount      `json:"size_distribution"`
	Summary            StatisticsSummary `json:"summary"`
}

// DailyStat — статистика загрузок за один день.
type DailyStat struct {
	Date      string `json:"date"`
	Total     int    `json:"total"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
}

// NamedCount — именованный счётчик для распределений.
type NamedCount struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

// StatisticsSummary — сводные счётчики.
type StatisticsSummary struct {
	Total          int `json:"total"`
	Completed      int `json:"completed"`
	Failed         int `json:"failed"`
	Pending        int `json:"pending"`
	Today          int `json:"today"`
	TodayCompleted int `json:"today_completed"`
}

// StatsService — статистика с LRU-кэшем (per-instance, TTL из конфигурации).
type StatsService struct {
	uploads repository.UploadRepository
	cache   *expirable.LRU[int, *Statistics]
	logger  *slog.Logger
}

// NewStatsService создаёт сервис статистики.
// ttl — время жизни закэшированного ответа.
func NewStatsService(uploads repository.UploadRepository, ttl time.Duration, logger *slog.Logger) *StatsService {
	// Ключ кэша — глубина в днях; различных значений немного
	cache := expirable.NewLRU[int, *Statistics](16, nil, ttl)
	return &StatsService{
		uploads: uploads,
		cache:   cache,
		logger:  logger.With(slog.String("component", "stats_service")),
	}
}

// Statistics возвращает статистику за последние days дней.
func (s *StatsService) Statistics(ctx context.Context, days int) (*Statistics, error) {
	if days < 1 {
		days = 30
	}
	if days > MaxStatsDays {
		days = MaxStatsDays
	}

	if cached, ok := s.cache.Get(days); ok {
		statsCacheHits.Inc()
		return cached, nil
	}
	statsCacheMisses.Inc()

	daily, err := s.uploads.DailyStats(ctx, days)
	if err != nil {
		return nil, fmt.Errorf("ошибка посуточной статистики: %w", err)
	}

	statusCounts, err := s.uploads.StatusCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка распределения статусов: %w", err)
	}

	sizes, err := s.uploads.SizeDistribution(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка распределения размеров: %w", err)
	}

	today, todayCompleted, err := s.uploads.TodayCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка статистики за сегодня: %w", err)
	}

	stats := &Statistics{
		DailyStats:         make([]DailyStat, 0, len(daily)),
		StatusDistribution: make([]NamedCount, 0, len(statusCounts)),
		SizeDistribution:   make([]NamedCount, 0, len(sizes)),
	}

	for _, d := range daily {
		stats.DailyStats = append(stats.DailyStats, DailyStat{
			Date:      d.Date.Format("2006-01-02"),
			Total:     d.Total,
			Completed: d.Completed,
			Failed:    d.Failed,
		})
	}

	// Стабильный порядок статусов в распределении
	for _, st := range []model.UploadStatus{
		model.StatusPending, model.StatusProcessing, model.StatusCompleted, model.StatusFailed,
	} {
		if count := statusCounts[st]; count > 0 {
			stats.StatusDistribution = append(stats.StatusDistribution, NamedCount{
				Name:  string(st),
				Value: count,
			})
		}
	}

	total := 0
	for _, count := range statusCounts {
		total += count
	}
	stats.Summary = StatisticsSummary{
		Total:          total,
		Completed:      statusCounts[model.StatusCompleted],
		Failed:         statusCounts[model.StatusFailed],
		Pending:        statusCounts[model.StatusPending],
		Today:          today,
		TodayCompleted: todayCompleted,
	}

	for _, b := range sizes {
		stats.SizeDistribution = append(stats.SizeDistribution, NamedCount{Name: b.Name, Value: b.Count})
	}

	s.cache.Add(days, stats)
	return stats, nil
}

// Invalidate сбрасывает кэш статистики. Вызывается после удаления записей.
func (s *StatsService) Invalidate() {
	s.cache.Purge()
}
