// history.go — read-side операций над записями: списки, детали,
// удаление, экспорт CSV.
package service

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/arturkryukov/docparse/internal/domain/model"
	"github.com/arturkryukov/docparse/internal/repository"
)

// Ошибки сервиса истории.
var (
	// ErrRecordNotFound — запись не найдена.
	ErrRecordNotFound = errors.New("запись не найдена")
)

// RecordPage — страница списка записей с агрегатами.
type RecordPage struct {
	Records      []*model.UploadRecord
	ResultCounts map[string]int
	Total        int
	Limit        int
	Offset       int
	Summary      PageSummary
}

// PageSummary — сводные счётчики для шапки страницы истории.
// Считаются по всем записям, без учёта фильтров.
type PageSummary struct {
	Total          int
	Completed      int
	Failed         int
	Processing     int
	Pending        int
	Today          int
	TodayCompleted int
}

// RecordDetail — запись вместе с её результатами разбора.
type RecordDetail struct {
	Record  *model.UploadRecord
	Results []*model.ParseResult
}

// BulkDeleteResult — итог пакетного удаления.
type BulkDeleteResult struct {
	Deleted int
	Failed  int
}

// HistoryService — операции чтения и удаления над историей загрузок.
type HistoryService struct {
	uploads repository.UploadRepository
	results repository.ParseResultRepository
	blobs   ArtifactStore
	logger  *slog.Logger
}

// NewHistoryService создаёт сервис истории.
func NewHistoryService(
	uploads repository.UploadRepository,
	results repository.ParseResultRepository,
	blobs ArtifactStore,
	logger *slog.Logger,
) *HistoryService {
	return &HistoryService{
		uploads: uploads,
		results: results,
		blobs:   blobs,
		logger:  logger.With(slog.String("component", "history_service")),
	}
}

// List возвращает страницу записей с количеством результатов каждой.
func (s *HistoryService) List(ctx context.Context, filters repository.ListFilters, limit, offset int) (*RecordPage, error) {
	records, err := s.uploads.List(ctx, filters, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка записей: %w", err)
	}

	total, err := s.uploads.Count(ctx, filters)
	if err != nil {
		return nil, fmt.Errorf("ошибка подсчёта записей: %w", err)
	}

	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ID)
	}
	counts, err := s.results.CountsForUploads(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("ошибка подсчёта результатов: %w", err)
	}

	summary, err := s.summary(ctx)
	if err != nil {
		return nil, err
	}

	return &RecordPage{
		Records:      records,
		ResultCounts: counts,
		Total:        total,
		Limit:        limit,
		Offset:       offset,
		Summary:      summary,
	}, nil
}

// summary собирает сводные счётчики по всем записям.
func (s *HistoryService) summary(ctx context.Context) (PageSummary, error) {
	statusCounts, err := s.uploads.StatusCounts(ctx)
	if err != nil {
		return PageSummary{}, fmt.Errorf("ошибка распределения статусов: %w", err)
	}
	today, todayCompleted, err := s.uploads.TodayCounts(ctx)
	if err != nil {
		return PageSummary{}, fmt.Errorf("ошибка статистики за сегодня: %w", err)
	}

	out := PageSummary{
		Completed:      statusCounts[model.StatusCompleted],
		Failed:         statusCounts[model.StatusFailed],
		Processing:     statusCounts[model.StatusProcessing],
		Pending:        statusCounts[model.StatusPending],
		Today:          today,
		TodayCompleted: todayCompleted,
	}
	for _, count := range statusCounts {
		out.Total += count
	}
	return out, nil
}

// Get возвращает запись с результатами разбора.
func (s *HistoryService) Get(ctx context.Context, id string) (*RecordDetail, error) {
	record, err := s.uploads.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("ошибка получения записи: %w", err)
	}

	results, err := s.results.ListByUpload(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения результатов: %w", err)
	}

	return &RecordDetail{Record: record, Results: results}, nil
}

// GetResult возвращает один результат разбора по индексу.
func (s *HistoryService) GetResult(ctx context.Context, id string, index int) (*model.ParseResult, error) {
	pr, err := s.results.GetByIndex(ctx, id, index)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("ошибка получения результата: %w", err)
	}
	return pr, nil
}

// Delete удаляет запись, её результаты и артефакты на диске.
// Идемпотентна: повторное удаление того же ID — no-op, не ошибка.
// Возвращает true, если запись существовала.
func (s *HistoryService) Delete(ctx context.Context, id string) (bool, error) {
	// Сначала строка БД (каскадно удаляет результаты), затем диск:
	// осиротевший каталог хуже осиротевшей строки не бывает, а при
	// обратном порядке сбой БД оставил бы запись без артефактов
	existed, err := s.uploads.Delete(ctx, id)
	if err != nil {
		return false, fmt.Errorf("ошибка удаления записи: %w", err)
	}

	if err := s.blobs.DeleteTree(id); err != nil {
		s.logger.Warn("Не удалось удалить артефакты записи",
			slog.String("upload_id", id),
			slog.String("error", err.Error()),
		)
	}

	if existed {
		s.logger.Info("Запись удалена", slog.String("upload_id", id))
	}
	return existed, nil
}

// BulkDelete удаляет набор записей. Ошибка удаления одной записи
// не прерывает обработку остальных.
func (s *HistoryService) BulkDelete(ctx context.Context, ids []string) (*BulkDeleteResult, error) {
	out := &BulkDeleteResult{}
	for _, id := range ids {
		existed, err := s.Delete(ctx, id)
		if err != nil {
			s.logger.Error("Ошибка удаления записи в пакете",
				slog.String("upload_id", id),
				slog.String("error", err.Error()),
			)
			out.Failed++
			continue
		}
		if existed {
			out.Deleted++
		}
	}
	return out, nil
}

// csvHeader — заголовок CSV-экспорта.
var csvHeader = []string{"ID", "Filename", "File Size", "Upload Time", "Status", "Processing Time", "Results"}

// ExportCSV пишет записи в CSV. Пустой список ids экспортирует все записи.
func (s *HistoryService) ExportCSV(ctx context.Context, ids []string, w io.Writer) error {
	var records []*model.UploadRecord
	var err error
	if len(ids) > 0 {
		records, err = s.uploads.ListByIDs(ctx, ids)
	} else {
		records, err = s.uploads.List(ctx, repository.ListFilters{}, exportLimit, 0)
	}
	if err != nil {
		return fmt.Errorf("ошибка получения записей для экспорта: %w", err)
	}

	recordIDs := make([]string, 0, len(records))
	for _, r := range records {
		recordIDs = append(recordIDs, r.ID)
	}
	counts, err := s.results.CountsForUploads(ctx, recordIDs)
	if err != nil {
		return fmt.Errorf("ошибка подсчёта результатов для экспорта: %w", err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("ошибка записи заголовка CSV: %w", err)
	}

	for _, r := range records {
		var pt float64
		if r.ProcessingTime != nil {
			pt = *r.ProcessingTime
		}
		row := []string{
			r.ID,
			r.OriginalFilename,
			r.FileSizeDisplay(),
			r.UploadTime.Format("2006-01-02 15:04:05"),
			string(r.Status),
			fmt.Sprintf("%.2fs", pt),
			strconv.Itoa(counts[r.ID]),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("ошибка записи строки CSV: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// exportLimit — верхняя граница записей в экспорте без фильтра.
const exportLimit = 100000
