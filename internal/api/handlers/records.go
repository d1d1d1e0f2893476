// records.go — история загрузок: списки, детали, удаление,
// CSV-экспорт и статистика.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	apierrors "github.com/arturkryukov/docparse/internal/api/errors"
	"github.com/arturkryukov/docparse/internal/domain/model"
	"github.com/arturkryukov/docparse/internal/repository"
	"github.com/arturkryukov/docparse/internal/service"
)

// recordListResponse — страница списка записей.
type recordListResponse struct {
	Records []recordResponse `json:"records"`
	Total   int              `json:"total"`
	Limit   int              `json:"limit"`
	Offset  int              `json:"offset"`
	HasMore bool             `json:"has_more"`
	Summary pageSummary      `json:"summary"`
}

// pageSummary — сводные счётчики по всем записям (без учёта фильтров).
type pageSummary struct {
	Total          int `json:"total"`
	Completed      int `json:"completed"`
	Failed         int `json:"failed"`
	Processing     int `json:"processing"`
	Pending        int `json:"pending"`
	Today          int `json:"today"`
	TodayCompleted int `json:"today_completed"`
}

// recordDetailResponse — запись вместе с результатами разбора.
type recordDetailResponse struct {
	Record  recordResponse   `json:"record"`
	Results []resultResponse `json:"results"`
}

// ListRecords обрабатывает GET /api/v1/records.
// Query-параметры: search, status, date_from, date_to (YYYY-MM-DD),
// limit, offset. Некорректные значения фильтров молча игнорируются.
func (h *APIHandler) ListRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset := paginationDefaults(q.Get("limit"), q.Get("offset"))

	filters := parseListFilters(q.Get("search"), q.Get("status"), q.Get("date_from"), q.Get("date_to"))

	page, err := h.history.List(r.Context(), filters, limit, offset)
	if err != nil {
		h.logger.Error("Ошибка получения списка записей", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Ошибка получения списка записей")
		return
	}

	resp := recordListResponse{
		Records: make([]recordResponse, 0, len(page.Records)),
		Total:   page.Total,
		Limit:   page.Limit,
		Offset:  page.Offset,
		HasMore: page.Offset+len(page.Records) < page.Total,
		Summary: pageSummary{
			Total:          page.Summary.Total,
			Completed:      page.Summary.Completed,
			Failed:         page.Summary.Failed,
			Processing:     page.Summary.Processing,
			Pending:        page.Summary.Pending,
			Today:          page.Summary.Today,
			TodayCompleted: page.Summary.TodayCompleted,
		},
	}
	for _, rec := range page.Records {
		count := page.ResultCounts[rec.ID]
		resp.Records = append(resp.Records, toRecordResponse(rec, &count))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetRecord обрабатывает GET /api/v1/records/{id}.
func (h *APIHandler) GetRecord(w http.ResponseWriter, r *http.Request) {
	id := recordID(r)
	if id == "" {
		apierrors.ValidationError(w, "Некорректный идентификатор записи")
		return
	}

	detail, err := h.history.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrRecordNotFound) {
			apierrors.NotFound(w, "Запись "+id+" не найдена")
			return
		}
		h.logger.Error("Ошибка получения записи",
			slog.String("upload_id", id),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Ошибка получения записи")
		return
	}

	count := len(detail.Results)
	resp := recordDetailResponse{
		Record:  toRecordResponse(detail.Record, &count),
		Results: make([]resultResponse, 0, len(detail.Results)),
	}
	for _, pr := range detail.Results {
		resp.Results = append(resp.Results, toResultResponse(pr))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetRecordResult обрабатывает GET /api/v1/records/{id}/results/{index}.
func (h *APIHandler) GetRecordResult(w http.ResponseWriter, r *http.Request) {
	id := recordID(r)
	if id == "" {
		apierrors.ValidationError(w, "Некорректный идентификатор записи")
		return
	}

	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 {
		apierrors.ValidationError(w, "Некорректный индекс результата")
		return
	}

	pr, err := h.history.GetResult(r.Context(), id, index)
	if err != nil {
		if errors.Is(err, service.ErrRecordNotFound) {
			apierrors.NotFound(w, "Результат не найден")
			return
		}
		h.logger.Error("Ошибка получения результата",
			slog.String("upload_id", id),
			slog.Int("result_index", index),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Ошибка получения результата")
		return
	}
	writeJSON(w, http.StatusOK, toResultResponse(pr))
}

// deleteResponse — итог удаления одной записи.
type deleteResponse struct {
	Deleted bool `json:"deleted"`
}

// DeleteRecord обрабатывает DELETE /api/v1/records/{id}.
// Идемпотентен: удаление несуществующей записи возвращает deleted=false.
func (h *APIHandler) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	id := recordID(r)
	if id == "" {
		apierrors.ValidationError(w, "Некорректный идентификатор записи")
		return
	}

	existed, err := h.history.Delete(r.Context(), id)
	if err != nil {
		h.logger.Error("Ошибка удаления записи",
			slog.String("upload_id", id),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Ошибка удаления записи")
		return
	}

	h.stats.Invalidate()
	writeJSON(w, http.StatusOK, deleteResponse{Deleted: existed})
}

// bulkDeleteRequest — тело POST /api/v1/records/bulk-delete.
type bulkDeleteRequest struct {
	RecordIDs []string `json:"record_ids"`
}

// bulkDeleteResponse — итог пакетного удаления.
type bulkDeleteResponse struct {
	Deleted int `json:"deleted"`
	Failed  int `json:"failed"`
}

// BulkDeleteRecords обрабатывает POST /api/v1/records/bulk-delete.
func (h *APIHandler) BulkDeleteRecords(w http.ResponseWriter, r *http.Request) {
	var req bulkDeleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса: "+err.Error())
		return
	}
	if len(req.RecordIDs) == 0 {
		apierrors.ValidationError(w, "Список record_ids пуст")
		return
	}

	res, err := h.history.BulkDelete(r.Context(), req.RecordIDs)
	if err != nil {
		h.logger.Error("Ошибка пакетного удаления", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Ошибка пакетного удаления")
		return
	}

	h.stats.Invalidate()
	writeJSON(w, http.StatusOK, bulkDeleteResponse{Deleted: res.Deleted, Failed: res.Failed})
}

// ExportRecords обрабатывает GET /api/v1/records/export.
// Параметр ids — список UUID через запятую; без него экспортируются
// все записи.
func (h *APIHandler) ExportRecords(w http.ResponseWriter, r *http.Request) {
	var ids []string
	if raw := r.URL.Query().Get("ids"); raw != "" {
		for _, id := range strings.Split(raw, ",") {
			id = strings.TrimSpace(id)
			if id == "" {
				continue
			}
			if _, err := uuid.Parse(id); err != nil {
				apierrors.ValidationError(w, "Некорректный идентификатор в ids: "+id)
				return
			}
			ids = append(ids, id)
		}
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="conversion_records.csv"`)

	if err := h.history.ExportCSV(r.Context(), ids, w); err != nil {
		// Заголовки уже отправлены — остаётся только залогировать
		h.logger.Error("Ошибка экспорта CSV", slog.String("error", err.Error()))
	}
}

// GetStatistics обрабатывает GET /api/v1/statistics?days=N.
func (h *APIHandler) GetStatistics(w http.ResponseWriter, r *http.Request) {
	days := 0
	if raw := r.URL.Query().Get("days"); raw != "" {
		if d, err := strconv.Atoi(raw); err == nil {
			days = d
		}
	}

	stats, err := h.stats.Statistics(r.Context(), days)
	if err != nil {
		h.logger.Error("Ошибка получения статистики", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Ошибка получения статистики")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// recordID извлекает и валидирует UUID записи из пути.
// Возвращает пустую строку, если идентификатор не является UUID.
func recordID(r *http.Request) string {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		return ""
	}
	return id
}

// parseListFilters строит фильтры списка из query-параметров.
// Неразборчивые значения игнорируются, а не приводят к ошибке.
func parseListFilters(search, status, dateFrom, dateTo string) repository.ListFilters {
	var filters repository.ListFilters

	if search != "" {
		filters.Search = &search
	}
	if status != "" {
		if st, err := model.ParseStatus(status); err == nil {
			filters.Status = &st
		}
	}
	if dateFrom != "" {
		if t, err := time.Parse("2006-01-02", dateFrom); err == nil {
			filters.DateFrom = &t
		}
	}
	if dateTo != "" {
		if t, err := time.Parse("2006-01-02", dateTo); err == nil {
			// Включаем весь день: верхняя граница — начало следующих суток
			end := t.AddDate(0, 0, 1)
			filters.DateTo = &end
		}
	}
	return filters
}
