// handler.go — основной обработчик API Docparse.
// Объединяет health и бизнес-обработчики, содержит DTO ответов
// и общие вспомогательные функции.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/arturkryukov/docparse/internal/config"
	"github.com/arturkryukov/docparse/internal/domain/model"
	"github.com/arturkryukov/docparse/internal/service"
	"github.com/arturkryukov/docparse/internal/storage/blobstore"
)

// APIHandler — основной обработчик API Docparse.
// Делегирует запросы в сервисный слой.
type APIHandler struct {
	cfg      *config.Config
	pipeline *service.PipelineService
	history  *service.HistoryService
	stats    *service.StatsService
	health   *HealthHandler
	logger   *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(
	cfg *config.Config,
	pipeline *service.PipelineService,
	history *service.HistoryService,
	stats *service.StatsService,
	health *HealthHandler,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		cfg:      cfg,
		pipeline: pipeline,
		history:  history,
		stats:    stats,
		health:   health,
		logger:   logger.With(slog.String("component", "api_handler")),
	}
}

// --- Health endpoints (делегируются в HealthHandler) ---

// HealthLive — liveness probe.
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe.
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики.
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// --- DTO ответов ---

// recordResponse — представление записи загрузки в API.
type recordResponse struct {
	ID               string   `json:"id"`
	OriginalFilename string   `json:"original_filename"`
	StoragePath      string   `json:"storage_path"`
	OriginalURL      string   `json:"original_url,omitempty"`
	FileSize         int64    `json:"file_size"`
	FileSizeDisplay  string   `json:"file_size_display"`
	UploadTime       string   `json:"upload_time"`
	Status           string   `json:"status"`
	ErrorMessage     string   `json:"error_message,omitempty"`
	ProcessingTime   *float64 `json:"processing_time,omitempty"`
	IPAddress        *string  `json:"ip_address,omitempty"`
	UserAgent        *string  `json:"user_agent,omitempty"`
	ResultCount      *int     `json:"result_count,omitempty"`
}

// resultResponse — представление результата разбора в API.
// URL-списки указывают на артефакты, раздаваемые через /media/.
type resultResponse struct {
	ResultIndex        int             `json:"result_index"`
	PrunedResult       string          `json:"pruned_result"`
	MarkdownText       string          `json:"markdown_text"`
	RawData            json.RawMessage `json:"raw_data"`
	MarkdownImagePaths []string        `json:"markdown_image_paths"`
	OutputImagePaths   []string        `json:"output_image_paths"`
	MarkdownImageURLs  []string        `json:"markdown_image_urls"`
	OutputImageURLs    []string        `json:"output_image_urls"`
	CreatedAt          string          `json:"created_at"`
}

// toRecordResponse преобразует модель в DTO.
// resultCount — nil, если количество результатов не запрашивалось.
func toRecordResponse(u *model.UploadRecord, resultCount *int) recordResponse {
	var originalURL string
	if u.StoragePath != "" {
		originalURL = mediaURL(u.StoragePath)
	}
	return recordResponse{
		ID:               u.ID,
		OriginalFilename: u.OriginalFilename,
		StoragePath:      u.StoragePath,
		OriginalURL:      originalURL,
		FileSize:         u.FileSize,
		FileSizeDisplay:  u.FileSizeDisplay(),
		UploadTime:       u.UploadTime.UTC().Format(time.RFC3339),
		Status:           string(u.Status),
		ErrorMessage:     u.ErrorMessage,
		ProcessingTime:   u.ProcessingTime,
		IPAddress:        u.IPAddress,
		UserAgent:        u.UserAgent,
		ResultCount:      resultCount,
	}
}

// toResultResponse преобразует результат разбора в DTO.
func toResultResponse(pr *model.ParseResult) resultResponse {
	raw := json.RawMessage(pr.RawData)
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}

	// markdown_image_paths хранит имена из markdown-текста;
	// физический путь восстанавливается по (upload_id, result_index)
	mdURLs := make([]string, 0, len(pr.MarkdownImagePaths))
	for _, name := range pr.MarkdownImagePaths {
		rel, err := blobstore.DerivedRelPath(pr.UploadID, pr.ResultIndex, blobstore.KindMarkdown, name)
		if err != nil {
			continue
		}
		mdURLs = append(mdURLs, mediaURL(rel))
	}

	// output_image_paths хранит готовые имена файлов в каталоге загрузки
	outURLs := make([]string, 0, len(pr.OutputImagePaths))
	for _, name := range pr.OutputImagePaths {
		outURLs = append(outURLs, mediaURL(path.Join("uploads", pr.UploadID, name)))
	}

	return resultResponse{
		ResultIndex:        pr.ResultIndex,
		PrunedResult:       pr.PrunedResult,
		MarkdownText:       pr.MarkdownText,
		RawData:            raw,
		MarkdownImagePaths: pr.MarkdownImagePaths,
		OutputImagePaths:   pr.OutputImagePaths,
		MarkdownImageURLs:  mdURLs,
		OutputImageURLs:    outURLs,
		CreatedAt:          pr.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// mediaURL строит URL артефакта из пути относительно media-директории.
func mediaURL(relPath string) string {
	return "/media/" + path.Clean(relPath)
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// paginationDefaults нормализует параметры пагинации из query string.
func paginationDefaults(limitStr, offsetStr string) (limit, offset int) {
	limit = 20
	offset = 0

	if limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil {
			limit = l
		}
	}
	if limit < 1 {
		limit = 1
	}
	if limit > 100 {
		limit = 100
	}

	if offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}
	return limit, offset
}
