// Пакет service — бизнес-логика Docparse.
// pipeline.go — конвейер обработки загрузки: валидация, сохранение
// оригинала, вызов сервиса layout-parsing, декомпозиция результатов.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	apierrors "github.com/arturkryukov/docparse/internal/api/errors"
	"github.com/arturkryukov/docparse/internal/config"
	"github.com/arturkryukov/docparse/internal/domain/model"
	"github.com/arturkryukov/docparse/internal/ocrclient"
	"github.com/arturkryukov/docparse/internal/repository"
	"github.com/arturkryukov/docparse/internal/storage/blobstore"
)

// Prometheus-метрики конвейера.
var (
	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dp_uploads_total",
		Help: "Общее количество обработанных загрузок по итоговому статусу.",
	}, []string{"status"})
	parseDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dp_parse_duration_seconds",
		Help:    "Длительность вызова сервиса layout-parsing.",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
	})
	parseResultsPerUpload = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dp_parse_results_per_upload",
		Help:    "Количество результатов разбора на одну загрузку.",
		Buckets: []float64{1, 2, 3, 5, 10, 20, 50},
	})
)

// allowedMIMETypes — допустимые MIME-типы загружаемых изображений.
var allowedMIMETypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/jpg":  true,
	"image/gif":  true,
	"image/bmp":  true,
}

// PipelineError — ошибка конвейера с HTTP-кодом.
type PipelineError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// UploadParams — параметры загрузки изображения.
type UploadParams struct {
	// Data — содержимое файла
	Data []byte
	// OriginalFilename — оригинальное имя файла
	OriginalFilename string
	// ContentType — MIME-тип из multipart part
	ContentType string
	// IPAddress — IP-адрес клиента (опционально)
	IPAddress string
	// UserAgent — User-Agent клиента (опционально)
	UserAgent string
}

// Parser — клиент сервиса layout-parsing.
type Parser interface {
	Parse(ctx context.Context, imageData []byte) (*ocrclient.ParseResponse, error)
}

// ArtifactStore — операции размещения артефактов на диске.
// Реализуется blobstore.BlobStore.
type ArtifactStore interface {
	StoreOriginal(uploadID string, data []byte, suggestedName string) (string, error)
	StoreDerived(uploadID string, resultIndex int, kind blobstore.ArtifactKind, name string, data []byte) (string, error)
	Open(relPath string) (io.ReadCloser, error)
	DeleteDerived(uploadID string, resultIndex int, outputNames []string) error
	DeleteTree(uploadID string) error
}

// ResultWriter — транзакционная запись набора результатов разбора.
type ResultWriter interface {
	CreateBatch(ctx context.Context, results []*model.ParseResult) error
}

// PipelineService — конвейер обработки загрузок.
type PipelineService struct {
	cfg     *config.Config
	uploads repository.UploadRepository
	results repository.ParseResultRepository
	writer  ResultWriter
	blobs   ArtifactStore
	parser  Parser
	logger  *slog.Logger
}

// NewPipelineService создаёт конвейер обработки.
func NewPipelineService(
	cfg *config.Config,
	uploads repository.UploadRepository,
	results repository.ParseResultRepository,
	writer ResultWriter,
	blobs ArtifactStore,
	parser Parser,
	logger *slog.Logger,
) *PipelineService {
	return &PipelineService{
		cfg:     cfg,
		uploads: uploads,
		results: results,
		writer:  writer,
		blobs:   blobs,
		parser:  parser,
		logger:  logger.With(slog.String("component", "pipeline_service")),
	}
}

// Upload выполняет полный конвейер обработки загруженного изображения.
//
// Поток:
//  1. Валидация MIME-типа и размера (до создания записи)
//  2. Создание записи в статусе processing
//  3. Сохранение оригинала в Blob Store
//  4. Вызов сервиса layout-parsing с замером времени
//  5. Декомпозиция результатов: артефакты на диск, строки одной транзакцией
//  6. Перевод записи в completed
//
// Любая ошибка после шага 2 переводит запись в failed с усечённым
// сообщением; вызывающему возвращается PipelineError с HTTP-кодом.
func (s *PipelineService) Upload(ctx context.Context, params UploadParams) (*model.UploadRecord, *PipelineError) {
	// 1. Валидация до создания записи — отказ здесь не оставляет следов
	if perr := s.validate(params); perr != nil {
		return nil, perr
	}

	// 2. Создаём запись сразу в processing: конвейер синхронный,
	// ожидания в pending не существует
	record := &model.UploadRecord{
		ID:               uuid.New().String(),
		OriginalFilename: params.OriginalFilename,
		FileSize:         int64(len(params.Data)),
		UploadTime:       time.Now().UTC(),
		Status:           model.StatusProcessing,
	}
	if params.IPAddress != "" {
		record.IPAddress = &params.IPAddress
	}
	if params.UserAgent != "" {
		record.UserAgent = &params.UserAgent
	}

	// 3. Сохраняем оригинал
	storagePath, err := s.blobs.StoreOriginal(record.ID, params.Data, params.OriginalFilename)
	if err != nil {
		s.logger.Error("Ошибка сохранения оригинала",
			slog.String("upload_id", record.ID),
			slog.String("error", err.Error()),
		)
		return nil, &PipelineError{
			StatusCode: 500,
			Code:       apierrors.CodeInternalError,
			Message:    "Ошибка сохранения файла на диск",
		}
	}
	record.StoragePath = storagePath

	if err := s.uploads.Create(ctx, record); err != nil {
		_ = s.blobs.DeleteTree(record.ID)
		s.logger.Error("Ошибка создания записи загрузки",
			slog.String("upload_id", record.ID),
			slog.String("error", err.Error()),
		)
		return nil, &PipelineError{
			StatusCode: 500,
			Code:       apierrors.CodeInternalError,
			Message:    "Ошибка создания записи загрузки",
		}
	}

	// 4-6. Разбор и декомпозиция
	if perr := s.process(ctx, record, params.Data); perr != nil {
		return record, perr
	}

	s.logger.Info("Загрузка обработана",
		slog.String("upload_id", record.ID),
		slog.String("filename", params.OriginalFilename),
		slog.Int64("size", record.FileSize),
	)
	return record, nil
}

// Retry повторно запускает конвейер для записи в статусе failed или
// pending. Результаты предыдущей попытки удаляются перед новым разбором.
func (s *PipelineService) Retry(ctx context.Context, id string) (*model.UploadRecord, *PipelineError) {
	record, err := s.uploads.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, &PipelineError{
				StatusCode: 404,
				Code:       apierrors.CodeNotFound,
				Message:    fmt.Sprintf("Запись %s не найдена", id),
			}
		}
		return nil, &PipelineError{
			StatusCode: 500,
			Code:       apierrors.CodeInternalError,
			Message:    "Ошибка получения записи",
		}
	}

	if !model.CanRetryFrom(record.Status) {
		return nil, &PipelineError{
			StatusCode: 409,
			Code:       apierrors.CodeInvalidStatus,
			Message:    fmt.Sprintf("Перезапуск из статуса %s недопустим", record.Status),
		}
	}

	// Атомарный перевод в processing: параллельный retry того же ID
	// получит конфликт на уровне БД
	allowed := []model.UploadStatus{model.StatusFailed, model.StatusPending}
	if err := s.uploads.SetProcessing(ctx, id, allowed); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, &PipelineError{
				StatusCode: 409,
				Code:       apierrors.CodeInvalidStatus,
				Message:    "Запись уже обрабатывается",
			}
		}
		return nil, &PipelineError{
			StatusCode: 500,
			Code:       apierrors.CodeInternalError,
			Message:    "Ошибка перевода записи в processing",
		}
	}
	record.Status = model.StatusProcessing

	// Удаляем результаты предыдущей попытки вместе с производными
	// артефактами: новый разбор может дать меньше страниц, и без очистки
	// старые каталоги и выходные файлы осиротели бы на диске
	prior, err := s.results.ListByUpload(ctx, id)
	if err != nil {
		s.failRecord(ctx, record, "ошибка чтения результатов предыдущей попытки", nil)
		return record, &PipelineError{
			StatusCode: 500,
			Code:       apierrors.CodeInternalError,
			Message:    "Ошибка очистки результатов предыдущей попытки",
		}
	}
	for _, pr := range prior {
		if err := s.blobs.DeleteDerived(id, pr.ResultIndex, pr.OutputImagePaths); err != nil {
			s.logger.Warn("Не удалось удалить артефакты предыдущей попытки",
				slog.String("upload_id", id),
				slog.Int("result_index", pr.ResultIndex),
				slog.String("error", err.Error()),
			)
		}
	}
	if _, err := s.results.DeleteByUpload(ctx, id); err != nil {
		s.failRecord(ctx, record, "ошибка очистки результатов предыдущей попытки", nil)
		return record, &PipelineError{
			StatusCode: 500,
			Code:       apierrors.CodeInternalError,
			Message:    "Ошибка очистки результатов предыдущей попытки",
		}
	}

	// Читаем оригинал с диска
	f, err := s.blobs.Open(record.StoragePath)
	if err != nil {
		s.failRecord(ctx, record, "оригинал загрузки отсутствует на диске", nil)
		return record, &PipelineError{
			StatusCode: 500,
			Code:       apierrors.CodeInternalError,
			Message:    "Оригинал загрузки отсутствует на диске",
		}
	}
	data, err := io.ReadAll(f)
	f.Close()
	if err != nil {
		s.failRecord(ctx, record, "ошибка чтения оригинала с диска", nil)
		return record, &PipelineError{
			StatusCode: 500,
			Code:       apierrors.CodeInternalError,
			Message:    "Ошибка чтения оригинала с диска",
		}
	}

	if perr := s.process(ctx, record, data); perr != nil {
		return record, perr
	}

	s.logger.Info("Перезапуск обработки завершён", slog.String("upload_id", id))
	return record, nil
}

// process выполняет разбор и декомпозицию для существующей записи
// в статусе processing.
func (s *PipelineService) process(ctx context.Context, record *model.UploadRecord, data []byte) *PipelineError {
	start := time.Now()
	resp, err := s.parser.Parse(ctx, data)
	elapsed := time.Since(start).Seconds()
	parseDuration.Observe(elapsed)

	if err != nil {
		return s.handleParseError(ctx, record, err, elapsed)
	}

	// Декомпозиция: сначала все артефакты на диск, затем все строки
	// одной транзакцией — читатели не видят половину результатов
	results := s.decompose(record.ID, resp)
	if err := s.writer.CreateBatch(ctx, results); err != nil {
		s.logger.Error("Ошибка записи результатов разбора",
			slog.String("upload_id", record.ID),
			slog.String("error", err.Error()),
		)
		s.failRecord(ctx, record, fmt.Sprintf("ошибка записи результатов: %v", err), &elapsed)
		return &PipelineError{
			StatusCode: 500,
			Code:       apierrors.CodeInternalError,
			Message:    "Ошибка записи результатов разбора",
		}
	}

	if err := s.uploads.SetTerminal(ctx, record.ID, model.StatusCompleted, "", &elapsed); err != nil {
		s.logger.Error("Ошибка перевода записи в completed",
			slog.String("upload_id", record.ID),
			slog.String("error", err.Error()),
		)
		return &PipelineError{
			StatusCode: 500,
			Code:       apierrors.CodeInternalError,
			Message:    "Ошибка обновления статуса записи",
		}
	}
	record.Status = model.StatusCompleted
	record.ProcessingTime = &elapsed

	uploadsTotal.WithLabelValues(string(model.StatusCompleted)).Inc()
	parseResultsPerUpload.Observe(float64(len(results)))
	return nil
}

// decompose разбирает ответ сервиса на строки результатов, записывая
// артефакты в Blob Store. Ошибка записи одной картинки пропускает только
// её — остальные изображения и результаты обрабатываются дальше.
func (s *PipelineService) decompose(uploadID string, resp *ocrclient.ParseResponse) []*model.ParseResult {
	results := make([]*model.ParseResult, 0, len(resp.Results))

	for i, entry := range resp.Results {
		pr := &model.ParseResult{
			UploadID:           uploadID,
			ResultIndex:        i,
			PrunedResult:       entry.PrunedResult,
			MarkdownText:       entry.MarkdownText,
			RawData:            entry.Raw,
			MarkdownImagePaths: []string{},
			OutputImagePaths:   []string{},
		}

		for _, img := range entry.MarkdownImages {
			if _, err := s.blobs.StoreDerived(uploadID, i, blobstore.KindMarkdown, img.Name, img.Data); err != nil {
				s.logger.Warn("Пропущено markdown-изображение",
					slog.String("upload_id", uploadID),
					slog.Int("result_index", i),
					slog.String("name", img.Name),
					slog.String("error", err.Error()),
				)
				continue
			}
			pr.MarkdownImagePaths = append(pr.MarkdownImagePaths, img.Name)
		}

		for _, img := range entry.OutputImages {
			if _, err := s.blobs.StoreDerived(uploadID, i, blobstore.KindOutput, img.Name, img.Data); err != nil {
				s.logger.Warn("Пропущено выходное изображение",
					slog.String("upload_id", uploadID),
					slog.Int("result_index", i),
					slog.String("name", img.Name),
					slog.String("error", err.Error()),
				)
				continue
			}
			pr.OutputImagePaths = append(pr.OutputImagePaths,
				fmt.Sprintf("%s_%s_%d.jpg", img.Name, uploadID, i))
		}

		results = append(results, pr)
	}
	return results
}

// handleParseError переводит запись в failed и строит PipelineError
// по классу ошибки клиента.
func (s *PipelineService) handleParseError(ctx context.Context, record *model.UploadRecord, err error, elapsed float64) *PipelineError {
	var ce *ocrclient.ClientError
	if !errors.As(err, &ce) {
		s.failRecord(ctx, record, err.Error(), &elapsed)
		return &PipelineError{
			StatusCode: 500,
			Code:       apierrors.CodeInternalError,
			Message:    "Ошибка обращения к сервису layout-parsing",
		}
	}

	s.failRecord(ctx, record, ce.Message, &elapsed)

	switch ce.Kind {
	case ocrclient.KindTimeout:
		return &PipelineError{
			StatusCode: 504,
			Code:       apierrors.CodeUpstreamTimeout,
			Message:    ce.Message,
		}
	case ocrclient.KindBadStatus:
		return &PipelineError{
			StatusCode: 502,
			Code:       apierrors.CodeUpstreamError,
			Message:    ce.Message,
		}
	case ocrclient.KindTransport:
		return &PipelineError{
			StatusCode: 502,
			Code:       apierrors.CodeUpstreamError,
			Message:    ce.Message,
		}
	default:
		return &PipelineError{
			StatusCode: 500,
			Code:       apierrors.CodeInternalError,
			Message:    ce.Message,
		}
	}
}

// failRecord переводит запись в failed с усечённым сообщением об ошибке.
func (s *PipelineService) failRecord(ctx context.Context, record *model.UploadRecord, message string, elapsed *float64) {
	truncated := model.TruncateError(message)
	if err := s.uploads.SetTerminal(ctx, record.ID, model.StatusFailed, truncated, elapsed); err != nil {
		s.logger.Error("Ошибка перевода записи в failed",
			slog.String("upload_id", record.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	record.Status = model.StatusFailed
	record.ErrorMessage = truncated
	record.ProcessingTime = elapsed
	uploadsTotal.WithLabelValues(string(model.StatusFailed)).Inc()
}

// validate проверяет MIME-тип и размер до создания записи.
func (s *PipelineService) validate(params UploadParams) *PipelineError {
	ct := strings.ToLower(params.ContentType)
	if idx := strings.Index(ct, ";"); idx != -1 {
		ct = strings.TrimSpace(ct[:idx])
	}
	if !allowedMIMETypes[ct] {
		return &PipelineError{
			StatusCode: 400,
			Code:       apierrors.CodeValidationError,
			Message:    fmt.Sprintf("Недопустимый тип файла %q, допустимые: png, jpeg, gif, bmp", params.ContentType),
		}
	}
	if int64(len(params.Data)) > s.cfg.MaxFileSize {
		return &PipelineError{
			StatusCode: 413,
			Code:       apierrors.CodeFileTooLarge,
			Message:    fmt.Sprintf("Размер файла %d байт превышает максимум %d байт", len(params.Data), s.cfg.MaxFileSize),
		}
	}
	if len(params.Data) == 0 {
		return &PipelineError{
			StatusCode: 400,
			Code:       apierrors.CodeValidationError,
			Message:    "Пустой файл",
		}
	}
	return nil
}
