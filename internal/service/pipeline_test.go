package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/arturkryukov/docparse/internal/config"
	"github.com/arturkryukov/docparse/internal/domain/model"
	"github.com/arturkryukov/docparse/internal/ocrclient"
	"github.com/arturkryukov/docparse/internal/repository"
	"github.com/arturkryukov/docparse/internal/storage/blobstore"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	return &config.Config{
		MaxFileSize:   10 * 1024 * 1024,
		StatsCacheTTL: time.Minute,
	}
}

// --- Фейки слоя репозиториев ---

// fakeUploadRepo — in-memory реализация UploadRepository.
type fakeUploadRepo struct {
	records map[string]*model.UploadRecord
}

func newFakeUploadRepo() *fakeUploadRepo {
	return &fakeUploadRepo{records: make(map[string]*model.UploadRecord)}
}

func (f *fakeUploadRepo) Create(_ context.Context, u *model.UploadRecord) error {
	if _, ok := f.records[u.ID]; ok {
		return repository.ErrConflict
	}
	cp := *u
	f.records[u.ID] = &cp
	return nil
}

func (f *fakeUploadRepo) GetByID(_ context.Context, id string) (*model.UploadRecord, error) {
	u, ok := f.records[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUploadRepo) List(_ context.Context, _ repository.ListFilters, _, _ int) ([]*model.UploadRecord, error) {
	var out []*model.UploadRecord
	for _, u := range f.records {
		cp := *u
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeUploadRepo) Count(_ context.Context, _ repository.ListFilters) (int, error) {
	return len(f.records), nil
}

func (f *fakeUploadRepo) ListByIDs(_ context.Context, ids []string) ([]*model.UploadRecord, error) {
	var out []*model.UploadRecord
	for _, id := range ids {
		if u, ok := f.records[id]; ok {
			cp := *u
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeUploadRepo) SetTerminal(_ context.Context, id string, status model.UploadStatus, errorMessage string, processingTime *float64) error {
	u, ok := f.records[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.Status = status
	u.ErrorMessage = errorMessage
	u.ProcessingTime = processingTime
	return nil
}

func (f *fakeUploadRepo) SetProcessing(_ context.Context, id string, allowedFrom []model.UploadStatus) error {
	u, ok := f.records[id]
	if !ok {
		return repository.ErrNotFound
	}
	for _, s := range allowedFrom {
		if u.Status == s {
			u.Status = model.StatusProcessing
			u.ErrorMessage = ""
			u.ProcessingTime = nil
			return nil
		}
	}
	return repository.ErrConflict
}

func (f *fakeUploadRepo) Delete(_ context.Context, id string) (bool, error) {
	_, ok := f.records[id]
	delete(f.records, id)
	return ok, nil
}

func (f *fakeUploadRepo) StatusCounts(_ context.Context) (map[model.UploadStatus]int, error) {
	counts := make(map[model.UploadStatus]int)
	for _, u := range f.records {
		counts[u.Status]++
	}
	return counts, nil
}

func (f *fakeUploadRepo) TodayCounts(_ context.Context) (int, int, error) {
	total, completed := 0, 0
	for _, u := range f.records {
		total++
		if u.Status == model.StatusCompleted {
			completed++
		}
	}
	return total, completed, nil
}

func (f *fakeUploadRepo) DailyStats(_ context.Context, days int) ([]repository.DailyStat, error) {
	return make([]repository.DailyStat, days), nil
}

func (f *fakeUploadRepo) SizeDistribution(_ context.Context) ([]repository.SizeBucket, error) {
	return []repository.SizeBucket{{Name: "<100KB", Count: len(f.records)}}, nil
}

// fakeResultRepo — in-memory реализация ParseResultRepository.
type fakeResultRepo struct {
	results map[string][]*model.ParseResult
}

func newFakeResultRepo() *fakeResultRepo {
	return &fakeResultRepo{results: make(map[string][]*model.ParseResult)}
}

func (f *fakeResultRepo) Create(_ context.Context, pr *model.ParseResult) error {
	for _, existing := range f.results[pr.UploadID] {
		if existing.ResultIndex == pr.ResultIndex {
			return repository.ErrConflict
		}
	}
	cp := *pr
	f.results[pr.UploadID] = append(f.results[pr.UploadID], &cp)
	return nil
}

func (f *fakeResultRepo) ListByUpload(_ context.Context, uploadID string) ([]*model.ParseResult, error) {
	return f.results[uploadID], nil
}

func (f *fakeResultRepo) GetByIndex(_ context.Context, uploadID string, resultIndex int) (*model.ParseResult, error) {
	for _, pr := range f.results[uploadID] {
		if pr.ResultIndex == resultIndex {
			return pr, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeResultRepo) CountByUpload(_ context.Context, uploadID string) (int, error) {
	return len(f.results[uploadID]), nil
}

func (f *fakeResultRepo) CountsForUploads(_ context.Context, uploadIDs []string) (map[string]int, error) {
	counts := make(map[string]int)
	for _, id := range uploadIDs {
		if n := len(f.results[id]); n > 0 {
			counts[id] = n
		}
	}
	return counts, nil
}

func (f *fakeResultRepo) DeleteByUpload(_ context.Context, uploadID string) (int, error) {
	n := len(f.results[uploadID])
	delete(f.results, uploadID)
	return n, nil
}

// fakeWriter — ResultWriter поверх fakeResultRepo с управляемым сбоем.
type fakeWriter struct {
	repo    *fakeResultRepo
	failErr error
}

func (f *fakeWriter) CreateBatch(ctx context.Context, results []*model.ParseResult) error {
	if f.failErr != nil {
		return f.failErr
	}
	for _, pr := range results {
		if err := f.repo.Create(ctx, pr); err != nil {
			return err
		}
	}
	return nil
}

// fakeParser — управляемый клиент layout-parsing.
type fakeParser struct {
	resp *ocrclient.ParseResponse
	err  error
}

func (f *fakeParser) Parse(_ context.Context, _ []byte) (*ocrclient.ParseResponse, error) {
	return f.resp, f.err
}

// newTestPipeline собирает конвейер с фейками и реальным BlobStore.
func newTestPipeline(t *testing.T, parser Parser) (*PipelineService, *fakeUploadRepo, *fakeResultRepo, *blobstore.BlobStore) {
	t.Helper()

	bs, err := blobstore.New(t.TempDir())
	if err != nil {
		t.Fatalf("ошибка создания BlobStore: %v", err)
	}

	uploads := newFakeUploadRepo()
	results := newFakeResultRepo()
	writer := &fakeWriter{repo: results}

	svc := NewPipelineService(testConfig(), uploads, results, writer, bs, parser, testLogger())
	return svc, uploads, results, bs
}

// twoPageResponse строит ответ: страница 0 с одной markdown- и одной
// выходной картинкой, страница 1 без картинок.
func twoPageResponse() *ocrclient.ParseResponse {
	raw0, _ := json.Marshal(map[string]string{"prunedResult": "страница 0"})
	raw1, _ := json.Marshal(map[string]string{"prunedResult": "страница 1"})
	return &ocrclient.ParseResponse{
		Results: []ocrclient.LayoutResult{
			{
				PrunedResult:   "страница 0",
				MarkdownText:   "# Первая",
				MarkdownImages: []ocrclient.NamedImage{{Name: "imgs/fig_1.jpg", Data: []byte("jpeg")}},
				OutputImages:   []ocrclient.NamedImage{{Name: "layout", Data: []byte("jpeg")}},
				Raw:            raw0,
			},
			{
				PrunedResult: "страница 1",
				MarkdownText: "вторая",
				Raw:          raw1,
			},
		},
	}
}

// TestUpload_TwoPages проверяет успешный конвейер с двумя страницами.
func TestUpload_TwoPages(t *testing.T) {
	parser := &fakeParser{resp: twoPageResponse()}
	svc, uploads, results, bs := newTestPipeline(t, parser)

	record, perr := svc.Upload(context.Background(), UploadParams{
		Data:             []byte("png bytes"),
		OriginalFilename: "scan.png",
		ContentType:      "image/png",
		IPAddress:        "10.0.0.1",
		UserAgent:        "curl/8.0",
	})
	if perr != nil {
		t.Fatalf("неожиданная ошибка: %v", perr)
	}

	if record.Status != model.StatusCompleted {
		t.Errorf("Status = %q, хотели completed", record.Status)
	}
	if record.ProcessingTime == nil {
		t.Error("ProcessingTime должен быть установлен")
	}
	if record.StoragePath == "" || !bs.Exists(record.StoragePath) {
		t.Error("оригинал должен быть сохранён на диск")
	}

	stored, _ := uploads.GetByID(context.Background(), record.ID)
	if stored.Status != model.StatusCompleted {
		t.Errorf("статус в БД = %q, хотели completed", stored.Status)
	}

	rows, _ := results.ListByUpload(context.Background(), record.ID)
	if len(rows) != 2 {
		t.Fatalf("ожидалось 2 результата, получено %d", len(rows))
	}
	if rows[0].ResultIndex != 0 || rows[1].ResultIndex != 1 {
		t.Error("result_index должны быть 0 и 1")
	}
	if len(rows[0].MarkdownImagePaths) != 1 || len(rows[0].OutputImagePaths) != 1 {
		t.Errorf("страница 0: md=%d, out=%d, хотели 1 и 1",
			len(rows[0].MarkdownImagePaths), len(rows[0].OutputImagePaths))
	}
	if len(rows[1].MarkdownImagePaths) != 0 || len(rows[1].OutputImagePaths) != 0 {
		t.Error("страница 1 не должна иметь путей изображений")
	}

	// Имя выходного файла содержит upload_id и индекс
	wantOut := fmt.Sprintf("layout_%s_0.jpg", record.ID)
	if rows[0].OutputImagePaths[0] != wantOut {
		t.Errorf("output path = %q, хотели %q", rows[0].OutputImagePaths[0], wantOut)
	}
}

// TestUpload_Oversized проверяет отказ без создания записи.
func TestUpload_Oversized(t *testing.T) {
	svc, uploads, _, _ := newTestPipeline(t, &fakeParser{})

	big := make([]byte, 11*1024*1024)
	_, perr := svc.Upload(context.Background(), UploadParams{
		Data:             big,
		OriginalFilename: "big.png",
		ContentType:      "image/png",
	})
	if perr == nil {
		t.Fatal("ожидалась ошибка")
	}
	if perr.StatusCode != 413 {
		t.Errorf("StatusCode = %d, хотели 413", perr.StatusCode)
	}

	if count, _ := uploads.Count(context.Background(), repository.ListFilters{}); count != 0 {
		t.Errorf("записей не должно быть создано, есть %d", count)
	}
}

// TestUpload_BadContentType проверяет отказ по MIME-типу.
func TestUpload_BadContentType(t *testing.T) {
	svc, uploads, _, _ := newTestPipeline(t, &fakeParser{})

	_, perr := svc.Upload(context.Background(), UploadParams{
		Data:             []byte("%PDF-1.7"),
		OriginalFilename: "doc.pdf",
		ContentType:      "application/pdf",
	})
	if perr == nil {
		t.Fatal("ожидалась ошибка")
	}
	if perr.StatusCode != 400 {
		t.Errorf("StatusCode = %d, хотели 400", perr.StatusCode)
	}

	if count, _ := uploads.Count(context.Background(), repository.ListFilters{}); count != 0 {
		t.Errorf("записей не должно быть создано, есть %d", count)
	}
}

// TestUpload_UpstreamBadStatus проверяет failed-запись при ошибке сервиса.
func TestUpload_UpstreamBadStatus(t *testing.T) {
	parser := &fakeParser{err: &ocrclient.ClientError{
		Kind:       ocrclient.KindBadStatus,
		StatusCode: 500,
		Message:    "сервис layout-parsing вернул статус 500",
	}}
	svc, uploads, results, _ := newTestPipeline(t, parser)

	record, perr := svc.Upload(context.Background(), UploadParams{
		Data:             []byte("png"),
		OriginalFilename: "scan.png",
		ContentType:      "image/png",
	})
	if perr == nil {
		t.Fatal("ожидалась ошибка")
	}
	if perr.StatusCode != 502 {
		t.Errorf("StatusCode = %d, хотели 502", perr.StatusCode)
	}

	stored, _ := uploads.GetByID(context.Background(), record.ID)
	if stored.Status != model.StatusFailed {
		t.Errorf("Status = %q, хотели failed", stored.Status)
	}
	if !strings.Contains(stored.ErrorMessage, "500") {
		t.Errorf("сообщение должно содержать код статуса: %q", stored.ErrorMessage)
	}

	if n, _ := results.CountByUpload(context.Background(), record.ID); n != 0 {
		t.Errorf("результатов быть не должно, есть %d", n)
	}
}

// TestUpload_UpstreamTimeout проверяет 504 и failed-запись при таймауте.
func TestUpload_UpstreamTimeout(t *testing.T) {
	parser := &fakeParser{err: &ocrclient.ClientError{
		Kind:    ocrclient.KindTimeout,
		Message: "таймаут запроса к сервису layout-parsing (120s)",
	}}
	svc, uploads, results, _ := newTestPipeline(t, parser)

	record, perr := svc.Upload(context.Background(), UploadParams{
		Data:             []byte("png"),
		OriginalFilename: "scan.png",
		ContentType:      "image/png",
	})
	if perr == nil {
		t.Fatal("ожидалась ошибка")
	}
	if perr.StatusCode != 504 {
		t.Errorf("StatusCode = %d, хотели 504", perr.StatusCode)
	}

	stored, _ := uploads.GetByID(context.Background(), record.ID)
	if stored.Status != model.StatusFailed {
		t.Errorf("Status = %q, хотели failed", stored.Status)
	}
	if !strings.Contains(strings.ToLower(stored.ErrorMessage), "таймаут") {
		t.Errorf("сообщение должно указывать на таймаут: %q", stored.ErrorMessage)
	}

	if n, _ := results.CountByUpload(context.Background(), record.ID); n != 0 {
		t.Errorf("результатов быть не должно, есть %d", n)
	}
}

// TestUpload_PersistFailure проверяет failed-запись при сбое записи строк.
func TestUpload_PersistFailure(t *testing.T) {
	parser := &fakeParser{resp: twoPageResponse()}
	bs, err := blobstore.New(t.TempDir())
	if err != nil {
		t.Fatalf("ошибка создания BlobStore: %v", err)
	}

	uploads := newFakeUploadRepo()
	results := newFakeResultRepo()
	writer := &fakeWriter{repo: results, failErr: errors.New("обрыв соединения с БД")}

	svc := NewPipelineService(testConfig(), uploads, results, writer, bs, parser, testLogger())

	record, perr := svc.Upload(context.Background(), UploadParams{
		Data:             []byte("png"),
		OriginalFilename: "scan.png",
		ContentType:      "image/png",
	})
	if perr == nil {
		t.Fatal("ожидалась ошибка")
	}
	if perr.StatusCode != 500 {
		t.Errorf("StatusCode = %d, хотели 500", perr.StatusCode)
	}

	stored, _ := uploads.GetByID(context.Background(), record.ID)
	if stored.Status != model.StatusFailed {
		t.Errorf("Status = %q, хотели failed", stored.Status)
	}
}

// TestUpload_LongErrorTruncated проверяет усечение сообщения об ошибке.
func TestUpload_LongErrorTruncated(t *testing.T) {
	parser := &fakeParser{err: &ocrclient.ClientError{
		Kind:    ocrclient.KindBadStatus,
		Message: strings.Repeat("x", model.MaxErrorMessageLen+200),
	}}
	svc, uploads, _, _ := newTestPipeline(t, parser)

	record, _ := svc.Upload(context.Background(), UploadParams{
		Data:             []byte("png"),
		OriginalFilename: "scan.png",
		ContentType:      "image/png",
	})

	stored, _ := uploads.GetByID(context.Background(), record.ID)
	if got := len([]rune(stored.ErrorMessage)); got != model.MaxErrorMessageLen {
		t.Errorf("длина сообщения = %d, хотели %d", got, model.MaxErrorMessageLen)
	}
}

// TestRetry_FromFailed проверяет перезапуск после сбоя.
func TestRetry_FromFailed(t *testing.T) {
	parser := &fakeParser{err: &ocrclient.ClientError{
		Kind:    ocrclient.KindTimeout,
		Message: "таймаут",
	}}
	svc, uploads, results, _ := newTestPipeline(t, parser)

	record, perr := svc.Upload(context.Background(), UploadParams{
		Data:             []byte("png"),
		OriginalFilename: "scan.png",
		ContentType:      "image/png",
	})
	if perr == nil {
		t.Fatal("первая попытка должна была завершиться ошибкой")
	}

	// Сервис ожил
	parser.err = nil
	parser.resp = twoPageResponse()

	retried, perr := svc.Retry(context.Background(), record.ID)
	if perr != nil {
		t.Fatalf("Retry() ошибка: %v", perr)
	}
	if retried.Status != model.StatusCompleted {
		t.Errorf("Status = %q, хотели completed", retried.Status)
	}

	stored, _ := uploads.GetByID(context.Background(), record.ID)
	if stored.ErrorMessage != "" {
		t.Errorf("ErrorMessage должен быть очищен: %q", stored.ErrorMessage)
	}
	if n, _ := results.CountByUpload(context.Background(), record.ID); n != 2 {
		t.Errorf("после перезапуска ожидалось 2 результата, получено %d", n)
	}
}

// TestRetry_CleansPriorArtifacts проверяет, что перезапуск удаляет
// производные артефакты предыдущей попытки: при меньшем числе страниц
// в новом ответе старые каталоги и выходные файлы не сиротеют на диске.
func TestRetry_CleansPriorArtifacts(t *testing.T) {
	parser := &fakeParser{resp: twoPageResponse()}
	svc, uploads, results, bs := newTestPipeline(t, parser)
	ctx := context.Background()

	record, perr := svc.Upload(ctx, UploadParams{
		Data:             []byte("png"),
		OriginalFilename: "scan.png",
		ContentType:      "image/png",
	})
	if perr != nil {
		t.Fatalf("Upload() ошибка: %v", perr)
	}

	oldMarkdown := fmt.Sprintf("uploads/%s/markdown_%s_0/imgs/fig_1.jpg", record.ID, record.ID)
	oldOutput := fmt.Sprintf("uploads/%s/layout_%s_0.jpg", record.ID, record.ID)
	if !bs.Exists(oldMarkdown) || !bs.Exists(oldOutput) {
		t.Fatal("артефакты первой попытки должны существовать")
	}

	// Переводим запись в failed и перезапускаем с ответом без картинок
	if err := uploads.SetTerminal(ctx, record.ID, model.StatusFailed, "таймаут", nil); err != nil {
		t.Fatalf("SetTerminal() ошибка: %v", err)
	}
	raw, _ := json.Marshal(map[string]string{"prunedResult": "страница 0"})
	parser.resp = &ocrclient.ParseResponse{
		Results: []ocrclient.LayoutResult{{PrunedResult: "страница 0", Raw: raw}},
	}

	retried, perr := svc.Retry(ctx, record.ID)
	if perr != nil {
		t.Fatalf("Retry() ошибка: %v", perr)
	}
	if retried.Status != model.StatusCompleted {
		t.Errorf("Status = %q, хотели completed", retried.Status)
	}

	if bs.Exists(oldMarkdown) {
		t.Error("markdown-артефакты предыдущей попытки должны быть удалены")
	}
	if bs.Exists(oldOutput) {
		t.Error("выходные изображения предыдущей попытки должны быть удалены")
	}
	if !bs.Exists(record.StoragePath) {
		t.Error("оригинал должен сохраниться после перезапуска")
	}
	if n, _ := results.CountByUpload(ctx, record.ID); n != 1 {
		t.Errorf("после перезапуска ожидался 1 результат, получено %d", n)
	}
}

// flakyStore — ArtifactStore поверх реального BlobStore, отказывающий
// в записи артефакта с заданным именем.
type flakyStore struct {
	*blobstore.BlobStore
	failName string
}

func (f *flakyStore) StoreDerived(uploadID string, resultIndex int, kind blobstore.ArtifactKind, name string, data []byte) (string, error) {
	if name == f.failName {
		return "", errors.New("диск переполнен")
	}
	return f.BlobStore.StoreDerived(uploadID, resultIndex, kind, name, data)
}

// TestUpload_SkipsFailedArtifactWrite проверяет, что сбой записи одного
// артефакта пропускает только его: остальные изображения и страницы
// обрабатываются, загрузка завершается успешно.
func TestUpload_SkipsFailedArtifactWrite(t *testing.T) {
	bs, err := blobstore.New(t.TempDir())
	if err != nil {
		t.Fatalf("ошибка создания BlobStore: %v", err)
	}
	store := &flakyStore{BlobStore: bs, failName: "imgs/broken.jpg"}

	raw0, _ := json.Marshal(map[string]string{"prunedResult": "страница 0"})
	raw1, _ := json.Marshal(map[string]string{"prunedResult": "страница 1"})
	parser := &fakeParser{resp: &ocrclient.ParseResponse{
		Results: []ocrclient.LayoutResult{
			{
				PrunedResult: "страница 0",
				MarkdownImages: []ocrclient.NamedImage{
					{Name: "imgs/broken.jpg", Data: []byte("jpeg")},
					{Name: "imgs/good.jpg", Data: []byte("jpeg")},
				},
				OutputImages: []ocrclient.NamedImage{{Name: "layout", Data: []byte("jpeg")}},
				Raw:          raw0,
			},
			{
				PrunedResult: "страница 1",
				OutputImages: []ocrclient.NamedImage{{Name: "layout", Data: []byte("jpeg")}},
				Raw:          raw1,
			},
		},
	}}

	uploads := newFakeUploadRepo()
	results := newFakeResultRepo()
	writer := &fakeWriter{repo: results}
	svc := NewPipelineService(testConfig(), uploads, results, writer, store, parser, testLogger())

	record, perr := svc.Upload(context.Background(), UploadParams{
		Data:             []byte("png"),
		OriginalFilename: "scan.png",
		ContentType:      "image/png",
	})
	if perr != nil {
		t.Fatalf("сбой записи одной картинки не должен обрушить загрузку: %v", perr)
	}
	if record.Status != model.StatusCompleted {
		t.Errorf("Status = %q, хотели completed", record.Status)
	}

	rows, _ := results.ListByUpload(context.Background(), record.ID)
	if len(rows) != 2 {
		t.Fatalf("ожидалось 2 результата, получено %d", len(rows))
	}
	if len(rows[0].MarkdownImagePaths) != 1 || rows[0].MarkdownImagePaths[0] != "imgs/good.jpg" {
		t.Errorf("страница 0: пропущена должна быть только битая картинка, пути %v",
			rows[0].MarkdownImagePaths)
	}
	if len(rows[0].OutputImagePaths) != 1 {
		t.Errorf("страница 0: выходное изображение должно быть записано, пути %v",
			rows[0].OutputImagePaths)
	}
	if len(rows[1].OutputImagePaths) != 1 {
		t.Errorf("страница 1: выходное изображение должно быть записано, пути %v",
			rows[1].OutputImagePaths)
	}
}

// TestRetry_FromCompleted проверяет запрет перезапуска завершённой записи.
func TestRetry_FromCompleted(t *testing.T) {
	parser := &fakeParser{resp: twoPageResponse()}
	svc, _, _, _ := newTestPipeline(t, parser)

	record, perr := svc.Upload(context.Background(), UploadParams{
		Data:             []byte("png"),
		OriginalFilename: "scan.png",
		ContentType:      "image/png",
	})
	if perr != nil {
		t.Fatalf("Upload() ошибка: %v", perr)
	}

	_, perr = svc.Retry(context.Background(), record.ID)
	if perr == nil {
		t.Fatal("ожидалась ошибка")
	}
	if perr.StatusCode != 409 {
		t.Errorf("StatusCode = %d, хотели 409", perr.StatusCode)
	}
}

// TestRetry_NotFound проверяет 404 для несуществующей записи.
func TestRetry_NotFound(t *testing.T) {
	svc, _, _, _ := newTestPipeline(t, &fakeParser{})

	_, perr := svc.Retry(context.Background(), "00000000-0000-0000-0000-000000000000")
	if perr == nil {
		t.Fatal("ожидалась ошибка")
	}
	if perr.StatusCode != 404 {
		t.Errorf("StatusCode = %d, хотели 404", perr.StatusCode)
	}
}
