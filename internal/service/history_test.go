package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/arturkryukov/docparse/internal/domain/model"
	"github.com/arturkryukov/docparse/internal/repository"
	"github.com/arturkryukov/docparse/internal/storage/blobstore"
)

// newTestHistory собирает сервис истории с фейками и реальным BlobStore.
func newTestHistory(t *testing.T) (*HistoryService, *fakeUploadRepo, *fakeResultRepo, *blobstore.BlobStore) {
	t.Helper()

	bs, err := blobstore.New(t.TempDir())
	if err != nil {
		t.Fatalf("ошибка создания BlobStore: %v", err)
	}
	uploads := newFakeUploadRepo()
	results := newFakeResultRepo()
	svc := NewHistoryService(uploads, results, bs, testLogger())
	return svc, uploads, results, bs
}

func seedRecord(t *testing.T, uploads *fakeUploadRepo, status model.UploadStatus) *model.UploadRecord {
	t.Helper()
	pt := 2.5
	u := &model.UploadRecord{
		ID:               uuid.New().String(),
		OriginalFilename: "scan.png",
		StoragePath:      "uploads/x/abc.png",
		FileSize:         2048,
		UploadTime:       time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
		Status:           status,
		ProcessingTime:   &pt,
	}
	if err := uploads.Create(context.Background(), u); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}
	return u
}

// TestHistoryList проверяет страницу списка с количеством результатов.
func TestHistoryList(t *testing.T) {
	svc, uploads, results, _ := newTestHistory(t)
	ctx := context.Background()

	u := seedRecord(t, uploads, model.StatusCompleted)
	seedRecord(t, uploads, model.StatusFailed)

	if err := results.Create(ctx, &model.ParseResult{UploadID: u.ID, ResultIndex: 0}); err != nil {
		t.Fatalf("Create(ParseResult) ошибка: %v", err)
	}

	page, err := svc.List(ctx, repository.ListFilters{}, 20, 0)
	if err != nil {
		t.Fatalf("List() ошибка: %v", err)
	}
	if page.Total != 2 || len(page.Records) != 2 {
		t.Errorf("Total = %d, записей %d; хотели 2 и 2", page.Total, len(page.Records))
	}
	if page.ResultCounts[u.ID] != 1 {
		t.Errorf("ResultCounts[%s] = %d, хотели 1", u.ID, page.ResultCounts[u.ID])
	}
}

// TestHistoryGet проверяет деталь записи с результатами.
func TestHistoryGet(t *testing.T) {
	svc, uploads, results, _ := newTestHistory(t)
	ctx := context.Background()

	u := seedRecord(t, uploads, model.StatusCompleted)
	if err := results.Create(ctx, &model.ParseResult{UploadID: u.ID, ResultIndex: 0, PrunedResult: "текст"}); err != nil {
		t.Fatalf("Create(ParseResult) ошибка: %v", err)
	}

	detail, err := svc.Get(ctx, u.ID)
	if err != nil {
		t.Fatalf("Get() ошибка: %v", err)
	}
	if detail.Record.ID != u.ID || len(detail.Results) != 1 {
		t.Errorf("Record.ID = %q, результатов %d", detail.Record.ID, len(detail.Results))
	}

	if _, err := svc.Get(ctx, uuid.New().String()); err != ErrRecordNotFound {
		t.Errorf("ожидали ErrRecordNotFound, получили: %v", err)
	}
}

// TestHistoryDelete проверяет удаление записи вместе с артефактами.
func TestHistoryDelete(t *testing.T) {
	svc, uploads, _, bs := newTestHistory(t)
	ctx := context.Background()

	u := seedRecord(t, uploads, model.StatusCompleted)
	relPath, err := bs.StoreOriginal(u.ID, []byte("orig"), "scan.png")
	if err != nil {
		t.Fatalf("StoreOriginal() ошибка: %v", err)
	}

	existed, err := svc.Delete(ctx, u.ID)
	if err != nil {
		t.Fatalf("Delete() ошибка: %v", err)
	}
	if !existed {
		t.Error("Delete() должен вернуть true")
	}
	if bs.Exists(relPath) {
		t.Error("артефакты должны быть удалены")
	}

	// Повторное удаление — no-op
	existed, err = svc.Delete(ctx, u.ID)
	if err != nil {
		t.Fatalf("повторный Delete() ошибка: %v", err)
	}
	if existed {
		t.Error("повторный Delete() должен вернуть false")
	}
}

// TestHistoryBulkDelete проверяет пакетное удаление.
func TestHistoryBulkDelete(t *testing.T) {
	svc, uploads, _, _ := newTestHistory(t)
	ctx := context.Background()

	u1 := seedRecord(t, uploads, model.StatusCompleted)
	u2 := seedRecord(t, uploads, model.StatusFailed)

	res, err := svc.BulkDelete(ctx, []string{u1.ID, u2.ID, uuid.New().String()})
	if err != nil {
		t.Fatalf("BulkDelete() ошибка: %v", err)
	}
	// Несуществующий ID — no-op, не ошибка
	if res.Deleted != 2 || res.Failed != 0 {
		t.Errorf("Deleted = %d, Failed = %d; хотели 2 и 0", res.Deleted, res.Failed)
	}
}

// TestExportCSV проверяет формат CSV-экспорта.
func TestExportCSV(t *testing.T) {
	svc, uploads, results, _ := newTestHistory(t)
	ctx := context.Background()

	u := seedRecord(t, uploads, model.StatusCompleted)
	if err := results.Create(ctx, &model.ParseResult{UploadID: u.ID, ResultIndex: 0}); err != nil {
		t.Fatalf("Create(ParseResult) ошибка: %v", err)
	}

	var buf bytes.Buffer
	if err := svc.ExportCSV(ctx, []string{u.ID}, &buf); err != nil {
		t.Fatalf("ExportCSV() ошибка: %v", err)
	}

	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("ошибка чтения CSV: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("ожидалось 2 строки CSV, получено %d", len(rows))
	}
	if rows[0][0] != "ID" || rows[0][6] != "Results" {
		t.Errorf("некорректный заголовок: %v", rows[0])
	}

	row := rows[1]
	if row[0] != u.ID {
		t.Errorf("ID = %q, хотели %q", row[0], u.ID)
	}
	if row[2] != "2.0 KB" {
		t.Errorf("размер = %q, хотели %q", row[2], "2.0 KB")
	}
	if row[4] != "completed" {
		t.Errorf("статус = %q", row[4])
	}
	if !strings.HasSuffix(row[5], "s") {
		t.Errorf("длительность должна заканчиваться на s: %q", row[5])
	}
	if row[6] != "1" {
		t.Errorf("количество результатов = %q, хотели 1", row[6])
	}
}

// TestStatistics проверяет сводку и кэширование статистики.
func TestStatistics(t *testing.T) {
	uploads := newFakeUploadRepo()
	seedRecord(t, uploads, model.StatusCompleted)
	seedRecord(t, uploads, model.StatusCompleted)
	seedRecord(t, uploads, model.StatusFailed)

	svc := NewStatsService(uploads, time.Minute, testLogger())
	ctx := context.Background()

	stats, err := svc.Statistics(ctx, 7)
	if err != nil {
		t.Fatalf("Statistics() ошибка: %v", err)
	}
	if stats.Summary.Total != 3 || stats.Summary.Completed != 2 || stats.Summary.Failed != 1 {
		t.Errorf("Summary = %+v", stats.Summary)
	}
	if len(stats.StatusDistribution) != 2 {
		t.Errorf("в распределении %d статусов, хотели 2 (нулевые опускаются)", len(stats.StatusDistribution))
	}

	// Новая запись не видна, пока TTL кэша не истёк
	seedRecord(t, uploads, model.StatusCompleted)
	cached, err := svc.Statistics(ctx, 7)
	if err != nil {
		t.Fatalf("Statistics() ошибка: %v", err)
	}
	if cached.Summary.Total != 3 {
		t.Errorf("закэшированный Total = %d, хотели 3", cached.Summary.Total)
	}

	// После инвалидации — свежие данные
	svc.Invalidate()
	fresh, err := svc.Statistics(ctx, 7)
	if err != nil {
		t.Fatalf("Statistics() ошибка: %v", err)
	}
	if fresh.Summary.Total != 4 {
		t.Errorf("после инвалидации Total = %d, хотели 4", fresh.Summary.Total)
	}
}
