package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/arturkryukov/docparse/internal/domain/model"
)

// UploadRepository — CRUD и агрегации для таблицы image_uploads.
type UploadRepository interface {
	// Create создаёт новую запись загрузки.
	Create(ctx context.Context, u *model.UploadRecord) error
	// GetByID возвращает запись по UUID.
	GetByID(ctx context.Context, id string) (*model.UploadRecord, error)
	// List возвращает страницу записей с фильтрацией, новые сверху.
	List(ctx context.Context, filters ListFilters, limit, offset int) ([]*model.UploadRecord, error)
	// Count возвращает количество записей с фильтрацией.
	Count(ctx context.Context, filters ListFilters) (int, error)
	// ListByIDs возвращает записи по списку UUID, новые сверху.
	ListByIDs(ctx context.Context, ids []string) ([]*model.UploadRecord, error)
	// SetTerminal переводит запись в терминальный статус, записывая
	// сообщение об ошибке и длительность обработки.
	SetTerminal(ctx context.Context, id string, status model.UploadStatus, errorMessage string, processingTime *float64) error
	// SetProcessing переводит запись в processing из одного из статусов
	// allowedFrom. Возвращает ErrConflict, если текущий статус не подходит.
	SetProcessing(ctx context.Context, id string, allowedFrom []model.UploadStatus) error
	// Delete удаляет запись. Возвращает true, если запись существовала.
	Delete(ctx context.Context, id string) (bool, error)
	// StatusCounts возвращает количество записей по каждому статусу.
	StatusCounts(ctx context.Context) (map[model.UploadStatus]int, error)
	// TodayCounts возвращает общее и завершённое количество загрузок за сегодня.
	TodayCounts(ctx context.Context) (total, completed int, err error)
	// DailyStats возвращает посуточную статистику за последние days дней.
	DailyStats(ctx context.Context, days int) ([]DailyStat, error)
	// SizeDistribution возвращает распределение записей по размеру файла.
	SizeDistribution(ctx context.Context) ([]SizeBucket, error)
}

// ListFilters — фильтры списка записей.
// Search ищет подстроку без учёта регистра в имени файла и в текстах
// результатов разбора.
type ListFilters struct {
	Search   *string
	Status   *model.UploadStatus
	DateFrom *time.Time
	DateTo   *time.Time
}

// DailyStat — статистика загрузок за один день.
type DailyStat struct {
	Date      time.Time
	Total     int
	Completed int
	Failed    int
}

// SizeBucket — количество записей в диапазоне размеров файла.
type SizeBucket struct {
	Name  string
	Count int
}

// uploadColumns — список колонок для SELECT записей.
const uploadColumns = `id, original_filename, storage_path, file_size, upload_time,
	status, error_message, processing_time, ip_address, user_agent, created_at, updated_at`

type uploadRepo struct {
	db DBTX
}

// NewUploadRepository создаёт репозиторий записей загрузок.
func NewUploadRepository(db DBTX) UploadRepository {
	return &uploadRepo{db: db}
}

func (r *uploadRepo) Create(ctx context.Context, u *model.UploadRecord) error {
	query := `
		INSERT INTO image_uploads (id, original_filename, storage_path, file_size,
			upload_time, status, error_message, processing_time, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		u.ID, u.OriginalFilename, u.StoragePath, u.FileSize,
		u.UploadTime, u.Status, u.ErrorMessage, u.ProcessingTime, u.IPAddress, u.UserAgent,
	).Scan(&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: запись с таким ID уже существует", ErrConflict)
		}
		return fmt.Errorf("ошибка создания записи загрузки: %w", err)
	}
	return nil
}

func (r *uploadRepo) GetByID(ctx context.Context, id string) (*model.UploadRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM image_uploads WHERE id = $1`, uploadColumns)

	u := &model.UploadRecord{}
	err := scanUpload(r.db.QueryRow(ctx, query, id), u)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения записи загрузки: %w", err)
	}
	return u, nil
}

// buildUploadWhere строит WHERE-условие и аргументы для фильтрации записей.
// Поиск по текстам результатов выполняется через EXISTS, чтобы не
// дублировать строки записей при нескольких совпавших результатах.
func buildUploadWhere(filters ListFilters, startArg int) (string, []any) {
	var conditions []string
	var args []any
	argNum := startArg

	if filters.Search != nil {
		conditions = append(conditions, fmt.Sprintf(`(
			original_filename ILIKE '%%' || $%d || '%%'
			OR EXISTS (
				SELECT 1 FROM parse_results pr
				WHERE pr.upload_id = image_uploads.id
					AND (pr.pruned_result ILIKE '%%' || $%d || '%%'
						OR pr.markdown_text ILIKE '%%' || $%d || '%%')
			))`, argNum, argNum, argNum))
		args = append(args, *filters.Search)
		argNum++
	}
	if filters.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argNum))
		args = append(args, *filters.Status)
		argNum++
	}
	if filters.DateFrom != nil {
		conditions = append(conditions, fmt.Sprintf("upload_time::date >= $%d::date", argNum))
		args = append(args, *filters.DateFrom)
		argNum++
	}
	if filters.DateTo != nil {
		conditions = append(conditions, fmt.Sprintf("upload_time::date <= $%d::date", argNum))
		args = append(args, *filters.DateTo)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}
	return where, args
}

func (r *uploadRepo) List(ctx context.Context, filters ListFilters, limit, offset int) ([]*model.UploadRecord, error) {
	where, args := buildUploadWhere(filters, 1)
	argNum := len(args) + 1

	query := fmt.Sprintf(`
		SELECT %s
		FROM image_uploads
		%s
		ORDER BY upload_time DESC
		LIMIT $%d OFFSET $%d`, uploadColumns, where, argNum, argNum+1)

	args = append(args, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка записей: %w", err)
	}
	defer rows.Close()

	return collectUploads(rows)
}

func (r *uploadRepo) Count(ctx context.Context, filters ListFilters) (int, error) {
	where, args := buildUploadWhere(filters, 1)
	query := fmt.Sprintf(`SELECT COUNT(*) FROM image_uploads %s`, where)

	var count int
	if err := r.db.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта записей: %w", err)
	}
	return count, nil
}

func (r *uploadRepo) ListByIDs(ctx context.Context, ids []string) ([]*model.UploadRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM image_uploads
		WHERE id = ANY($1)
		ORDER BY upload_time DESC`, uploadColumns)

	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения записей по ID: %w", err)
	}
	defer rows.Close()

	return collectUploads(rows)
}

func (r *uploadRepo) SetTerminal(ctx context.Context, id string, status model.UploadStatus, errorMessage string, processingTime *float64) error {
	query := `
		UPDATE image_uploads
		SET status = $2, error_message = $3, processing_time = $4, updated_at = now()
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, status, errorMessage, processingTime)
	if err != nil {
		return fmt.Errorf("ошибка обновления статуса записи: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *uploadRepo) SetProcessing(ctx context.Context, id string, allowedFrom []model.UploadStatus) error {
	from := make([]string, 0, len(allowedFrom))
	for _, s := range allowedFrom {
		from = append(from, string(s))
	}

	query := `
		UPDATE image_uploads
		SET status = 'processing', error_message = '', processing_time = NULL, updated_at = now()
		WHERE id = $1 AND status = ANY($2)`

	tag, err := r.db.Exec(ctx, query, id, from)
	if err != nil {
		return fmt.Errorf("ошибка перевода записи в processing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Либо записи нет, либо её статус не допускает перезапуск
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return ErrConflict
	}
	return nil
}

func (r *uploadRepo) Delete(ctx context.Context, id string) (bool, error) {
	// parse_results удаляются каскадно по FK
	tag, err := r.db.Exec(ctx, `DELETE FROM image_uploads WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("ошибка удаления записи: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *uploadRepo) StatusCounts(ctx context.Context) (map[model.UploadStatus]int, error) {
	rows, err := r.db.Query(ctx, `SELECT status, COUNT(*) FROM image_uploads GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("ошибка подсчёта статусов: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.UploadStatus]int)
	for rows.Next() {
		var status model.UploadStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("ошибка сканирования статуса: %w", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

func (r *uploadRepo) TodayCounts(ctx context.Context) (total, completed int, err error) {
	query := `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE status = 'completed')
		FROM image_uploads
		WHERE upload_time::date = now()::date`

	if err := r.db.QueryRow(ctx, query).Scan(&total, &completed); err != nil {
		return 0, 0, fmt.Errorf("ошибка подсчёта загрузок за сегодня: %w", err)
	}
	return total, completed, nil
}

func (r *uploadRepo) DailyStats(ctx context.Context, days int) ([]DailyStat, error) {
	// generate_series даёт нулевые строки для дней без загрузок
	query := `
		SELECT d::date,
			COUNT(u.id),
			COUNT(u.id) FILTER (WHERE u.status = 'completed'),
			COUNT(u.id) FILTER (WHERE u.status = 'failed')
		FROM generate_series(now()::date - ($1 - 1) * INTERVAL '1 day', now()::date, INTERVAL '1 day') AS d
		LEFT JOIN image_uploads u ON u.upload_time::date = d::date
		GROUP BY d::date
		ORDER BY d::date`

	rows, err := r.db.Query(ctx, query, days)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения посуточной статистики: %w", err)
	}
	defer rows.Close()

	var stats []DailyStat
	for rows.Next() {
		var s DailyStat
		if err := rows.Scan(&s.Date, &s.Total, &s.Completed, &s.Failed); err != nil {
			return nil, fmt.Errorf("ошибка сканирования статистики: %w", err)
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// sizeBuckets — границы диапазонов распределения по размеру файла.
var sizeBuckets = []struct {
	name string
	min  int64
	max  int64 // 0 — без верхней границы
}{
	{"<100KB", 0, 100 * 1024},
	{"100KB-1MB", 100 * 1024, 1024 * 1024},
	{"1MB-5MB", 1024 * 1024, 5 * 1024 * 1024},
	{"5MB-10MB", 5 * 1024 * 1024, 10 * 1024 * 1024},
	{">10MB", 10 * 1024 * 1024, 0},
}

func (r *uploadRepo) SizeDistribution(ctx context.Context) ([]SizeBucket, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE file_size < $1),
			COUNT(*) FILTER (WHERE file_size >= $1 AND file_size < $2),
			COUNT(*) FILTER (WHERE file_size >= $2 AND file_size < $3),
			COUNT(*) FILTER (WHERE file_size >= $3 AND file_size < $4),
			COUNT(*) FILTER (WHERE file_size >= $4)
		FROM image_uploads`

	counts := make([]int, len(sizeBuckets))
	err := r.db.QueryRow(ctx, query,
		sizeBuckets[1].min, sizeBuckets[2].min, sizeBuckets[3].min, sizeBuckets[4].min,
	).Scan(&counts[0], &counts[1], &counts[2], &counts[3], &counts[4])
	if err != nil {
		return nil, fmt.Errorf("ошибка получения распределения размеров: %w", err)
	}

	out := make([]SizeBucket, len(sizeBuckets))
	for i, b := range sizeBuckets {
		out[i] = SizeBucket{Name: b.name, Count: counts[i]}
	}
	return out, nil
}

// scanUpload сканирует одну строку image_uploads в модель.
func scanUpload(row pgx.Row, u *model.UploadRecord) error {
	return row.Scan(
		&u.ID, &u.OriginalFilename, &u.StoragePath, &u.FileSize, &u.UploadTime,
		&u.Status, &u.ErrorMessage, &u.ProcessingTime, &u.IPAddress, &u.UserAgent,
		&u.CreatedAt, &u.UpdatedAt,
	)
}

// collectUploads собирает все строки результата в срез моделей.
func collectUploads(rows pgx.Rows) ([]*model.UploadRecord, error) {
	var result []*model.UploadRecord
	for rows.Next() {
		u := &model.UploadRecord{}
		if err := scanUpload(rows, u); err != nil {
			return nil, fmt.Errorf("ошибка сканирования записи: %w", err)
		}
		result = append(result, u)
	}
	return result, rows.Err()
}
