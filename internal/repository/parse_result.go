package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/arturkryukov/docparse/internal/domain/model"
)

// ParseResultRepository — операции над таблицей parse_results.
// Строки создаются декомпозитором и после создания не изменяются.
type ParseResultRepository interface {
	// Create вставляет одну строку результата.
	Create(ctx context.Context, pr *model.ParseResult) error
	// ListByUpload возвращает результаты загрузки в порядке result_index.
	ListByUpload(ctx context.Context, uploadID string) ([]*model.ParseResult, error)
	// GetByIndex возвращает один результат по (upload_id, result_index).
	GetByIndex(ctx context.Context, uploadID string, resultIndex int) (*model.ParseResult, error)
	// CountByUpload возвращает количество результатов загрузки.
	CountByUpload(ctx context.Context, uploadID string) (int, error)
	// CountsForUploads возвращает количество результатов для каждой
	// из указанных загрузок одним запросом.
	CountsForUploads(ctx context.Context, uploadIDs []string) (map[string]int, error)
	// DeleteByUpload удаляет все результаты загрузки.
	DeleteByUpload(ctx context.Context, uploadID string) (int, error)
}

type parseResultRepo struct {
	db DBTX
}

// NewParseResultRepository создаёт репозиторий результатов разбора.
func NewParseResultRepository(db DBTX) ParseResultRepository {
	return &parseResultRepo{db: db}
}

func (r *parseResultRepo) Create(ctx context.Context, pr *model.ParseResult) error {
	query := `
		INSERT INTO parse_results (upload_id, result_index, pruned_result,
			markdown_text, raw_data, markdown_image_paths, output_image_paths)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`

	rawData := pr.RawData
	if len(rawData) == 0 {
		rawData = []byte("{}")
	}

	err := r.db.QueryRow(ctx, query,
		pr.UploadID, pr.ResultIndex, pr.PrunedResult,
		pr.MarkdownText, rawData,
		jsonStringList(pr.MarkdownImagePaths), jsonStringList(pr.OutputImagePaths),
	).Scan(&pr.ID, &pr.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: результат с индексом %d уже существует", ErrConflict, pr.ResultIndex)
		}
		return fmt.Errorf("ошибка создания результата разбора: %w", err)
	}
	return nil
}

func (r *parseResultRepo) ListByUpload(ctx context.Context, uploadID string) ([]*model.ParseResult, error) {
	query := `
		SELECT id, upload_id, result_index, pruned_result, markdown_text,
			raw_data, markdown_image_paths, output_image_paths, created_at
		FROM parse_results
		WHERE upload_id = $1
		ORDER BY result_index`

	rows, err := r.db.Query(ctx, query, uploadID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения результатов разбора: %w", err)
	}
	defer rows.Close()

	var result []*model.ParseResult
	for rows.Next() {
		pr := &model.ParseResult{}
		var mdPaths, outPaths []byte
		if err := rows.Scan(
			&pr.ID, &pr.UploadID, &pr.ResultIndex, &pr.PrunedResult, &pr.MarkdownText,
			&pr.RawData, &mdPaths, &outPaths, &pr.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("ошибка сканирования результата: %w", err)
		}
		if pr.MarkdownImagePaths, err = decodeStringList(mdPaths); err != nil {
			return nil, fmt.Errorf("ошибка декодирования markdown_image_paths: %w", err)
		}
		if pr.OutputImagePaths, err = decodeStringList(outPaths); err != nil {
			return nil, fmt.Errorf("ошибка декодирования output_image_paths: %w", err)
		}
		result = append(result, pr)
	}
	return result, rows.Err()
}

func (r *parseResultRepo) GetByIndex(ctx context.Context, uploadID string, resultIndex int) (*model.ParseResult, error) {
	query := `
		SELECT id, upload_id, result_index, pruned_result, markdown_text,
			raw_data, markdown_image_paths, output_image_paths, created_at
		FROM parse_results
		WHERE upload_id = $1 AND result_index = $2`

	pr := &model.ParseResult{}
	var mdPaths, outPaths []byte
	err := r.db.QueryRow(ctx, query, uploadID, resultIndex).Scan(
		&pr.ID, &pr.UploadID, &pr.ResultIndex, &pr.PrunedResult, &pr.MarkdownText,
		&pr.RawData, &mdPaths, &outPaths, &pr.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения результата разбора: %w", err)
	}
	if pr.MarkdownImagePaths, err = decodeStringList(mdPaths); err != nil {
		return nil, fmt.Errorf("ошибка декодирования markdown_image_paths: %w", err)
	}
	if pr.OutputImagePaths, err = decodeStringList(outPaths); err != nil {
		return nil, fmt.Errorf("ошибка декодирования output_image_paths: %w", err)
	}
	return pr, nil
}

func (r *parseResultRepo) CountByUpload(ctx context.Context, uploadID string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM parse_results WHERE upload_id = $1`, uploadID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта результатов: %w", err)
	}
	return count, nil
}

func (r *parseResultRepo) CountsForUploads(ctx context.Context, uploadIDs []string) (map[string]int, error) {
	counts := make(map[string]int, len(uploadIDs))
	if len(uploadIDs) == 0 {
		return counts, nil
	}

	query := `
		SELECT upload_id, COUNT(*)
		FROM parse_results
		WHERE upload_id = ANY($1)
		GROUP BY upload_id`

	rows, err := r.db.Query(ctx, query, uploadIDs)
	if err != nil {
		return nil, fmt.Errorf("ошибка подсчёта результатов: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var count int
		if err := rows.Scan(&id, &count); err != nil {
			return nil, fmt.Errorf("ошибка сканирования подсчёта: %w", err)
		}
		counts[id] = count
	}
	return counts, rows.Err()
}

func (r *parseResultRepo) DeleteByUpload(ctx context.Context, uploadID string) (int, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM parse_results WHERE upload_id = $1`, uploadID)
	if err != nil {
		return 0, fmt.Errorf("ошибка удаления результатов: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// TxParseResultWriter записывает набор результатов одной транзакцией.
// Либо фиксируются все строки, либо ни одной — читатели не видят
// частично записанную декомпозицию.
type TxParseResultWriter struct {
	runner *TxRunner
}

// NewTxParseResultWriter создаёт транзакционный писатель результатов.
func NewTxParseResultWriter(runner *TxRunner) *TxParseResultWriter {
	return &TxParseResultWriter{runner: runner}
}

// CreateBatch вставляет все результаты в одной транзакции.
func (w *TxParseResultWriter) CreateBatch(ctx context.Context, results []*model.ParseResult) error {
	if len(results) == 0 {
		return nil
	}
	return w.runner.RunInTx(ctx, func(tx pgx.Tx) error {
		repo := NewParseResultRepository(tx)
		for _, pr := range results {
			if err := repo.Create(ctx, pr); err != nil {
				return err
			}
		}
		return nil
	})
}

// jsonStringList сериализует срез путей для jsonb-колонки.
// nil срез записывается как пустой массив, не как null.
func jsonStringList(paths []string) []byte {
	if paths == nil {
		paths = []string{}
	}
	data, _ := json.Marshal(paths)
	return data
}

// decodeStringList разбирает jsonb-массив путей.
func decodeStringList(data []byte) ([]string, error) {
	if len(data) == 0 {
		return []string{}, nil
	}
	var out []string
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}
