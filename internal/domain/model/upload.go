// Пакет model — доменные модели Docparse.
// UploadRecord — запись о загрузке изображения, ParseResult — результат
// layout-parsing одной страницы/региона.
package model

import (
	"fmt"
	"time"
)

// MaxErrorMessageLen — максимальная длина сообщения об ошибке в записи.
const MaxErrorMessageLen = 500

// UploadRecord — запись о загрузке изображения и её обработке.
type UploadRecord struct {
	// ID — UUID записи
	ID string
	// OriginalFilename — оригинальное имя загруженного файла
	OriginalFilename string
	// StoragePath — путь оригинала относительно media-директории
	StoragePath string
	// FileSize — размер файла в байтах
	FileSize int64
	// UploadTime — время загрузки
	UploadTime time.Time
	// Status — текущий статус обработки
	Status UploadStatus
	// ErrorMessage — сообщение об ошибке (непустое только при status=failed)
	ErrorMessage string
	// ProcessingTime — длительность обработки в секундах (nil, если
	// обращение к внешнему сервису не выполнялось)
	ProcessingTime *float64
	// IPAddress — IP-адрес клиента (опционально)
	IPAddress *string
	// UserAgent — User-Agent клиента (опционально)
	UserAgent *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// FileSizeDisplay возвращает размер файла в человекочитаемом виде.
func (r *UploadRecord) FileSizeDisplay() string {
	const (
		kib = 1024
		mib = 1024 * kib
		gib = 1024 * mib
	)
	switch {
	case r.FileSize < kib:
		return fmt.Sprintf("%d B", r.FileSize)
	case r.FileSize < mib:
		return fmt.Sprintf("%.1f KB", float64(r.FileSize)/kib)
	case r.FileSize < gib:
		return fmt.Sprintf("%.1f MB", float64(r.FileSize)/mib)
	default:
		return fmt.Sprintf("%.1f GB", float64(r.FileSize)/gib)
	}
}

// TruncateError обрезает сообщение об ошибке до MaxErrorMessageLen символов.
func TruncateError(msg string) string {
	runes := []rune(msg)
	if len(runes) <= MaxErrorMessageLen {
		return msg
	}
	return string(runes[:MaxErrorMessageLen])
}

// ParseResult — результат layout-parsing одной страницы/региона.
// Создаётся декомпозитором после успешного вызова внешнего сервиса,
// после создания неизменяем.
type ParseResult struct {
	// ID — суррогатный ключ
	ID int64
	// UploadID — UUID родительской записи
	UploadID string
	// ResultIndex — порядковый индекс результата внутри загрузки (с нуля)
	ResultIndex int
	// PrunedResult — упрощённое текстовое представление страницы
	PrunedResult string
	// MarkdownText — полный markdown-текст страницы
	MarkdownText string
	// RawData — исходный JSON-фрагмент ответа внешнего сервиса (verbatim)
	RawData []byte
	// MarkdownImagePaths — упорядоченный список относительных путей
	// изображений, встроенных в markdown
	MarkdownImagePaths []string
	// OutputImagePaths — упорядоченный список имён выходных изображений
	OutputImagePaths []string

	CreatedAt time.Time
}
