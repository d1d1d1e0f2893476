// Пакет blobstore — размещение бинарных артефактов загрузки на диске.
// Оригинал и производные изображения каждой загрузки живут в собственном
// каталоге-неймспейсе uploads/{upload_id}/, что исключает коллизии
// между параллельными загрузками.
package blobstore

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ArtifactKind — вид производного артефакта.
type ArtifactKind string

const (
	// KindMarkdown — изображение, встроенное в markdown-текст результата.
	// Пишется в подкаталог markdown_{upload_id}_{result_index}/.
	KindMarkdown ArtifactKind = "markdown"
	// KindOutput — именованное выходное изображение результата.
	// Пишется файлом {name}_{upload_id}_{result_index}.jpg в корень
	// каталога загрузки.
	KindOutput ArtifactKind = "output"
)

// uploadsSubdir — подкаталог media-директории для каталогов загрузок.
const uploadsSubdir = "uploads"

// BlobStore — управление физическими файлами артефактов на диске.
type BlobStore struct {
	// mediaDir — корневая media-директория (DP_MEDIA_DIR)
	mediaDir string
}

// New создаёт новый BlobStore. Проверяет и создаёт корневую директорию
// если она не существует.
func New(mediaDir string) (*BlobStore, error) {
	if err := os.MkdirAll(filepath.Join(mediaDir, uploadsSubdir), 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать media-директорию %s: %w", mediaDir, err)
	}

	return &BlobStore{mediaDir: mediaDir}, nil
}

// StoreOriginal записывает оригинальное изображение в каталог загрузки.
// Имя файла — случайный hex-идентификатор плюс расширение оригинала,
// поэтому коллизии с именами пользовательских файлов невозможны.
// Возвращает путь относительно media-директории.
//
// Паттерн: temp файл → запись → fsync → atomic rename.
// При ошибке temp файл удаляется.
func (bs *BlobStore) StoreOriginal(uploadID string, data []byte, suggestedName string) (string, error) {
	dir := bs.uploadDir(uploadID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("не удалось создать каталог загрузки %s: %w", uploadID, err)
	}

	name := randomHex(10) + sanitizeExt(filepath.Ext(suggestedName))
	relPath := filepath.Join(uploadsSubdir, uploadID, name)

	if err := bs.writeAtomic(filepath.Join(dir, name), data); err != nil {
		return "", err
	}
	return relPath, nil
}

// StoreDerived записывает производный артефакт результата результата
// под детерминированным путём, зависящим от (upload_id, result_index, kind).
// Промежуточные каталоги создаются по необходимости.
// Возвращает путь относительно media-директории.
func (bs *BlobStore) StoreDerived(uploadID string, resultIndex int, kind ArtifactKind, name string, data []byte) (string, error) {
	relPath, err := DerivedRelPath(uploadID, resultIndex, kind, name)
	if err != nil {
		return "", err
	}

	fullPath := filepath.Join(bs.mediaDir, relPath)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return "", fmt.Errorf("не удалось создать каталог артефакта: %w", err)
	}

	if err := bs.writeAtomic(fullPath, data); err != nil {
		return "", err
	}
	return relPath, nil
}

// DerivedRelPath возвращает детерминированный путь производного артефакта
// относительно media-директории, ничего не записывая. Используется и при
// записи артефакта, и при построении ссылок на него.
func DerivedRelPath(uploadID string, resultIndex int, kind ArtifactKind, name string) (string, error) {
	switch kind {
	case KindMarkdown:
		// markdown_{upload_id}_{result_index}/{name}
		subdir := fmt.Sprintf("markdown_%s_%d", uploadID, resultIndex)
		return filepath.Join(uploadsSubdir, uploadID, subdir, sanitizeRel(name)), nil
	case KindOutput:
		// {name}_{upload_id}_{result_index}.jpg
		file := fmt.Sprintf("%s_%s_%d.jpg", sanitizeRel(name), uploadID, resultIndex)
		return filepath.Join(uploadsSubdir, uploadID, file), nil
	default:
		return "", fmt.Errorf("неизвестный вид артефакта: %q", kind)
	}
}

// DeleteDerived удаляет производные артефакты одного результата:
// каталог markdown-изображений и перечисленные выходные файлы.
// Оригинал загрузки не затрагивается. Идемпотентна.
func (bs *BlobStore) DeleteDerived(uploadID string, resultIndex int, outputNames []string) error {
	subdir := filepath.Join(bs.uploadDir(uploadID),
		fmt.Sprintf("markdown_%s_%d", uploadID, resultIndex))
	if err := os.RemoveAll(subdir); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления markdown-артефактов результата %d: %w", resultIndex, err)
	}

	for _, name := range outputNames {
		full, err := bs.resolve(filepath.Join(uploadsSubdir, uploadID, name))
		if err != nil {
			continue
		}
		if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("ошибка удаления выходного изображения %s: %w", name, err)
		}
	}
	return nil
}

// DeleteTree удаляет каталог загрузки целиком: оригинал и все
// производные артефакты. Идемпотентна — отсутствие каталога не ошибка,
// частично записанное дерево удаляется без остатка.
func (bs *BlobStore) DeleteTree(uploadID string) error {
	dir := bs.uploadDir(uploadID)

	err := os.RemoveAll(dir)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления каталога загрузки %s: %w", uploadID, err)
	}
	return nil
}

// Open открывает артефакт для чтения по относительному пути.
// Вызывающий код обязан закрыть ReadCloser.
func (bs *BlobStore) Open(relPath string) (io.ReadCloser, error) {
	fullPath, err := bs.resolve(relPath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("артефакт не найден: %s", relPath)
		}
		return nil, fmt.Errorf("ошибка открытия артефакта %s: %w", relPath, err)
	}
	return f, nil
}

// Exists проверяет существование артефакта на диске.
func (bs *BlobStore) Exists(relPath string) bool {
	fullPath, err := bs.resolve(relPath)
	if err != nil {
		return false
	}
	_, err = os.Stat(fullPath)
	return err == nil
}

// MediaDir возвращает путь к корневой media-директории.
func (bs *BlobStore) MediaDir() string {
	return bs.mediaDir
}

// uploadDir возвращает абсолютный путь каталога загрузки.
func (bs *BlobStore) uploadDir(uploadID string) string {
	return filepath.Join(bs.mediaDir, uploadsSubdir, uploadID)
}

// resolve преобразует относительный путь в абсолютный, запрещая выход
// за пределы media-директории.
func (bs *BlobStore) resolve(relPath string) (string, error) {
	cleaned := filepath.Clean("/" + relPath)
	full := filepath.Join(bs.mediaDir, cleaned)
	if !strings.HasPrefix(full, filepath.Clean(bs.mediaDir)+string(os.PathSeparator)) {
		return "", fmt.Errorf("недопустимый путь артефакта: %s", relPath)
	}
	return full, nil
}

// writeAtomic записывает данные через temp файл с fsync и атомарным rename.
func (bs *BlobStore) writeAtomic(fullPath string, data []byte) error {
	tmpPath := fullPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка записи данных: %w", err)
	}

	// fsync для гарантии записи на диск
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}
	return nil
}

// randomHex возвращает случайную hex-строку длиной n символов.
func randomHex(n int) string {
	b := make([]byte, (n+1)/2)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		// crypto/rand на поддерживаемых платформах не возвращает ошибок
		panic(fmt.Sprintf("crypto/rand: %v", err))
	}
	return hex.EncodeToString(b)[:n]
}

// sanitizeExt оставляет от расширения только безопасные символы.
func sanitizeExt(ext string) string {
	ext = strings.ToLower(ext)
	var result strings.Builder
	for _, r := range ext {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '.' {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// sanitizeRel убирает из имени артефакта разделители путей и ссылки
// на родительский каталог. Имена приходят из ответа внешнего сервиса
// и не могут считаться доверенными.
func sanitizeRel(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = strings.ReplaceAll(name, "..", "")
	name = strings.Trim(name, "/")
	if name == "" {
		return "artifact"
	}
	return filepath.FromSlash(name)
}
