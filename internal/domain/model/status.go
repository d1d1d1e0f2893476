// status.go — конечный автомат статусов обработки загрузки.
//
// Жизненный цикл: pending → processing → {completed, failed}.
// Терминальные статусы покидаются только явным действием retry
// (failed → processing); конвейер сам из терминального статуса не выходит.
package model

import "fmt"

// UploadStatus — статус обработки загрузки.
type UploadStatus string

const (
	// StatusPending — запись создана, обработка не начиналась.
	// Достижим только при ручном/административном создании записи,
	// конвейер загрузки сразу создаёт запись в processing.
	StatusPending UploadStatus = "pending"
	// StatusProcessing — обработка выполняется
	StatusProcessing UploadStatus = "processing"
	// StatusCompleted — обработка завершена успешно (терминальный)
	StatusCompleted UploadStatus = "completed"
	// StatusFailed — обработка завершена с ошибкой (терминальный)
	StatusFailed UploadStatus = "failed"
)

// pipelineTransitions — переходы, допустимые для самого конвейера.
// Монотонный путь: pending → processing → {completed, failed}.
var pipelineTransitions = map[UploadStatus]map[UploadStatus]bool{
	StatusPending:    {StatusProcessing: true},
	StatusProcessing: {StatusCompleted: true, StatusFailed: true},
	StatusCompleted:  {}, // Терминальный — конвейер не выходит
	StatusFailed:     {}, // Терминальный — конвейер не выходит
}

// retryTransitions — переходы, допустимые только по явному действию retry.
var retryTransitions = map[UploadStatus]map[UploadStatus]bool{
	StatusFailed:  {StatusProcessing: true},
	StatusPending: {StatusProcessing: true},
}

// TransitionError — ошибка недопустимого перехода между статусами.
type TransitionError struct {
	From UploadStatus
	To   UploadStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("недопустимый переход статуса %s → %s", e.From, e.To)
}

// CanTransition проверяет, допустим ли переход конвейера from → to.
func CanTransition(from, to UploadStatus) bool {
	targets, ok := pipelineTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// ValidateTransition возвращает TransitionError, если переход конвейера
// from → to недопустим.
func ValidateTransition(from, to UploadStatus) error {
	if !CanTransition(from, to) {
		return &TransitionError{From: from, To: to}
	}
	return nil
}

// CanRetryFrom проверяет, допустим ли перезапуск обработки из статуса from.
// Перезапуск разрешён для failed и pending; completed требует ручного
// вмешательства, processing перезапускать нельзя.
func CanRetryFrom(from UploadStatus) bool {
	targets, ok := retryTransitions[from]
	if !ok {
		return false
	}
	return targets[StatusProcessing]
}

// IsTerminal сообщает, является ли статус терминальным.
func (s UploadStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// isValidStatus проверяет, является ли строка допустимым статусом.
func isValidStatus(s UploadStatus) bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// ParseStatus преобразует строку в UploadStatus.
// Возвращает ошибку для недопустимых значений.
func ParseStatus(s string) (UploadStatus, error) {
	st := UploadStatus(s)
	if !isValidStatus(st) {
		return "", fmt.Errorf("недопустимый статус: %q, допустимые: pending, processing, completed, failed", s)
	}
	return st, nil
}
