package model

import (
	"errors"
	"strings"
	"testing"
)

// TestCanTransition_PipelinePath проверяет монотонный путь конвейера.
func TestCanTransition_PipelinePath(t *testing.T) {
	tests := []struct {
		from UploadStatus
		to   UploadStatus
		want bool
	}{
		{StatusPending, StatusProcessing, true},
		{StatusProcessing, StatusCompleted, true},
		{StatusProcessing, StatusFailed, true},
		{StatusPending, StatusCompleted, false},
		{StatusPending, StatusFailed, false},
		{StatusProcessing, StatusPending, false},
		{StatusCompleted, StatusProcessing, false},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusProcessing, false}, // только через retry
		{StatusFailed, StatusCompleted, false},
	}

	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s): ожидалось %v, получено %v", tt.from, tt.to, tt.want, got)
		}
	}
}

// TestValidateTransition_ReturnsTypedError проверяет типизированную ошибку перехода.
func TestValidateTransition_ReturnsTypedError(t *testing.T) {
	err := ValidateTransition(StatusCompleted, StatusProcessing)
	if err == nil {
		t.Fatal("completed → processing должен вернуть ошибку")
	}

	var te *TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("ожидалась *TransitionError, получено %T", err)
	}
	if te.From != StatusCompleted || te.To != StatusProcessing {
		t.Errorf("ошибка содержит неверные статусы: %s → %s", te.From, te.To)
	}

	if err := ValidateTransition(StatusProcessing, StatusCompleted); err != nil {
		t.Errorf("processing → completed: неожиданная ошибка: %v", err)
	}
}

// TestCanRetryFrom проверяет, из каких статусов допустим перезапуск.
func TestCanRetryFrom(t *testing.T) {
	tests := []struct {
		from UploadStatus
		want bool
	}{
		{StatusFailed, true},
		{StatusPending, true},
		{StatusProcessing, false},
		{StatusCompleted, false},
	}

	for _, tt := range tests {
		if got := CanRetryFrom(tt.from); got != tt.want {
			t.Errorf("CanRetryFrom(%s): ожидалось %v, получено %v", tt.from, tt.want, got)
		}
	}
}

// TestIsTerminal проверяет признак терминального статуса.
func TestIsTerminal(t *testing.T) {
	if !StatusCompleted.IsTerminal() || !StatusFailed.IsTerminal() {
		t.Error("completed и failed должны быть терминальными")
	}
	if StatusPending.IsTerminal() || StatusProcessing.IsTerminal() {
		t.Error("pending и processing не должны быть терминальными")
	}
}

// TestParseStatus проверяет разбор строки статуса.
func TestParseStatus(t *testing.T) {
	for _, valid := range []string{"pending", "processing", "completed", "failed"} {
		if _, err := ParseStatus(valid); err != nil {
			t.Errorf("ParseStatus(%q): неожиданная ошибка: %v", valid, err)
		}
	}

	if _, err := ParseStatus("done"); err == nil {
		t.Error("ParseStatus(\"done\") должен вернуть ошибку")
	}
}

// TestTruncateError проверяет обрезку сообщения об ошибке.
func TestTruncateError(t *testing.T) {
	short := "короткое сообщение"
	if got := TruncateError(short); got != short {
		t.Errorf("короткое сообщение не должно обрезаться: %q", got)
	}

	long := strings.Repeat("я", MaxErrorMessageLen+100)
	got := TruncateError(long)
	if len([]rune(got)) != MaxErrorMessageLen {
		t.Errorf("ожидалась длина %d, получено %d", MaxErrorMessageLen, len([]rune(got)))
	}
}

// TestFileSizeDisplay проверяет человекочитаемый размер файла.
func TestFileSizeDisplay(t *testing.T) {
	tests := []struct {
		size int64
		want string
	}{
		{512, "512 B"},
		{2048, "2.0 KB"},
		{3 * 1024 * 1024, "3.0 MB"},
		{2 * 1024 * 1024 * 1024, "2.0 GB"},
	}

	for _, tt := range tests {
		r := &UploadRecord{FileSize: tt.size}
		if got := r.FileSizeDisplay(); got != tt.want {
			t.Errorf("FileSizeDisplay(%d): ожидалось %q, получено %q", tt.size, tt.want, got)
		}
	}
}
