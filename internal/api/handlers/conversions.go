// conversions.go — приём изображения и запуск конвейера обработки.
// POST /api/v1/conversions — multipart/form-data с полем "image".
package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"

	apierrors "github.com/arturkryukov/docparse/internal/api/errors"
	"github.com/arturkryukov/docparse/internal/domain/model"
	"github.com/arturkryukov/docparse/internal/service"
)

// multipartOverhead — запас к лимиту тела запроса на заголовки
// multipart-частей и служебные поля формы.
const multipartOverhead = 1 << 20

// CreateConversion обрабатывает POST /api/v1/conversions.
// Принимает multipart/form-data с полем "image", прогоняет файл через
// конвейер и возвращает созданную запись. При ошибке разбора запись
// всё равно создаётся (в статусе failed) и возвращается в теле ошибки.
func (h *APIHandler) CreateConversion(w http.ResponseWriter, r *http.Request) {
	// Жёсткий лимит тела: защищает до чтения файла в память
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxFileSize+multipartOverhead)

	if err := r.ParseMultipartForm(h.cfg.MaxFileSize + multipartOverhead); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			apierrors.FileTooLarge(w, "Размер запроса превышает допустимый максимум")
			return
		}
		apierrors.ValidationError(w, "Некорректный multipart запрос: "+err.Error())
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	file, header, err := r.FormFile("image")
	if err != nil {
		apierrors.ValidationError(w, "Поле \"image\" отсутствует в запросе")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.logger.Error("Ошибка чтения загружаемого файла",
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Ошибка чтения загружаемого файла")
		return
	}

	contentType := header.Header.Get("Content-Type")

	record, perr := h.pipeline.Upload(r.Context(), service.UploadParams{
		Data:             data,
		OriginalFilename: header.Filename,
		ContentType:      contentType,
		IPAddress:        clientIP(r),
		UserAgent:        r.UserAgent(),
	})
	if perr != nil {
		h.stats.Invalidate()
		h.writePipelineError(w, record, perr)
		return
	}

	h.stats.Invalidate()
	h.writeRecordDetail(w, r, http.StatusCreated, record)
}

// writeRecordDetail отвечает записью вместе с её результатами.
// Если чтение результатов не удалось, отвечает одной записью —
// обработка уже завершена успешно.
func (h *APIHandler) writeRecordDetail(w http.ResponseWriter, r *http.Request, status int, record *model.UploadRecord) {
	detail, err := h.history.Get(r.Context(), record.ID)
	if err != nil {
		h.logger.Warn("Не удалось прочитать результаты после обработки",
			slog.String("upload_id", record.ID),
			slog.String("error", err.Error()),
		)
		writeJSON(w, status, toRecordResponse(record, nil))
		return
	}

	count := len(detail.Results)
	resp := recordDetailResponse{
		Record:  toRecordResponse(detail.Record, &count),
		Results: make([]resultResponse, 0, len(detail.Results)),
	}
	for _, pr := range detail.Results {
		resp.Results = append(resp.Results, toResultResponse(pr))
	}
	writeJSON(w, status, resp)
}

// RetryConversion обрабатывает POST /api/v1/records/{id}/retry.
func (h *APIHandler) RetryConversion(w http.ResponseWriter, r *http.Request) {
	id := recordID(r)
	if id == "" {
		apierrors.ValidationError(w, "Некорректный идентификатор записи")
		return
	}

	record, perr := h.pipeline.Retry(r.Context(), id)
	if perr != nil {
		h.stats.Invalidate()
		h.writePipelineError(w, record, perr)
		return
	}

	h.stats.Invalidate()
	h.writeRecordDetail(w, r, http.StatusOK, record)
}

// pipelineErrorResponse — ошибка конвейера вместе с записью, если она
// была создана (клиент видит failed-запись в истории).
// Формат поля error совпадает со стандартным конвертом ошибок API.
type pipelineErrorResponse struct {
	Error  pipelineErrorDetail `json:"error"`
	Record *recordResponse     `json:"record,omitempty"`
}

type pipelineErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writePipelineError сериализует PipelineError, приложив запись,
// если конвейер успел её создать.
func (h *APIHandler) writePipelineError(w http.ResponseWriter, record *model.UploadRecord, perr *service.PipelineError) {
	resp := pipelineErrorResponse{
		Error: pipelineErrorDetail{Code: perr.Code, Message: perr.Message},
	}
	if record != nil {
		rr := toRecordResponse(record, nil)
		resp.Record = &rr
	}
	writeJSON(w, perr.StatusCode, resp)
}

// clientIP извлекает IP клиента из RemoteAddr, отбрасывая порт.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
