// Пакет ocrclient — HTTP-клиент внешнего сервиса layout-parsing.
// Кодирует изображение в base64, выполняет один синхронный POST
// и классифицирует ошибки транспорта, таймаута, статуса и payload'а.
//
// Имена JSON-полей ответа (layoutParsingResults, prunedResult и т.д.) —
// внешний контракт сервиса; за пределы пакета они не выходят,
// наружу отдаётся только доменное представление ParseResponse.
package ocrclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"time"
)

// ErrorKind — класс ошибки обращения к сервису layout-parsing.
type ErrorKind string

const (
	// KindTimeout — превышен таймаут запроса
	KindTimeout ErrorKind = "timeout"
	// KindTransport — сетевая ошибка (DNS, connection refused и т.д.)
	KindTransport ErrorKind = "transport"
	// KindBadStatus — сервис вернул статус, отличный от 200
	KindBadStatus ErrorKind = "bad_status"
	// KindBadPayload — тело ответа не удалось разобрать
	KindBadPayload ErrorKind = "bad_payload"
)

// ClientError — классифицированная ошибка вызова сервиса layout-parsing.
type ClientError struct {
	// Kind — класс ошибки
	Kind ErrorKind
	// StatusCode — HTTP-статус ответа (0 для transport/timeout)
	StatusCode int
	// Message — человекочитаемое описание
	Message string
	// Err — исходная ошибка
	Err error
}

func (e *ClientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ClientError) Unwrap() error {
	return e.Err
}

// ParseResponse — декодированный результат layout-parsing.
type ParseResponse struct {
	// Results — упорядоченный список результатов по страницам/регионам
	Results []LayoutResult
}

// LayoutResult — результат разбора одной страницы/региона.
type LayoutResult struct {
	// PrunedResult — упрощённое текстовое представление страницы
	PrunedResult string
	// MarkdownText — полный markdown-текст страницы
	MarkdownText string
	// MarkdownImages — встроенные в markdown изображения:
	// относительный путь → декодированные байты, в порядке ответа сервиса
	MarkdownImages []NamedImage
	// OutputImages — именованные выходные изображения, в порядке ответа
	OutputImages []NamedImage
	// Raw — исходный JSON-фрагмент записи ответа (verbatim)
	Raw json.RawMessage
}

// NamedImage — декодированное изображение с именем из ответа сервиса.
type NamedImage struct {
	Name string
	Data []byte
}

// --- Wire-типы внешнего контракта ---

type parseRequest struct {
	File     string `json:"file"`
	FileType int    `json:"fileType"`
}

// Result — указатель: 200-ответ без поля result — это ошибка формата,
// а не пустой успех.
type parseResponseWire struct {
	Result *struct {
		LayoutParsingResults []json.RawMessage `json:"layoutParsingResults"`
	} `json:"result"`
}

type layoutEntryWire struct {
	PrunedResult string `json:"prunedResult"`
	Markdown     struct {
		Text   string            `json:"text"`
		Images map[string]string `json:"images"`
	} `json:"markdown"`
	OutputImages map[string]string `json:"outputImages"`
}

// Client — HTTP-клиент сервиса layout-parsing.
type Client struct {
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger
}

// New создаёт клиент сервиса layout-parsing.
// endpoint — полный URL endpoint'а, timeout — таймаут одного запроса.
func New(endpoint string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With(slog.String("component", "ocr_client")),
	}
}

// Parse отправляет изображение на разбор и возвращает декодированный
// результат. Ошибки всегда имеют тип *ClientError с заполненным Kind.
func (c *Client) Parse(ctx context.Context, imageData []byte) (*ParseResponse, error) {
	reqBody := parseRequest{
		File:     base64.StdEncoding.EncodeToString(imageData),
		FileType: 1,
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, &ClientError{Kind: KindBadPayload, Message: "ошибка сериализации запроса", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, &ClientError{Kind: KindTransport, Message: "ошибка создания запроса", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			c.logger.Warn("таймаут запроса к сервису layout-parsing",
				slog.Duration("elapsed", time.Since(start)),
			)
			return nil, &ClientError{
				Kind:    KindTimeout,
				Message: fmt.Sprintf("таймаут запроса к сервису layout-parsing (%s)", c.httpClient.Timeout),
				Err:     err,
			}
		}
		return nil, &ClientError{Kind: KindTransport, Message: "сетевая ошибка при обращении к сервису layout-parsing", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.Warn("сервис layout-parsing вернул ошибку",
			slog.Int("status", resp.StatusCode),
			slog.Duration("elapsed", time.Since(start)),
		)
		return nil, &ClientError{
			Kind:       KindBadStatus,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("сервис layout-parsing вернул статус %d: %s", resp.StatusCode, truncate(string(body), 200)),
		}
	}

	var wire parseResponseWire
	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ClientError{Kind: KindTransport, Message: "ошибка чтения тела ответа", Err: err}
	}
	if err := json.Unmarshal(rawBody, &wire); err != nil {
		return nil, &ClientError{Kind: KindBadPayload, Message: "ошибка декодирования ответа сервиса layout-parsing", Err: err}
	}
	if wire.Result == nil {
		c.logger.Warn("ответ сервиса layout-parsing не содержит поля result",
			slog.Duration("elapsed", time.Since(start)),
		)
		return nil, &ClientError{
			Kind:       KindBadPayload,
			StatusCode: resp.StatusCode,
			Message:    "некорректный формат ответа сервиса layout-parsing: отсутствует поле result",
		}
	}

	out := &ParseResponse{Results: make([]LayoutResult, 0, len(wire.Result.LayoutParsingResults))}
	for i, rawEntry := range wire.Result.LayoutParsingResults {
		var entry layoutEntryWire
		if err := json.Unmarshal(rawEntry, &entry); err != nil {
			return nil, &ClientError{
				Kind:    KindBadPayload,
				Message: fmt.Sprintf("ошибка декодирования записи %d ответа", i),
				Err:     err,
			}
		}

		res := LayoutResult{
			PrunedResult: entry.PrunedResult,
			MarkdownText: entry.Markdown.Text,
			Raw:          rawEntry,
		}
		res.MarkdownImages = decodeImages(entry.Markdown.Images, c.logger, "markdown")
		res.OutputImages = decodeImages(entry.OutputImages, c.logger, "output")

		out.Results = append(out.Results, res)
	}

	c.logger.Debug("разбор изображения завершён",
		slog.Int("results", len(out.Results)),
		slog.Duration("elapsed", time.Since(start)),
	)
	return out, nil
}

// decodeImages декодирует base64-изображения из ответа. Изображение,
// не прошедшее декодирование, пропускается с записью в лог — одна битая
// картинка не должна обрушить разбор всей страницы.
// Порядок ключей map в Go недетерминирован, поэтому для воспроизводимых
// списков путей имена сортируются.
func decodeImages(images map[string]string, logger *slog.Logger, kind string) []NamedImage {
	if len(images) == 0 {
		return nil
	}

	names := make([]string, 0, len(images))
	for name := range images {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]NamedImage, 0, len(names))
	for _, name := range names {
		data, err := base64.StdEncoding.DecodeString(images[name])
		if err != nil {
			logger.Warn("пропущено изображение с некорректным base64",
				slog.String("kind", kind),
				slog.String("name", name),
			)
			continue
		}
		out = append(out, NamedImage{Name: name, Data: data})
	}
	return out
}

// isTimeout определяет, является ли ошибка таймаутом запроса.
func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var ne interface{ Timeout() bool }
	return errors.As(err, &ne) && ne.Timeout()
}

// truncate обрезает строку до n байт для включения в сообщение об ошибке.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
