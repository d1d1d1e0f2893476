// Пакет config — загрузка и валидация конфигурации Docparse
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации Docparse.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- PostgreSQL ---

	// Хост PostgreSQL
	DBHost string
	// Порт PostgreSQL
	DBPort int
	// Имя базы данных
	DBName string
	// Имя пользователя PostgreSQL
	DBUser string
	// Пароль пользователя PostgreSQL
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string

	// --- Хранилище артефактов ---

	// Корневая директория media-хранилища (оригиналы + извлечённые изображения)
	MediaDir string
	// Максимальный размер загружаемого файла в байтах
	MaxFileSize int64

	// --- Внешний сервис layout-parsing ---

	// URL endpoint'а layout-parsing API
	OCRAPIURL string
	// Таймаут одного запроса к layout-parsing API
	OCRTimeout time.Duration

	// --- Статистика ---

	// TTL кэша статистики
	StatsCacheTTL time.Duration

	// --- Graceful shutdown ---

	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// DP_PORT — порт HTTP-сервера (по умолчанию 8000)
	cfg.Port, err = getEnvInt("DP_PORT", 8000)
	if err != nil {
		return nil, fmt.Errorf("DP_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("DP_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	// DP_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("DP_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("DP_LOG_LEVEL: %w", err)
	}

	// DP_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("DP_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("DP_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- PostgreSQL ---

	// DP_DB_HOST — обязательный
	cfg.DBHost, err = getEnvRequired("DP_DB_HOST")
	if err != nil {
		return nil, err
	}

	// DP_DB_PORT — порт PostgreSQL (по умолчанию 5432)
	cfg.DBPort, err = getEnvInt("DP_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("DP_DB_PORT: %w", err)
	}

	// DP_DB_NAME — обязательный
	cfg.DBName, err = getEnvRequired("DP_DB_NAME")
	if err != nil {
		return nil, err
	}

	// DP_DB_USER — обязательный
	cfg.DBUser, err = getEnvRequired("DP_DB_USER")
	if err != nil {
		return nil, err
	}

	// DP_DB_PASSWORD — обязательный
	cfg.DBPassword, err = getEnvRequired("DP_DB_PASSWORD")
	if err != nil {
		return nil, err
	}

	// DP_DB_SSL_MODE — режим SSL (по умолчанию disable)
	cfg.DBSSLMode = getEnvDefault("DP_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("DP_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	// --- Хранилище артефактов ---

	// DP_MEDIA_DIR — корневая директория media (по умолчанию ./media)
	cfg.MediaDir = getEnvDefault("DP_MEDIA_DIR", "./media")

	// DP_MAX_FILE_SIZE — максимальный размер файла (по умолчанию 10 MiB)
	maxSize, err := getEnvInt("DP_MAX_FILE_SIZE", 10*1024*1024)
	if err != nil {
		return nil, fmt.Errorf("DP_MAX_FILE_SIZE: %w", err)
	}
	if maxSize < 1 {
		return nil, fmt.Errorf("DP_MAX_FILE_SIZE: значение %d должно быть положительным", maxSize)
	}
	cfg.MaxFileSize = int64(maxSize)

	// --- Внешний сервис layout-parsing ---

	// DP_OCR_API_URL — обязательный
	cfg.OCRAPIURL, err = getEnvRequired("DP_OCR_API_URL")
	if err != nil {
		return nil, err
	}
	// Убираем trailing slash
	cfg.OCRAPIURL = strings.TrimRight(cfg.OCRAPIURL, "/")

	// DP_OCR_TIMEOUT — таймаут запроса к layout-parsing API (по умолчанию 120s)
	cfg.OCRTimeout, err = getEnvDuration("DP_OCR_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DP_OCR_TIMEOUT: %w", err)
	}

	// --- Статистика ---

	// DP_STATS_CACHE_TTL — TTL кэша статистики (по умолчанию 60s)
	cfg.StatsCacheTTL, err = getEnvDuration("DP_STATS_CACHE_TTL", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DP_STATS_CACHE_TTL: %w", err)
	}

	// --- Graceful shutdown ---

	// DP_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 5s)
	cfg.ShutdownTimeout, err = getEnvDuration("DP_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DP_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
