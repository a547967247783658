package config

import (
	"io"
	"log/slog"
	"os"

	slogmulti "github.com/samber/slog-multi"
)

// SetupLogger 创建日志：stderr 输出文本，设置了 LOG_FILE 时同时以 JSON 写入文件。
// 返回的 cleanup 用于关闭日志文件。
func SetupLogger(cfg LogConfig) (*slog.Logger, func() error) {
	if cfg.File == "" {
		return newLogger(os.Stderr, nil, cfg.Level), func() error { return nil }
	}

	file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		logger := newLogger(os.Stderr, nil, cfg.Level)
		logger.Error("failed to open log file, using stderr only", "error", err, "file", cfg.File)
		return logger, func() error { return nil }
	}

	return newLogger(os.Stderr, file, cfg.Level), file.Close
}

// newLogger 写文本到 text；json 非空时同时以 JSON 写入。
func newLogger(text, json io.Writer, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	textHandler := slog.NewTextHandler(text, opts)
	if json == nil {
		return slog.New(textHandler)
	}
	return slog.New(slogmulti.Fanout(textHandler, slog.NewJSONHandler(json, opts)))
}
