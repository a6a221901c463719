// Package logger は log/slog ベースの構造化ロガーを生成します。
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger は level と format に応じたロガーを返します。
// level は "debug", "info", "warn", "error" のいずれか。未知の値は info 扱い。
// format が "text" 以外なら JSON で出力します。
func NewLogger(level, format string) *slog.Logger {
	return newLogger(os.Stdout, level, format)
}

func newLogger(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if strings.EqualFold(format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// ParseLevel はレベル文字列を slog.Level に変換します。
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup はロガーを生成してデフォルトロガーに設定します。
func Setup(level, format string) *slog.Logger {
	l := NewLogger(level, format)
	slog.SetDefault(l)
	return l
}
