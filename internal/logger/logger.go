package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var Logger *logrus.Logger

func init() {
	Logger = logrus.New()
	Logger.SetOutput(os.Stdout)
	Logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	// Default level
	Logger.SetLevel(logrus.InfoLevel)

	// Override from env, e.g., LOG_LEVEL=debug
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		if parsedLevel, err := logrus.ParseLevel(strings.ToLower(level)); err == nil {
			Logger.SetLevel(parsedLevel)
		}
	}
}

// Configure applies the level and format from configuration. LOG_LEVEL,
// when set, wins over level. An invalid level keeps the current one and is
// returned as an error.
func Configure(level, format string) error {
	switch strings.ToLower(format) {
	case "json":
		Logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		Logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	if env := os.Getenv("LOG_LEVEL"); env != "" {
		level = env
	}
	if level == "" {
		return nil
	}
	parsed, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		return err
	}
	Logger.SetLevel(parsed)
	return nil
}

// WithComponent adds a component field to the logger
func WithComponent(component string) *logrus.Entry {
	return Logger.WithField("component", component)
}

// WithPage scopes a component logger to a single page.
func WithPage(component, pageID string) *logrus.Entry {
	return Logger.WithFields(logrus.Fields{"component": component, "page": pageID})
}

// Slog returns a slog.Logger writing through the logrus output, for
// libraries that only accept log/slog.
func Slog() *slog.Logger {
	level := slog.LevelInfo
	if Logger.IsLevelEnabled(logrus.DebugLevel) {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(Writer(), &slog.HandlerOptions{Level: level}))
}

// Writer exposes the logrus writer for net/http and gin.
func Writer() io.Writer {
	return Logger.Writer()
}
