package logger

import (
	"os"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestWithComponent(t *testing.T) {
	entry := WithComponent("test-component")
	if entry == nil {
		t.Fatal("expected non-nil entry")
	}

	// Check that the component field is set
	if val, ok := entry.Data["component"]; !ok {
		t.Error("expected component field to be set")
	} else if val != "test-component" {
		t.Errorf("expected component 'test-component', got '%v'", val)
	}
}

func TestWithPage(t *testing.T) {
	entry := WithPage("render", "page-1")
	if entry.Data["component"] != "render" {
		t.Errorf("expected component 'render', got '%v'", entry.Data["component"])
	}
	if entry.Data["page"] != "page-1" {
		t.Errorf("expected page 'page-1', got '%v'", entry.Data["page"])
	}
}

func TestLoggerInit(t *testing.T) {
	if Logger == nil {
		t.Fatal("expected Logger to be initialized")
	}
	if Logger.Out != os.Stdout {
		t.Error("expected Logger output to be os.Stdout")
	}
}

func TestConfigure(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	origLevel := Logger.GetLevel()
	defer func() {
		Logger.SetLevel(origLevel)
		Logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}()

	tests := []struct {
		name          string
		level         string
		format        string
		wantErr       bool
		expectedLevel logrus.Level
	}{
		{"debug text", "debug", "text", false, logrus.DebugLevel},
		{"warn json", "warn", "json", false, logrus.WarnLevel},
		{"uppercase", "ERROR", "", false, logrus.ErrorLevel},
		{"invalid keeps level", "loud", "", true, logrus.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Logger.SetLevel(logrus.InfoLevel)
			err := Configure(tt.level, tt.format)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Configure(%q) error = %v, wantErr %v", tt.level, err, tt.wantErr)
			}
			if Logger.GetLevel() != tt.expectedLevel {
				t.Errorf("expected level %v, got %v", tt.expectedLevel, Logger.GetLevel())
			}
			if tt.format == "json" {
				if _, ok := Logger.Formatter.(*logrus.JSONFormatter); !ok {
					t.Errorf("expected JSON formatter, got %T", Logger.Formatter)
				}
			}
		})
	}
}

func TestSlogBridge(t *testing.T) {
	if Slog() == nil {
		t.Fatal("expected slog logger")
	}
}

func TestConfigure_EnvWins(t *testing.T) {
	origLevel := Logger.GetLevel()
	defer Logger.SetLevel(origLevel)
	t.Setenv("LOG_LEVEL", "debug")

	if err := Configure("error", "text"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if Logger.GetLevel() != logrus.DebugLevel {
		t.Errorf("expected LOG_LEVEL to win, got %v", Logger.GetLevel())
	}
}
