package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestRequestTimeout_Deadline(t *testing.T) {
	tests := []struct {
		name         string
		timeout      time.Duration
		accept       string
		wantDeadline bool
	}{
		{"disabled with zero", 0, "", false},
		{"disabled with negative", -time.Second, "", false},
		{"applied", 5 * time.Second, "application/json", true},
		{"event stream exempt", 5 * time.Second, "text/event-stream", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.Use(RequestTimeout(tt.timeout))

			var hasDeadline bool
			var remaining time.Duration
			r.GET("/pages", func(c *gin.Context) {
				var dl time.Time
				dl, hasDeadline = c.Request.Context().Deadline()
				remaining = time.Until(dl)
				c.String(http.StatusOK, "ok")
			})

			req := httptest.NewRequest(http.MethodGet, "/pages", nil)
			if tt.accept != "" {
				req.Header.Set("Accept", tt.accept)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != http.StatusOK || w.Body.String() != "ok" {
				t.Errorf("expected 200 ok, got %d %q", w.Code, w.Body.String())
			}
			if hasDeadline != tt.wantDeadline {
				t.Fatalf("expected deadline=%v, got %v", tt.wantDeadline, hasDeadline)
			}
			if hasDeadline && (remaining <= 0 || remaining > tt.timeout) {
				t.Errorf("deadline %v out of range for timeout %v", remaining, tt.timeout)
			}
		})
	}
}

func TestRequestTimeout_SlowExportGets504(t *testing.T) {
	r := gin.New()
	r.Use(RequestTimeout(10 * time.Millisecond))
	r.POST("/page/:name/export", func(c *gin.Context) {
		// A handler that honors ctx and gives up without writing.
		<-c.Request.Context().Done()
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/page/a/export", nil))

	if w.Code != http.StatusGatewayTimeout {
		t.Errorf("expected 504, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "request timeout") {
		t.Errorf("unexpected body %q", w.Body.String())
	}
}

func TestRequestTimeout_WrittenResponseIsKept(t *testing.T) {
	r := gin.New()
	r.Use(RequestTimeout(10 * time.Millisecond))
	r.GET("/cache/stats", func(c *gin.Context) {
		c.String(http.StatusOK, "partial")
		<-c.Request.Context().Done()
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/cache/stats", nil))

	if w.Code != http.StatusOK || w.Body.String() != "partial" {
		t.Errorf("expected the written response to stand, got %d %q", w.Code, w.Body.String())
	}
}
