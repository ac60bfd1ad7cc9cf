package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"flagpost/internal/service"
	"flagpost/pkg/logger"

	"github.com/gin-gonic/gin"
)

func init() {
	logger.InitLogger("test")
	gin.SetMode(gin.TestMode)
}

func TestWriteError_StatusMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"denied", &service.DeniedError{Reason: "requires organization admin"}, http.StatusForbidden},
		{"not found", fmt.Errorf("flag 7: %w", service.ErrNotFound), http.StatusNotFound},
		{"duplicate key", fmt.Errorf("flag key %q: %w", "k", service.ErrDuplicateKey), http.StatusConflict},
		{"last admin", service.ErrLastAdmin, http.StatusConflict},
		{"validation", fmt.Errorf("%w: bad type", service.ErrValidation), http.StatusBadRequest},
		{"invalid credentials", service.ErrInvalidCredentials, http.StatusUnauthorized},
		{"unexpected", errors.New("disk on fire"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.GET("/boom", func(c *gin.Context) {
				writeError(c, tt.err)
			})

			w := httptest.NewRecorder()
			req, _ := http.NewRequest("GET", "/boom", nil)
			r.ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

// Internal errors must not leak storage detail to the response body.
func TestWriteError_HidesInternalDetail(t *testing.T) {
	r := gin.New()
	r.GET("/boom", func(c *gin.Context) {
		writeError(c, errors.New("dsn user:pass@tcp(10.0.0.1)/flags"))
	})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/boom", nil)
	r.ServeHTTP(w, req)

	if w.Body.String() != `{"error":"internal error"}` {
		t.Errorf("leaked internal detail: %s", w.Body.String())
	}
}
