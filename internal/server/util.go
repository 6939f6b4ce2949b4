package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/loykin/hexanator/internal/ledger"
	"github.com/loykin/hexanator/internal/supervisor"
)

func sanitizeBase(bp string) string {
	bp = strings.TrimSpace(bp)
	if bp == "" || bp == "/" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	return strings.TrimRight(bp, "/")
}

func writeJSON(c *gin.Context, code int, v any) {
	c.Header("Content-Type", "application/json")
	c.Status(code)
	_ = json.NewEncoder(c.Writer).Encode(v)
}

// statusFor maps supervisor errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrInvalidName):
		return http.StatusBadRequest
	case errors.Is(err, supervisor.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, supervisor.ErrStartupFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
