package handlers

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"

	httpx "github.com/dropDatabas3/leadbridge/internal/http"
	"github.com/dropDatabas3/leadbridge/internal/http/middlewares"
)

const maxJSONBody = 1 << 20 // 1MB (el proxy acepta payloads de API)

func readStrictJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	ct := strings.ToLower(strings.TrimSpace(r.Header.Get("Content-Type")))
	if !strings.Contains(ct, "application/json") {
		httpx.WriteError(w, http.StatusUnsupportedMediaType, "validation", "se requiere Content-Type: application/json")
		return false
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil && err != io.EOF {
		httpx.WriteError(w, http.StatusBadRequest, "validation", "json inválido")
		return false
	}
	return true
}

// requestMeta arma los metadatos que van al audit log junto con cada evento.
func requestMeta(r *http.Request) map[string]any {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}
	return map[string]any{
		"ip":         ip,
		"user_agent": r.UserAgent(),
		"request_id": middlewares.GetRequestID(r.Context()),
	}
}
