// Package webhook implements the authenticated HTTP ingress (C5, spec
// §4.5): a single endpoint that accepts third-party notification
// payloads and hands them to the notification pipeline.
package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"imessage-codex-bridge/internal/store"
)

const defaultMaxBodyBytes = 1 << 20 // 1 MiB

// Ingestor is the subset of notify.Pipeline the webhook server depends
// on.
type Ingestor interface {
	Ingest(ctx context.Context, payload any, source store.NotificationSource, sourceAccount, sourceEventID string, rawExcerptBytes int) (id string, duplicate bool, err error)
}

// Server is the webhook ingress HTTP handler.
type Server struct {
	log             *slog.Logger
	ingest          Ingestor
	path            string
	secret          string
	maxBodyBytes    int64
	rawExcerptBytes int
}

// Config configures the webhook server.
type Config struct {
	Path            string
	Secret          string
	MaxBodyBytes    int64
	RawExcerptBytes int
}

// New builds a webhook Server.
func New(log *slog.Logger, ingest Ingestor, cfg Config) *Server {
	if log == nil {
		log = slog.Default()
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}
	rawExcerpt := cfg.RawExcerptBytes
	if rawExcerpt <= 0 {
		rawExcerpt = 4096
	}
	return &Server{
		log:             log,
		ingest:          ingest,
		path:            cfg.Path,
		secret:          cfg.Secret,
		maxBodyBytes:    maxBody,
		rawExcerptBytes: rawExcerpt,
	}
}

// Router returns the http.Handler serving the configured path.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+s.path, s.handleNotify)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]bool{"ok": false})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]bool{"ok": false})
		return
	}

	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]bool{"ok": false})
		return
	}

	sourceAccount := r.Header.Get("X-Source-Account")
	sourceEventID := r.Header.Get("X-Event-Id")

	id, duplicate, err := func() (id string, duplicate bool, err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = errRecovered(rec)
			}
		}()
		return s.ingest.Ingest(r.Context(), payload, store.SourceWebhook, sourceAccount, sourceEventID, s.rawExcerptBytes)
	}()
	if err != nil {
		s.log.Error("webhook: ingest failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]bool{"ok": false})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":             true,
		"notificationId": id,
		"duplicate":      duplicate,
	})
}

// authorized checks the Authorization: Bearer or X-Bridge-Secret header
// against the configured secret using a constant-time comparison (spec
// §4.5).
func (s *Server) authorized(r *http.Request) bool {
	if s.secret == "" {
		return false
	}
	if bearer := bearerToken(r.Header.Get("Authorization")); bearer != "" {
		if subtle.ConstantTimeCompare([]byte(bearer), []byte(s.secret)) == 1 {
			return true
		}
	}
	if alt := r.Header.Get("X-Bridge-Secret"); alt != "" {
		if subtle.ConstantTimeCompare([]byte(alt), []byte(s.secret)) == 1 {
			return true
		}
	}
	return false
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return ""
	}
	return header[len(prefix):]
}

type recoveredError struct{ v any }

func (e recoveredError) Error() string {
	if err, ok := e.v.(error); ok {
		return err.Error()
	}
	return "webhook: recovered panic in ingest handler"
}

func errRecovered(v any) error { return recoveredError{v: v} }
