// Package api is the local HTTP gateway the presentation layer talks to:
// a read-only ordered view of the open thread plus the send, attach,
// retry, cancel and thread open/close commands.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chatview/pkg/config"
	"chatview/pkg/logger"
	"chatview/pkg/models"
	"chatview/pkg/outbox"
	"chatview/pkg/session"
)

// Gateway serves the command surface for one session.
type Gateway struct {
	sess     *session.Session
	limiters *limiterPool
	staging  string
}

// New returns a Gateway over sess. staging receives spooled attachment
// uploads so a retry can re-read the original blob.
func New(sess *session.Session, cfg config.GatewayConfig, staging string) *Gateway {
	return &Gateway{
		sess:     sess,
		limiters: newLimiterPool(cfg.RateLimit.RPS, cfg.RateLimit.Burst),
		staging:  staging,
	}
}

// Handler returns the routed handler.
func (g *Gateway) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respond(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.Use(g.limit)
	v1.HandleFunc("/thread/open", g.openThread).Methods(http.MethodPost)
	v1.HandleFunc("/thread/close", g.closeThread).Methods(http.MethodPost)
	v1.HandleFunc("/messages", g.messages).Methods(http.MethodGet)
	v1.HandleFunc("/send", g.send).Methods(http.MethodPost)
	v1.HandleFunc("/attach", g.attach).Methods(http.MethodPost)
	v1.HandleFunc("/retry", g.retry).Methods(http.MethodPost)
	v1.HandleFunc("/cancel", g.cancel).Methods(http.MethodPost)
	return r
}

func (g *Gateway) limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if !g.limiters.Allow(host) {
			respondErr(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (g *Gateway) openThread(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Kind models.ThreadKind `json:"kind"`
		ID   string            `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		respondErr(w, http.StatusBadRequest, "invalid thread ref")
		return
	}
	if req.Kind != models.ThreadRoom && req.Kind != models.ThreadDirect {
		respondErr(w, http.StatusBadRequest, "invalid thread kind")
		return
	}
	if err := g.sess.Open(r.Context(), models.ThreadRef{Kind: req.Kind, ID: req.ID}); err != nil {
		writeErr(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]string{"status": "open"})
}

func (g *Gateway) closeThread(w http.ResponseWriter, _ *http.Request) {
	g.sess.Close()
	respond(w, http.StatusOK, map[string]string{"status": "closed"})
}

func (g *Gateway) messages(w http.ResponseWriter, _ *http.Request) {
	th, ok := g.sess.Thread()
	if !ok {
		respondErr(w, http.StatusConflict, "no thread open")
		return
	}
	ms := g.sess.Messages()
	if ms == nil {
		ms = []models.Message{}
	}
	respond(w, http.StatusOK, map[string]any{
		"thread":   th,
		"messages": ms,
	})
}

func (g *Gateway) send(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	key, err := g.sess.Send(req.Text)
	if err != nil {
		writeErr(w, err)
		return
	}
	logger.Info("send_accepted", "key", key)
	respond(w, http.StatusAccepted, map[string]string{"correlation_key": key})
}

// staleSpoolAge must exceed any plausible retry window: a failed send's
// source still points at its spool until the send is retried to success,
// cancelled, or the thread is closed.
const staleSpoolAge = 24 * time.Hour

// sweepStaging drops spooled blobs old enough that no retry can still
// need them, bounding staging growth over the life of the process.
func (g *Gateway) sweepStaging() {
	entries, err := os.ReadDir(g.staging)
	if err != nil {
		return
	}
	for _, e := range entries {
		info, err := e.Info()
		if err != nil || time.Since(info.ModTime()) < staleSpoolAge {
			continue
		}
		path := filepath.Join(g.staging, e.Name())
		if err := os.Remove(path); err == nil {
			logger.Debug("stale_spool_removed", "path", path)
		}
	}
}

// attach spools the multipart blob to the staging dir, then hands the
// session a source that re-opens it, so retry after a transfer failure
// reads the same bytes.
func (g *Gateway) attach(w http.ResponseWriter, r *http.Request) {
	g.sweepStaging()

	f, hdr, err := r.FormFile("file")
	if err != nil {
		respondErr(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer f.Close()
	caption := r.FormValue("caption")

	spool, err := os.CreateTemp(g.staging, "attach-*")
	if err != nil {
		respondErr(w, http.StatusInternalServerError, "staging failed")
		return
	}
	size, err := io.Copy(spool, f)
	cerr := spool.Close()
	if err != nil || cerr != nil {
		_ = os.Remove(spool.Name())
		respondErr(w, http.StatusInternalServerError, "staging failed")
		return
	}

	path := spool.Name()
	source := func() (io.ReadCloser, error) { return os.Open(path) }
	key, err := g.sess.AttachAndSend(filepath.Base(hdr.Filename), size, source, caption)
	if err != nil {
		_ = os.Remove(path)
		writeErr(w, err)
		return
	}
	respond(w, http.StatusAccepted, map[string]string{"correlation_key": key})
}

func (g *Gateway) retry(w http.ResponseWriter, r *http.Request) {
	key, ok := correlationKey(w, r)
	if !ok {
		return
	}
	if err := g.sess.Retry(key); err != nil {
		writeErr(w, err)
		return
	}
	respond(w, http.StatusAccepted, map[string]string{"correlation_key": key})
}

func (g *Gateway) cancel(w http.ResponseWriter, r *http.Request) {
	key, ok := correlationKey(w, r)
	if !ok {
		return
	}
	if err := g.sess.Cancel(key); err != nil {
		writeErr(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]string{"correlation_key": key})
}

func correlationKey(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req struct {
		Key string `json:"correlation_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Key == "" {
		respondErr(w, http.StatusBadRequest, "missing correlation_key")
		return "", false
	}
	return req.Key, true
}

// respond encodes v as JSON under the given status.
func respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("response_encode_failed", "error", err)
	}
}

func respondErr(w http.ResponseWriter, status int, msg string) {
	respond(w, status, map[string]string{"error": msg})
}

func writeErr(w http.ResponseWriter, err error) {
	var verr *models.ValidationError
	var serr *models.SubscriptionError
	switch {
	case errors.As(err, &verr):
		respondErr(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, outbox.ErrBusy):
		respondErr(w, http.StatusConflict, err.Error())
	case errors.Is(err, session.ErrNoThread):
		respondErr(w, http.StatusConflict, err.Error())
	case errors.As(err, &serr):
		respondErr(w, http.StatusBadGateway, err.Error())
	default:
		respondErr(w, http.StatusInternalServerError, err.Error())
	}
}
