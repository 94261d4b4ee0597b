package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"sentinel-engine/internal/schema"
	"sentinel-engine/internal/scorer"
	"sentinel-engine/internal/storage"
)

// RequestScorer receives every served request for risk scoring.
type RequestScorer interface {
	Submit(req scorer.Request) bool
}

// statusWriter captures the status code and body size of a response.
type statusWriter struct {
	http.ResponseWriter
	status int
	size   int64
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.size += int64(n)
	return n, err
}

// Recovery converts handler panics into 500 responses.
func Recovery(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("handler panicked",
						"panic", rec,
						"method", r.Method,
						"path", r.URL.Path)
					writeJSONError(w, http.StatusInternalServerError, "internal error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// RequestLogging assigns a request id and logs one line per request.
func RequestLogging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := uuid.NewString()
			w.Header().Set("X-Request-ID", reqID)

			sw := &statusWriter{ResponseWriter: w}
			start := time.Now()
			next.ServeHTTP(sw, r)

			logger.Info("request served",
				"request_id", reqID,
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.status,
				"size", sw.size,
				"duration", time.Since(start),
				"remote", clientIP(r))
		})
	}
}

// APIKeyAuth checks the configured header against bcrypt hashes of the
// accepted keys. The health endpoint stays open for probes. Outcomes are
// recorded as auth events so the analyzers see API brute forcing too.
func APIKeyAuth(header string, hashes []string, auth storage.AuthEventSink, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get(header)
			ok := key != "" && matchesAnyHash(key, hashes)
			recordAuthEvent(r.Context(), auth, logger, clientIP(r), ok)

			if !ok {
				writeJSONError(w, http.StatusUnauthorized, "invalid or missing api key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func matchesAnyHash(key string, hashes []string) bool {
	for _, h := range hashes {
		if bcrypt.CompareHashAndPassword([]byte(h), []byte(key)) == nil {
			return true
		}
	}
	return false
}

func recordAuthEvent(ctx context.Context, auth storage.AuthEventSink, logger *slog.Logger, ip string, success bool) {
	if auth == nil {
		return
	}
	rec := schema.AuthEventRecord{
		Timestamp: time.Now().UTC(),
		EventType: "api_key",
		IP:        ip,
		Success:   success,
	}
	if !success {
		rec.FailureReason = "invalid_api_key"
	}
	if err := auth.AppendAuthEvent(ctx, rec); err != nil {
		logger.Warn("auth event not recorded", "error", err)
	}
}

// AccessRecording appends one access log row per served request and feeds
// the request scorer. Both happen after the response is written and off
// the request path.
func AccessRecording(access storage.AccessLogSink, sc RequestScorer, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &statusWriter{ResponseWriter: w}
			start := time.Now()
			next.ServeHTTP(sw, r)
			elapsed := time.Since(start)

			rec := schema.APIAccessRecord{
				Timestamp:      start.UTC(),
				Endpoint:       r.URL.Path,
				Method:         r.Method,
				UserID:         r.Header.Get("X-User-ID"),
				IP:             clientIP(r),
				UserAgent:      r.UserAgent(),
				ResponseCode:   sw.status,
				ResponseTimeMS: float64(elapsed) / float64(time.Millisecond),
				RequestSize:    max(r.ContentLength, 0),
				ResponseSize:   sw.size,
			}
			rec.ThreatScore = scorer.Score(scorer.Request{
				Endpoint:       rec.Endpoint,
				Method:         rec.Method,
				SourceIP:       rec.IP,
				UserID:         rec.UserID,
				UserAgent:      rec.UserAgent,
				ResponseTimeMS: rec.ResponseTimeMS,
				RequestSize:    rec.RequestSize,
				ResponseSize:   rec.ResponseSize,
			})

			go func() {
				if access != nil {
					ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					if err := access.AppendAccess(ctx, rec); err != nil {
						logger.Warn("access log append failed", "error", err)
					}
				}
				if sc != nil {
					sc.Submit(scorer.Request{
						Endpoint:       rec.Endpoint,
						Method:         rec.Method,
						SourceIP:       rec.IP,
						UserID:         rec.UserID,
						UserAgent:      rec.UserAgent,
						ResponseTimeMS: rec.ResponseTimeMS,
						RequestSize:    rec.RequestSize,
						ResponseSize:   rec.ResponseSize,
					})
				}
			}()
		})
	}
}

// Chain applies middlewares outermost first.
func Chain(h http.Handler, mw ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return h
}

// clientIP resolves the request source. The forwarded header is client
// controlled, so its value is used only when it parses as an IP; anything
// else falls back to the transport address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
			return ip.String()
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
