package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/rs/cors"

	"github.com/sumanism/ECA2/internal/auth"
)

// accessLog writes one line per request once the handler has finished.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		l := s.log.WithContext(r.Context())
		event := l.Info()
		if status >= http.StatusInternalServerError {
			event = l.Warn()
		}
		event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Str("remote_ip", auth.ClientIP(r)).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

func (s *Server) rateLimitByIP(perMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(perMinute, time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			RateLimitedError(w, r, "Too many requests, slow down")
		}),
	)
}

// rateLimitAI keys on the bearer token so one operator cannot drain the model
// quota of everyone behind the same address.
func (s *Server) rateLimitAI(perMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(perMinute, time.Minute,
		httprate.WithKeyFuncs(aiRateKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			RateLimitedError(w, r, "Too many AI requests, try again in a minute")
		}),
	)
}

func aiRateKey(r *http.Request) (string, error) {
	if email, _, ok := r.BasicAuth(); ok {
		return "admin:" + email, nil
	}
	if token := auth.ExtractBearerToken(r.Header.Get("Authorization")); token != "" {
		return "key:" + strconv.FormatUint(xxhash.Sum64String(token), 16), nil
	}
	return "ip:" + auth.ClientIP(r), nil
}

func (s *Server) withCORS(h http.Handler) http.Handler {
	if len(s.opts.CORSOrigins) == 0 {
		return h
	}
	return cors.New(cors.Options{
		AllowedOrigins:   s.opts.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"ETag", "X-Request-Id"},
		AllowCredentials: true,
	}).Handler(h)
}
