package callback

import (
	"fmt"
	"net/http"
	"runtime/debug"
)

const (
	green      = "\033[32m"
	blue       = "\033[34m"
	gray       = "\033[90m"
	resetColor = "\033[0m"
)

var methodColors = map[string]string{
	http.MethodGet:  green,
	http.MethodPost: blue,
}

// SecurityHeadersMiddleware stops the callback pages from being framed, sniffed or
// running script.
func SecurityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; style-src 'unsafe-inline'; frame-ancestors 'none'")
		next.ServeHTTP(w, r)
	})
}

// LoggingMiddleware logs each request in the DEV environment.
func (s *Server) LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.env == "DEV" {
			s.logger.Debug().Msg(routeLine(r.Method, r.URL.Path))
		}
		next.ServeHTTP(w, r)
	})
}

// RecoverMiddleware turns a panicking handler into a 500 and a published error.
func (s *Server) RecoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error().Interface("panic", rec).Bytes("stack", debug.Stack()).Msg("callback handler panicked")
				http.Error(w, "internal error", http.StatusInternalServerError)
				s.publish(Result{Err: fmt.Errorf("callback handler panicked: %v", rec)})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return
	}
	for _, route := range s.routes {
		var method, path string
		if _, err := fmt.Sscanf(route, "%s %s", &method, &path); err != nil {
			continue
		}
		s.logger.Debug().Msg(routeLine(method, path))
	}
}

func routeLine(method, path string) string {
	color, ok := methodColors[method]
	if !ok {
		color = gray
	}
	return fmt.Sprintf("[%s %-7s%s] %s", color, method, resetColor, path)
}
