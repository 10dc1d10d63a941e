package gateway

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/basket/testforge/internal/config"
)

// originSet matches request origins against the configured list. Entries
// are exact origins ("http://localhost:5173"), "*", or a single leading
// subdomain wildcard ("https://*.web.app") for hosting preview channels.
type originSet struct {
	any      bool
	exact    map[string]bool
	suffixes []wildcardOrigin
}

type wildcardOrigin struct {
	scheme string
	suffix string // ".web.app"
}

func newOriginSet(allowed []string) originSet {
	set := originSet{exact: make(map[string]bool)}
	for _, raw := range allowed {
		o := normalizeOrigin(raw)
		switch {
		case o == "":
		case o == "*":
			set.any = true
		case strings.Contains(o, "://*."):
			scheme, host, _ := strings.Cut(o, "://")
			set.suffixes = append(set.suffixes, wildcardOrigin{scheme: scheme, suffix: host[1:]})
		default:
			set.exact[o] = true
		}
	}
	return set
}

func (s originSet) allows(origin string) bool {
	o := normalizeOrigin(origin)
	if o == "" || o == "null" {
		return false
	}
	if s.any || s.exact[o] {
		return true
	}
	scheme, host, ok := strings.Cut(o, "://")
	if !ok {
		return false
	}
	for _, w := range s.suffixes {
		if scheme == w.scheme && len(host) > len(w.suffix) && strings.HasSuffix(host, w.suffix) {
			return true
		}
	}
	return false
}

func normalizeOrigin(o string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(o)), "/")
}

// NewCORSMiddleware returns a pass-through wrapper when CORS is disabled.
// OPTIONS requests are answered here and never reach the API handlers.
func NewCORSMiddleware(cfg config.CORSConfig) func(http.Handler) http.Handler {
	if !cfg.Enabled {
		return func(next http.Handler) http.Handler { return next }
	}

	origins := newOriginSet(cfg.AllowedOrigins)

	methods := cfg.AllowedMethods
	if len(methods) == 0 {
		methods = []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}
	}
	headers := cfg.AllowedHeaders
	if len(headers) == 0 {
		headers = []string{"Content-Type", requestIDHeader}
	}
	maxAge := cfg.MaxAge
	if maxAge == 0 {
		maxAge = 3600
	}

	methodStr := strings.Join(methods, ", ")
	headerStr := strings.Join(headers, ", ")
	maxAgeStr := strconv.Itoa(maxAge)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if !origins.any {
				w.Header().Add("Vary", "Origin")
			}
			if origin != "" && origins.allows(origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", methodStr)
				w.Header().Set("Access-Control-Allow-Headers", headerStr)
				w.Header().Set("Access-Control-Expose-Headers", requestIDHeader)
				w.Header().Set("Access-Control-Max-Age", maxAgeStr)
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequestSizeLimitMiddleware caps request bodies. Handlers see a
// *http.MaxBytesError once the limit is crossed.
func RequestSizeLimitMiddleware(maxBytes int64) func(http.Handler) http.Handler {
	if maxBytes <= 0 {
		maxBytes = 1 << 20
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}
