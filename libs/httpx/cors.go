package httpx

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hoaht-8203/courtops/libs/apperr"
)

// CORSPolicy lists the browser origins allowed to call the API. An origin
// entry is either "*", an exact origin or a subdomain pattern such as
// "https://*.courtops.vn".
type CORSPolicy struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	MaxAge           time.Duration
}

type originSet struct {
	any      bool
	exact    map[string]bool
	suffixes []originSuffix
}

type originSuffix struct {
	scheme string
	domain string
}

func newOriginSet(origins []string) originSet {
	set := originSet{exact: map[string]bool{}}
	for _, o := range trimmed(origins) {
		o = strings.ToLower(strings.TrimSuffix(o, "/"))
		switch {
		case o == "*":
			set.any = true
		case strings.Contains(o, "://*."):
			scheme, host, _ := strings.Cut(o, "://*")
			set.suffixes = append(set.suffixes, originSuffix{scheme: scheme, domain: host})
		default:
			set.exact[o] = true
		}
	}
	return set
}

func (s originSet) allows(origin string) bool {
	if s.any {
		return true
	}
	origin = strings.ToLower(origin)
	if s.exact[origin] {
		return true
	}
	scheme, host, ok := strings.Cut(origin, "://")
	if !ok {
		return false
	}
	for _, sfx := range s.suffixes {
		if scheme == sfx.scheme && strings.HasSuffix(host, sfx.domain) && len(host) > len(sfx.domain) {
			return true
		}
	}
	return false
}

func (s originSet) empty() bool {
	return !s.any && len(s.exact) == 0 && len(s.suffixes) == 0
}

// WithCORS answers preflights and decorates responses for allowed origins.
// Preflights from other origins are refused. Without any allowed origin the
// middleware does nothing.
func WithCORS(p CORSPolicy) Middleware {
	origins := newOriginSet(p.AllowedOrigins)
	if origins.empty() {
		return func(next http.Handler) http.Handler { return next }
	}

	static := http.Header{}
	if p.AllowCredentials {
		static.Set("Access-Control-Allow-Credentials", "true")
	}
	setList(static, "Access-Control-Allow-Methods", p.AllowedMethods)
	setList(static, "Access-Control-Allow-Headers", p.AllowedHeaders)
	setList(static, "Access-Control-Expose-Headers", p.ExposedHeaders)
	if secs := int(p.MaxAge.Seconds()); secs > 0 {
		static.Set("Access-Control-Max-Age", strconv.Itoa(secs))
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}
			h := w.Header()
			h.Add("Vary", "Origin")
			preflight := r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""

			if !origins.allows(origin) {
				if preflight {
					WriteError(w, r, apperr.Forbidden("origin %s is not allowed", origin))
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			// A wildcard can only be echoed as "*" when no credentials flow.
			if origins.any && !p.AllowCredentials {
				h.Set("Access-Control-Allow-Origin", "*")
			} else {
				h.Set("Access-Control-Allow-Origin", origin)
			}
			for k := range static {
				h.Set(k, static.Get(k))
			}
			if preflight {
				h.Add("Vary", "Access-Control-Request-Method")
				h.Add("Vary", "Access-Control-Request-Headers")
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func setList(h http.Header, key string, values []string) {
	if v := trimmed(values); len(v) > 0 {
		h.Set(key, strings.Join(v, ", "))
	}
}

func trimmed(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
