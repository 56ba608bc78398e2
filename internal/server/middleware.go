package server

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/alnah/go-markup2pdf/internal/config"
)

// Header and query names accepted for API keys.
const (
	apiKeyHeader = "X-API-Key"
	apiKeyQuery  = "api_key"
	bearerPrefix = "Bearer "
)

// gates holds the access checks of /api routes. A nil field disables its check.
type gates struct {
	apiKeys   [][]byte
	jwtSecret []byte
	allowlist prefixSet
}

func newGates(cfg *config.Config) (*gates, error) {
	g := &gates{}
	if cfg.APIKeyGateActive() {
		g.apiKeys = make([][]byte, 0, len(cfg.Auth.APIKeys))
		for _, k := range cfg.Auth.APIKeys {
			if k = strings.TrimSpace(k); k != "" {
				g.apiKeys = append(g.apiKeys, []byte(k))
			}
		}
	}
	if cfg.Auth.JWTRequired {
		g.jwtSecret = []byte(cfg.Auth.JWTSecret)
	}
	if cfg.Auth.IPAllowlistRequired {
		allowlist, err := newPrefixSet(cfg.Auth.IPAllowlist)
		if err != nil {
			return nil, fmt.Errorf("server: ip allowlist: %w", err)
		}
		g.allowlist = allowlist
	}
	return g, nil
}

// prefixSet matches client addresses against IP and CIDR entries.
type prefixSet []netip.Prefix

func newPrefixSet(entries []string) (prefixSet, error) {
	set := make(prefixSet, 0, len(entries))
	for _, entry := range entries {
		p, err := parsePrefix(entry)
		if err != nil {
			return nil, err
		}
		set = append(set, p)
	}
	return set, nil
}

func (ps prefixSet) contains(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range ps {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func parsePrefix(s string) (netip.Prefix, error) {
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		return p.Masked(), err
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, err
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// middleware checks the client address first, then the API key, then the JWT.
func (g *gates) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.allowlist != nil && !g.allowlist.contains(clientIP(r)) {
			writeJSON(w, http.StatusForbidden, errorResponse{Error: "access denied: client address not allowed"})
			return
		}
		if g.apiKeys != nil {
			key := extractAPIKey(r)
			if key == "" {
				writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "API key required"})
				return
			}
			if !g.validKey(key) {
				writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid API key"})
				return
			}
		}
		if g.jwtSecret != nil {
			token := bearerToken(r)
			if token == "" {
				writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "authentication token required"})
				return
			}
			if err := verifyToken(g.jwtSecret, token); err != nil {
				writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid authentication token"})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (g *gates) validKey(key string) bool {
	candidate := []byte(key)
	valid := 0
	for _, k := range g.apiKeys {
		valid |= subtle.ConstantTimeCompare(candidate, k)
	}
	return valid == 1
}

// extractAPIKey reads the key from X-API-Key, then the api_key query
// parameter, then the bearer token.
func extractAPIKey(r *http.Request) string {
	if k := r.Header.Get(apiKeyHeader); k != "" {
		return k
	}
	if k := r.URL.Query().Get(apiKeyQuery); k != "" {
		return k
	}
	return bearerToken(r)
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > len(bearerPrefix) && strings.EqualFold(h[:len(bearerPrefix)], bearerPrefix) {
		return strings.TrimSpace(h[len(bearerPrefix):])
	}
	return ""
}

// verifyToken accepts HS256 tokens signed with secret only.
func verifyToken(secret []byte, token string) error {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return err
	}
	if !parsed.Valid {
		return errors.New("invalid token")
	}
	return nil
}

// forwardedFor replaces RemoteAddr with the client address reported by a
// trusted proxy. Requests from any other peer keep their socket address, so
// forwarding headers sent by clients themselves are ignored.
func forwardedFor(trusted prefixSet) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(trusted) > 0 && trusted.contains(clientIP(r)) {
				if ip := forwardedClient(r, trusted); ip != "" {
					r.RemoteAddr = net.JoinHostPort(ip, "0")
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// forwardedClient reads X-Real-Ip, then walks X-Forwarded-For from the right
// and returns the first hop that is not a trusted proxy.
func forwardedClient(r *http.Request, trusted prefixSet) string {
	if ip, err := netip.ParseAddr(strings.TrimSpace(r.Header.Get("X-Real-Ip"))); err == nil {
		return ip.Unmap().String()
	}
	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		ip, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
		if err != nil {
			return ""
		}
		if addr := ip.Unmap().String(); !trusted.contains(addr) {
			return addr
		}
	}
	return ""
}

// clientIP returns the host part of RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// requestLogger logs one line per request and feeds the HTTP metrics.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := routePattern(r)
		elapsed := time.Since(start)
		s.metrics.observeRequest(route, r.Method, status, elapsed)

		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", elapsed),
			zap.String("remote", clientIP(r)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		}
		switch {
		case status >= http.StatusInternalServerError:
			s.logger.Error("request", fields...)
		case status >= http.StatusBadRequest:
			s.logger.Warn("request", fields...)
		default:
			s.logger.Info("request", fields...)
		}
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// recoverer turns handler panics into a JSON 500 and logs the stack.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			s.logger.Error("panic in handler",
				zap.Any("panic", rec),
				zap.String("path", r.URL.Path),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.Stack("stack"),
			)
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
		}()
		next.ServeHTTP(w, r)
	})
}
