// Package auth resolves the identity behind an HTTP or websocket upgrade
// request. Accounts and login live elsewhere; this package only reads what
// they issue: a signed session cookie, a bearer JWT, or (when allowed) nothing
// at all, in which case the client's own join payload is trusted.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
	"go.uber.org/zap"
)

/*─────────────────────────────────────────────────────────────────────────────*
| Session constants                                                          |
*─────────────────────────────────────────────────────────────────────────────*/

const (
	DefaultSessionName = "mentorlink-session"

	isAuthKey = "is_authenticated"
	userIDKey = "user_id"
	userName  = "user_name"
	userEmail = "user_email"
	userRole  = "user_role"
)

// ErrInvalidToken is returned for a bearer token that does not verify.
var ErrInvalidToken = errors.New("invalid token")

/*─────────────────────────────────────────────────────────────────────────────*
| Identity                                                                   |
*─────────────────────────────────────────────────────────────────────────────*/

// User is the resolved identity of a request.
type User struct {
	Identity string // stable identity: email or user id
	Name     string
	Role     string
}

// Claims is the JWT body accepted on bearer tokens. The subject is the
// stable identity.
type Claims struct {
	Name string `json:"name,omitempty"`
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

type ctxKey string

const currentUserKey ctxKey = "currentUser"

// WithUser returns a copy of ctx carrying u.
func WithUser(ctx context.Context, u User) context.Context {
	return context.WithValue(ctx, currentUserKey, u)
}

// CurrentUser returns the user & “found?” flag.
func CurrentUser(r *http.Request) (User, bool) {
	u, ok := r.Context().Value(currentUserKey).(User)
	return u, ok
}

/*─────────────────────────────────────────────────────────────────────────────*
| Resolver                                                                   |
*─────────────────────────────────────────────────────────────────────────────*/

// Config selects the identity sources a Resolver accepts.
type Config struct {
	SessionKey   string // cookie signing key; empty disables cookie sessions
	SessionName  string
	Domain       string
	Secure       bool
	JWTSecret    string // HMAC secret; empty disables bearer tokens
	AllowTrusted bool   // accept anonymous connections that name themselves
}

// Resolver turns a request into a User.
type Resolver struct {
	cookies      *sessions.CookieStore
	sessionName  string
	jwtSecret    []byte
	allowTrusted bool
	log          *zap.Logger
}

// NewResolver builds a resolver. At least one identity source must be
// configured.
//
// In production (Secure=true), cookies are Secure + SameSite=None so they
// are sent on cross-site websocket upgrades. In local dev over
// http://localhost, use Secure=false so cookies are accepted.
func NewResolver(cfg Config, logger *zap.Logger) (*Resolver, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SessionKey == "" && cfg.JWTSecret == "" && !cfg.AllowTrusted {
		return nil, fmt.Errorf("no identity source configured; set session_key, jwt_secret or allow_trusted_identity")
	}

	rs := &Resolver{
		sessionName:  cfg.SessionName,
		allowTrusted: cfg.AllowTrusted,
		log:          logger,
	}
	if rs.sessionName == "" {
		rs.sessionName = DefaultSessionName
	}

	if cfg.SessionKey != "" {
		if len(cfg.SessionKey) < 32 {
			logger.Warn("session key is short; 32+ chars recommended",
				zap.Int("length", len(cfg.SessionKey)))
		}
		store := sessions.NewCookieStore([]byte(cfg.SessionKey))
		opts := &sessions.Options{
			Domain:   cfg.Domain,
			Path:     "/",
			Secure:   cfg.Secure,
			HttpOnly: true,
		}
		if cfg.Secure {
			opts.SameSite = http.SameSiteNoneMode
		} else {
			opts.SameSite = http.SameSiteLaxMode
		}
		store.Options = opts
		rs.cookies = store
	}
	if cfg.JWTSecret != "" {
		rs.jwtSecret = []byte(cfg.JWTSecret)
	}

	logger.Info("identity resolver initialized",
		zap.Bool("cookie_sessions", rs.cookies != nil),
		zap.Bool("bearer_tokens", rs.jwtSecret != nil),
		zap.Bool("trusted_identity", rs.allowTrusted))
	return rs, nil
}

// AllowTrusted reports whether anonymous connections may name themselves.
func (rs *Resolver) AllowTrusted() bool { return rs.allowTrusted }

// Resolve returns the user of r. ok is false for an anonymous request. A
// bearer token that fails verification returns ErrInvalidToken; a cookie
// that cannot be decoded is treated as anonymous.
func (rs *Resolver) Resolve(r *http.Request) (User, bool, error) {
	if tok := bearerToken(r); tok != "" {
		u, err := rs.ParseToken(tok)
		if err != nil {
			return User{}, false, err
		}
		return u, true, nil
	}

	if rs.cookies == nil {
		return User{}, false, nil
	}
	sess, err := rs.cookies.Get(r, rs.sessionName)
	if err != nil {
		var scErr securecookie.Error
		if errors.As(err, &scErr) && scErr.IsDecode() {
			rs.log.Debug("session cookie invalid, treating as anonymous", zap.Error(err))
		} else {
			rs.log.Warn("session store error, treating as anonymous", zap.Error(err))
		}
		return User{}, false, nil
	}
	if isAuth, _ := sess.Values[isAuthKey].(bool); !isAuth {
		return User{}, false, nil
	}
	u := User{
		Identity: getString(sess, userEmail),
		Name:     getString(sess, userName),
		Role:     getString(sess, userRole),
	}
	if u.Identity == "" {
		u.Identity = getString(sess, userIDKey)
	}
	if u.Identity == "" {
		return User{}, false, nil
	}
	return u, true, nil
}

// ParseToken verifies an HS256 bearer token and returns its user.
func (rs *Resolver) ParseToken(tok string) (User, error) {
	if rs.jwtSecret == nil {
		return User{}, fmt.Errorf("%w: bearer tokens are disabled", ErrInvalidToken)
	}
	var claims Claims
	_, err := jwt.ParseWithClaims(tok, &claims, func(*jwt.Token) (any, error) {
		return rs.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithLeeway(30*time.Second))
	if err != nil {
		return User{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return User{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return User{Identity: claims.Subject, Name: claims.Name, Role: claims.Role}, nil
}

// IssueToken signs a token for u valid for ttl.
func (rs *Resolver) IssueToken(u User, ttl time.Duration) (string, error) {
	if rs.jwtSecret == nil {
		return "", errors.New("bearer tokens are disabled")
	}
	now := time.Now()
	claims := Claims{
		Name: u.Name,
		Role: u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.Identity,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(rs.jwtSecret)
}

/*─────────────────────────────────────────────────────────────────────────────*
| Middleware                                                                 |
*─────────────────────────────────────────────────────────────────────────────*/

// LoadUser injects the resolved user into the request context. A bad bearer
// token is rejected with 401; anonymous requests pass through.
func (rs *Resolver) LoadUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, ok, err := rs.Resolve(r)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if ok {
			r = r.WithContext(WithUser(r.Context(), u))
		}
		next.ServeHTTP(w, r)
	})
}

// RequireSignedIn ensures there is a user in context (set by LoadUser).
func RequireSignedIn(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := CurrentUser(r); !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole ensures there is a user with one of the allowed roles in
// context. Missing user → 401, wrong role → 403.
func RequireRole(allowed ...string) func(http.Handler) http.Handler {
	set := make(map[string]struct{}, len(allowed))
	for _, role := range allowed {
		set[strings.ToLower(strings.TrimSpace(role))] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, ok := CurrentUser(r)
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if _, has := set[strings.ToLower(u.Role)]; !has {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// helpers

// bearerToken reads the Authorization header, falling back to the token
// query parameter since browsers cannot set headers on websocket upgrades.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
			return strings.TrimSpace(h[7:])
		}
		return ""
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

// getString safely extracts a string from a session value.
func getString(s *sessions.Session, key string) string {
	if v, ok := s.Values[key].(string); ok {
		return v
	}
	return ""
}
