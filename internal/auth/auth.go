package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc"

	"plangate/internal/config"
)

// Logger defines the logging interface compatible with the application logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// Principal is the authenticated caller of a request.
type Principal struct {
	Subject string
	Email   string
	Scopes  []string
	// Bypass is set when authentication is disabled for local development.
	Bypass bool
}

// HasScope reports whether the principal was granted scope.
func (p *Principal) HasScope(scope string) bool {
	if p.Bypass {
		return true
	}
	for _, s := range p.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

type principalKey struct{}

// PrincipalFromContext returns the principal stored by RequireAuth.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok
}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// Auth verifies OpenID Connect bearer access tokens issued for the gate API.
type Auth struct {
	verifier   *oidc.IDTokenVerifier
	logger     Logger
	authBypass bool
}

// New creates a new Auth object using values from the application
// configuration. It establishes a connection to the provider and prepares a
// token verifier, unless dev bypass is enabled.
func New(ctx context.Context, cfg *config.Config, logger Logger) (*Auth, error) {
	if cfg.Auth.DevBypass {
		if logger != nil {
			logger.Info("authentication bypass enabled, every request is trusted")
		}
		return &Auth{logger: logger, authBypass: true}, nil
	}
	if cfg.Auth.Issuer == "" {
		return nil, errors.New("auth configuration is incomplete")
	}

	provider, err := oidc.NewProvider(ctx, cfg.Auth.Issuer)
	if err != nil {
		return nil, err
	}

	// Access tokens often carry an API audience (e.g. "api://default") rather
	// than a client ID, so the audience is only checked when one is configured.
	verifier := provider.Verifier(&oidc.Config{
		ClientID:          cfg.Auth.ClientID,
		SkipClientIDCheck: cfg.Auth.ClientID == "",
	})

	return NewWithVerifier(verifier, logger), nil
}

// NewWithVerifier creates an Auth around an existing verifier.
func NewWithVerifier(verifier *oidc.IDTokenVerifier, logger Logger) *Auth {
	return &Auth{verifier: verifier, logger: logger}
}

// RequireAuth is middleware that ensures a valid bearer token is present and
// stores the caller's Principal in the request context.
func (a *Auth) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.authBypass {
			p := &Principal{Subject: "dev", Email: "dev@localhost", Bypass: true}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
			return
		}

		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			w.Header().Set("WWW-Authenticate", `Bearer realm="plangate"`)
			writeProblem(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		rawToken := strings.TrimPrefix(authHeader, "Bearer ")

		token, err := a.verifier.Verify(r.Context(), rawToken)
		if err != nil {
			if a.logger != nil {
				a.logger.Debug("rejected bearer token", "error", err)
			}
			w.Header().Set("WWW-Authenticate", `Bearer realm="plangate", error="invalid_token"`)
			writeProblem(w, http.StatusUnauthorized, "invalid token: "+err.Error())
			return
		}

		var claims struct {
			Subject string   `json:"sub"`
			Email   string   `json:"email"`
			Scope   string   `json:"scope"`
			Scp     []string `json:"scp"`
		}
		if err := token.Claims(&claims); err != nil {
			writeProblem(w, http.StatusUnauthorized, "failed to parse token claims")
			return
		}

		p := &Principal{
			Subject: claims.Subject,
			Email:   claims.Email,
			Scopes:  append(strings.Fields(claims.Scope), claims.Scp...),
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

// RequireScope returns middleware that rejects requests whose principal lacks
// scope. It must run after RequireAuth.
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				writeProblem(w, http.StatusUnauthorized, "request is not authenticated")
				return
			}
			if !p.HasScope(scope) {
				w.Header().Set("WWW-Authenticate", `Bearer realm="plangate", error="insufficient_scope", scope="`+scope+`"`)
				writeProblem(w, http.StatusForbidden, "missing required scope "+scope)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeProblem(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"type":   "about:blank",
		"title":  http.StatusText(status),
		"status": status,
		"detail": detail,
	})
}
