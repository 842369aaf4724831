package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"path"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"taskdesk/internal/domain"
	"taskdesk/internal/repo"
)

type AuthConfig struct {
	JWTSecret              string
	AllowLegacyActorHeader bool
	Logger                 *log.Logger
}

func (c AuthConfig) logger() *log.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return log.Default()
}

type principalKey struct{}

func withActor(ctx context.Context, a domain.Actor) context.Context {
	return context.WithValue(ctx, principalKey{}, a)
}

func actorFromContext(ctx context.Context) (domain.Actor, bool) {
	a, ok := ctx.Value(principalKey{}).(domain.Actor)
	return a, ok
}

type jwtClaims struct {
	jwt.RegisteredClaims
	Name          string `json:"name,omitempty"`
	Role          string `json:"role,omitempty"`
	InstitutionID string `json:"institution_id,omitempty"`
}

// authenticateJWT verifies a bearer token and derives the Actor from its
// claims. The subject claim carries the actor id.
func authenticateJWT(token, secret string) (domain.Actor, error) {
	if strings.TrimSpace(secret) == "" {
		return domain.Actor{}, errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &jwtClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return domain.Actor{}, err
	}
	if !parsed.Valid {
		return domain.Actor{}, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return domain.Actor{}, errors.New("subject claim required")
	}
	role := domain.Role(claims.Role)
	if !role.Valid() {
		return domain.Actor{}, errors.New("role claim missing or unknown")
	}
	if claims.InstitutionID == "" {
		return domain.Actor{}, errors.New("institution_id claim required")
	}
	return domain.Actor{
		ID:            claims.Subject,
		Name:          claims.Name,
		Role:          role,
		InstitutionID: claims.InstitutionID,
	}, nil
}

// IssueToken signs a development token for an actor. Used by the CLI and
// tests; production deployments mint tokens in their identity provider.
func IssueToken(secret string, actor domain.Actor) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("jwt secret not configured")
	}
	claims := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: actor.ID},
		Name:             actor.Name,
		Role:             string(actor.Role),
		InstitutionID:    actor.InstitutionID,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func publicPath(basePath, reqPath string) bool {
	switch reqPath {
	case path.Join(basePath, "health"),
		path.Join(basePath, "openapi"),
		path.Join(basePath, "openapi.json"),
		path.Join(basePath, "openapi.yaml"),
		path.Join(basePath, "docs"):
		return true
	}
	return false
}

// newAuthMiddleware resolves the requesting Actor from a bearer token, or,
// when allowed, from the legacy X-Actor-ID header backed by the actor roster.
func newAuthMiddleware(basePath string, cfg AuthConfig, r repo.Repo) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if publicPath(basePath, req.URL.Path) || !strings.HasPrefix(req.URL.Path, basePath) {
				next.ServeHTTP(w, req)
				return
			}
			authz := req.Header.Get("Authorization")
			if strings.HasPrefix(authz, "Bearer ") {
				actor, err := authenticateJWT(strings.TrimPrefix(authz, "Bearer "), cfg.JWTSecret)
				if err != nil {
					cfg.logger().Printf("auth: token rejected: %v", err)
					writeAuthError(w, "invalid or expired token")
					return
				}
				next.ServeHTTP(w, req.WithContext(withActor(req.Context(), actor)))
				return
			}
			if actorID := req.Header.Get("X-Actor-ID"); actorID != "" && cfg.AllowLegacyActorHeader {
				actor, err := r.GetActor(req.Context(), actorID)
				if err != nil {
					writeAuthError(w, "unknown actor")
					return
				}
				next.ServeHTTP(w, req.WithContext(withActor(req.Context(), actor)))
				return
			}
			writeAuthError(w, "authentication required")
		})
	}
}

func writeAuthError(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":{"code":"unauthorized","message":"` + msg + `"}}`))
}
