package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"
	"go.uber.org/zap"

	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/platform/httpx"
	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/platform/requestctx"
)

const (
	defaultRoleClaim     = "role"
	defaultAdminClaim    = "admin"
	defaultVerifyTimeout = 5 * time.Second
)

// TokenVerifier verifies Firebase ID tokens.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// Authenticator turns bearer ID tokens into an Identity on the request context.
type Authenticator struct {
	verifier  TokenVerifier
	roleClaim string
}

// NewAuthenticator constructs an Authenticator. A nil verifier rejects every bearer token.
func NewAuthenticator(verifier TokenVerifier) *Authenticator {
	return &Authenticator{verifier: verifier, roleClaim: defaultRoleClaim}
}

// RequireFirebaseAuth rejects requests without a valid token (401) or without one of
// allowedRoles (403).
func (a *Authenticator) RequireFirebaseAuth(allowedRoles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				writeAuthError(r.Context(), w, http.StatusUnauthorized, "unauthenticated", "authorization header missing or invalid")
				return
			}
			identity, err := a.verify(r.Context(), token)
			if err != nil {
				writeVerificationError(r.Context(), w, err)
				return
			}
			if len(allowedRoles) > 0 && !identity.hasAnyRole(allowedRoles) {
				writeAuthError(r.Context(), w, http.StatusForbidden, "insufficient_role", "identity does not have the required role")
				return
			}
			next.ServeHTTP(w, r.WithContext(withIdentityLogger(r.Context(), identity)))
		})
	}
}

// OptionalFirebaseAuth attaches an Identity when a bearer token is present and lets anonymous
// requests through. A present but invalid token is still rejected.
func (a *Authenticator) OptionalFirebaseAuth() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := strings.TrimSpace(r.Header.Get("Authorization"))
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}
			token, ok := bearerToken(header)
			if !ok {
				writeAuthError(r.Context(), w, http.StatusUnauthorized, "unauthenticated", "authorization header invalid")
				return
			}
			identity, err := a.verify(r.Context(), token)
			if err != nil {
				writeVerificationError(r.Context(), w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(withIdentityLogger(r.Context(), identity)))
		})
	}
}

var errVerifierUnavailable = errors.New("auth: token verifier not configured")

func (a *Authenticator) verify(ctx context.Context, token string) (*Identity, error) {
	if a == nil || a.verifier == nil {
		return nil, errVerifierUnavailable
	}
	decoded, err := a.verifier.VerifyIDToken(ctx, token)
	if err != nil {
		return nil, err
	}
	identity := &Identity{
		UID:   decoded.UID,
		Email: claimString(decoded.Claims, "email"),
		Roles: rolesFromClaims(decoded.Claims, a.roleClaim),
	}
	identity.EmailVerified, _ = decoded.Claims["email_verified"].(bool)
	if admin, _ := decoded.Claims[defaultAdminClaim].(bool); admin && !identity.HasRole(RoleAdmin) {
		identity.Roles = append(identity.Roles, RoleAdmin)
	}
	if len(identity.Roles) == 0 {
		identity.Roles = []string{RoleCustomer}
	}
	return identity, nil
}

func (i *Identity) hasAnyRole(roles []string) bool {
	for _, role := range roles {
		if i.HasRole(role) {
			return true
		}
	}
	return false
}

func withIdentityLogger(ctx context.Context, identity *Identity) context.Context {
	uid := identity.UID
	if len(uid) > 64 {
		uid = uid[:64]
	}
	ctx = requestctx.WithLogger(ctx, requestctx.Logger(ctx).With(zap.String("user_id", uid)))
	return WithIdentity(ctx, identity)
}

func rolesFromClaims(claims map[string]any, key string) []string {
	var raw []string
	switch v := claims[key].(type) {
	case string:
		raw = []string{v}
	case []string:
		raw = v
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				raw = append(raw, s)
			}
		}
	}
	out := make([]string, 0, len(raw))
	for _, role := range raw {
		role = normaliseRole(role)
		if role == "" || containsString(out, role) {
			continue
		}
		out = append(out, role)
	}
	return out
}

func claimString(claims map[string]any, key string) string {
	value, _ := claims[key].(string)
	return strings.TrimSpace(value)
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func writeAuthError(ctx context.Context, w http.ResponseWriter, status int, code, message string) {
	httpx.WriteError(ctx, w, httpx.NewError(code, message, status))
}

func writeVerificationError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errVerifierUnavailable):
		writeAuthError(ctx, w, http.StatusServiceUnavailable, "auth_unavailable", "authentication is not configured")
	case firebaseauth.IsIDTokenExpired(err):
		writeAuthError(ctx, w, http.StatusUnauthorized, "token_expired", "id token expired")
	default:
		writeAuthError(ctx, w, http.StatusUnauthorized, "invalid_token", "id token verification failed")
	}
}
