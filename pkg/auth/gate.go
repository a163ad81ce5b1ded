package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/mahaj/chatwithme/pkg/model"
	"github.com/mahaj/chatwithme/pkg/response"
)

var errMalformedHeader = errors.New("missing or malformed authorization header")

type contextKey string

const (
	identityKey   contextKey = "identity"
	credentialKey contextKey = "credential"
)

// Gate authenticates requests and renews their credential (sliding expiration).
//
// The admin flag seen by handlers is the one embedded when the credential was
// first issued at login; renewal copies it forward without consulting the
// user store, so privilege changes apply from the next login.
type Gate struct {
	tokens *TokenService
	log    *slog.Logger
}

func NewGate(tokens *TokenService, log *slog.Logger) *Gate {
	return &Gate{tokens: tokens, log: log}
}

func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, renewed, err := g.authenticate(r)
		if err != nil {
			// Every cause collapses to one outcome on the wire.
			g.log.DebugContext(r.Context(), "authorization failed", "path", r.URL.Path, "cause", err)
			response.Write(w, http.StatusUnauthorized, response.New(false, response.MsgAuthError, nil, ""))
			return
		}

		ctx := WithIdentity(r.Context(), identity, renewed)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (g *Gate) authenticate(r *http.Request) (model.Identity, Credential, error) {
	token, err := BearerToken(r.Header.Get("Authorization"))
	if err != nil {
		return model.Identity{}, "", err
	}

	claims, err := g.tokens.Verify(token)
	if err != nil {
		return model.Identity{}, "", err
	}

	identity := claims.Identity()
	renewed, err := g.tokens.Issue(identity)
	if err != nil {
		return model.Identity{}, "", err
	}
	return identity, renewed, nil
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" value.
func BearerToken(header string) (string, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", errMalformedHeader
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", errMalformedHeader
	}
	return token, nil
}

// WithIdentity attaches the authenticated identity and its renewed credential.
func WithIdentity(ctx context.Context, identity model.Identity, renewed Credential) context.Context {
	ctx = context.WithValue(ctx, identityKey, identity)
	return context.WithValue(ctx, credentialKey, renewed)
}

func IdentityFrom(ctx context.Context) (model.Identity, bool) {
	identity, ok := ctx.Value(identityKey).(model.Identity)
	return identity, ok
}

// CredentialFrom returns the renewed credential to echo back to the caller.
func CredentialFrom(ctx context.Context) Credential {
	c, _ := ctx.Value(credentialKey).(Credential)
	return c
}
