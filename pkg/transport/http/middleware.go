// Package httptransport protects resource server handlers with token
// introspection.
package httptransport

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/porthorian/openauth-introspection/pkg/authz"
	"github.com/porthorian/openauth-introspection/pkg/protocol/oauth"
)

type MiddlewareConfig struct {
	TokenHeader       string
	CookieName        string
	FailureStatusCode int
	// ClientID identifies this resource server to the introspector and
	// scopes audience validation.
	ClientID string
	// RequiredScopes must all be granted; otherwise the request gets 403.
	RequiredScopes []string
}

func DefaultConfig() MiddlewareConfig {
	return MiddlewareConfig{
		TokenHeader:       "Authorization",
		CookieName:        "",
		FailureStatusCode: http.StatusUnauthorized,
	}
}

type contextKey struct{}

// ResponseFromContext returns the introspection response of an admitted
// request.
func ResponseFromContext(ctx context.Context) (oauth.IntrospectionResponse, bool) {
	response, ok := ctx.Value(contextKey{}).(oauth.IntrospectionResponse)
	return response, ok
}

func ContextWithResponse(ctx context.Context, response oauth.IntrospectionResponse) context.Context {
	return context.WithValue(ctx, contextKey{}, response)
}

// Middleware only lets requests carrying an active token through.
func Middleware(introspector oauth.Introspector, config MiddlewareConfig) func(http.Handler) http.Handler {
	defaults := DefaultConfig()
	if config.TokenHeader == "" {
		config.TokenHeader = defaults.TokenHeader
	}
	if config.FailureStatusCode == 0 {
		config.FailureStatusCode = defaults.FailureStatusCode
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractToken(r, config)
			if token == "" {
				reject(w, config.FailureStatusCode, `Bearer`)
				return
			}

			if introspector == nil {
				reject(w, config.FailureStatusCode, `Bearer error="invalid_token"`)
				return
			}

			response := introspector.Introspect(r.Context(), oauth.IntrospectionRequest{
				Token:         token,
				TokenTypeHint: oauth.TokenTypeHintAccessToken,
				ClientID:      config.ClientID,
			})
			if !response.Active {
				reject(w, config.FailureStatusCode, `Bearer error="invalid_token"`)
				return
			}
			if missing := authz.ParseScope(response.Scope).Missing(config.RequiredScopes...); len(missing) > 0 {
				reject(w, http.StatusForbidden, fmt.Sprintf(`Bearer error="insufficient_scope", scope=%q`, strings.Join(config.RequiredScopes, " ")))
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithResponse(r.Context(), response)))
		})
	}
}

func extractToken(r *http.Request, config MiddlewareConfig) string {
	if value := strings.TrimSpace(r.Header.Get(config.TokenHeader)); value != "" {
		if !strings.EqualFold(config.TokenHeader, "Authorization") {
			return value
		}
		scheme, token, found := strings.Cut(value, " ")
		if found && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}

	if config.CookieName != "" {
		if cookie, err := r.Cookie(config.CookieName); err == nil {
			return strings.TrimSpace(cookie.Value)
		}
	}
	return ""
}

func reject(w http.ResponseWriter, status int, challenge string) {
	w.Header().Set("WWW-Authenticate", challenge)
	http.Error(w, http.StatusText(status), status)
}
