// Package grpctransport protects gRPC services with token introspection.
package grpctransport

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/porthorian/openauth-introspection/pkg/authz"
	"github.com/porthorian/openauth-introspection/pkg/protocol/oauth"
)

const authorizationKey = "authorization"

type InterceptorConfig struct {
	// ClientID identifies this service to the introspector.
	ClientID    string
	SkipMethods []string
	// RequiredScopes must all be granted; otherwise PermissionDenied.
	RequiredScopes []string
}

type contextKey struct{}

func ResponseFromContext(ctx context.Context) (oauth.IntrospectionResponse, bool) {
	response, ok := ctx.Value(contextKey{}).(oauth.IntrospectionResponse)
	return response, ok
}

func UnaryInterceptor(introspector oauth.Introspector, config InterceptorConfig) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if config.skip(info.FullMethod) {
			return handler(ctx, req)
		}

		authedCtx, err := authenticate(ctx, introspector, config)
		if err != nil {
			return nil, err
		}
		return handler(authedCtx, req)
	}
}

func StreamInterceptor(introspector oauth.Introspector, config InterceptorConfig) grpc.StreamServerInterceptor {
	return func(srv any, stream grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if config.skip(info.FullMethod) {
			return handler(srv, stream)
		}

		authedCtx, err := authenticate(stream.Context(), introspector, config)
		if err != nil {
			return err
		}
		return handler(srv, &authenticatedStream{ServerStream: stream, ctx: authedCtx})
	}
}

func authenticate(ctx context.Context, introspector oauth.Introspector, config InterceptorConfig) (context.Context, error) {
	token := bearerToken(ctx)
	if token == "" {
		return nil, status.Error(codes.Unauthenticated, "missing bearer token")
	}
	if introspector == nil {
		return nil, status.Error(codes.Unauthenticated, "invalid token")
	}

	response := introspector.Introspect(ctx, oauth.IntrospectionRequest{
		Token:         token,
		TokenTypeHint: oauth.TokenTypeHintAccessToken,
		ClientID:      config.ClientID,
	})
	if !response.Active {
		return nil, status.Error(codes.Unauthenticated, "invalid token")
	}
	if missing := authz.ParseScope(response.Scope).Missing(config.RequiredScopes...); len(missing) > 0 {
		return nil, status.Errorf(codes.PermissionDenied, "insufficient scope: missing %s", strings.Join(missing, " "))
	}

	return context.WithValue(ctx, contextKey{}, response), nil
}

func bearerToken(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}

	for _, value := range md.Get(authorizationKey) {
		scheme, token, found := strings.Cut(strings.TrimSpace(value), " ")
		if found && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return ""
}

func (c InterceptorConfig) skip(method string) bool {
	for _, skipped := range c.SkipMethods {
		if skipped == method {
			return true
		}
	}
	return false
}

type authenticatedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *authenticatedStream) Context() context.Context {
	return s.ctx
}
