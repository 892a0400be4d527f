package grpctransport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/porthorian/openauth-introspection/pkg/protocol/oauth"
)

type stubIntrospector struct {
	active map[string]bool
}

func (s stubIntrospector) Introspect(ctx context.Context, request oauth.IntrospectionRequest) oauth.IntrospectionResponse {
	if !s.active[request.Token] {
		return oauth.Inactive()
	}
	return oauth.IntrospectionResponse{Active: true, Scope: "read", Audience: []string{request.ClientID}}
}

func incoming(authorization string) context.Context {
	if authorization == "" {
		return context.Background()
	}
	return metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", authorization))
}

func TestUnaryInterceptor(t *testing.T) {
	interceptor := UnaryInterceptor(stubIntrospector{active: map[string]bool{"good": true}}, InterceptorConfig{
		ClientID:    "orders",
		SkipMethods: []string{"/grpc.health.v1.Health/Check"},
	})
	handler := func(ctx context.Context, req any) (any, error) {
		response, ok := ResponseFromContext(ctx)
		if !ok {
			return "anonymous", nil
		}
		return response.Audience[0], nil
	}
	info := &grpc.UnaryServerInfo{FullMethod: "/orders.v1.Orders/Get"}

	out, err := interceptor(incoming("Bearer good"), nil, info, handler)
	require.NoError(t, err)
	assert.Equal(t, "orders", out)

	for _, authorization := range []string{"", "Bearer bad", "Basic good"} {
		_, err := interceptor(incoming(authorization), nil, info, handler)
		assert.Equal(t, codes.Unauthenticated, status.Code(err), "authorization %q", authorization)
	}

	out, err = interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}, handler)
	require.NoError(t, err)
	assert.Equal(t, "anonymous", out)
}

type fakeServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s fakeServerStream) Context() context.Context {
	return s.ctx
}

func TestStreamInterceptor(t *testing.T) {
	interceptor := StreamInterceptor(stubIntrospector{active: map[string]bool{"good": true}}, InterceptorConfig{})
	info := &grpc.StreamServerInfo{FullMethod: "/orders.v1.Orders/Watch"}

	var admitted bool
	handler := func(srv any, stream grpc.ServerStream) error {
		_, admitted = ResponseFromContext(stream.Context())
		return nil
	}

	require.NoError(t, interceptor(nil, fakeServerStream{ctx: incoming("Bearer good")}, info, handler))
	assert.True(t, admitted)

	err := interceptor(nil, fakeServerStream{ctx: incoming("Bearer bad")}, info, handler)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestInterceptorWithoutIntrospectorFailsClosed(t *testing.T) {
	interceptor := UnaryInterceptor(nil, InterceptorConfig{})
	_, err := interceptor(incoming("Bearer good"), nil, &grpc.UnaryServerInfo{}, func(ctx context.Context, req any) (any, error) {
		return nil, nil
	})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestInterceptorRequiredScopes(t *testing.T) {
	introspector := stubIntrospector{active: map[string]bool{"good": true}}
	handler := func(ctx context.Context, req any) (any, error) { return "ok", nil }
	info := &grpc.UnaryServerInfo{FullMethod: "/orders.v1.Orders/Delete"}

	_, err := UnaryInterceptor(introspector, InterceptorConfig{RequiredScopes: []string{"read"}})(incoming("Bearer good"), nil, info, handler)
	assert.NoError(t, err)

	_, err = UnaryInterceptor(introspector, InterceptorConfig{RequiredScopes: []string{"orders:delete"}})(incoming("Bearer good"), nil, info, handler)
	assert.Equal(t, codes.PermissionDenied, status.Code(err))
}
