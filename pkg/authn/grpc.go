package authn

import (
	"context"
	"net/http"
	"net/url"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	sserr "github.com/StricklySoft/stricklysoft-authn/pkg/errors"
)

// UnaryServerInterceptor returns a gRPC unary server interceptor that
// authenticates each call through scheme (or the default authenticate
// scheme when empty) and stores the principal in the context. Incoming
// metadata is presented to the handler as request headers, so bearer and
// JWT schemes read the "authorization" entry as usual.
//
// Calls that do not authenticate fail with codes.Unauthenticated.
func UnaryServerInterceptor(svc *Service, scheme string) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		ctx, err := authenticateGRPC(ctx, svc, scheme, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamServerInterceptor is the streaming counterpart of
// [UnaryServerInterceptor].
func StreamServerInterceptor(svc *Service, scheme string) grpc.StreamServerInterceptor {
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		ctx, err := authenticateGRPC(ss.Context(), svc, scheme, info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &wrappedServerStream{ServerStream: ss, ctx: ctx})
	}
}

func authenticateGRPC(ctx context.Context, svc *Service, scheme, method string) (context.Context, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ctx, status.Error(codes.Unauthenticated, "missing metadata")
	}

	ex := NewExchange(&metadataResponseWriter{header: http.Header{}}, requestFromMetadata(ctx, md, method))
	res, err := svc.Authenticate(ctx, ex, scheme)
	if err != nil {
		svc.Logger().ErrorContext(ctx, "auth: gRPC authentication failed",
			"error", err,
			"method", method,
		)
		return ctx, status.Error(codes.Internal, "authentication is misconfigured")
	}
	if !res.Succeeded() {
		msg := "missing credentials"
		if f := res.Failure(); f != nil {
			msg = "invalid credentials"
			if sserr.HasCode(f, sserr.CodeAuthenticationExpired) {
				msg = "credentials expired"
			}
		}
		return ctx, status.Error(codes.Unauthenticated, msg)
	}

	ctx = ContextWithResult(ctx, res)
	return ContextWithPrincipal(ctx, res.Principal()), nil
}

// requestFromMetadata builds a synthetic POST request for method whose
// headers are the incoming metadata.
func requestFromMetadata(ctx context.Context, md metadata.MD, method string) *http.Request {
	header := make(http.Header, len(md))
	for k, vs := range md {
		for _, v := range vs {
			header.Add(k, v)
		}
	}
	r := &http.Request{
		Method:     http.MethodPost,
		URL:        &url.URL{Path: method},
		Proto:      "HTTP/2.0",
		ProtoMajor: 2,
		Header:     header,
		Host:       header.Get(":authority"),
		RequestURI: method,
	}
	return r.WithContext(ctx)
}

// metadataResponseWriter discards anything a handler writes; gRPC answers
// are derived from the authenticate result instead.
type metadataResponseWriter struct {
	header http.Header
	status int
}

func (w *metadataResponseWriter) Header() http.Header         { return w.header }
func (w *metadataResponseWriter) Write(b []byte) (int, error) { return len(b), nil }
func (w *metadataResponseWriter) WriteHeader(status int)      { w.status = status }

// wrappedServerStream overrides Context so handlers see the principal.
type wrappedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

// Context returns the wrapped context.
func (w *wrappedServerStream) Context() context.Context {
	return w.ctx
}
