// Package trace - gRPC interceptors for trace propagation.
package trace

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// UnaryServerInterceptor restores the caller's trace from incoming metadata
// and logs each call.
func UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx = extractMetadata(ctx)
		start := time.Now()
		resp, err := handler(ctx, req)
		logCall(ctx, info.FullMethod, start, err)
		return resp, err
	}
}

// StreamServerInterceptor does the same for streaming calls such as
// health Watch.
func StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx := extractMetadata(ss.Context())
		start := time.Now()
		err := handler(srv, &tracedStream{ServerStream: ss, ctx: ctx})
		logCall(ctx, info.FullMethod, start, err)
		return err
	}
}

type tracedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *tracedStream) Context() context.Context { return s.ctx }

func logCall(ctx context.Context, method string, start time.Time, err error) {
	log := Logger(ctx)
	if err != nil {
		log.Warn("grpc call failed", "method", method, "code", status.Code(err), "duration", time.Since(start), "error", err)
		return
	}
	log.Debug("grpc call", "method", method, "duration", time.Since(start))
}

// extractMetadata builds the server-side trace context from incoming metadata.
func extractMetadata(ctx context.Context) context.Context {
	md, _ := metadata.FromIncomingContext(ctx)
	flat := make(map[string]string, 3)
	for _, key := range []string{TraceIDKey, SpanIDKey, StreamIDKey} {
		if v := md.Get(key); len(v) > 0 {
			flat[key] = v[0]
		}
	}
	return WithContext(ctx, FromMap(flat))
}

// UnaryClientInterceptor injects trace context into outgoing gRPC calls.
func UnaryClientInterceptor() grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = injectMetadata(ctx)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// injectMetadata adds trace context to outgoing gRPC metadata.
func injectMetadata(ctx context.Context) context.Context {
	tc, ok := FromContext(ctx)
	if !ok {
		tc = New()
		ctx = WithContext(ctx, tc)
	}

	md, ok := metadata.FromOutgoingContext(ctx)
	if !ok {
		md = metadata.New(nil)
	} else {
		md = md.Copy()
	}

	for k, v := range tc.ToMap() {
		md.Set(k, v)
	}

	return metadata.NewOutgoingContext(ctx, md)
}
