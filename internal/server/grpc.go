package server

import (
	"context"
	"encoding/json"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// CodecName is the gRPC content subtype of the JSON codec. Clients select it
// with grpc.CallContentSubtype(CodecName).
const CodecName = "json"

// jsonCodec carries the API's plain Go messages over gRPC.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string { return CodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// unary adapts a typed method to a grpc.MethodDesc handler.
func unary[Req, Resp any](fullMethod string, call func(ConsentQueryServer, context.Context, *Req) (*Resp, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ConsentQueryServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv.(ConsentQueryServer), ctx, req.(*Req))
		})
	}
}

// serviceDesc describes consentd.v1.ConsentQuery.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ConsentQueryServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Health", Handler: unary(MethodHealth, ConsentQueryServer.Health)},
		{MethodName: "ConsentStatus", Handler: unary(MethodConsentStatus, ConsentQueryServer.ConsentStatus)},
		{MethodName: "Consent", Handler: unary(MethodConsent, ConsentQueryServer.Consent)},
		{MethodName: "AccessRequest", Handler: unary(MethodAccessRequest, ConsentQueryServer.AccessRequest)},
		{MethodName: "PatientConsents", Handler: unary(MethodPatientConsents, ConsentQueryServer.PatientConsents)},
		{MethodName: "ProviderConsents", Handler: unary(MethodProviderConsents, ConsentQueryServer.ProviderConsents)},
		{MethodName: "PendingRequests", Handler: unary(MethodPendingRequests, ConsentQueryServer.PendingRequests)},
		{MethodName: "History", Handler: unary(MethodHistory, ConsentQueryServer.History)},
		{MethodName: "Events", Handler: unary(MethodEvents, ConsentQueryServer.Events)},
		{MethodName: "Watermarks", Handler: unary(MethodWatermarks, ConsentQueryServer.Watermarks)},
		{MethodName: "Invalidate", Handler: unary(MethodInvalidate, ConsentQueryServer.Invalidate)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "consentd/v1/query",
}

// NewGRPCServer creates a gRPC server with standard interceptors, registers
// the ConsentQuery service, the health service and reflection, and returns
// the server ready to serve.
func NewGRPCServer(s *Server, authToken string, opts ...grpc.ServerOption) *grpc.Server {
	logger := s.logger
	if logger == nil {
		logger = slog.Default()
	}
	opts = append([]grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			RecoveryInterceptor(logger),
			LoggingInterceptor(logger),
			AuthInterceptor(authToken),
			ErrorInterceptor,
		),
	}, opts...)
	srv := grpc.NewServer(opts...)

	srv.RegisterService(&serviceDesc, s)

	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)

	reflection.Register(srv)

	return srv
}
