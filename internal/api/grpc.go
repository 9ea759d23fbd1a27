package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"marketintel/internal/engine"
	"marketintel/internal/telemetry"
	"marketintel/pkg/marketintel"
)

// BacktestRunMethod is the full gRPC method name of Backtest.Run.
const BacktestRunMethod = "/marketintel.v1.Backtest/Run"

// BacktestServer is the server API of the marketintel.v1.Backtest service.
// Messages are google.protobuf.Struct values with the same shape as the
// HTTP JSON bodies.
type BacktestServer interface {
	Run(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var backtestServiceDesc = grpc.ServiceDesc{
	ServiceName: "marketintel.v1.Backtest",
	HandlerType: (*BacktestServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Run", Handler: backtestRunHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "marketintel/v1/backtest.proto",
}

// RegisterBacktestServer registers srv on s.
func RegisterBacktestServer(s grpc.ServiceRegistrar, srv BacktestServer) {
	s.RegisterService(&backtestServiceDesc, srv)
}

func backtestRunHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BacktestServer).Run(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: BacktestRunMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(BacktestServer).Run(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// BacktestClient calls the marketintel.v1.Backtest service.
type BacktestClient struct {
	cc grpc.ClientConnInterface
}

// NewBacktestClient creates a client over cc.
func NewBacktestClient(cc grpc.ClientConnInterface) *BacktestClient {
	return &BacktestClient{cc: cc}
}

// Run invokes Backtest.Run with a raw struct.
func (c *BacktestClient) Run(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, BacktestRunMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Backtest runs req and decodes the typed response.
func (c *BacktestClient) Backtest(ctx context.Context, req marketintel.BacktestRequest, opts ...grpc.CallOption) (*marketintel.BacktestResponse, error) {
	in, err := toStruct(req)
	if err != nil {
		return nil, err
	}
	out, err := c.Run(ctx, in, opts...)
	if err != nil {
		return nil, err
	}
	var res marketintel.BacktestResponse
	if err := fromStruct(out, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ---------------------------------------------------------------------------
// Service
// ---------------------------------------------------------------------------

// GRPCService implements BacktestServer on top of the engine.
type GRPCService struct {
	engine *engine.Engine
	log    zerolog.Logger
}

var _ BacktestServer = (*GRPCService)(nil)

// NewGRPCService creates the gRPC backtest service.
func NewGRPCService(e *engine.Engine, log zerolog.Logger) *GRPCService {
	return &GRPCService{engine: e, log: log}
}

// Run decodes the request struct, runs the backtest and returns the result
// struct. Errors carry the gRPC code of their kind.
func (g *GRPCService) Run(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if g.engine == nil {
		return nil, status.Error(codes.Unavailable, "backtest engine is not configured")
	}
	var body marketintel.BacktestRequest
	if err := fromStruct(in, &body); err != nil {
		return nil, status.Error(grpcCode(telemetry.StatusInvalid), err.Error())
	}
	req, err := ParseBacktestRequest(body)
	if err != nil {
		return nil, g.statusError(err)
	}
	res, cached, err := g.engine.Run(ctx, req)
	if err != nil {
		return nil, g.statusError(err)
	}
	out, err := toStruct(NewBacktestResponse(res, cached))
	if err != nil {
		return nil, g.statusError(err)
	}
	return out, nil
}

func (g *GRPCService) statusError(err error) error {
	kind := telemetry.StatusOf(err)
	code := grpcCode(kind)
	if httpStatus(kind) >= 500 {
		g.log.Error().Err(err).Str("kind", kind).Msg("grpc run failed")
	}
	return status.Error(code, err.Error())
}

func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding struct: %w", err)
	}
	out := new(structpb.Struct)
	if err := out.UnmarshalJSON(data); err != nil {
		return nil, fmt.Errorf("encoding struct: %w", err)
	}
	return out, nil
}

func fromStruct(s *structpb.Struct, v any) error {
	data, err := s.MarshalJSON()
	if err != nil {
		return fmt.Errorf("decoding struct: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding struct: %w", err)
	}
	return nil
}
