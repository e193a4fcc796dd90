package grpcapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified name of the Calculator service.
const ServiceName = "miniexpr.v1.Calculator"

// CalculatorServer is the server API for the Calculator service. Requests
// and responses are google.protobuf.Struct values, so no generated message
// types are needed.
type CalculatorServer interface {
	// Evaluate parses and evaluates {expression, variables, environment}.
	Evaluate(context.Context, *structpb.Struct) (*structpb.Struct, error)

	// EvaluateNamed evaluates a stored expression: {name, variables, environment}.
	EvaluateNamed(context.Context, *structpb.Struct) (*structpb.Struct, error)

	// ListExpressions returns {expressions: [{name, source, revisionId}]}.
	ListExpressions(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

// CalculatorServiceDesc describes the Calculator service for grpc.Server.
var CalculatorServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CalculatorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Evaluate", Handler: evaluateHandler},
		{MethodName: "EvaluateNamed", Handler: evaluateNamedHandler},
		{MethodName: "ListExpressions", Handler: listExpressionsHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "miniexpr/v1/calculator.proto",
}

// RegisterCalculatorServer registers srv on s.
func RegisterCalculatorServer(s grpc.ServiceRegistrar, srv CalculatorServer) {
	s.RegisterService(&CalculatorServiceDesc, srv)
}

func evaluateHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CalculatorServer).Evaluate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Evaluate"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(CalculatorServer).Evaluate(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func evaluateNamedHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CalculatorServer).EvaluateNamed(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/EvaluateNamed"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(CalculatorServer).EvaluateNamed(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func listExpressionsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CalculatorServer).ListExpressions(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/ListExpressions"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(CalculatorServer).ListExpressions(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}
