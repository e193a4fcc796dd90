// Package grpcapi implements the Calculator gRPC service, evaluating ad-hoc
// and stored expressions over google.protobuf.Struct messages.
package grpcapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/lemonberrylabs/miniexpr/pkg/api"
	"github.com/lemonberrylabs/miniexpr/pkg/expr"
	"github.com/lemonberrylabs/miniexpr/pkg/store"
	"github.com/lemonberrylabs/miniexpr/pkg/types"
)

// Server implements the Calculator gRPC service.
type Server struct {
	store *store.Store
	sink  types.Sink
	grpc  *grpc.Server
}

// New creates a new gRPC server wrapping the given store. Diagnostics are
// also sent to sink, which may be nil.
func New(s *store.Store, sink types.Sink) *Server {
	srv := &Server{
		store: s,
		sink:  sink,
	}

	gs := grpc.NewServer()
	RegisterCalculatorServer(gs, srv)
	srv.grpc = gs

	return srv
}

// Serve starts listening on the given address and serves gRPC requests.
func (s *Server) Serve(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	return s.ServeListener(lis)
}

// ServeListener serves gRPC requests on an existing listener.
func (s *Server) ServeListener(lis net.Listener) error {
	return s.grpc.Serve(lis)
}

// GracefulStop gracefully stops the gRPC server.
func (s *Server) GracefulStop() {
	s.grpc.GracefulStop()
}

func (s *Server) Evaluate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	source, err := stringField(req, "expression", false)
	if err != nil {
		return nil, err
	}
	if err := api.CheckSourceLength(source); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	env, err := s.environment(req)
	if err != nil {
		return nil, err
	}
	return evaluationToProto(api.EvaluateSource(source, env, s.sink))
}

func (s *Server) EvaluateNamed(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	name, err := stringField(req, "name", true)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(name, "expressions/") {
		name = store.ExpressionName(name)
	}

	e, err := s.store.GetExpression(name)
	if err != nil {
		return nil, statusFromStore(err)
	}
	env, err := s.environment(req)
	if err != nil {
		return nil, err
	}
	return evaluationToProto(api.EvaluateStored(e, env, s.sink))
}

func (s *Server) ListExpressions(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	var list []interface{}
	for _, e := range s.store.ListExpressions() {
		list = append(list, map[string]interface{}{
			"name":       e.Name,
			"source":     e.Source,
			"revisionId": e.RevisionID,
		})
	}
	if list == nil {
		list = []interface{}{}
	}
	resp, err := structpb.NewStruct(map[string]interface{}{"expressions": list})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return resp, nil
}

// environment resolves the optional "environment" and "variables" fields.
func (s *Server) environment(req *structpb.Struct) (expr.Environment, error) {
	envID, err := stringField(req, "environment", false)
	if err != nil {
		return nil, err
	}

	var vars expr.Environment
	if v, ok := req.GetFields()["variables"]; ok {
		sv := v.GetStructValue()
		if sv == nil {
			return nil, status.Error(codes.InvalidArgument, "variables must be a struct")
		}
		vars, err = api.FromInterfaces(sv.AsMap())
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
	}

	env, err := api.ResolveEnvironment(s.store, envID, vars)
	if err != nil {
		return nil, statusFromStore(err)
	}
	return env, nil
}

func stringField(req *structpb.Struct, key string, required bool) (string, error) {
	v, ok := req.GetFields()[key]
	if !ok {
		if required {
			return "", status.Errorf(codes.InvalidArgument, "%s is required", key)
		}
		return "", nil
	}
	sv, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return "", status.Errorf(codes.InvalidArgument, "%s must be a string", key)
	}
	if required && sv.StringValue == "" {
		return "", status.Errorf(codes.InvalidArgument, "%s is required", key)
	}
	return sv.StringValue, nil
}

func statusFromStore(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return status.Error(codes.NotFound, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

func evaluationToProto(ev api.Evaluation) (*structpb.Struct, error) {
	diags := make([]interface{}, 0, len(ev.Diagnostics))
	for _, d := range ev.Diagnostics {
		diags = append(diags, map[string]interface{}{
			"tag":     string(d.Tag),
			"message": d.Message,
		})
	}
	vars := make([]interface{}, 0, len(ev.Variables))
	for _, v := range ev.Variables {
		vars = append(vars, v)
	}

	resp, err := structpb.NewStruct(map[string]interface{}{
		"result":      types.Number(ev.Result).ToGoValue(),
		"tree":        ev.Tree,
		"variables":   vars,
		"diagnostics": diags,
	})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return resp, nil
}
