package grpcapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client calls the Calculator service over a connection.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient returns a Calculator client using cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) Evaluate(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/Evaluate", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) EvaluateNamed(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/EvaluateNamed", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListExpressions(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/ListExpressions", &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
