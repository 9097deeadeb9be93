// internal/api/rpc/client.go
package rpc

import (
	"context"
	"fmt"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"distributed-fractal/internal/domain"
	"distributed-fractal/internal/master"
)

// Client talks to the Controller service of a dispatcher.
type Client struct {
	conn *grpc.ClientConn
}

// NewClient prepares a connection to addr; it is established on first use.
func NewClient(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create controller client for %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

// SetLimit changes the limit of class and returns the value the dispatcher applied.
func (c *Client) SetLimit(ctx context.Context, class domain.WorkerClass, limit int) (int, error) {
	in, err := structpb.NewStruct(map[string]any{"class": class.String(), "limit": limit})
	if err != nil {
		return 0, err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, setLimitMethod, in, out); err != nil {
		return 0, fmt.Errorf("failed to set %s limit: %w", class, err)
	}
	return int(out.GetFields()["limit"].GetNumberValue()), nil
}

// Pool returns the coordinator status.
func (c *Client) Pool(ctx context.Context) (master.Status, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, getPoolMethod, &emptypb.Empty{}, out); err != nil {
		return master.Status{}, fmt.Errorf("failed to get pool state: %w", err)
	}
	return structToStatus(out)
}

// Init names the display sink of the run.
func (c *Client) Init(ctx context.Context, sink string) error {
	in, err := structpb.NewStruct(map[string]any{"sink": sink})
	if err != nil {
		return err
	}
	if err := c.conn.Invoke(ctx, initMethod, in, new(emptypb.Empty)); err != nil {
		return fmt.Errorf("failed to init sink %s: %w", sink, err)
	}
	return nil
}

func (c *Client) Close() error { return c.conn.Close() }
