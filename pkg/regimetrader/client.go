// Package regimetrader is a Go client for the regimetrader Simulator gRPC
// service.
package regimetrader

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

const serviceName = "regimetrader.v1.Simulator"

// Client provides a Go SDK for interacting with regime-server.
type Client struct {
	cc   grpc.ClientConnInterface
	conn *grpc.ClientConn
}

// Dial connects to a regime-server at addr without transport security.
func Dial(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}
	return &Client{cc: conn, conn: conn}, nil
}

// NewClient wraps an existing connection. Close does not close it.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Close closes the connection opened by Dial.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *Client) call(ctx context.Context, method string, params map[string]any) (map[string]any, error) {
	in, err := structpb.NewStruct(params)
	if err != nil {
		return nil, fmt.Errorf("%s: encoding request: %w", method, err)
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/"+method, in, out); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

// Simulate runs a Monte Carlo experiment. params overrides the server's
// configured request, e.g. {"runs": 50, "n_states": 6}.
func (c *Client) Simulate(ctx context.Context, params map[string]any) (map[string]any, error) {
	return c.call(ctx, "Simulate", params)
}

// GetExperiment returns a stored experiment.
func (c *Client) GetExperiment(ctx context.Context, id string) (map[string]any, error) {
	return c.call(ctx, "GetExperiment", map[string]any{"id": id})
}

// ListExperiments returns up to limit recent experiments.
func (c *Client) ListExperiments(ctx context.Context, limit int) ([]map[string]any, error) {
	out, err := c.call(ctx, "ListExperiments", map[string]any{"limit": limit})
	if err != nil {
		return nil, err
	}
	return listField(out, "experiments"), nil
}

// ListRuns returns the per-run metrics of an experiment.
func (c *Client) ListRuns(ctx context.Context, experimentID string) ([]map[string]any, error) {
	out, err := c.call(ctx, "ListRuns", map[string]any{"experiment_id": experimentID})
	if err != nil {
		return nil, err
	}
	return listField(out, "runs"), nil
}

// LatestSignal returns the next-period signal for symbol's latest bar. An
// empty symbol uses the server default.
func (c *Client) LatestSignal(ctx context.Context, symbol string) (map[string]any, error) {
	params := map[string]any{}
	if symbol != "" {
		params["symbol"] = symbol
	}
	return c.call(ctx, "LatestSignal", params)
}

func listField(m map[string]any, key string) []map[string]any {
	items, _ := m[key].([]any)
	out := make([]map[string]any, 0, len(items))
	for _, it := range items {
		if row, ok := it.(map[string]any); ok {
			out = append(out, row)
		}
	}
	return out
}
