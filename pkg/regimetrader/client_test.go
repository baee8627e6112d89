package regimetrader

import (
	"context"
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"regimetrader/internal/api"
)

// echoServer answers every method with the request plus the method name.
type echoServer struct{}

func echo(method string, in *structpb.Struct) (*structpb.Struct, error) {
	m := in.AsMap()
	m["method"] = method
	return structpb.NewStruct(m)
}

func (echoServer) Simulate(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return echo(api.MethodSimulate, in)
}

func (echoServer) GetExperiment(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if in.AsMap()["id"] == "missing" {
		return nil, status.Error(codes.NotFound, "not found")
	}
	return echo(api.MethodGetExperiment, in)
}

func (echoServer) ListExperiments(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{"experiments": []any{map[string]any{"id": "a"}, map[string]any{"id": "b"}}})
}

func (echoServer) ListRuns(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{"runs": []any{map[string]any{"seed": 0, "experiment": in.AsMap()["experiment_id"]}}})
}

func (echoServer) LatestSignal(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return echo(api.MethodLatestSignal, in)
}

func newTestClient(t *testing.T) *Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer()
	api.RegisterSimulatorServer(gs, echoServer{})
	go gs.Serve(lis)
	t.Cleanup(gs.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("grpc.NewClient: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return NewClient(conn)
}

func TestServiceNameMatchesServer(t *testing.T) {
	if serviceName != api.ServiceName {
		t.Errorf("serviceName = %q, want %q", serviceName, api.ServiceName)
	}
}

func TestSimulate(t *testing.T) {
	c := newTestClient(t)
	out, err := c.Simulate(context.Background(), map[string]any{"runs": 5})
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	if out["method"] != "Simulate" || out["runs"] != float64(5) {
		t.Errorf("Simulate = %v", out)
	}
}

func TestGetExperiment(t *testing.T) {
	c := newTestClient(t)
	out, err := c.GetExperiment(context.Background(), "abc")
	if err != nil {
		t.Fatalf("GetExperiment: %v", err)
	}
	if out["id"] != "abc" {
		t.Errorf("GetExperiment = %v", out)
	}
	if _, err := c.GetExperiment(context.Background(), "missing"); status.Code(err) != codes.NotFound {
		t.Errorf("GetExperiment(missing) code = %v, want NotFound", status.Code(err))
	}
}

func TestListCalls(t *testing.T) {
	c := newTestClient(t)
	exps, err := c.ListExperiments(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListExperiments: %v", err)
	}
	if len(exps) != 2 || exps[1]["id"] != "b" {
		t.Errorf("ListExperiments = %v", exps)
	}
	runs, err := c.ListRuns(context.Background(), "e1")
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 || runs[0]["experiment"] != "e1" {
		t.Errorf("ListRuns = %v", runs)
	}
}

func TestLatestSignal(t *testing.T) {
	c := newTestClient(t)
	out, err := c.LatestSignal(context.Background(), "")
	if err != nil {
		t.Fatalf("LatestSignal: %v", err)
	}
	if _, ok := out["symbol"]; ok {
		t.Errorf("empty symbol was sent: %v", out)
	}
	out, err = c.LatestSignal(context.Background(), "ETH-USD")
	if err != nil {
		t.Fatalf("LatestSignal: %v", err)
	}
	if out["symbol"] != "ETH-USD" {
		t.Errorf("LatestSignal = %v", out)
	}
}

func TestCloseWithoutDial(t *testing.T) {
	if err := NewClient(nil).Close(); err != nil {
		t.Errorf("Close = %v, want nil", err)
	}
}
