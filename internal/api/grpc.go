package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "regimetrader.v1.Simulator"

// Method names of the Simulator service.
const (
	MethodSimulate        = "Simulate"
	MethodGetExperiment   = "GetExperiment"
	MethodListExperiments = "ListExperiments"
	MethodListRuns        = "ListRuns"
	MethodLatestSignal    = "LatestSignal"
)

// SimulatorServer is the server API of the Simulator service. Requests and
// responses are free-form structs keyed as documented on each method.
type SimulatorServer interface {
	// Simulate runs one Monte Carlo experiment.
	Simulate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// GetExperiment returns a stored experiment by "id".
	GetExperiment(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// ListExperiments returns up to "limit" recent experiments.
	ListExperiments(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// ListRuns returns the runs of experiment "experiment_id".
	ListRuns(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// LatestSignal reports the next-period signal for the latest bar.
	LatestSignal(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryMethod func(SimulatorServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func methodDesc(name string, call unaryMethod) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(SimulatorServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + ServiceName + "/" + name,
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(SimulatorServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// SimulatorServiceDesc describes the Simulator service for grpc.Server.
var SimulatorServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SimulatorServer)(nil),
	Methods: []grpc.MethodDesc{
		methodDesc(MethodSimulate, SimulatorServer.Simulate),
		methodDesc(MethodGetExperiment, SimulatorServer.GetExperiment),
		methodDesc(MethodListExperiments, SimulatorServer.ListExperiments),
		methodDesc(MethodListRuns, SimulatorServer.ListRuns),
		methodDesc(MethodLatestSignal, SimulatorServer.LatestSignal),
	},
	Metadata: "regimetrader/v1/simulator.proto",
}

// RegisterSimulatorServer registers srv on s.
func RegisterSimulatorServer(s grpc.ServiceRegistrar, srv SimulatorServer) {
	s.RegisterService(&SimulatorServiceDesc, srv)
}
