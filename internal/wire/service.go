package wire

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Collector RPC names.
const (
	ServiceName  = "mtma.collector.v1.Collector"
	UploadMethod = "/" + ServiceName + "/Upload"
)

// CollectorServer is the server API for the Collector service.
type CollectorServer interface {
	Upload(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// RegisterCollectorServer registers srv on s.
func RegisterCollectorServer(s grpc.ServiceRegistrar, srv CollectorServer) {
	s.RegisterService(&CollectorServiceDesc, srv)
}

func uploadHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CollectorServer).Upload(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: UploadMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(CollectorServer).Upload(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// CollectorServiceDesc is the grpc.ServiceDesc for the Collector service.
var CollectorServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CollectorServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Upload",
			Handler:    uploadHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "mtma/collector/v1/collector.proto",
}
