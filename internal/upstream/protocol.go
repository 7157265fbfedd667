package upstream

import (
	"context"

	"google.golang.org/grpc"

	"ammscope/internal/model"
)

const (
	serviceName     = "ammscope.v1.PriceFeed"
	pingMethod      = "/" + serviceName + "/Ping"
	subscribeMethod = "/" + serviceName + "/SubscribePrices"
)

// PingRequest is the empty liveness probe request.
type PingRequest struct{}

// PingResponse answers a liveness probe.
type PingResponse struct {
	ServerTime int64 `json:"server_time"`
}

// SubscribeRequest opens a price stream. Filter thresholds allow the upstream
// to drop quotes the client would reject anyway.
type SubscribeRequest struct {
	Filter     model.FilterConfig `json:"filter"`
	ProgramIDs []string           `json:"program_ids,omitempty"`
}

// PriceFeedServer is the server API of the price feed service.
type PriceFeedServer interface {
	Ping(context.Context, *PingRequest) (*PingResponse, error)
	SubscribePrices(*SubscribeRequest, SubscribePricesServer) error
}

// SubscribePricesServer is the server side of a price stream.
type SubscribePricesServer interface {
	Send(*model.PriceUpdate) error
	grpc.ServerStream
}

type subscribePricesServer struct {
	grpc.ServerStream
}

func (s *subscribePricesServer) Send(m *model.PriceUpdate) error {
	return s.ServerStream.SendMsg(m)
}

// RegisterPriceFeedServer registers srv on s.
func RegisterPriceFeedServer(s *grpc.Server, srv PriceFeedServer) {
	s.RegisterService(&priceFeedServiceDesc, srv)
}

var subscribeStreamDesc = grpc.StreamDesc{
	StreamName:    "SubscribePrices",
	ServerStreams: true,
}

var priceFeedServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*PriceFeedServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Ping",
			Handler:    pingHandler,
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    subscribeStreamDesc.StreamName,
			Handler:       subscribePricesHandler,
			ServerStreams: true,
		},
	},
	Metadata: "ammscope/v1/price_feed",
}

func pingHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(PingRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PriceFeedServer).Ping(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: pingMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(PriceFeedServer).Ping(ctx, req.(*PingRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func subscribePricesHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(SubscribeRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(PriceFeedServer).SubscribePrices(in, &subscribePricesServer{stream})
}
