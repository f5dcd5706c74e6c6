package publisher

import (
	"context"
	"fmt"
	"io"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name for the batch feed.
const ServiceName = "motion.MotionFeed"

// feedServer is the server-side contract behind the service descriptor.
type feedServer interface {
	Subscribe(*SubscribeRequest, grpc.ServerStream) error
}

// feedServiceDesc is the hand-written descriptor for the feed service. The
// service has a single server-streaming method:
//
//	rpc Subscribe(SubscribeRequest) returns (stream BatchEnvelope)
var feedServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*feedServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Subscribe",
			Handler:       subscribeHandler,
			ServerStreams: true,
		},
	},
	Metadata: "motion_feed",
}

func subscribeHandler(srv any, stream grpc.ServerStream) error {
	req := new(SubscribeRequest)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(feedServer).Subscribe(req, stream)
}

// BatchStream is the client side of a Subscribe call.
type BatchStream struct {
	grpc.ClientStream
}

// Recv returns the next envelope from the feed. io.EOF marks a clean end of
// stream after the server shuts down.
func (s *BatchStream) Recv() (*BatchEnvelope, error) {
	env := new(BatchEnvelope)
	if err := s.RecvMsg(env); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, err
	}
	return env, nil
}

// SubscribeBatches opens a Subscribe stream on an existing client
// connection. The connection does not need any codec configuration; the
// feed codec is forced per call.
func SubscribeBatches(ctx context.Context, conn grpc.ClientConnInterface, req *SubscribeRequest) (*BatchStream, error) {
	stream, err := conn.NewStream(ctx, &feedServiceDesc.Streams[0],
		fmt.Sprintf("/%s/Subscribe", ServiceName), grpc.ForceCodec(batchCodec{}))
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &BatchStream{ClientStream: stream}, nil
}
