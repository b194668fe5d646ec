// Package grpclink carries the channel contract over gRPC: a Broker service
// backed by an in-memory channel.Bus, and a Client implementing
// channel.Channel against it.
//
// The service is declared by hand over protobuf well-known types, so no
// generated code is required:
//
//	service Broker {
//	  rpc Publish(google.protobuf.Struct) returns (google.protobuf.Empty);
//	  rpc Subscribe(google.protobuf.Struct) returns (stream google.protobuf.Struct);
//	}
//
// Publish and delivered messages carry {"topic", "payload"}; Subscribe
// requests carry {"pattern"}.
package grpclink

import (
	"context"
	"errors"
	"fmt"

	"github.com/signalsfoundry/rotortrack/internal/channel"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	serviceName     = "rotorlink.v1.Broker"
	publishMethod   = "/" + serviceName + "/Publish"
	subscribeMethod = "/" + serviceName + "/Subscribe"

	fieldTopic   = "topic"
	fieldPayload = "payload"
	fieldPattern = "pattern"
)

// brokerServer is the handler surface the service descriptor dispatches to.
type brokerServer interface {
	publish(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error)
	subscribe(in *structpb.Struct, stream grpc.ServerStream) error
}

var brokerServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*brokerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Publish", Handler: publishHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Subscribe", Handler: subscribeHandler, ServerStreams: true},
	},
	Metadata: "rotorlink/v1/broker.proto",
}

func publishHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(brokerServer).publish(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: publishMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(brokerServer).publish(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func subscribeHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(brokerServer).subscribe(in, stream)
}

func encodeMessage(m channel.Message) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldTopic:   structpb.NewStringValue(m.Topic),
		fieldPayload: structpb.NewStringValue(m.Payload),
	}}
}

func decodeMessage(s *structpb.Struct) (channel.Message, error) {
	topic, ok := stringField(s, fieldTopic)
	if !ok {
		return channel.Message{}, fmt.Errorf("%w: missing %q", channel.ErrInvalidTopic, fieldTopic)
	}
	payload, _ := stringField(s, fieldPayload)
	return channel.Message{Topic: topic, Payload: payload}, nil
}

func stringField(s *structpb.Struct, key string) (string, bool) {
	v, ok := s.GetFields()[key]
	if !ok {
		return "", false
	}
	sv, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return "", false
	}
	return sv.StringValue, true
}

// ToStatusError maps channel errors onto gRPC status codes.
func ToStatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, channel.ErrInvalidTopic):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, channel.ErrClosed):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
