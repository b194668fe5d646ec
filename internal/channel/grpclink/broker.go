package grpclink

import (
	"context"
	"sync/atomic"

	"github.com/signalsfoundry/rotortrack/internal/channel"
	"github.com/signalsfoundry/rotortrack/internal/logging"
	"github.com/signalsfoundry/rotortrack/internal/observability"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const streamBuffer = 32

// Broker serves the rotorlink service from a channel.Bus.
type Broker struct {
	bus     *channel.Bus
	log     logging.Logger
	metrics *observability.BrokerCollector

	streams     atomic.Int64
	lastDropped atomic.Uint64
}

// NewBroker wraps bus. metrics may be nil.
func NewBroker(bus *channel.Bus, log logging.Logger, metrics *observability.BrokerCollector) *Broker {
	if log == nil {
		log = logging.Noop()
	}
	return &Broker{bus: bus, log: log, metrics: metrics}
}

// Register attaches the broker service to s.
func (b *Broker) Register(s *grpc.Server) {
	s.RegisterService(&brokerServiceDesc, b)
}

func (b *Broker) publish(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	m, err := decodeMessage(in)
	if err != nil {
		return nil, ToStatusError(err)
	}
	if err := b.bus.Publish(ctx, m.Topic, m.Payload); err != nil {
		b.log.Warn(ctx, "publish rejected", logging.String("topic", m.Topic), logging.Err(err))
		return nil, ToStatusError(err)
	}
	b.metrics.IncPublished(m.Topic)
	b.syncDropped()
	b.log.Debug(ctx, "published", logging.String("topic", m.Topic), logging.String("payload", m.Payload))
	return &emptypb.Empty{}, nil
}

func (b *Broker) subscribe(in *structpb.Struct, stream grpc.ServerStream) error {
	pattern, ok := stringField(in, fieldPattern)
	if !ok {
		return status.Error(codes.InvalidArgument, "missing pattern")
	}
	ctx := stream.Context()
	log, id := logging.Subscriber(b.log, pattern)

	out := make(chan channel.Message, streamBuffer)
	cancel, err := b.bus.Subscribe(pattern, func(m channel.Message) {
		select {
		case out <- m:
		default:
			b.metrics.AddDropped(1)
		}
	})
	if err != nil {
		return ToStatusError(err)
	}
	defer cancel()

	b.metrics.SetSubscribers(int(b.streams.Add(1)))
	defer func() { b.metrics.SetSubscribers(int(b.streams.Add(-1))) }()

	if err := stream.SendHeader(metadata.Pairs("x-rotorlink-pattern", pattern, "x-rotorlink-subscriber", id)); err != nil {
		return err
	}
	log.Info(ctx, "subscriber attached")

	for {
		select {
		case <-ctx.Done():
			log.Info(ctx, "subscriber detached", logging.Err(ctx.Err()))
			return nil
		case m := <-out:
			if err := stream.SendMsg(encodeMessage(m)); err != nil {
				log.Warn(ctx, "subscriber send failed", logging.Err(err))
				return err
			}
		}
	}
}

// syncDropped forwards bus-level queue drops to the collector.
func (b *Broker) syncDropped() {
	now := b.bus.Stats().Dropped
	if prev := b.lastDropped.Swap(now); now > prev {
		b.metrics.AddDropped(now - prev)
	}
}

// NewServer builds a gRPC server with tracing and metrics interceptors and
// the broker registered.
func NewServer(b *Broker, metrics *observability.BrokerCollector, opts ...grpc.ServerOption) *grpc.Server {
	base := []grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(metrics.UnaryServerInterceptor()),
	}
	s := grpc.NewServer(append(base, opts...)...)
	b.Register(s)
	return s
}
