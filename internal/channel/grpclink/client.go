package grpclink

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/signalsfoundry/rotortrack/internal/channel"
	"github.com/signalsfoundry/rotortrack/internal/logging"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const defaultRetryDelay = time.Second

var subscribeStreamDesc = &grpc.StreamDesc{StreamName: "Subscribe", ServerStreams: true}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithRetryDelay sets the pause between subscription reconnect attempts.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.retryDelay = d
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(log logging.Logger) ClientOption {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// WithDialOptions appends extra gRPC dial options.
func WithDialOptions(opts ...grpc.DialOption) ClientOption {
	return func(c *Client) { c.dialOpts = append(c.dialOpts, opts...) }
}

// Client is a channel.Channel backed by a remote Broker.
type Client struct {
	conn       *grpc.ClientConn
	log        logging.Logger
	retryDelay time.Duration
	dialOpts   []grpc.DialOption

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ channel.Channel = (*Client)(nil)

// Dial connects lazily to the broker at target.
func Dial(target string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		log:        logging.Noop(),
		retryDelay: defaultRetryDelay,
		dialOpts: []grpc.DialOption{
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	conn, err := grpc.NewClient(target, c.dialOpts...)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	c.ctx, c.cancel = context.WithCancel(context.Background())
	return c, nil
}

// Publish sends payload on topic through the broker.
func (c *Client) Publish(ctx context.Context, topic, payload string) error {
	if err := channel.ValidateTopic(topic); err != nil {
		return err
	}
	in := encodeMessage(channel.Message{Topic: topic, Payload: payload})
	return c.conn.Invoke(ctx, publishMethod, in, new(emptypb.Empty))
}

// Subscribe opens a server stream for pattern. The first attempt is made
// before returning; afterwards the stream is re-established every retry
// delay until cancel is called.
func (c *Client) Subscribe(pattern string, h channel.Handler) (func(), error) {
	if err := channel.ValidatePattern(pattern); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(c.ctx)
	log := c.log.With(logging.String("pattern", pattern))

	stream, err := c.open(ctx, pattern)
	if err != nil {
		log.Warn(ctx, "subscribe failed; retrying in background", logging.Err(err))
	}

	c.wg.Add(1)
	done := make(chan struct{})
	go func() {
		defer c.wg.Done()
		defer close(done)
		for {
			if stream != nil {
				err := receive(stream, h)
				if ctx.Err() != nil {
					return
				}
				log.Warn(ctx, "subscription stream ended", logging.Err(err))
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.retryDelay):
			}
			stream, err = c.open(ctx, pattern)
			if err != nil {
				log.Debug(ctx, "resubscribe failed", logging.Err(err))
				stream = nil
				continue
			}
			log.Info(ctx, "subscription re-established")
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}, nil
}

// open starts a Subscribe stream and waits for the broker to acknowledge it
// with response headers, so messages published afterwards are delivered.
func (c *Client) open(ctx context.Context, pattern string) (grpc.ClientStream, error) {
	stream, err := c.conn.NewStream(ctx, subscribeStreamDesc, subscribeMethod)
	if err != nil {
		return nil, err
	}
	req := &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldPattern: structpb.NewStringValue(pattern),
	}}
	if err := stream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	if _, err := stream.Header(); err != nil {
		return nil, err
	}
	return stream, nil
}

func receive(stream grpc.ClientStream, h channel.Handler) error {
	for {
		msg := new(structpb.Struct)
		if err := stream.RecvMsg(msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		m, err := decodeMessage(msg)
		if err != nil {
			continue
		}
		h(m)
	}
}

// Close stops every subscription and releases the connection.
func (c *Client) Close() error {
	c.cancel()
	c.wg.Wait()
	return c.conn.Close()
}
