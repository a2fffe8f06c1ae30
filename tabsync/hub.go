package tabsync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/benjaminabbitt/storefront/shop"
)

const (
	hubServiceName  = "storefront.tabsync.v1.Broadcast"
	publishMethod   = "/" + hubServiceName + "/Publish"
	subscribeMethod = "/" + hubServiceName + "/Subscribe"
)

// hubService is the server side of the broadcast service. Publish returns the
// time the hub accepted the message.
type hubService interface {
	publish(ctx context.Context, in *structpb.Struct) (*timestamppb.Timestamp, error)
	subscribe(in *emptypb.Empty, stream grpc.ServerStream) error
}

var hubServiceDesc = grpc.ServiceDesc{
	ServiceName: hubServiceName,
	HandlerType: (*hubService)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Publish",
			Handler:    publishHandler,
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Subscribe",
			Handler:       subscribeHandler,
			ServerStreams: true,
		},
	},
	Metadata: "storefront/tabsync/v1/broadcast.proto",
}

func publishHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(hubService).publish(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: publishMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(hubService).publish(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func subscribeHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(hubService).subscribe(in, stream)
}

// Hub relays messages between sessions running in different processes.
type Hub struct {
	local  *LocalBus
	logger *zap.Logger
	clock  func() time.Time
}

// NewHub creates a hub with its own in-process fan-out.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		local:  NewLocalBus(logger),
		logger: logger,
		clock:  func() time.Time { return time.Now().UTC() },
	}
}

// Register adds the broadcast service to s. It matches shop.RegisterFunc.
func (h *Hub) Register(s *grpc.Server) {
	s.RegisterService(&hubServiceDesc, h)
}

// Subscribers returns the number of connected subscribers.
func (h *Hub) Subscribers() int {
	return h.local.Subscribers()
}

func (h *Hub) publish(ctx context.Context, in *structpb.Struct) (*timestamppb.Timestamp, error) {
	m := messageFromStruct(in)
	accepted := h.clock()
	if m.At.IsZero() {
		m.At = accepted
	}
	if err := h.local.Publish(ctx, m); err != nil {
		return nil, shop.MapCommandError(err)
	}
	h.logger.Debug("message relayed",
		zap.String("kind", string(m.Kind)),
		zap.String("writer", m.Writer),
		zap.Int("subscribers", h.local.Subscribers()))
	return timestamppb.New(accepted), nil
}

func (h *Hub) subscribe(_ *emptypb.Empty, stream grpc.ServerStream) error {
	msgs, err := h.local.Subscribe(stream.Context())
	if err != nil {
		return shop.MapCommandError(err)
	}
	for m := range msgs {
		out, err := messageToStruct(m)
		if err != nil {
			return status.Error(codes.Internal, err.Error())
		}
		if err := stream.SendMsg(out); err != nil {
			return err
		}
	}
	return nil
}

func messageToStruct(m Message) (*structpb.Struct, error) {
	fields := map[string]interface{}{
		"kind": string(m.Kind),
	}
	if m.Key != "" {
		fields["key"] = m.Key
	}
	if m.Writer != "" {
		fields["writer"] = m.Writer
	}
	if m.Token != "" {
		fields["token"] = m.Token
	}
	if !m.At.IsZero() {
		fields["at"] = m.At.UTC().Format(time.RFC3339Nano)
	}
	return structpb.NewStruct(fields)
}

func messageFromStruct(s *structpb.Struct) Message {
	fields := s.GetFields()
	m := Message{
		Kind:   Kind(fields["kind"].GetStringValue()),
		Key:    fields["key"].GetStringValue(),
		Writer: fields["writer"].GetStringValue(),
		Token:  fields["token"].GetStringValue(),
	}
	if raw := fields["at"].GetStringValue(); raw != "" {
		if at, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			m.At = at
		}
	}
	return m
}

// HubErrorKind categorizes hub client errors.
type HubErrorKind int

const (
	// ErrHubTransport indicates the connection could not be set up.
	ErrHubTransport HubErrorKind = iota
	// ErrHubGRPC indicates an error status returned by the hub.
	ErrHubGRPC
)

// HubError wraps failures talking to the hub.
type HubError struct {
	Kind    HubErrorKind
	Message string
	Cause   error
}

func (e *HubError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *HubError) Unwrap() error {
	return e.Cause
}

// Code returns the gRPC status code carried by the error.
func (e *HubError) Code() codes.Code {
	if e.Kind != ErrHubGRPC || e.Cause == nil {
		return codes.Unknown
	}
	if s, ok := status.FromError(e.Cause); ok {
		return s.Code()
	}
	return codes.Unknown
}

// IsInvalidArgument reports whether the hub rejected the message.
func IsInvalidArgument(err error) bool {
	var hubErr *HubError
	return errors.As(err, &hubErr) && hubErr.Code() == codes.InvalidArgument
}

func transportError(err error) *HubError {
	return &HubError{Kind: ErrHubTransport, Message: "hub transport error", Cause: err}
}

func grpcError(err error) *HubError {
	return &HubError{Kind: ErrHubGRPC, Message: "hub rejected call", Cause: err}
}

// formatEndpoint converts an endpoint to gRPC target format. Paths become
// unix socket URIs.
func formatEndpoint(endpoint string) string {
	if strings.HasPrefix(endpoint, "/") || strings.HasPrefix(endpoint, "./") {
		return "unix://" + endpoint
	}
	return endpoint
}

// HubClient is a Bus backed by a remote hub.
type HubClient struct {
	conn   *grpc.ClientConn
	logger *zap.Logger
}

// NewHubClient connects to a hub at endpoint. The connection is established
// lazily on first use.
func NewHubClient(endpoint string, logger *zap.Logger) (*HubClient, error) {
	conn, err := grpc.NewClient(formatEndpoint(endpoint), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, transportError(err)
	}
	return HubClientFromConn(conn, logger), nil
}

// HubClientFromEnv connects using an environment variable with fallback.
func HubClientFromEnv(envVar, defaultEndpoint string, logger *zap.Logger) (*HubClient, error) {
	endpoint := os.Getenv(envVar)
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	return NewHubClient(endpoint, logger)
}

// HubClientFromConn creates a client from an existing connection.
func HubClientFromConn(conn *grpc.ClientConn, logger *zap.Logger) *HubClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HubClient{conn: conn, logger: logger}
}

// Publish sends m to the hub.
func (c *HubClient) Publish(ctx context.Context, m Message) error {
	if err := m.Validate(); err != nil {
		return err
	}
	in, err := messageToStruct(m)
	if err != nil {
		return err
	}
	if err := c.conn.Invoke(ctx, publishMethod, in, new(timestamppb.Timestamp)); err != nil {
		return grpcError(err)
	}
	return nil
}

// Subscribe opens a stream from the hub. The channel closes when ctx is
// cancelled or the stream breaks; callers resubscribe.
func (c *HubClient) Subscribe(ctx context.Context) (<-chan Message, error) {
	stream, err := c.conn.NewStream(ctx, &hubServiceDesc.Streams[0], subscribeMethod)
	if err != nil {
		return nil, grpcError(err)
	}
	if err := stream.SendMsg(&emptypb.Empty{}); err != nil {
		return nil, grpcError(err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, grpcError(err)
	}

	out := make(chan Message, subscriberBuffer)
	go func() {
		defer close(out)
		for {
			in := new(structpb.Struct)
			if err := stream.RecvMsg(in); err != nil {
				if ctx.Err() == nil {
					c.logger.Warn("hub stream ended", zap.Error(err))
				}
				return
			}
			select {
			case out <- messageFromStruct(in):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close closes the underlying connection.
func (c *HubClient) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
