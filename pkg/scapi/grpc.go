// Copyright 2025 Alexander Alten (novatechflow), NovaTechflow (novatechflow.com).
// This project is supported and financed by Scalytics, Inc. (www.scalytics.io).
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package scapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

const (
	// ServiceName is the gRPC service the API is served as.
	ServiceName = "sc.v1.Controller"
	// CodecName is the content subtype requests and responses are encoded with.
	CodecName = "json"
)

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return CodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// ControllerServer is the handler set serviceDesc dispatches to.
type ControllerServer interface {
	List(context.Context, *ListRequest) (*ListResponse, error)
	Create(context.Context, *CreateRequest) (*Status, error)
	Delete(context.Context, *DeleteRequest) (*Status, error)
	WatchMetadata(*WatchMetadataRequest, grpc.ServerStream) error
}

func unary[Req, Resp any](name string, call func(ControllerServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ControllerServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(ControllerServer), ctx, req.(*Req))
			})
		},
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ControllerServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("List", ControllerServer.List),
		unary("Create", ControllerServer.Create),
		unary("Delete", ControllerServer.Delete),
	},
	Streams: []grpc.StreamDesc{{
		StreamName:    "WatchMetadata",
		ServerStreams: true,
		Handler: func(srv any, stream grpc.ServerStream) error {
			in := new(WatchMetadataRequest)
			if err := stream.RecvMsg(in); err != nil {
				return err
			}
			return srv.(ControllerServer).WatchMetadata(in, stream)
		},
	}},
}

// RegisterControllerServer installs srv on s.
func RegisterControllerServer(s grpc.ServiceRegistrar, srv ControllerServer) {
	s.RegisterService(&serviceDesc, srv)
}

// grpcHandler adapts Service to ControllerServer.
type grpcHandler struct {
	svc *Service
}

func (h grpcHandler) List(ctx context.Context, req *ListRequest) (*ListResponse, error) {
	resp, err := h.svc.List(ctx, *req)
	if err != nil {
		return nil, grpcError(err)
	}
	return &resp, nil
}

func (h grpcHandler) Create(ctx context.Context, req *CreateRequest) (*Status, error) {
	st, err := h.svc.Create(ctx, *req)
	if err != nil {
		return nil, grpcError(err)
	}
	return &st, nil
}

func (h grpcHandler) Delete(ctx context.Context, req *DeleteRequest) (*Status, error) {
	st, err := h.svc.Delete(ctx, *req)
	if err != nil {
		return nil, grpcError(err)
	}
	return &st, nil
}

func (h grpcHandler) WatchMetadata(req *WatchMetadataRequest, stream grpc.ServerStream) error {
	return h.svc.WatchMetadata(stream.Context(), *req, func(update *MetadataUpdate) error {
		return stream.SendMsg(update)
	})
}

func grpcError(err error) error {
	if errors.Is(err, ErrInvalidRequest) {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

// Server serves Service over gRPC together with the standard health service.
type Server struct {
	Addr    string
	Service *Service
	Logger  *zap.Logger
	Options []grpc.ServerOption

	listener net.Listener
	grpc     *grpc.Server
	health   *health.Server
}

// ListenAndServe serves until ctx is done, then stops gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.Service == nil {
		return errors.New("scapi.Server requires a Service")
	}
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s.listener = ln
	s.grpc = grpc.NewServer(s.Options...)
	s.health = health.NewServer()
	RegisterControllerServer(s.grpc, grpcHandler{svc: s.Service})
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	logger.Named("public-api").Info("public api listening", zap.String("addr", ln.Addr().String()))

	go func() {
		<-ctx.Done()
		s.health.Shutdown()
		s.grpc.GracefulStop()
	}()
	if err := s.grpc.Serve(ln); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// ListenAddress returns the actual listener address if the server has started.
func (s *Server) ListenAddress() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.Addr
}

// Client calls a remote controller.
type Client struct {
	conn *grpc.ClientConn
}

// NewClient wraps an existing connection. Calls use the JSON codec.
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

// Dial connects to target. opts must carry transport credentials.
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, err
	}
	return NewClient(conn), nil
}

func (c *Client) invoke(ctx context.Context, method string, in, out any) error {
	return c.conn.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, grpc.CallContentSubtype(CodecName))
}

func (c *Client) List(ctx context.Context, req ListRequest) (ListResponse, error) {
	var out ListResponse
	err := c.invoke(ctx, "List", &req, &out)
	return out, err
}

func (c *Client) Create(ctx context.Context, req CreateRequest) (Status, error) {
	var out Status
	err := c.invoke(ctx, "Create", &req, &out)
	return out, err
}

func (c *Client) Delete(ctx context.Context, req DeleteRequest) (Status, error) {
	var out Status
	err := c.invoke(ctx, "Delete", &req, &out)
	return out, err
}

// MetadataWatch is an open WatchMetadata stream.
type MetadataWatch struct {
	stream grpc.ClientStream
}

// Recv blocks for the next update.
func (w *MetadataWatch) Recv() (*MetadataUpdate, error) {
	out := new(MetadataUpdate)
	if err := w.stream.RecvMsg(out); err != nil {
		return nil, err
	}
	return out, nil
}

// WatchMetadata opens a stream. Cancel ctx to close it.
func (c *Client) WatchMetadata(ctx context.Context, req WatchMetadataRequest) (*MetadataWatch, error) {
	stream, err := c.conn.NewStream(ctx, &serviceDesc.Streams[0], "/"+ServiceName+"/WatchMetadata", grpc.CallContentSubtype(CodecName))
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(&req); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &MetadataWatch{stream: stream}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
