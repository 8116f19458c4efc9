package proto

import (
	iface "NoteDetClient/interface"
	"NoteDetClient/logger"
	"NoteDetClient/monitor"
	"NoteDetClient/relay"
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	serviceName  = "notedet.DetectionFeed"
	statusMethod = "/" + serviceName + "/Status"
	watchMethod  = "/" + serviceName + "/Watch"
)

// DetectionFeedServer 推送检测循环的结果，消息使用 google.protobuf.Struct，
// 客户端无需生成代码
type DetectionFeedServer interface {
	Status(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Watch(*emptypb.Empty, grpc.ServerStreamingServer[structpb.Struct]) error
}

var DetectionFeed_ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*DetectionFeedServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Status", Handler: _DetectionFeed_Status_Handler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Watch", Handler: _DetectionFeed_Watch_Handler, ServerStreams: true},
	},
	Metadata: "notedet/feed.proto",
}

func RegisterDetectionFeedServer(s grpc.ServiceRegistrar, srv DetectionFeedServer) {
	s.RegisterService(&DetectionFeed_ServiceDesc, srv)
}

func _DetectionFeed_Status_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DetectionFeedServer).Status(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: statusMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(DetectionFeedServer).Status(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func _DetectionFeed_Watch_Handler(srv any, stream grpc.ServerStream) error {
	m := new(emptypb.Empty)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(DetectionFeedServer).Watch(m, &grpc.GenericServerStream[emptypb.Empty, structpb.Struct]{ServerStream: stream})
}

// DetectionFeedClient DetectionFeed 的客户端
type DetectionFeedClient struct {
	cc grpc.ClientConnInterface
}

func NewDetectionFeedClient(cc grpc.ClientConnInterface) *DetectionFeedClient {
	return &DetectionFeedClient{cc: cc}
}

func (c *DetectionFeedClient) Status(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, statusMethod, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *DetectionFeedClient) Watch(ctx context.Context, opts ...grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error) {
	stream, err := c.cc.NewStream(ctx, &DetectionFeed_ServiceDesc.Streams[0], watchMethod, opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[emptypb.Empty, structpb.Struct]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(&emptypb.Empty{}); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

// Server 将检测批次分发给所有 Watch 流
type Server struct {
	batches *relay.Broadcaster[iface.Batch]
	status  func() map[string]any
	metrics *monitor.Metrics
	started time.Time
}

// NewServer 创建 feed，status 提供额外的 Status 字段（可为 nil），metrics 可为 nil
func NewServer(batches *relay.Broadcaster[iface.Batch], status func() map[string]any, metrics *monitor.Metrics) *Server {
	return &Server{batches: batches, status: status, metrics: metrics, started: time.Now()}
}

func (s *Server) Subscribers() int { return s.batches.Subscribers() }

func (s *Server) Status(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	fields := map[string]any{}
	if s.status != nil {
		for k, v := range s.status() {
			fields[k] = v
		}
	}
	fields["uptime_seconds"] = time.Since(s.started).Seconds()
	fields["watchers"] = s.batches.Subscribers()
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "build status: %v", err)
	}
	return out, nil
}

func (s *Server) Watch(_ *emptypb.Empty, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	id, ch := s.batches.Subscribe()
	defer s.batches.Unsubscribe(id)
	if s.metrics != nil {
		s.metrics.FeedClients.Inc()
		defer s.metrics.FeedClients.Dec()
	}
	logger.Log().Info("feed watcher connected", zap.String("id", id))
	defer logger.Log().Info("feed watcher disconnected", zap.String("id", id))

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case b, ok := <-ch:
			if !ok {
				return status.Error(codes.Unavailable, "feed closed")
			}
			msg, err := BatchToStruct(b)
			if err != nil {
				return status.Errorf(codes.Internal, "encode batch: %v", err)
			}
			if err := stream.Send(msg); err != nil {
				return err
			}
		}
	}
}

// BatchToStruct 将一个批次展开为带 detections 列表的 Struct
func BatchToStruct(b iface.Batch) (*structpb.Struct, error) {
	dets := make([]any, len(b.Detections))
	for i, d := range b.Detections {
		cx, cy := d.Center()
		dets[i] = map[string]any{
			"xmin":       d.XMin,
			"ymin":       d.YMin,
			"xmax":       d.XMax,
			"ymax":       d.YMax,
			"confidence": d.Confidence,
			"class_id":   d.ClassID,
			"label":      d.Label,
			"center_x":   cx,
			"center_y":   cy,
		}
	}
	return structpb.NewStruct(map[string]any{
		"seq":         float64(b.Seq),
		"captured_at": b.CapturedAt.UTC().Format(time.RFC3339Nano),
		"width":       b.Width,
		"height":      b.Height,
		"detections":  dets,
	})
}

// recoverUnary 将 handler 中的 panic 转为 codes.Internal，并统计调用次数
func (s *Server) recoverUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
	if s.metrics != nil {
		s.metrics.RPCTotal.Inc()
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Log().Error("gRPC handler panic recovered", zap.String("method", info.FullMethod), zap.Any("panic", r))
			err = status.Errorf(codes.Internal, "panic: %v", r)
		}
	}()
	return handler(ctx, req)
}

func (s *Server) recoverStream(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
	if s.metrics != nil {
		s.metrics.RPCTotal.Inc()
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Log().Error("gRPC stream panic recovered", zap.String("method", info.FullMethod), zap.Any("panic", r))
			err = status.Errorf(codes.Internal, "panic: %v", r)
		}
	}()
	return handler(srv, ss)
}

// NewGRPCServer 在新的 grpc.Server 上注册 feed
func NewGRPCServer(feed *Server) *grpc.Server {
	s := grpc.NewServer(
		grpc.UnaryInterceptor(feed.recoverUnary),
		grpc.StreamInterceptor(feed.recoverStream),
	)
	RegisterDetectionFeedServer(s, feed)
	return s
}

// StartGRPCServer 监听 port 并在后台提供服务
func StartGRPCServer(port int, feed *Server) (*grpc.Server, error) {
	addr := fmt.Sprintf(":%d", port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	s := NewGRPCServer(feed)
	go func() {
		logger.Log().Info("gRPC feed listening", zap.String("addr", addr))
		if err := s.Serve(lis); err != nil {
			logger.Log().Error("gRPC server stopped", zap.Error(err))
		}
	}()
	return s, nil
}
