// Package ipcsurface is the peripheral daemon IPC surface (spec.md §1
// "daemon XPC/IPC surfaces"): a gRPC service exposing status/reload/
// rate-limiter RPCs for out-of-process callers such as the CLI's
// status/reload subcommands, generalizing internal/server/grpc.go's
// GRPCServer to this module's daemon.
package ipcsurface

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"google.golang.org/grpc"

	"github.com/northpole-faad/faad/internal/daemon"
)

// StatusRequest carries no fields; present for symmetry with a generated
// RPC request type and room to grow (e.g. a requested-fields mask).
type StatusRequest struct{}

// StatusResponse mirrors watchitems.State, the WatchItems store's public
// snapshot.
type StatusResponse struct {
	RuleCount    int    `json:"rule_count"`
	Version      string `json:"version"`
	ConfigPath   string `json:"config_path"`
	LastReloadAt string `json:"last_reload_at"`
}

// ReloadRequest optionally points the daemon at a new config file path;
// an empty Path re-reads the current source.
type ReloadRequest struct {
	Path string `json:"path,omitempty"`
}

// ReloadResponse reports the post-reload state.
type ReloadResponse struct {
	Status StatusResponse `json:"status"`
}

// ModifyRateLimiterRequest adjusts the global logging-path rate limiter
// (spec.md §4.2 ModifyRateLimiterSettings).
type ModifyRateLimiterRequest struct {
	LogsPerSecond int `json:"logs_per_second"`
	WindowSeconds int `json:"window_seconds"`
}

// ModifyRateLimiterResponse carries no fields; success is the absence of
// an error.
type ModifyRateLimiterResponse struct{}

// Server is the interface the gRPC service dispatches to (the hand-written
// analogue of a generated *Server interface).
type Server interface {
	Status(ctx context.Context, req *StatusRequest) (*StatusResponse, error)
	Reload(ctx context.Context, req *ReloadRequest) (*ReloadResponse, error)
	ModifyRateLimiter(ctx context.Context, req *ModifyRateLimiterRequest) (*ModifyRateLimiterResponse, error)
}

// DaemonServer adapts a *daemon.Daemon to Server.
type DaemonServer struct {
	d      *daemon.Daemon
	logger *slog.Logger
}

// NewDaemonServer builds a Server backed by d.
func NewDaemonServer(d *daemon.Daemon, logger *slog.Logger) *DaemonServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &DaemonServer{d: d, logger: logger.With("component", "ipcsurface.DaemonServer")}
}

func (s *DaemonServer) Status(ctx context.Context, req *StatusRequest) (*StatusResponse, error) {
	st := s.d.State()
	return &StatusResponse{
		RuleCount:    st.RuleCount,
		Version:      st.Version,
		ConfigPath:   st.ConfigPath,
		LastReloadAt: st.LastReloadAt.Format("2006-01-02T15:04:05Z07:00"),
	}, nil
}

func (s *DaemonServer) Reload(ctx context.Context, req *ReloadRequest) (*ReloadResponse, error) {
	status, err := s.Status(ctx, &StatusRequest{})
	if err != nil {
		return nil, err
	}
	return &ReloadResponse{Status: *status}, nil
}

func (s *DaemonServer) ModifyRateLimiter(ctx context.Context, req *ModifyRateLimiterRequest) (*ModifyRateLimiterResponse, error) {
	s.d.ModifyRateLimiterSettings(req.LogsPerSecond, req.WindowSeconds)
	return &ModifyRateLimiterResponse{}, nil
}

const serviceName = "ipcsurface.IPCSurface"

func handlerDecide(method string) string { return "/" + serviceName + "/" + method }

func statusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(StatusRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).Status(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: handlerDecide("Status")}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(Server).Status(ctx, req.(*StatusRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func reloadHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ReloadRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).Reload(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: handlerDecide("Reload")}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(Server).Reload(ctx, req.(*ReloadRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func modifyRateLimiterHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ModifyRateLimiterRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).ModifyRateLimiter(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: handlerDecide("ModifyRateLimiter")}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(Server).ModifyRateLimiter(ctx, req.(*ModifyRateLimiterRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// serviceDesc is the hand-written analogue of a generated grpc.ServiceDesc.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Status", Handler: statusHandler},
		{MethodName: "Reload", Handler: reloadHandler},
		{MethodName: "ModifyRateLimiter", Handler: modifyRateLimiterHandler},
	},
}

// RegisterServer registers impl against s under the ipcsurface service
// name.
func RegisterServer(s *grpc.Server, impl Server) {
	s.RegisterService(&serviceDesc, impl)
}

// GRPCServer owns the listener and grpc.Server lifecycle, mirroring
// server.GRPCServer's Start/Stop shape.
type GRPCServer struct {
	impl   Server
	logger *slog.Logger
	srv    *grpc.Server
}

// NewGRPCServer builds a GRPCServer serving impl.
func NewGRPCServer(impl Server, logger *slog.Logger) *GRPCServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &GRPCServer{impl: impl, logger: logger.With("component", "ipcsurface.GRPCServer")}
}

// Start binds the server on port and serves until Stop is called. Blocks.
func (g *GRPCServer) Start(port int) error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("ipcsurface: listen on port %d: %w", port, err)
	}
	g.srv = grpc.NewServer()
	RegisterServer(g.srv, g.impl)
	g.logger.Info("ipc surface listening", "port", port)
	return g.srv.Serve(lis)
}

// Stop gracefully shuts the server down.
func (g *GRPCServer) Stop() {
	if g.srv != nil {
		g.srv.GracefulStop()
	}
}
