package ipcsurface

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

type fakeServer struct {
	rateLimiterCalls []ModifyRateLimiterRequest
}

func (f *fakeServer) Status(ctx context.Context, req *StatusRequest) (*StatusResponse, error) {
	return &StatusResponse{RuleCount: 3, Version: "1.0"}, nil
}

func (f *fakeServer) Reload(ctx context.Context, req *ReloadRequest) (*ReloadResponse, error) {
	return &ReloadResponse{Status: StatusResponse{RuleCount: 3, Version: "1.0"}}, nil
}

func (f *fakeServer) ModifyRateLimiter(ctx context.Context, req *ModifyRateLimiterRequest) (*ModifyRateLimiterResponse, error) {
	f.rateLimiterCalls = append(f.rateLimiterCalls, *req)
	return &ModifyRateLimiterResponse{}, nil
}

func startTestServer(t *testing.T, impl Server) (*Client, func()) {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	s := grpc.NewServer()
	RegisterServer(s, impl)
	go func() { _ = s.Serve(lis) }()

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	return NewClient(conn), func() {
		_ = conn.Close()
		s.Stop()
	}
}

func TestIPCSurface_StatusRoundTrip(t *testing.T) {
	client, cleanup := startTestServer(t, &fakeServer{})
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.Status(ctx, &StatusRequest{})
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if resp.RuleCount != 3 || resp.Version != "1.0" {
		t.Errorf("Status = %+v, want RuleCount=3 Version=1.0", resp)
	}
}

func TestIPCSurface_ModifyRateLimiter(t *testing.T) {
	impl := &fakeServer{}
	client, cleanup := startTestServer(t, impl)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := client.ModifyRateLimiter(ctx, &ModifyRateLimiterRequest{LogsPerSecond: 5, WindowSeconds: 2})
	if err != nil {
		t.Fatalf("ModifyRateLimiter: %v", err)
	}
	if len(impl.rateLimiterCalls) != 1 || impl.rateLimiterCalls[0].LogsPerSecond != 5 {
		t.Errorf("rateLimiterCalls = %+v, want one call with LogsPerSecond=5", impl.rateLimiterCalls)
	}
}
