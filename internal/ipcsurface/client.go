package ipcsurface

import (
	"context"

	"google.golang.org/grpc"
)

// Client is a thin wrapper invoking the ipcsurface RPCs over an existing
// connection, forcing the json content-subtype so the server picks the
// matching codec (see codec.go).
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) callOpts() []grpc.CallOption {
	return []grpc.CallOption{grpc.CallContentSubtype(codecName)}
}

func (c *Client) Status(ctx context.Context, req *StatusRequest) (*StatusResponse, error) {
	out := new(StatusResponse)
	if err := c.cc.Invoke(ctx, handlerDecide("Status"), req, out, c.callOpts()...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Reload(ctx context.Context, req *ReloadRequest) (*ReloadResponse, error) {
	out := new(ReloadResponse)
	if err := c.cc.Invoke(ctx, handlerDecide("Reload"), req, out, c.callOpts()...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ModifyRateLimiter(ctx context.Context, req *ModifyRateLimiterRequest) (*ModifyRateLimiterResponse, error) {
	out := new(ModifyRateLimiterResponse)
	if err := c.cc.Invoke(ctx, handlerDecide("ModifyRateLimiter"), req, out, c.callOpts()...); err != nil {
		return nil, err
	}
	return out, nil
}
