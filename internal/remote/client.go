package remote

import (
	"context"
	"fmt"
	"log"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
)

// DefaultTimeout bounds each remote decision call.
const DefaultTimeout = 5 * time.Second

const maxRetries = 2 // max 2 retries = 3 total attempts

// #region client-struct
// Client is a decision policy backed by a remote inference service.
type Client struct {
	conn    *grpc.ClientConn
	client  PolicyServiceClient
	timeout time.Duration
}

// #endregion client-struct

// #region constructor
// NewClient connects to a policy service at addr. Extra dial options are
// applied after the default insecure transport credentials.
func NewClient(addr string, timeout time.Duration, opts ...grpc.DialOption) (*Client, error) {
	dialOpts := append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		conn:    conn,
		client:  NewPolicyServiceClient(conn),
		timeout: timeout,
	}, nil
}

// NewClientWithService creates a Client around an injected service implementation.
// Used for testing without a real gRPC connection.
func NewClientWithService(svc PolicyServiceClient, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{client: svc, timeout: timeout}
}

// #endregion constructor

// #region close
// Close shuts down the gRPC connection.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// #endregion close

// #region predict
// Predict asks the remote policy for an action within the client timeout.
func (c *Client) Predict(state []float64, mask []bool) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	return c.PredictContext(ctx, state, mask)
}

// PredictContext is Predict with a caller-controlled context.
func (c *Client) PredictContext(ctx context.Context, state []float64, mask []bool) (int, error) {
	req, err := encodeRequest(state, mask)
	if err != nil {
		return 0, err
	}
	resp, err := c.client.Predict(ctx, req)
	for attempt := 1; attempt <= maxRetries && shouldRetry(ctx, err); attempt++ {
		log.Printf("[REMOTE] predict unavailable, retry %d/%d: %v", attempt, maxRetries, err)
		resp, err = c.client.Predict(ctx, req)
	}
	if err != nil {
		if sentinel := decisionSentinel(err); sentinel != nil {
			return 0, fmt.Errorf("predict rpc: %w: %w", sentinel, err)
		}
		return 0, fmt.Errorf("predict rpc: %w", err)
	}
	action, err := decodeResponse(resp)
	if err != nil {
		return 0, fmt.Errorf("predict response: %w", err)
	}
	return action, nil
}

// shouldRetry is true only for transport unavailability, where the request
// never reached the policy.
func shouldRetry(ctx context.Context, err error) bool {
	return err != nil && ctx.Err() == nil && status.Code(err) == codes.Unavailable
}

// #endregion predict

// #region reset
// Reset forwards the episode reset to the remote policy. Failures are logged.
func (c *Client) Reset() {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	if _, err := c.client.Reset(ctx, &emptypb.Empty{}); err != nil {
		log.Printf("[REMOTE] reset rpc failed: %v", err)
	}
}

// #endregion reset
