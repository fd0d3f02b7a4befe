// Package client is a gRPC client for a chainlog server. Its methods mirror
// the chain package and return the same sentinel errors.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"time"

	"github.com/KevoDB/chainlog/pkg/block"
	"github.com/KevoDB/chainlog/pkg/chain"
	"github.com/KevoDB/chainlog/pkg/grpc/service"
	"github.com/KevoDB/chainlog/pkg/grpc/transport"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
)

// ClientOptions configures a chainlog client
type ClientOptions struct {
	// Connection options
	Endpoint       string        // Server address
	RequestTimeout time.Duration // Default timeout for unary requests

	// Security options
	TLSEnabled bool   // Enable TLS
	CertFile   string // Client certificate file
	KeyFile    string // Client key file
	CAFile     string // CA certificate file
	SkipVerify bool   // Skip server certificate verification

	// Retry policy for read RPCs; appends are never retried
	Retry RetryPolicy

	MaxMessageSize int // Maximum message size
}

// DefaultClientOptions returns sensible default client options
func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		Endpoint:       "localhost:50051",
		RequestTimeout: 10 * time.Second,
		Retry:          DefaultRetryPolicy(),
		MaxMessageSize: 16 * 1024 * 1024, // 16MB
	}
}

// Client is a connection to a chainlog server
type Client struct {
	options ClientOptions
	conn    *grpc.ClientConn
}

// NewClient creates a client for options.Endpoint. The connection is made
// lazily on the first call.
func NewClient(options ClientOptions, opts ...grpc.DialOption) (*Client, error) {
	if options.Endpoint == "" {
		return nil, errors.New("endpoint is required")
	}

	creds := insecure.NewCredentials()
	if options.TLSEnabled {
		tlsConfig, err := transport.LoadClientTLSConfig(options.CertFile, options.KeyFile, options.CAFile, options.SkipVerify)
		if err != nil {
			return nil, err
		}
		creds = credentials.NewTLS(tlsConfig)
	}

	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                30 * time.Second,
			Timeout:             5 * time.Second,
			PermitWithoutStream: false,
		}),
		grpc.WithDefaultCallOptions(
			grpc.ForceCodec(service.WireCodec{}),
			grpc.MaxCallRecvMsgSize(options.MaxMessageSize),
			grpc.MaxCallSendMsgSize(options.MaxMessageSize),
		),
	}
	dialOpts = append(dialOpts, opts...)

	conn, err := grpc.NewClient(options.Endpoint, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for %s: %w", options.Endpoint, err)
	}

	return &Client{
		options: options,
		conn:    conn,
	}, nil
}

// Close closes the connection to the server
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) invoke(ctx context.Context, method string, req, resp service.Message) error {
	if c.options.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.options.RequestTimeout)
		defer cancel()
	}
	return c.conn.Invoke(ctx, service.FullMethod(method), req, resp)
}

// invokeRead is invoke with the retry policy applied
func (c *Client) invokeRead(ctx context.Context, method string, req, resp service.Message) error {
	err := withRetry(ctx, c.options.Retry, func(ctx context.Context) error {
		return c.invoke(ctx, method, req, resp)
	})
	return service.FromStatus(err)
}

// Append adds payload as the next block on the server
func (c *Client) Append(ctx context.Context, payload []byte) (block.Record, error) {
	resp := new(service.BlockMessage)
	if err := c.invoke(ctx, "Append", &service.AppendRequest{Data: payload}, resp); err != nil {
		return block.Record{}, service.FromStatus(err)
	}
	return resp.Record()
}

// FindByHash returns the block whose hash is hashHex
func (c *Client) FindByHash(ctx context.Context, hashHex string) (block.Record, error) {
	resp := new(service.BlockMessage)
	if err := c.invokeRead(ctx, "FindByHash", &service.HashRequest{Hash: hashHex}, resp); err != nil {
		return block.Record{}, err
	}
	return resp.Record()
}

// FindByPrevHash returns the block whose prevHash is hashHex
func (c *Client) FindByPrevHash(ctx context.Context, hashHex string) (block.Record, error) {
	resp := new(service.BlockMessage)
	if err := c.invokeRead(ctx, "FindByPrevHash", &service.HashRequest{Hash: hashHex}, resp); err != nil {
		return block.Record{}, err
	}
	return resp.Record()
}

// Validate asks the server to validate its chain. A damaged chain is
// reported through the returned report and an error wrapping the chain
// sentinel for the problem.
func (c *Client) Validate(ctx context.Context) (chain.ValidationReport, error) {
	resp := new(service.ValidateResponse)
	if err := c.invokeRead(ctx, "Validate", &service.Empty{}, resp); err != nil {
		return chain.ValidationReport{}, err
	}

	report := chain.ValidationReport{
		Blocks:       resp.Blocks,
		DataSize:     int64(resp.DataSize),
		Valid:        resp.Valid,
		BrokenAt:     resp.BrokenAt,
		Problem:      resp.Problem,
		IndexChecked: resp.IndexChecked,
		IndexCount:   resp.IndexCount,
	}
	copy(report.Head[:], resp.Head)

	if !report.Valid {
		sentinel := chain.ErrorForKind(resp.Kind)
		if sentinel == nil {
			sentinel = chain.ErrCorruptChain
		}
		return report, fmt.Errorf("%w: %s", sentinel, report.Problem)
	}
	return report, nil
}

// Stats returns the server's statistics, optionally filtered by key prefix
func (c *Client) Stats(ctx context.Context, prefix string) (map[string]interface{}, error) {
	resp := new(service.StatsResponse)
	if err := c.invokeRead(ctx, "Stats", &service.StatsRequest{Prefix: prefix}, resp); err != nil {
		return nil, err
	}

	var stats map[string]interface{}
	if err := json.Unmarshal(resp.JSON, &stats); err != nil {
		return nil, fmt.Errorf("failed to decode stats: %w", err)
	}
	return stats, nil
}

// Walk streams every block from the server. The stream is retried while
// nothing has been received yet. A failure yields the error once and ends
// the sequence.
func (c *Client) Walk(ctx context.Context) iter.Seq2[block.Record, error] {
	return func(yield func(block.Record, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		var stream grpc.ClientStream
		var first *service.BlockMessage
		err := withRetry(ctx, c.options.Retry, func(ctx context.Context) error {
			var err error
			stream, first, err = c.openWalk(ctx)
			return err
		})
		if err == io.EOF {
			return
		}
		if err != nil {
			yield(block.Record{}, service.FromStatus(err))
			return
		}

		msg := first
		for {
			rec, err := msg.Record()
			if !yield(rec, err) || err != nil {
				return
			}

			msg = new(service.BlockMessage)
			if err := stream.RecvMsg(msg); err != nil {
				if err != io.EOF {
					yield(block.Record{}, service.FromStatus(err))
				}
				return
			}
		}
	}
}

// openWalk starts the Walk stream and receives its first message. An empty
// chain returns io.EOF.
func (c *Client) openWalk(ctx context.Context) (grpc.ClientStream, *service.BlockMessage, error) {
	stream, err := c.conn.NewStream(ctx, service.WalkStreamDesc, service.FullMethod("Walk"))
	if err != nil {
		return nil, nil, err
	}
	if err := stream.SendMsg(&service.Empty{}); err != nil {
		return nil, nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, nil, err
	}

	first := new(service.BlockMessage)
	if err := stream.RecvMsg(first); err != nil {
		return nil, nil, err
	}
	return stream, first, nil
}

// Records collects Walk into a slice
func (c *Client) Records(ctx context.Context) ([]block.Record, error) {
	var records []block.Record
	for rec, err := range c.Walk(ctx) {
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}
