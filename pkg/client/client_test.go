package client

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/KevoDB/chainlog/pkg/block"
	"github.com/KevoDB/chainlog/pkg/chain"
	"github.com/KevoDB/chainlog/pkg/common/log"
	"github.com/KevoDB/chainlog/pkg/grpc/service"
	"github.com/KevoDB/chainlog/pkg/grpc/transport"
	"github.com/KevoDB/chainlog/pkg/telemetry"
	"github.com/stretchr/testify/require"
)

// startServer serves a fresh chain on a random local port
func startServer(t *testing.T) (*Client, *chain.Chain) {
	t.Helper()

	c := chain.New(filepath.Join(t.TempDir(), "chain.dat"), "",
		chain.WithLogger(log.NewNopLogger()),
	)

	opts := transport.DefaultServerOptions("127.0.0.1:0")
	opts.Logger = log.NewNopLogger()
	opts.Telemetry = telemetry.NewForTesting()

	server := transport.NewServer(service.NewChainService(c, log.NewNopLogger()), opts)
	require.NoError(t, server.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Stop(ctx)
	})

	options := DefaultClientOptions()
	options.Endpoint = server.Addr().String()
	options.RequestTimeout = 5 * time.Second

	client, err := NewClient(options)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client, c
}

func TestClientAppendAndFind(t *testing.T) {
	client, _ := startServer(t)
	ctx := context.Background()

	first, err := client.Append(ctx, []byte("hello"))
	require.NoError(t, err)
	require.Equal(t, uint32(1), first.Position)
	require.True(t, first.IsGenesis())

	second, err := client.Append(ctx, []byte("world"))
	require.NoError(t, err)
	require.Equal(t, first.Hash, second.PrevHash)
	require.Equal(t, uint32(50), second.Offset)

	found, err := client.FindByHash(ctx, second.Hash.String())
	require.NoError(t, err)
	require.Equal(t, second, found)

	next, err := client.FindByPrevHash(ctx, first.Hash.String())
	require.NoError(t, err)
	require.Equal(t, []byte("world"), next.Data)

	genesis, err := client.FindByPrevHash(ctx, block.ZeroHash.String())
	require.NoError(t, err)
	require.Equal(t, first.Hash, genesis.Hash)
}

func TestClientErrors(t *testing.T) {
	client, c := startServer(t)
	ctx := context.Background()

	_, err := client.FindByHash(ctx, block.ZeroHash.String())
	require.ErrorIs(t, err, chain.ErrFileNotFound)

	_, err = client.Append(ctx, []byte("hello"))
	require.NoError(t, err)

	_, err = client.FindByHash(ctx, block.ZeroHash.String())
	require.ErrorIs(t, err, chain.ErrNotFound)

	_, err = client.FindByPrevHash(ctx, "xyz")
	require.ErrorIs(t, err, chain.ErrInvalidInput)

	lock, err := chain.AcquireLock(c.DataPath(), 0)
	require.NoError(t, err)
	_, err = client.Append(ctx, []byte("blocked"))
	require.ErrorIs(t, err, chain.ErrLocked)
	require.NoError(t, lock.Release())
}

func TestClientWalk(t *testing.T) {
	client, _ := startServer(t)
	ctx := context.Background()

	records, err := client.Records(ctx)
	require.ErrorIs(t, err, chain.ErrFileNotFound)
	require.Empty(t, records)

	payloads := []string{"one", "two", "three", "four"}
	for _, p := range payloads {
		_, err := client.Append(ctx, []byte(p))
		require.NoError(t, err)
	}

	records, err = client.Records(ctx)
	require.NoError(t, err)
	require.Len(t, records, len(payloads))
	for i, rec := range records {
		require.Equal(t, uint32(i+1), rec.Position)
		require.Equal(t, payloads[i], string(rec.Data))
	}

	// Stopping early ends the stream
	var seen int
	for _, err := range client.Walk(ctx) {
		require.NoError(t, err)
		seen++
		if seen == 2 {
			break
		}
	}
	require.Equal(t, 2, seen)
}

func TestClientValidateAndStats(t *testing.T) {
	client, c := startServer(t)
	ctx := context.Background()

	var head block.Record
	for _, p := range []string{"a", "b", "c"} {
		rec, err := client.Append(ctx, []byte(p))
		require.NoError(t, err)
		head = rec
	}

	report, err := client.Validate(ctx)
	require.NoError(t, err)
	require.True(t, report.Valid)
	require.Equal(t, uint32(3), report.Blocks)
	require.Equal(t, head.Hash, report.Head)

	stats, err := client.Stats(ctx, "")
	require.NoError(t, err)
	require.EqualValues(t, 3, stats["append_ops"])

	// Rewrite block 2's payload on disk
	local, err := c.Records()
	require.NoError(t, err)
	require.NoError(t, overwrite(c.DataPath(), int64(local[1].Offset)+block.HeaderSize, []byte("B")))

	report, err = client.Validate(ctx)
	require.ErrorIs(t, err, chain.ErrBrokenLink)
	require.False(t, report.Valid)
	require.Equal(t, uint32(3), report.BrokenAt)
}
