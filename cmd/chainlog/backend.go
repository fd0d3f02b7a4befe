package main

import (
	"context"
	"iter"

	"github.com/KevoDB/chainlog/pkg/block"
	"github.com/KevoDB/chainlog/pkg/chain"
	"github.com/KevoDB/chainlog/pkg/client"
)

// backend is the set of chain operations available both on local files and
// through a remote server
type backend interface {
	Append(ctx context.Context, payload []byte) (block.Record, error)
	Walk(ctx context.Context) iter.Seq2[block.Record, error]
	FindByHash(ctx context.Context, hashHex string) (block.Record, error)
	FindByPrevHash(ctx context.Context, hashHex string) (block.Record, error)
	Validate(ctx context.Context) (chain.ValidationReport, error)
	Stats(ctx context.Context, prefix string) (map[string]interface{}, error)
	Close() error
}

var (
	_ backend = (*localBackend)(nil)
	_ backend = (*client.Client)(nil)
)

// localBackend adapts a Chain to backend. The chain API is synchronous, so
// the context is only checked before each call.
type localBackend struct {
	chain *chain.Chain
}

func (b *localBackend) Append(ctx context.Context, payload []byte) (block.Record, error) {
	if err := ctx.Err(); err != nil {
		return block.Record{}, err
	}
	return b.chain.Append(payload)
}

func (b *localBackend) Walk(ctx context.Context) iter.Seq2[block.Record, error] {
	return func(yield func(block.Record, error) bool) {
		for rec, err := range b.chain.Walk() {
			if err == nil {
				err = ctx.Err()
			}
			if !yield(rec, err) || err != nil {
				return
			}
		}
	}
}

func (b *localBackend) FindByHash(ctx context.Context, hashHex string) (block.Record, error) {
	if err := ctx.Err(); err != nil {
		return block.Record{}, err
	}
	return b.chain.FindByHash(hashHex)
}

func (b *localBackend) FindByPrevHash(ctx context.Context, hashHex string) (block.Record, error) {
	if err := ctx.Err(); err != nil {
		return block.Record{}, err
	}
	return b.chain.FindByPrevHash(hashHex)
}

func (b *localBackend) Validate(ctx context.Context) (chain.ValidationReport, error) {
	if err := ctx.Err(); err != nil {
		return chain.ValidationReport{}, err
	}
	return b.chain.Validate()
}

func (b *localBackend) Stats(_ context.Context, prefix string) (map[string]interface{}, error) {
	collector := b.chain.Stats()
	if prefix == "" {
		return collector.GetStats(), nil
	}
	return collector.GetStatsFiltered(prefix), nil
}

func (b *localBackend) Close() error {
	return nil
}
