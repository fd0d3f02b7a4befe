package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/KevoDB/chainlog/pkg/chain"
	"github.com/KevoDB/chainlog/pkg/common/log"
	"google.golang.org/grpc"
)

// ChainService implements ChainServiceServer over one local chain
type ChainService struct {
	chain  *chain.Chain
	logger log.Logger

	// appendMu serializes appends from this process; the chain's file lock
	// still guards against other processes
	appendMu sync.Mutex

	maxPayloadSize int64
}

// Compile-time interface check
var _ ChainServiceServer = (*ChainService)(nil)

// NewChainService creates a service serving c
func NewChainService(c *chain.Chain, logger log.Logger) *ChainService {
	if logger == nil {
		logger = log.GetDefaultLogger()
	}
	return &ChainService{
		chain:          c,
		logger:         logger.WithField("component", "rpc"),
		maxPayloadSize: chain.MaxPayloadSize,
	}
}

// Register adds the chain service to a gRPC server
func (s *ChainService) Register(gs grpc.ServiceRegistrar) {
	RegisterChainServiceServer(gs, s)
}

// Append adds a block to the chain
func (s *ChainService) Append(ctx context.Context, req *AppendRequest) (*BlockMessage, error) {
	if int64(len(req.Data)) > s.maxPayloadSize {
		return nil, ToStatus(fmt.Errorf("%w: payload of %d bytes exceeds %d", chain.ErrInvalidInput, len(req.Data), s.maxPayloadSize))
	}
	if err := ctx.Err(); err != nil {
		return nil, ToStatus(err)
	}

	s.appendMu.Lock()
	rec, err := s.chain.Append(req.Data)
	s.appendMu.Unlock()
	if err != nil {
		s.logger.WithField("error", err).Warn("Append rejected")
		return nil, ToStatus(err)
	}
	return NewBlockMessage(rec), nil
}

// FindByHash returns the block with the given hash
func (s *ChainService) FindByHash(ctx context.Context, req *HashRequest) (*BlockMessage, error) {
	rec, err := s.chain.FindByHash(req.Hash)
	if err != nil {
		return nil, ToStatus(err)
	}
	return NewBlockMessage(rec), nil
}

// FindByPrevHash returns the block whose prevHash is the given hash
func (s *ChainService) FindByPrevHash(ctx context.Context, req *HashRequest) (*BlockMessage, error) {
	rec, err := s.chain.FindByPrevHash(req.Hash)
	if err != nil {
		return nil, ToStatus(err)
	}
	return NewBlockMessage(rec), nil
}

// Walk streams every block in order. A read error ends the stream with the
// error after the blocks before it have been sent.
func (s *ChainService) Walk(_ *Empty, stream grpc.ServerStream) error {
	ctx := stream.Context()
	for rec, err := range s.chain.Walk() {
		if err != nil {
			return ToStatus(err)
		}
		if err := ctx.Err(); err != nil {
			return ToStatus(err)
		}
		if err := stream.SendMsg(NewBlockMessage(rec)); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks the chain. A damaged chain is not an RPC error; the
// response carries the position and the problem.
func (s *ChainService) Validate(ctx context.Context, _ *Empty) (*ValidateResponse, error) {
	report, err := s.chain.Validate()
	if err != nil && report.Blocks == 0 && report.BrokenAt == 0 {
		// Nothing was read, e.g. the data file is missing
		return nil, ToStatus(err)
	}
	return &ValidateResponse{
		Valid:        report.Valid,
		Blocks:       report.Blocks,
		DataSize:     uint64(report.DataSize),
		Head:         report.Head[:],
		BrokenAt:     report.BrokenAt,
		Problem:      report.Problem,
		IndexChecked: report.IndexChecked,
		IndexCount:   report.IndexCount,
		Kind:         chain.ErrorKind(err),
	}, nil
}

// Stats returns the chain's statistics as JSON
func (s *ChainService) Stats(ctx context.Context, req *StatsRequest) (*StatsResponse, error) {
	collector := s.chain.Stats()
	values := collector.GetStats()
	if req.Prefix != "" {
		values = collector.GetStatsFiltered(req.Prefix)
	}

	data, err := json.Marshal(values)
	if err != nil {
		return nil, ToStatus(fmt.Errorf("failed to encode stats: %w", err))
	}
	return &StatsResponse{JSON: data}, nil
}
