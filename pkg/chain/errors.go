package chain

import (
	"errors"

	"github.com/KevoDB/chainlog/pkg/block"
	"github.com/KevoDB/chainlog/pkg/index"
)

var (
	ErrFileNotFound   = errors.New("data file not found")
	ErrCorruptChain   = errors.New("corrupt chain")
	ErrTruncatedBlock = errors.New("truncated block")
	ErrNotFound       = errors.New("block not found")
	ErrBrokenLink     = errors.New("broken hash link")
	ErrLocked         = errors.New("chain is locked by another writer")
	ErrInvalidOffset  = errors.New("invalid offset")
)

// Errors owned by the codec and index packages, re-exported so callers only
// need this package.
var (
	ErrInvalidInput     = block.ErrInvalidInput
	ErrMalformedHeader  = block.ErrMalformedHeader
	ErrMissingIndexFile = index.ErrMissingIndexFile
	ErrCorruptIndex     = index.ErrCorruptIndex
	ErrInvalidPosition  = index.ErrInvalidPosition
	ErrAlreadyExists    = index.ErrAlreadyExists
)

// ErrorKind returns a short stable name for the sentinel wrapped by err, for
// use as a stats and metrics label
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrLocked):
		return "locked"
	case errors.Is(err, ErrBrokenLink):
		return "broken_link"
	case errors.Is(err, ErrTruncatedBlock):
		return "truncated_block"
	case errors.Is(err, ErrMissingIndexFile):
		return "missing_index"
	case errors.Is(err, ErrCorruptIndex):
		return "corrupt_index"
	case errors.Is(err, ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, ErrCorruptChain):
		return "corrupt_chain"
	case errors.Is(err, ErrFileNotFound):
		return "file_not_found"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrMalformedHeader):
		return "malformed_header"
	case errors.Is(err, ErrInvalidOffset):
		return "invalid_offset"
	case errors.Is(err, ErrInvalidPosition):
		return "invalid_position"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	default:
		return "io"
	}
}

var errorsByKind = map[string]error{
	"locked":           ErrLocked,
	"broken_link":      ErrBrokenLink,
	"truncated_block":  ErrTruncatedBlock,
	"missing_index":    ErrMissingIndexFile,
	"corrupt_index":    ErrCorruptIndex,
	"already_exists":   ErrAlreadyExists,
	"corrupt_chain":    ErrCorruptChain,
	"file_not_found":   ErrFileNotFound,
	"not_found":        ErrNotFound,
	"malformed_header": ErrMalformedHeader,
	"invalid_offset":   ErrInvalidOffset,
	"invalid_position": ErrInvalidPosition,
	"invalid_input":    ErrInvalidInput,
}

// ErrorForKind is the inverse of ErrorKind. It returns nil for "io" and
// unknown kinds.
func ErrorForKind(kind string) error {
	return errorsByKind[kind]
}
