package pipeline

import (
	"errors"
	"fmt"

	"github.com/fusionn-scribe/internal/ledger"
)

// Stage failures. Each is recorded in the ledger before it is returned.
var (
	ErrDecodeFailed     = errors.New("decode failed")
	ErrSegmentFailed    = errors.New("segment failed")
	ErrModelLoadFailed  = errors.New("model load failed")
	ErrTranscribeFailed = errors.New("transcribe failed")

	// ErrRetryLimit means the job failed too many times in a row; the operator
	// has to fix the cause and remove the ledger.
	ErrRetryLimit = errors.New("consecutive failure limit reached")
)

// TranscribeError carries the index of the segment that could not be transcribed.
type TranscribeError struct {
	Index int
	Err   error
}

func (e *TranscribeError) Error() string {
	return fmt.Sprintf("%v: segment %d: %v", ErrTranscribeFailed, e.Index, e.Err)
}

func (e *TranscribeError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrTranscribeFailed) match.
func (e *TranscribeError) Is(target error) bool { return target == ErrTranscribeFailed }

func stepError(step ledger.Step, index int, err error) error {
	switch step {
	case ledger.StepDecode:
		return fmt.Errorf("%w: %w", ErrDecodeFailed, err)
	case ledger.StepSegment:
		return fmt.Errorf("%w: %w", ErrSegmentFailed, err)
	case ledger.StepModelLoad:
		return fmt.Errorf("%w: %w", ErrModelLoadFailed, err)
	default:
		return &TranscribeError{Index: index, Err: err}
	}
}
