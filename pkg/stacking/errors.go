package stacking

import (
	"errors"
	"fmt"
)

// Integrity violations. These indicate malformed input from an earlier pass
// and abort lowering of the function; they are raised with panic inside the
// passes and turned into an *IntegrityError by Lower.
var (
	ErrNoFrameIndex         = errors.New("instruction has no frame index operand")
	ErrUnsupportedAddrMode  = errors.New("unsupported addressing mode")
	ErrUnexpectedOpcode     = errors.New("unexpected opcode")
	ErrMisalignedSPAdjust   = errors.New("sp relative offset must be a multiple of 4")
	ErrNotReturnBlock       = errors.New("epilogue can only be inserted into returning blocks")
	ErrFramePtrNotSpilled   = errors.New("frame pointer is not among the callee-saved registers")
	ErrFPWithSPAdjust       = errors.New("frame pointer relative access inside a call sequence")
	ErrInconsistentSPAdjust = errors.New("block reached with different sp adjustments")
	ErrFrameIndexRemains    = errors.New("frame index survived elimination")
	ErrBadFrameLayout       = errors.New("inconsistent frame layout")
)

// IntegrityError reports the function whose lowering was aborted
type IntegrityError struct {
	Func string
	Err  error
}

func (e *IntegrityError) Error() string {
	return e.Func + ": " + e.Err.Error()
}

func (e *IntegrityError) Unwrap() error {
	return e.Err
}

// fatalf aborts the current pass with err annotated by a formatted message
func fatalf(err error, format string, args ...any) {
	panic(fmt.Errorf("%w: %s", err, fmt.Sprintf(format, args...)))
}
