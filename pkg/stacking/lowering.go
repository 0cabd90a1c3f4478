package stacking

import (
	"github.com/raymyers/ralph-frame/pkg/mach"
)

// FrameLowering is the frame lowering capability of one target variant.
// Methods that find malformed input panic with an error wrapping one of
// the Err* sentinels; Lower recovers those into an *IntegrityError.
type FrameLowering interface {
	// EmitPrologue inserts the entry sequence and computes the spill layout
	EmitPrologue(fn *mach.Function)

	// EmitEpilogue inserts the exit sequence of a returning block
	EmitEpilogue(fn *mach.Function, blk *mach.Block)

	// EliminateFrameIndex resolves the frame index of blk.Instrs[idx] and
	// returns the index where traversal resumes
	EliminateFrameIndex(fn *mach.Function, blk *mach.Block, idx int, spAdj int64) int

	// LowerCallFrameAdjustment replaces the call frame marker at idx and
	// returns the index where traversal resumes
	LowerCallFrameAdjustment(fn *mach.Function, blk *mach.Block, idx int) int

	HasReservedCallFrame(fn *mach.Function) bool
	HasFP(fn *mach.Function) bool
	RequiresRegisterScavenging(fn *mach.Function) bool
}

// New returns the frame lowering for cfg.Target
func New(cfg Config) (FrameLowering, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &thumbLowering{cfg: cfg}, nil
}

// thumbLowering implements FrameLowering for Thumb. Darwin and ELF differ
// only in where r8-r11 are spilled, whether r7 is always set up, and the
// debug offset adjustment, so both share one implementation keyed on
// cfg.Target.
type thumbLowering struct {
	cfg Config
}

// RequiresRegisterScavenging reports the configured scavenging switch
func (l *thumbLowering) RequiresRegisterScavenging(fn *mach.Function) bool {
	return l.cfg.EnableRegScavenging
}

func (l *thumbLowering) planner(fn *mach.Function) *Planner {
	if fn.ConstPool == nil {
		fn.ConstPool = &mach.ConstantPool{}
	}
	return NewPlanner(fn.ConstPool, l.cfg.Thresholds)
}
