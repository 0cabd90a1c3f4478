package stacking

import (
	"fmt"
	"log/slog"
	"runtime"

	"github.com/oleiade/lane"

	"github.com/raymyers/ralph-frame/pkg/mach"
	"github.com/raymyers/ralph-frame/pkg/thumb"
)

// Lower runs frame lowering over fn: prologue, epilogues, call frame
// markers and frame index elimination. On failure fn is left partially
// rewritten and must be discarded; the returned error is an
// *IntegrityError wrapping one of the Err* sentinels.
func Lower(fn *mach.Function, cfg Config) (err error) {
	fl, err := New(cfg)
	if err != nil {
		return err
	}
	return LowerWith(fl, fn, cfg.logger())
}

// LowerWith is Lower with an explicit frame lowering and logger
func LowerWith(fl FrameLowering, fn *mach.Function, log *slog.Logger) (err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if re, ok := r.(runtime.Error); ok {
			panic(re)
		}
		e, ok := r.(error)
		if !ok {
			e = fmt.Errorf("%w: %v", ErrBadFrameLayout, r)
		}
		err = &IntegrityError{Func: fn.Name, Err: e}
	}()

	t := &transformer{
		fn:  fn,
		fl:  fl,
		log: log.With("func", fn.Name),
	}
	t.transform()
	return nil
}

// transformer holds state while one function is lowered
type transformer struct {
	fn  *mach.Function
	fl  FrameLowering
	log *slog.Logger

	verify bool
}

func (t *transformer) transform() {
	fn := t.fn
	if fn.Info == nil {
		fn.Info = mach.NewFuncInfo()
	}
	if tl, ok := t.fl.(*thumbLowering); ok {
		t.verify = tl.cfg.Verify
	}

	// 1. Report callee-saved registers clobbered without a slot
	if missing := unsavedCalleeSaved(fn); len(missing) > 0 {
		t.log.Warn("callee-saved registers written but not saved", "regs", fmt.Sprint(missing))
	}

	// 2. Decide the call frame policy before the frame is laid out
	reserved := t.fl.HasReservedCallFrame(fn)
	t.log.Debug("frame",
		"stack_size", fn.Frame.StackSize,
		"max_call_frame", fn.Frame.MaxCallFrameSize,
		"reserved_call_frame", reserved,
		"has_fp", t.fl.HasFP(fn),
		"scavenging", t.fl.RequiresRegisterScavenging(fn))

	// 3. Prologue and epilogues
	t.fl.EmitPrologue(fn)
	for _, b := range fn.Blocks {
		if b.IsReturnBlock() {
			t.fl.EmitEpilogue(fn, b)
		}
	}

	// 4. Frame indices and call frame markers
	t.replaceFrameIndices()

	if fn.HasFrameIndices() {
		fatalf(ErrFrameIndexRemains, "in %s", fn.Name)
	}
	if t.verify {
		t.checkEncodings()
	}

	afi := fn.Info
	t.log.Debug("lowered",
		"stack_size", fn.Frame.StackSize,
		"gprcs1", afi.GPRCS1Size,
		"gprcs2", afi.GPRCS2Size,
		"dprcs", afi.DPRCSSize,
		"constants", fn.ConstPool.Len(),
		"instrs", fn.NumInstrs())
}

// blockEntry is a queued block with the sp adjustment live on entry
type blockEntry struct {
	blk   *mach.Block
	spAdj int64
}

// replaceFrameIndices walks the blocks breadth first from the entry so the
// sp adjustment at the end of a block is known when its successors are
// visited. Blocks not reachable from the entry start at zero.
func (t *transformer) replaceFrameIndices() {
	fn := t.fn
	seen := make(map[*mach.Block]int64, len(fn.Blocks))

	walk := func(root *mach.Block) {
		q := lane.NewQueue()
		seen[root] = 0
		for q.Enqueue(blockEntry{blk: root}); !q.Empty(); {
			e := q.Dequeue().(blockEntry)
			exit := t.replaceInBlock(e.blk, e.spAdj)

			for _, s := range e.blk.Succs {
				if adj, ok := seen[s]; ok {
					if adj != exit {
						fatalf(ErrInconsistentSPAdjust, "%s entered with %d and %d", s.Label, adj, exit)
					}
					continue
				}
				seen[s] = exit
				q.Enqueue(blockEntry{blk: s, spAdj: exit})
			}
		}
	}

	for _, b := range fn.Blocks {
		if _, ok := seen[b]; !ok {
			walk(b)
		}
	}
}

// replaceInBlock lowers every marker and frame index of blk and returns the
// sp adjustment at its end
func (t *transformer) replaceInBlock(blk *mach.Block, spAdj int64) int64 {
	fn := t.fn
	reserved := t.fl.HasReservedCallFrame(fn)
	for i := 0; i < blk.Len(); {
		in := blk.Instrs[i]
		switch {
		case thumb.IsCallFramePseudo(in.Op):
			if !reserved {
				amount := callFrameAmount(in)
				if in.Op == thumb.ADJCALLSTACKDOWN {
					spAdj += amount
				} else {
					spAdj -= amount
				}
			}
			i = t.fl.LowerCallFrameAdjustment(fn, blk, i)
		case in.FrameIndexOperand() >= 0:
			i = t.fl.EliminateFrameIndex(fn, blk, i, spAdj)
		default:
			i++
		}
	}
	return spAdj
}

// checkEncodings verifies every instruction of the function
func (t *transformer) checkEncodings() {
	for _, b := range t.fn.Blocks {
		for i, in := range b.Instrs {
			if err := thumb.Check(in); err != nil {
				panic(fmt.Errorf("%s+%d: %w", b.Label, i, err))
			}
		}
	}
}
