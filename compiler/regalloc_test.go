package compiler

import (
	"testing"

	"github.com/chazu/pidgin/vm"
)

// lowered runs the root clause of src through the pipeline up to register
// allocation.
func lowered(t *testing.T, src string, opts Options) (*Func, *lifetimes, *allocation) {
	t.Helper()
	forms, err := Parse(src)
	if err != nil {
		t.Fatalf("Parse(%q) error: %v", src, err)
	}
	c := New(opts, nil)
	c.defined = map[string][]vm.ArgSpec{}
	fn := newFunc("", vm.Exact(0), Position{})
	b := newBuilder(c, fn, nil, true)
	r, err := b.body(forms)
	if err != nil {
		t.Fatalf("build(%q) error: %v", src, err)
	}
	b.emit(mkInst(vm.OpReturn, noReg, r))
	fn.Insts = b.out

	if fn.Insts, err = fuseBranches(fn.Insts); err != nil {
		t.Fatalf("fuseBranches error: %v", err)
	}
	if opts.InlineBuiltins {
		inlineBuiltins(fn)
	}
	if opts.MaterializeConstants {
		materializeConstants(fn)
	}
	eliminateDeadCode(fn)
	if opts.SinkReturns {
		sinkReturns(fn)
	}
	eraseDeadConstants(fn)
	lt := analyze(fn.Insts)
	if legalizeReplacements(fn, lt) {
		lt = analyze(fn.Insts)
	}
	al, err := allocate(fn, lt, c.opts.MaxRegisters)
	if err != nil {
		t.Fatalf("allocate(%q) error: %v", src, err)
	}
	return fn, lt, al
}

var allocSources = []string{
	"(+ (* 2 3) (- 10 (inc 1)))",
	"(let (a 1 b 2 c 3) (+ (* a b) (* b c) (* a c)))",
	"(let (xs (list 1 2) ys (push xs 3)) (+ (count xs) (count ys)))",
	"(let (x 5) (if (< x 3) (list x x) (let (y (* x 2)) (list y x))))",
	"(let (m {'a 1}) (assoc (assoc m 'b 2) 'c (get m 'a)))",
	"(let (f (fn (x) x) g (fn (y) (f y))) (g (f 1)))",
	"(let (xs [1 2 3]) (if (empty? xs) xs (push (rest xs) (first xs))))",
}

// Registers live at the same point never share a physical register.
func TestAllocationNoOverlap(t *testing.T) {
	for _, src := range allocSources {
		for _, opts := range optionCombos() {
			opts.MaxRegisters = DefaultMaxRegisters
			fn, lt, al := lowered(t, src, opts)
			for i, in := range fn.Insts {
				live := lt.liveOut[i].clone()
				if in.Dst != noReg {
					live.add(in.Dst)
				}
				owner := map[int]Reg{}
				for r := range live {
					p := al.phys[r]
					if other, ok := owner[p]; ok {
						t.Errorf("%s: v%d and v%d share r%d after %s", src, other, r, p, in)
					}
					owner[p] = r
				}
			}
		}
	}
}

// A replacing instruction writes the register its collection came from.
func TestAllocationReplaceSharesRegister(t *testing.T) {
	for _, src := range allocSources {
		fn, _, al := lowered(t, src, DefaultOptions())
		for _, in := range fn.Insts {
			if in.Replace == noReg {
				continue
			}
			if al.phys[in.Dst] != al.phys[in.Replace] {
				t.Errorf("%s: %s writes r%d, replaces r%d", src, in, al.phys[in.Dst], al.phys[in.Replace])
			}
		}
	}
}

func TestLegalizeCopiesReusedCollection(t *testing.T) {
	fn, _, _ := lowered(t, "(let (xs (list 1 2) ys (push xs 3)) (+ (count xs) (count ys)))", DefaultOptions())

	for i, in := range fn.Insts {
		if in.Op != vm.OpPush {
			continue
		}
		if i == 0 || fn.Insts[i-1].Op != vm.OpCopy || fn.Insts[i-1].Dst != in.Replace {
			t.Errorf("push of a reused list does not work on a copy:\n%s", fn)
		}
		return
	}
	t.Errorf("no PUSH in:\n%s", fn)
}

func TestLegalizeKeepsSoleUse(t *testing.T) {
	fn, _, _ := lowered(t, "(let (xs (list 1 2)) (push xs 3))", DefaultOptions())

	for _, in := range fn.Insts {
		if in.Op == vm.OpCopy {
			t.Errorf("unexpected copy of a list used once:\n%s", fn)
		}
	}
}

func TestFrameSizeCoversRegisters(t *testing.T) {
	for _, src := range allocSources {
		_, _, al := lowered(t, src, DefaultOptions())
		for r, p := range al.phys {
			if p >= al.frameSize {
				t.Errorf("%s: v%d in r%d outside frame of %d", src, r, p, al.frameSize)
			}
		}
	}
}

func TestParamsPinned(t *testing.T) {
	fn := newFunc("f", vm.Exact(2), Position{})
	sum := fn.newReg()
	fn.Insts = []*Inst{
		mkInst(vm.OpAdd, sum, 1, 0),
		mkInst(vm.OpReturn, noReg, sum),
	}
	lt := analyze(fn.Insts)
	al, err := allocate(fn, lt, DefaultMaxRegisters)
	if err != nil {
		t.Fatalf("allocate error: %v", err)
	}
	if al.phys[0] != 0 || al.phys[1] != 1 {
		t.Errorf("params in r%d r%d, want r0 r1", al.phys[0], al.phys[1])
	}
	if al.frameSize < 2 {
		t.Errorf("frameSize = %d, want at least 2", al.frameSize)
	}
}
