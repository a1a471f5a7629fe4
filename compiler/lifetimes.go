package compiler

import (
	"sort"

	"github.com/chazu/pidgin/vm"
)

// ---------------------------------------------------------------------------
// Register sets
// ---------------------------------------------------------------------------

type regSet map[Reg]struct{}

func (s regSet) has(r Reg) bool {
	_, ok := s[r]
	return ok
}

func (s regSet) add(r Reg) { s[r] = struct{}{} }

func (s regSet) clone() regSet {
	out := make(regSet, len(s))
	for r := range s {
		out[r] = struct{}{}
	}
	return out
}

func (s regSet) union(o regSet) regSet {
	out := s.clone()
	for r := range o {
		out[r] = struct{}{}
	}
	return out
}

// minus returns the members of s missing from o, in register order.
func (s regSet) minus(o regSet) []Reg {
	var out []Reg
	for r := range s {
		if !o.has(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ---------------------------------------------------------------------------
// Liveness over structured regions
// ---------------------------------------------------------------------------

// lifetimes holds per-instruction liveness of a fused clause. Control flow
// is structured: an If region's arms are separate paths that meet at the
// EndIf, so a use in one arm is never reachable from the other.
type lifetimes struct {
	insts   []*Inst
	rg      regions
	liveOut []regSet // live after each instruction
	liveIn  regSet   // live at clause entry
	arms    map[int]armLiveness
}

// armLiveness describes the registers entering an If region.
type armLiveness struct {
	entry  regSet // live before the If, including the condition
	thenIn regSet
	elseIn regSet
}

func analyze(insts []*Inst) *lifetimes {
	lt := &lifetimes{
		insts:   insts,
		rg:      findRegions(insts),
		liveOut: make([]regSet, len(insts)),
		arms:    map[int]armLiveness{},
	}
	lt.liveIn = lt.block(0, len(insts), regSet{})
	return lt
}

// block walks insts[lo:hi] backwards from the set live at hi and returns
// the set live at lo. A block ending in a terminating instruction has
// nothing live after it.
func (lt *lifetimes) block(lo, hi int, out regSet) regSet {
	live := out.clone()
	if hi > lo && lt.terminates(hi-1) {
		live = regSet{}
	}
	for i := hi - 1; i >= lo; i-- {
		in := lt.insts[i]
		lt.liveOut[i] = live.clone()
		if in.Op != vm.OpEndIf {
			if in.Dst != noReg {
				delete(live, in.Dst)
			}
			for _, r := range in.uses() {
				live.add(r)
			}
			continue
		}

		ifAt := lt.rg.ifOf[i]
		elseAt := lt.rg.elseOf[ifAt]
		elseIn := lt.block(elseAt+1, i, live)
		thenIn := lt.block(ifAt+1, elseAt, live)
		lt.liveOut[elseAt] = live.clone()

		inside := thenIn.union(elseIn)
		lt.liveOut[ifAt] = inside
		entry := inside.clone()
		for _, r := range lt.insts[ifAt].uses() {
			entry.add(r)
		}
		lt.arms[ifAt] = armLiveness{entry: entry, thenIn: thenIn, elseIn: elseIn}
		live = entry.clone()
		i = ifAt
	}
	return live
}

// terminates reports whether control never falls through instruction i:
// a Return, or a region whose arms both terminate.
func (lt *lifetimes) terminates(i int) bool {
	switch lt.insts[i].Op {
	case vm.OpReturn:
		return true
	case vm.OpEndIf:
		ifAt := lt.rg.ifOf[i]
		elseAt := lt.rg.elseOf[ifAt]
		if elseAt-1 <= ifAt || i-1 <= elseAt {
			return false
		}
		return lt.terminates(elseAt-1) && lt.terminates(i-1)
	}
	return false
}

// finalUse reports whether operand position p of instruction i is the last
// read of its register on every path: nothing reads it afterwards and no
// later operand of the same instruction names it.
func (lt *lifetimes) finalUse(i, p int) bool {
	uses := lt.insts[i].uses()
	r := uses[p]
	if lt.liveOut[i].has(r) {
		return false
	}
	for _, later := range uses[p+1:] {
		if later == r {
			return false
		}
	}
	return true
}

// deadDef reports whether instruction i defines a value nothing reads.
func (lt *lifetimes) deadDef(i int) bool {
	d := lt.insts[i].Dst
	return d != noReg && !lt.liveOut[i].has(d)
}
