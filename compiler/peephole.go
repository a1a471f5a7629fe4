package compiler

import "github.com/chazu/pidgin/vm"

// ---------------------------------------------------------------------------
// Peephole rewrites over allocated code
// ---------------------------------------------------------------------------

// rule inspects code at ip. On a match it returns the replacement and the
// number of instructions replaced.
type rule func(code []vm.Instruction, ip int) ([]vm.Instruction, int, bool)

// peephole applies each rule in turn. Every pass remaps jump targets
// through the indices it moved.
func peephole(code []vm.Instruction) []vm.Instruction {
	for _, r := range []rule{dropClearsBeforeReturn, selfCalls, tailCalls, fuseClears, dropSelfCopies} {
		code = rewrite(code, r)
	}
	return code
}

func rewrite(code []vm.Instruction, r rule) []vm.Instruction {
	out := make([]vm.Instruction, 0, len(code))
	index := make([]int, len(code)+1)
	for ip := 0; ip < len(code); {
		if repl, n, ok := r(code, ip); ok {
			for k := 0; k < n; k++ {
				index[ip+k] = len(out)
			}
			out = append(out, repl...)
			ip += n
			continue
		}
		index[ip] = len(out)
		out = append(out, code[ip])
		if info := code[ip].Op.Info(); info.Args {
			// argument lists move as a unit
			for k := 1; k <= int(code[ip].C); k++ {
				index[ip+k] = len(out)
				out = append(out, code[ip+k])
			}
			ip += int(code[ip].C)
		}
		ip++
	}
	index[len(code)] = len(out)
	for i := range out {
		if out[i].Op == vm.OpJump {
			out[i].Imm = int32(index[out[i].Imm])
		}
	}
	return out
}

func isClear(op vm.Opcode) bool {
	return op == vm.OpClear || op == vm.OpClear2 || op == vm.OpClear3
}

// dropClearsBeforeReturn removes clears that run straight into a Return,
// which releases the whole frame anyway.
func dropClearsBeforeReturn(code []vm.Instruction, ip int) ([]vm.Instruction, int, bool) {
	if !isClear(code[ip].Op) {
		return nil, 0, false
	}
	j := ip
	for j < len(code) && isClear(code[j].Op) {
		j++
	}
	if j < len(code) && code[j].Op == vm.OpReturn {
		return nil, j - ip, true
	}
	return nil, 0, false
}

// selfCalls turns a call of the function just loaded by CallingFunction
// into CallSelf.
func selfCalls(code []vm.Instruction, ip int) ([]vm.Instruction, int, bool) {
	if code[ip].Op != vm.OpCallingFunction || ip+1 >= len(code) {
		return nil, 0, false
	}
	call := code[ip+1]
	if call.Op != vm.OpCall || call.B != code[ip].A || !call.Steals(vm.StealB) {
		return nil, 0, false
	}
	return []vm.Instruction{{Op: vm.OpCallSelf, A: call.A, C: call.C}}, 2, true
}

// tailCalls fuses a call whose result is returned at once into
// CallAndReturn or CallSelfAndReturn.
func tailCalls(code []vm.Instruction, ip int) ([]vm.Instruction, int, bool) {
	call := code[ip]
	if call.Op != vm.OpCall && call.Op != vm.OpCallSelf {
		return nil, 0, false
	}
	ret := ip + 1 + int(call.C)
	if ret >= len(code) || code[ret].Op != vm.OpReturn || code[ret].A != call.A {
		return nil, 0, false
	}
	fused := vm.Instruction{Op: vm.OpCallAndReturn, B: call.B, C: call.C, Steal: call.Steal & vm.StealB}
	if call.Op == vm.OpCallSelf {
		fused = vm.Instruction{Op: vm.OpCallSelfAndReturn, C: call.C}
	}
	repl := append([]vm.Instruction{fused}, code[ip+1:ret]...)
	return repl, ret - ip + 1, true
}

// fuseClears packs runs of single clears into Clear3 and Clear2.
func fuseClears(code []vm.Instruction, ip int) ([]vm.Instruction, int, bool) {
	n := 0
	for ip+n < len(code) && n < 3 && code[ip+n].Op == vm.OpClear {
		n++
	}
	switch n {
	case 3:
		return []vm.Instruction{{Op: vm.OpClear3, A: code[ip].A, B: code[ip+1].A, C: code[ip+2].A}}, 3, true
	case 2:
		return []vm.Instruction{{Op: vm.OpClear2, A: code[ip].A, B: code[ip+1].A}}, 2, true
	}
	return nil, 0, false
}

// dropSelfCopies removes copies of a register onto itself.
func dropSelfCopies(code []vm.Instruction, ip int) ([]vm.Instruction, int, bool) {
	if code[ip].Op == vm.OpCopy && code[ip].A == code[ip].B {
		return nil, 1, true
	}
	return nil, 0, false
}
