package compiler

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/chazu/pidgin/vm"
)

func evalWith(t *testing.T, src string, opts Options) (string, error) {
	t.Helper()
	env := vm.NewEnvironment()
	defer env.Close()
	prog, err := New(opts, env).CompileString(src)
	if err != nil {
		return "", err
	}
	m := vm.New(prog, vm.WithEnvironment(env))
	defer m.Close()
	v, err := m.Evaluate()
	if err != nil {
		return "", err
	}
	defer v.Release()
	return v.String(), nil
}

func eval(t *testing.T, src string) string {
	t.Helper()
	got, err := evalWith(t, src, DefaultOptions())
	if err != nil {
		t.Fatalf("eval(%q) error: %v", src, err)
	}
	return got
}

var evalTests = []struct {
	name string
	src  string
	want string
}{
	{"add", "(+ 1 2)", "3"},
	{"add many", "(+ 1 2 3 4)", "10"},
	{"add none", "(+)", "0"},
	{"subtract chain", "(- 10 4 3)", "3"},
	{"negate", "(- 5)", "-5"},
	{"multiply", "(* 2 3 4)", "24"},
	{"divide", "(/ 12 4)", "3.0"},
	{"modulo", "(mod 7 3)", "1"},
	{"nested arithmetic", "(+ (* 2 3) (- 10 (inc 1)))", "14"},
	{"compare", "(< 1 2)", "true"},
	{"equality of collections", "(= (list 1 2) [1 2])", "true"},
	{"if true", "(if (< 1 2) 10 20)", "10"},
	{"if false", "(if (> 1 2) 10 20)", "20"},
	{"if without alternative", "(if false 1)", "nil"},
	{"nil is falsy", "(if nil 1 2)", "2"},
	{"zero is truthy", "(if 0 1 2)", "1"},
	{"nested if", "(if true (if false 1 2) 3)", "2"},
	{"let", "(let (x 2 y (* x 3)) (+ x y))", "8"},
	{"let vector bindings", "(let [a 1 b 2] (- a b))", "-1"},
	{"let empty body", "(let (x 1))", "nil"},
	{"do", "(do 1 2 3)", "3"},
	{"empty do", "(do)", "nil"},
	{"lambda", "((fn (x) (* x x)) 7)", "49"},
	{"closure", "(let (n 10) ((fn (x) (+ x n)) 5))", "15"},
	{"nested closure", "(let (a 1) (let (f (fn (b) (fn (c) (+ a b c)))) ((f 2) 3)))", "6"},
	{"let bound function", "(let (f (fn (x) (inc x))) (f 1))", "2"},
	{"higher order", "(let (twice (fn (f x) (f (f x)))) (twice inc 5))", "7"},
	{"recursion", "(define fact (fn (n) (if (<= n 1) 1 (* n (fact (dec n)))))) (fact 10)", "3628800"},
	{"named fn", "((fn sum (n) (if (zero? n) 0 (+ n (sum (dec n))))) 4)", "10"},
	{"variadic", "((fn (a & more) (count more)) 1 2 3)", "2"},
	{"variadic rest list", "((fn (a & more) more) 1 2 3)", "[2, 3]"},
	{"multi clause", "(define f (fn ((x) x) ((x y) (+ x y)))) (+ (f 1) (f 2 3))", "6"},
	{"quote list", "'(1 a)", "[1, a]"},
	{"quote symbol", "(quote sym)", "sym"},
	{"empty list", "()", "[]"},
	{"vector", "[1 (+ 1 1) 3]", "[1, 2, 3]"},
	{"map literal", "(get {'a 1 'b 2} 'b)", "2"},
	{"set literal", "(count #{1 2 2 3})", "3"},
	{"push", "(push (list 1 2) 3)", "[1, 2, 3]"},
	{"conj", "(count (conj #{1} 2))", "2"},
	{"assoc", "(assoc {} 'k 1)", "{k 1}"},
	{"rest", "(rest (list 1 2 3))", "[2, 3]"},
	{"first", "(first [4 5])", "4"},
	{"nth", "(nth [4 5 6] 2)", "6"},
	{"apply", "(apply + (list 1 2 3))", "6"},
	{"apply long list", "(apply max (list 3 9 2 7 1))", "9"},
	{"apply closure", "(let (k 100) (apply (fn (a b) (+ a b k)) [1 2]))", "103"},
	{"builtin as value", "(let (f +) (f 2 3))", "5"},
	{"define and lookup", "(define x 5) (define y (* x 2)) y", "10"},
	{"define yields nil", "(define x 5)", "nil"},
	{"str", `(str "a" 1 \b)`, `"a1b"`},
	{"reverse", "(reverse [1 2 3])", "[3, 2, 1]"},
	{"string literal", `"hi"`, `"hi"`},
	{"float", "(+ 1.5 1)", "2.5"},
	{"large int", "(+ 4294967296 1)", "4294967297"},
	{"argument reuse", "(let (xs (list 1 2)) (count (push xs (count xs))))", "3"},
	{"collection reused after push", "(let (xs (list 1 2) ys (push xs 3)) (+ (count xs) (count ys)))", "5"},
	{"value kept across branch", "(let (xs [1 2]) (if (empty? xs) 0 (+ (count xs) (first xs))))", "3"},
}

func TestEvaluate(t *testing.T) {
	for _, tt := range evalTests {
		t.Run(tt.name, func(t *testing.T) {
			if got := eval(t, tt.src); got != tt.want {
				t.Errorf("eval(%q) = %s, want %s", tt.src, got, tt.want)
			}
		})
	}
}

func TestEvaluateTailRecursion(t *testing.T) {
	src := `
(define loop (fn (n acc)
  (if (zero? n)
      acc
      (loop (dec n) (+ acc n)))))
(loop 50000 0)`
	if got := eval(t, src); got != "1250025000" {
		t.Errorf("loop = %s, want 1250025000", got)
	}
}

// optionCombos enumerates every setting of the five optimizer switches.
func optionCombos() []Options {
	var out []Options
	for bits := 0; bits < 32; bits++ {
		out = append(out, Options{
			InlineBuiltins:       bits&1 != 0,
			MaterializeConstants: bits&2 != 0,
			SinkReturns:          bits&4 != 0,
			Peephole:             bits&8 != 0,
			ElideScalarClears:    bits&16 != 0,
		})
	}
	return out
}

func TestOptimizationsPreserveResults(t *testing.T) {
	for _, tt := range evalTests {
		for _, opts := range optionCombos() {
			got, err := evalWith(t, tt.src, opts)
			if err != nil {
				t.Errorf("%s with %+v: error %v", tt.name, opts, err)
				continue
			}
			if got != tt.want {
				t.Errorf("%s with %+v = %s, want %s", tt.name, opts, got, tt.want)
			}
		}
	}
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		src  string
		want error
	}{
		{"(undefined-thing 1)", ErrUnboundSymbol},
		{"(fn () y)", ErrUnboundSymbol},
		{"(define g 1) (fn () g)", ErrUnboundSymbol},
		{"(inc 1 2)", ErrArityMismatch},
		{"(define f (fn (x) x)) (f 1 2)", ErrArityMismatch},
		{"(let (f (fn (a b) a)) (f 1))", ErrArityMismatch},
		{"(let (x 1) (let (x 2) x))", ErrShadowing},
		{"(fn (x x) x)", ErrShadowing},
		{"(fn (+) 1)", ErrShadowing},
		{"(let (if 1) 2)", ErrShadowing},
		{"(define first 1)", ErrShadowing},
		{"(let (x) x)", ErrSyntax},
		{"(if)", ErrSyntax},
		{"(if 1 2 3 4)", ErrSyntax},
		{"(quote 1 2)", ErrSyntax},
		{"((fn () (define x 1)))", ErrSyntax},
		{"(fn (x & y z) x)", ErrSyntax},
		{"(fn (1) 1)", ErrSyntax},
		{"(let x 1)", ErrSyntax},
		{"(+ 1", ErrSyntax},
	}
	for _, tt := range tests {
		_, err := New(DefaultOptions(), nil).CompileString(tt.src)
		if !errors.Is(err, tt.want) {
			t.Errorf("compile(%q) error = %v, want %v", tt.src, err, tt.want)
		}
	}
}

func TestCompileErrorPosition(t *testing.T) {
	_, err := New(DefaultOptions(), nil).CompileString("(do\n  (nope 1))")
	var cerr *Error
	if !errors.As(err, &cerr) {
		t.Fatalf("error = %v, want *Error", err)
	}
	if cerr.Name != "nope" {
		t.Errorf("Name = %q, want %q", cerr.Name, "nope")
	}
	if cerr.Pos.Line != 2 || cerr.Pos.Column != 4 {
		t.Errorf("Pos = %d:%d, want 2:4", cerr.Pos.Line, cerr.Pos.Column)
	}
}

func callWith(n int) string {
	var sb strings.Builder
	sb.WriteString("(define f (fn (& xs) (count xs))) (f")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&sb, " %d", i)
	}
	sb.WriteString(")")
	return sb.String()
}

func TestRegisterOverflow(t *testing.T) {
	if got := eval(t, callWith(200)); got != "200" {
		t.Errorf("call with 200 arguments = %s, want 200", got)
	}

	_, err := New(DefaultOptions(), nil).CompileString(callWith(300))
	if !errors.Is(err, ErrOverflow) {
		t.Errorf("call with 300 arguments: error = %v, want overflow", err)
	}

	opts := DefaultOptions()
	opts.MaxRegisters = 3
	_, err = New(opts, nil).CompileString("(+ (+ 1 2) (+ (+ 3 4) (+ 5 6)))")
	if !errors.Is(err, ErrOverflow) {
		t.Errorf("MaxRegisters 3: error = %v, want overflow", err)
	}
}

func TestMaxRegistersClamped(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, 256},
		{-1, 256},
		{1000, 256},
		{16, 16},
	}
	for _, tt := range tests {
		opts := DefaultOptions()
		opts.MaxRegisters = tt.in
		if got := New(opts, nil).Options().MaxRegisters; got != tt.want {
			t.Errorf("MaxRegisters(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

// findCode returns the code of the named function among the constants.
func findCode(constants []vm.Value, name string) *vm.Code {
	for _, k := range constants {
		f := k.Function()
		if f == nil || f.Code() == nil {
			continue
		}
		if f.Code().Name == name {
			return f.Code()
		}
		for _, cl := range f.Code().Clauses {
			if c := findCode(cl.Constants, name); c != nil {
				return c
			}
		}
	}
	return nil
}

func hasOp(code []vm.Instruction, op vm.Opcode) bool {
	for _, in := range code {
		if in.Op == op {
			return true
		}
	}
	return false
}

func TestTailSelfCall(t *testing.T) {
	src := "(define loop (fn (n) (if (zero? n) 0 (loop (dec n)))))"

	prog, err := CompileString(src, nil)
	if err != nil {
		t.Fatalf("compile error: %v", err)
	}
	code := findCode(prog.Root.Constants, "loop")
	if code == nil {
		t.Fatal("loop not found among program constants")
	}
	if !hasOp(code.Clauses[0].Instructions, vm.OpCallSelfAndReturn) {
		t.Errorf("loop has no CALL_SELF_RETURN:\n%s", code.Disassemble())
	}

	opts := DefaultOptions()
	opts.Peephole = false
	prog, err = New(opts, nil).CompileString(src)
	if err != nil {
		t.Fatalf("compile error: %v", err)
	}
	code = findCode(prog.Root.Constants, "loop")
	if hasOp(code.Clauses[0].Instructions, vm.OpCallSelfAndReturn) {
		t.Errorf("CALL_SELF_RETURN without the peephole pass:\n%s", code.Disassemble())
	}
}

func TestInlinedBuiltins(t *testing.T) {
	prog, err := CompileString("(let (a 1 b 2) (+ a b))", nil)
	if err != nil {
		t.Fatalf("compile error: %v", err)
	}
	if hasOp(prog.Root.Instructions, vm.OpCall) {
		t.Errorf("built-in call not inlined:\n%s", prog.Disassemble())
	}
	if !hasOp(prog.Root.Instructions, vm.OpAdd) {
		t.Errorf("no ADD:\n%s", prog.Disassemble())
	}
}

func TestCollectionsUpdatedInPlace(t *testing.T) {
	tests := []string{
		"(push (list 1 2) 3)",
		"(let (xs (list 1 2)) (push xs 3))",
		"(assoc {'a 1} 'b 2)",
	}
	for _, src := range tests {
		prog, err := CompileString(src, nil)
		if err != nil {
			t.Fatalf("compile(%q) error: %v", src, err)
		}
		m := vm.New(prog)
		v, err := m.Evaluate()
		if err != nil {
			t.Fatalf("eval(%q) error: %v", src, err)
		}
		v.Release()
		if n := m.Stats().CopyOnWrite; n != 0 {
			t.Errorf("eval(%q) CopyOnWrite = %d, want 0", src, n)
		}
	}
}

func TestSharedProgramCopies(t *testing.T) {
	prog, err := CompileString("(push (list 1 2) 3)", nil)
	if err != nil {
		t.Fatalf("compile error: %v", err)
	}
	first := vm.New(prog)
	second := vm.New(prog)

	v, err := first.Evaluate()
	if err != nil {
		t.Fatalf("first eval error: %v", err)
	}
	if v.String() != "[1, 2, 3]" {
		t.Errorf("first = %s, want [1, 2, 3]", v)
	}
	v.Release()
	if n := first.Stats().CopyOnWrite; n != 1 {
		t.Errorf("shared program CopyOnWrite = %d, want 1", n)
	}

	v, err = second.Evaluate()
	if err != nil {
		t.Fatalf("second eval error: %v", err)
	}
	if v.String() != "[1, 2, 3]" {
		t.Errorf("second = %s, want [1, 2, 3]", v)
	}
	v.Release()
}

// A function whose only holder is its own frame must not give up its
// constants when it can reach them again through itself.
func TestSelfReferenceKeepsConstants(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{"((fn f (n) (if (zero? n) '(1 2) (push (f (dec n)) n))) 1)", "[1, 2, 1]"},
		{"((fn f (n) (if (zero? n) [] (push (f (dec n)) (list n 'a)))) 3)", "[[1, a], [2, a], [3, a]]"},
		{"(((fn f (n) (let (x '(1 2)) (if (zero? n) f x))) 0) 1)", "[1, 2]"},
		{"(let (g ((fn f (n) (if (zero? n) f [n '(9)])) 0)) [(g 1) (g 2)])", "[[1, [9]], [2, [9]]]"},
	}
	for _, tt := range tests {
		for _, opts := range optionCombos() {
			got, err := evalWith(t, tt.src, opts)
			if err != nil {
				t.Errorf("eval(%q) with %+v error: %v", tt.src, opts, err)
				continue
			}
			if got != tt.want {
				t.Errorf("eval(%q) with %+v = %s, want %s", tt.src, opts, got, tt.want)
			}
		}
	}
}

func TestSelfReferencingCodeHasNoConstSteals(t *testing.T) {
	prog, err := CompileString("(fn f (n) (if (zero? n) '(1 2) (push (f (dec n)) n)))", nil)
	if err != nil {
		t.Fatalf("compile error: %v", err)
	}
	code := findCode(prog.Root.Constants, "f")
	if code == nil {
		t.Fatal("f not found among program constants")
	}
	for _, cl := range code.Clauses {
		for _, in := range cl.Instructions {
			if in.Op == vm.OpConst && in.Steals(vm.StealB) {
				t.Errorf("self-referencing clause steals a constant:\n%s", code.Disassemble())
			}
		}
	}
}

func TestGlobalsEmbeddedInBodies(t *testing.T) {
	env := vm.NewEnvironment()
	defer env.Close()
	env.Define(vm.Intern("base"), vm.Int(40))

	prog, err := New(DefaultOptions(), env).CompileString("((fn (x) (+ base x)) 2)")
	if err != nil {
		t.Fatalf("compile error: %v", err)
	}
	// later changes are not seen by the compiled body
	env.Define(vm.Intern("base"), vm.Int(0))

	m := vm.New(prog, vm.WithEnvironment(env))
	v, err := m.Evaluate()
	if err != nil {
		t.Fatalf("eval error: %v", err)
	}
	if got := v.String(); got != "42" {
		t.Errorf("result = %s, want 42", got)
	}
}

func TestRuntimeFaults(t *testing.T) {
	tests := []struct {
		src  string
		want error
	}{
		{"(+ 1 \"a\")", vm.ErrTypeError},
		{"(/ 1 0)", vm.ErrDivision},
		{"(nth [1] 5)", vm.ErrIndexOutOfRange},
		{"(let (f (fn (x) x)) (apply f [1 2]))", vm.ErrArityMismatch},
		{"((fn ((x) x) ((x y) y)))", vm.ErrArityMismatch},
	}
	for _, tt := range tests {
		_, err := evalWith(t, tt.src, DefaultOptions())
		if !errors.Is(err, tt.want) {
			t.Errorf("eval(%q) error = %v, want %v", tt.src, err, tt.want)
		}
	}
}
