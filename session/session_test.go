package session

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/chazu/pidgin/cache"
	"github.com/chazu/pidgin/compiler"
	"github.com/chazu/pidgin/vm"
)

func evalString(t *testing.T, s *Session, src string) string {
	t.Helper()
	v, err := s.EvalString(src)
	if err != nil {
		t.Fatalf("EvalString(%q) error: %v", src, err)
	}
	defer v.Release()
	return v.String()
}

func openCache(t *testing.T) *cache.Cache {
	t.Helper()
	c, err := cache.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("cache.Open error: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestDefinesPersist(t *testing.T) {
	s := New(compiler.DefaultOptions())
	defer s.Close()

	evalString(t, s, "(define sq (fn (x) (* x x)))")
	if got := evalString(t, s, "(sq 7)"); got != "49" {
		t.Errorf("(sq 7) = %s, want 49", got)
	}
	evalString(t, s, "(define quad (fn (x) (sq (sq x))))")
	if got := evalString(t, s, "(quad 2)"); got != "16" {
		t.Errorf("(quad 2) = %s, want 16", got)
	}
	if got := s.Environment().Names(); len(got) != 2 || got[0] != "quad" || got[1] != "sq" {
		t.Errorf("Names() = %v, want [quad sq]", got)
	}
	if got := s.Stats().Forms; got != 4 {
		t.Errorf("Stats().Forms = %d, want 4", got)
	}
}

func TestEvalStringReturnsLast(t *testing.T) {
	s := New(compiler.DefaultOptions())
	defer s.Close()

	tests := []struct {
		src  string
		want string
	}{
		{"", "nil"},
		{"1 2 3", "3"},
		{"(define xs [1 2]) (push xs 3)", "[1, 2, 3]"},
		{"xs", "[1, 2]"},
	}
	for _, tt := range tests {
		if got := evalString(t, s, tt.src); got != tt.want {
			t.Errorf("EvalString(%q) = %s, want %s", tt.src, got, tt.want)
		}
	}
}

func TestErrors(t *testing.T) {
	s := New(compiler.DefaultOptions())
	defer s.Close()

	if _, err := s.EvalString("(nope 1)"); err == nil {
		t.Errorf("unbound symbol: no error")
	}
	var fault *vm.Fault
	if _, err := s.EvalString("(/ 1 0)"); !errors.As(err, &fault) {
		t.Errorf("division by zero error = %v, want *vm.Fault", err)
	}
	if _, err := s.EvalString("(("); err == nil {
		t.Errorf("unclosed list: no error")
	}
	// the session is still usable
	if got := evalString(t, s, "(+ 1 1)"); got != "2" {
		t.Errorf("(+ 1 1) = %s, want 2", got)
	}
}

func TestFaultedCallsReleaseFunction(t *testing.T) {
	s := New(compiler.DefaultOptions())
	defer s.Close()

	evalString(t, s, "(define f (fn (x) (+ x 'a)))")
	for i := 0; i < 3; i++ {
		if _, err := s.EvalString("(f 1)"); !errors.Is(err, vm.ErrTypeError) {
			t.Fatalf("(f 1) error = %v, want type error", err)
		}
		f, _ := s.Environment().Peek(vm.Intern("f"))
		if got := f.RefCount(); got != 1 {
			t.Errorf("after fault %d: RefCount(f) = %d, want 1", i+1, got)
		}
	}
}

func TestMaxFrames(t *testing.T) {
	s := New(compiler.DefaultOptions(), WithMaxFrames(50))
	defer s.Close()

	evalString(t, s, "(define deep (fn (n) (if (= n 0) 0 (+ 1 (deep (- n 1))))))")
	if got := evalString(t, s, "(deep 10)"); got != "10" {
		t.Errorf("(deep 10) = %s, want 10", got)
	}
	if _, err := s.EvalString("(deep 100)"); !errors.Is(err, vm.ErrStackOverflow) {
		t.Errorf("(deep 100) error = %v, want stack overflow", err)
	}
}

func TestDefineHost(t *testing.T) {
	s := New(compiler.DefaultOptions())
	defer s.Close()

	s.DefineHost("twice", vm.Exact(1), func(_ *vm.VM, args []vm.Value) (vm.Value, error) {
		n, _ := args[0].AsInt()
		return vm.Int(2 * n), nil
	})
	if got := evalString(t, s, "(twice 21)"); got != "42" {
		t.Errorf("(twice 21) = %s, want 42", got)
	}
}

var program = []string{
	"(define sq (fn (x) (* x x)))",
	"(define total (fn (xs acc) (if (empty? xs) acc (total (rest xs) (+ acc (sq (first xs)))))))",
	"(total [1 2 3] 0)",
}

func run(t *testing.T, c *cache.Cache, forms ...string) (string, Stats) {
	t.Helper()
	s := New(compiler.DefaultOptions(), WithCache(c))
	defer s.Close()
	var last string
	for _, f := range forms {
		last = evalString(t, s, f)
	}
	return last, s.Stats()
}

func TestCacheReuse(t *testing.T) {
	c := openCache(t)

	got, st := run(t, c, program...)
	if got != "14" {
		t.Fatalf("first run = %s, want 14", got)
	}
	if st.CacheHits != 0 || st.CacheMisses != 3 {
		t.Errorf("first run stats = %+v, want 3 misses", st)
	}

	got, st = run(t, c, program...)
	if got != "14" {
		t.Errorf("second run = %s, want 14", got)
	}
	if st.CacheHits != 3 || st.CacheMisses != 0 {
		t.Errorf("second run stats = %+v, want 3 hits", st)
	}
}

func TestCacheRenamedLocals(t *testing.T) {
	c := openCache(t)
	run(t, c, program...)

	renamed := []string{
		"(define sq (fn (n) (* n n)))",
		"(define total (fn (ys sum) (if (empty? ys) sum (total (rest ys) (+ sum (sq (first ys)))))))",
		"(total [1 2 3] 0)",
	}
	got, st := run(t, c, renamed...)
	if got != "14" {
		t.Errorf("renamed run = %s, want 14", got)
	}
	if st.CacheHits != 3 {
		t.Errorf("renamed run stats = %+v, want 3 hits", st)
	}
}

// The same form compiled after a different history must not reuse the
// earlier program, since bodies embed the globals they saw.
func TestCacheKeyedByHistory(t *testing.T) {
	c := openCache(t)
	run(t, c, "(define k 1)", "(define f (fn () k))", "(f)")

	got, st := run(t, c, "(define k 2)", "(define f (fn () k))", "(f)")
	if got != "2" {
		t.Errorf("(f) = %s, want 2", got)
	}
	if st.CacheHits != 0 {
		t.Errorf("stats = %+v, want no hits", st)
	}
}

func TestTaintedHistoryBypassesCache(t *testing.T) {
	c := openCache(t)
	s := New(compiler.DefaultOptions(), WithCache(c))
	defer s.Close()

	evalString(t, s, "(+ 1 2)")
	s.advance([32]byte{})
	evalString(t, s, "(+ 1 2)")

	st := s.Stats()
	if st.CacheMisses != 1 || st.Uncached != 1 {
		t.Errorf("stats = %+v, want 1 miss and 1 uncached", st)
	}
}

func TestEvalFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "main.pdg")
	src := "; squares\n(define sq (fn (x) (* x x)))\n(sq 12)\n"
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}

	s := New(compiler.DefaultOptions())
	defer s.Close()
	v, err := s.EvalFile(path)
	if err != nil {
		t.Fatalf("EvalFile error: %v", err)
	}
	defer v.Release()
	if v.String() != "144" {
		t.Errorf("EvalFile = %s, want 144", v)
	}

	if _, err := s.EvalFile(filepath.Join(t.TempDir(), "missing.pdg")); err == nil {
		t.Errorf("EvalFile of a missing file: no error")
	}
}

func TestInspect(t *testing.T) {
	var seen []string
	s := New(compiler.DefaultOptions(), WithInspect(func(form compiler.Node, p *vm.Program) {
		if p.Disassemble() == "" {
			t.Errorf("empty disassembly for %s", form)
		}
		seen = append(seen, form.String())
	}))
	defer s.Close()

	evalString(t, s, "(define one 1) (+ one 1)")
	if len(seen) != 2 {
		t.Errorf("inspected %d forms, want 2", len(seen))
	}

	s.SetInspect(nil)
	evalString(t, s, "one")
	if len(seen) != 2 {
		t.Errorf("inspected %d forms after SetInspect(nil), want 2", len(seen))
	}
}
