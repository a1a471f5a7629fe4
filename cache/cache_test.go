package cache

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/chazu/pidgin/compiler"
	"github.com/chazu/pidgin/vm"
)

func openTemp(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "sub", "cache.db"))
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func compile(t *testing.T, src string, env *vm.Environment) *vm.Program {
	t.Helper()
	p, err := compiler.CompileString(src, env)
	if err != nil {
		t.Fatalf("CompileString(%q) error: %v", src, err)
	}
	return p
}

func evaluate(t *testing.T, p *vm.Program) string {
	t.Helper()
	m := vm.New(p)
	defer m.Close()
	v, err := m.Evaluate()
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	defer v.Release()
	return v.String()
}

func TestPutGet(t *testing.T) {
	c := openTemp(t)
	key := NewKey(compiler.DefaultOptions(), []byte("(+ 1 2)"))

	if _, ok, err := c.Get(key); err != nil || ok {
		t.Fatalf("Get on empty cache = %v, %v", ok, err)
	}
	if err := c.Put(key, compile(t, "(let (f (fn (x) (* x 2))) [(f 1) (f 2.5) \"s\"])", nil)); err != nil {
		t.Fatalf("Put error: %v", err)
	}

	// each Get decodes a fresh program
	for i := 0; i < 2; i++ {
		p, ok, err := c.Get(key)
		if err != nil || !ok {
			t.Fatalf("Get = %v, %v", ok, err)
		}
		if got := evaluate(t, p); got != `[2, 5.0, "s"]` {
			t.Errorf("cached program = %s, want [2, 5.0, \"s\"]", got)
		}
	}

	if n, err := c.Len(); err != nil || n != 1 {
		t.Errorf("Len() = %d, %v, want 1", n, err)
	}
	want := Stats{Hits: 2, Misses: 1, Stores: 1}
	if got := c.Stats(); got != want {
		t.Errorf("Stats() = %+v, want %+v", got, want)
	}
}

func TestReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	key := NewKey(compiler.DefaultOptions(), []byte("x"))

	c, err := Open(path)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	if err := c.Put(key, compile(t, "(list 1 2)", nil)); err != nil {
		t.Fatalf("Put error: %v", err)
	}
	c.Close()

	c, err = Open(path)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer c.Close()
	p, ok, err := c.Get(key)
	if err != nil || !ok {
		t.Fatalf("Get after reopen = %v, %v", ok, err)
	}
	if got := evaluate(t, p); got != "[1, 2]" {
		t.Errorf("program = %s, want [1, 2]", got)
	}
}

func TestHostFunctionsNotPersisted(t *testing.T) {
	c := openTemp(t)
	env := vm.NewEnvironment()
	defer env.Close()
	env.Define(vm.Intern("host"), vm.NativeValue(&vm.Native{
		Name:  "host",
		Arity: vm.Exact(0),
		Host:  true,
		Fn:    func(*vm.VM, []vm.Value) (vm.Value, error) { return vm.Int(1), nil },
	}))

	err := c.Put(NewKey(compiler.DefaultOptions()), compile(t, "(fn () (host))", env))
	if !errors.Is(err, vm.ErrNotPersistable) {
		t.Errorf("Put error = %v, want ErrNotPersistable", err)
	}
	if n, _ := c.Len(); n != 0 {
		t.Errorf("Len() = %d, want 0", n)
	}
}

func TestPrune(t *testing.T) {
	c := openTemp(t)
	for _, s := range []string{"a", "b"} {
		if err := c.Put(NewKey(compiler.DefaultOptions(), []byte(s)), compile(t, "1", nil)); err != nil {
			t.Fatalf("Put error: %v", err)
		}
	}
	if n, err := c.Prune(time.Now().Add(-time.Hour)); err != nil || n != 0 {
		t.Errorf("Prune(an hour ago) = %d, %v, want 0", n, err)
	}
	if n, err := c.Prune(time.Now().Add(time.Hour)); err != nil || n != 2 {
		t.Errorf("Prune(in an hour) = %d, %v, want 2", n, err)
	}
}

func TestNewKey(t *testing.T) {
	opts := compiler.DefaultOptions()
	base := NewKey(opts, []byte("ab"), []byte("c"))

	if NewKey(opts, []byte("ab"), []byte("c")) != base {
		t.Errorf("NewKey is not deterministic")
	}
	if NewKey(opts, []byte("a"), []byte("bc")) == base {
		t.Errorf("part boundaries do not affect the key")
	}
	noPeep := opts
	noPeep.Peephole = false
	if NewKey(noPeep, []byte("ab"), []byte("c")) == base {
		t.Errorf("options do not affect the key")
	}
	if len(base.String()) != 64 {
		t.Errorf("String() = %q, want 64 hex digits", base.String())
	}
}
