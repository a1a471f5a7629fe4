// Package session evaluates top-level forms one at a time against a
// shared environment, the way a REPL or a script runner does.
package session

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"os"

	"github.com/chazu/pidgin/cache"
	"github.com/chazu/pidgin/compiler"
	"github.com/chazu/pidgin/compiler/hash"
	"github.com/chazu/pidgin/vm"
	"github.com/google/uuid"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("pidgin.session")

// Stats counts the forms a session handled.
type Stats struct {
	Forms       int // forms evaluated
	CacheHits   int
	CacheMisses int
	Uncached    int // forms compiled without consulting the cache
}

// Session owns an environment and compiles each form against what the
// forms before it defined.
type Session struct {
	ID uuid.UUID

	env      *vm.Environment
	registry *vm.Registry
	compiler *compiler.Compiler
	cache    *cache.Cache

	// history digests every form evaluated so far. Function bodies embed
	// globals when compiled, so the same source compiles differently
	// after different histories.
	history [32]byte
	// tainted is set once a form could not be hashed; the history is then
	// unknown and the cache is bypassed for the rest of the session.
	tainted bool

	maxFrames int
	trace     bool
	inspect   func(compiler.Node, *vm.Program)
	stats     Stats
}

// Option configures a Session.
type Option func(*Session)

// WithCache stores and reuses compiled programs in c.
func WithCache(c *cache.Cache) Option {
	return func(s *Session) { s.cache = c }
}

// WithMaxFrames bounds the frame depth of every evaluation.
func WithMaxFrames(n int) Option {
	return func(s *Session) { s.maxFrames = n }
}

// WithTrace logs every executed instruction.
func WithTrace(on bool) Option {
	return func(s *Session) { s.trace = on }
}

// WithInspect calls fn with every form and its program before the program
// is evaluated.
func WithInspect(fn func(compiler.Node, *vm.Program)) Option {
	return func(s *Session) { s.inspect = fn }
}

// New creates a session with an empty environment.
func New(opts compiler.Options, options ...Option) *Session {
	s := &Session{
		ID:       uuid.New(),
		env:      vm.NewEnvironment(),
		registry: vm.NewRegistry(),
	}
	for _, o := range options {
		o(s)
	}
	s.compiler = compiler.New(opts, s.env)
	log.Debugf("session %s: created (cache %t)", s.ID, s.cache != nil)
	return s
}

// Environment returns the session's globals.
func (s *Session) Environment() *vm.Environment { return s.env }

// Registry returns the external type handlers used by every evaluation.
func (s *Session) Registry() *vm.Registry { return s.registry }

// Stats returns the counters.
func (s *Session) Stats() Stats { return s.stats }

// SetInspect replaces the hook installed by WithInspect; nil removes it.
func (s *Session) SetInspect(fn func(compiler.Node, *vm.Program)) { s.inspect = fn }

// Close releases every global.
func (s *Session) Close() {
	s.env.Close()
}

// DefineHost binds a host function as a global.
func (s *Session) DefineHost(name string, arity vm.ArgSpec, fn vm.NativeFunc) {
	s.env.Define(vm.Intern(name), vm.NativeValue(&vm.Native{Name: name, Arity: arity, Fn: fn, Host: true}))
	s.advance(sha256.Sum256([]byte("host\x00" + name)))
}

// ---------------------------------------------------------------------------
// Compilation
// ---------------------------------------------------------------------------

// Compile compiles form against the current globals without evaluating it.
func (s *Session) Compile(form compiler.Node) (*vm.Program, error) {
	p, _, err := s.compile(form)
	return p, err
}

// compile returns the program for form and the form's hash, consulting the
// cache when it can. The zero hash means the form could not be hashed.
func (s *Session) compile(form compiler.Node) (*vm.Program, [32]byte, error) {
	sum, herr := hash.Sum([]compiler.Node{form})
	useCache := s.cache != nil && !s.tainted && herr == nil

	var key cache.Key
	if useCache {
		key = cache.NewKey(s.compiler.Options(), s.history[:], sum[:])
		p, ok, err := s.cache.Get(key)
		if err != nil {
			log.Warningf("session %s: cache lookup: %s", s.ID, err)
		} else if ok {
			s.stats.CacheHits++
			log.Debugf("session %s: cache hit %s", s.ID, key)
			return p, sum, nil
		}
		s.stats.CacheMisses++
	} else {
		s.stats.Uncached++
	}

	p, err := s.compiler.Compile(form)
	if err != nil {
		return nil, sum, err
	}
	if herr != nil {
		log.Debugf("session %s: %s", s.ID, herr)
		return p, [32]byte{}, nil
	}
	if useCache {
		// Stored before evaluation, which may move constants out of p.
		if err := s.cache.Put(key, p); err != nil {
			if errors.Is(err, vm.ErrNotPersistable) {
				log.Debugf("session %s: not caching: %s", s.ID, err)
			} else {
				log.Warningf("session %s: cache store: %s", s.ID, err)
			}
		}
	}
	return p, sum, nil
}

// advance folds a hash into the history. The zero hash taints it.
func (s *Session) advance(sum [32]byte) {
	if sum == ([32]byte{}) {
		if !s.tainted && s.cache != nil {
			log.Infof("session %s: unhashable form, cache disabled", s.ID)
		}
		s.tainted = true
		return
	}
	h := sha256.New()
	h.Write(s.history[:])
	h.Write(sum[:])
	h.Sum(s.history[:0])
}

// ---------------------------------------------------------------------------
// Evaluation
// ---------------------------------------------------------------------------

// EvalForm compiles and evaluates one form. The caller owns the result.
func (s *Session) EvalForm(form compiler.Node) (vm.Value, error) {
	p, sum, err := s.compile(form)
	if err != nil {
		return vm.Nil, err
	}
	if s.inspect != nil {
		s.inspect(form, p)
	}
	return s.Run(p, sum)
}

// Run evaluates a compiled program against the session's globals. sum is
// the hash of its source, or zero when unknown.
func (s *Session) Run(p *vm.Program, sum [32]byte) (vm.Value, error) {
	m := vm.New(p,
		vm.WithEnvironment(s.env),
		vm.WithRegistry(s.registry),
		vm.WithMaxFrames(s.maxFrames),
		vm.WithTrace(s.trace),
	)
	defer m.Close()
	v, err := m.Evaluate()
	// A faulted form may still have defined globals.
	s.advance(sum)
	s.stats.Forms++
	if st := m.Stats(); st.CopyOnWrite > 0 {
		log.Debugf("session %s: %d copy-on-write copies", s.ID, st.CopyOnWrite)
	}
	return v, err
}

// EvalString evaluates every form in src in order and returns the value of
// the last, or nil when src holds no forms. It stops at the first error.
func (s *Session) EvalString(src string) (vm.Value, error) {
	forms, err := compiler.Parse(src)
	if err != nil {
		return vm.Nil, err
	}
	return s.EvalForms(forms)
}

// EvalForms evaluates forms in order and returns the value of the last.
func (s *Session) EvalForms(forms []compiler.Node) (vm.Value, error) {
	result := vm.Nil
	for _, form := range forms {
		result.Release()
		v, err := s.EvalForm(form)
		if err != nil {
			return vm.Nil, err
		}
		result = v
	}
	return result, nil
}

// EvalFile evaluates the forms of the file at path.
func (s *Session) EvalFile(path string) (vm.Value, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return vm.Nil, fmt.Errorf("reading %s: %w", path, err)
	}
	v, err := s.EvalString(string(src))
	if err != nil {
		return vm.Nil, fmt.Errorf("%s: %w", path, err)
	}
	return v, nil
}
