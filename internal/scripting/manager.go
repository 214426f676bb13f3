package scripting

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
	"go.uber.org/zap"
)

// ErrUnknownScript is returned by Call for a script ID that was never loaded.
var ErrUnknownScript = errors.New("unknown script")

// ErrNoHook is returned by Call when the script does not define the hook.
var ErrNoHook = errors.New("hook not defined")

// maxIdle bounds the number of idle VMs kept per script.
const maxIdle = 64

type script struct {
	proto *lua.FunctionProto
	limit int
	idle  chan *vm
}

// vm is a sandboxed state running one script. base holds the globals the
// sandbox defined before the chunk ran.
type vm struct {
	L    *lua.LState
	base map[lua.LValue]lua.LValue
}

// Manager compiles each script once and hands out sandboxed VMs running it.
//
// Manager is safe for concurrent Call after Load completes. Each call runs
// on a VM no other goroutine is using; VMs are reused between calls and every
// call gets a fresh instruction budget. A returned VM has its globals reset
// and its chunk run again, so a hook sees the same state on every call no
// matter which VM serves it. Scripts must not rely on changes made to the
// string, table or math libraries surviving or not surviving a call.
type Manager struct {
	mu      sync.RWMutex
	scripts map[string]*script
	logger  *zap.Logger
}

// NewManager creates a Manager.
//
// Precondition: logger may be nil.
// Postcondition: Returns a non-nil Manager with no scripts.
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{scripts: make(map[string]*script), logger: logger}
}

// LoadFile compiles the Lua file at path under id.
//
// Precondition: id must be non-empty; path must be readable.
// Postcondition: returns an error on read, syntax, or top-level runtime failure.
func (m *Manager) LoadFile(id, path string, instLimit int) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("scripting: reading %q for %q: %w", path, id, err)
	}
	return m.Load(id, string(src), instLimit)
}

// Load compiles source under id, replacing any script of the same id. The
// chunk is executed once here so top-level errors surface from Load.
//
// Precondition: id must be non-empty.
func (m *Manager) Load(id, source string, instLimit int) error {
	chunk, err := parse.Parse(strings.NewReader(source), id)
	if err != nil {
		return fmt.Errorf("scripting: parsing %q: %w", id, err)
	}
	proto, err := lua.Compile(chunk, id)
	if err != nil {
		return fmt.Errorf("scripting: compiling %q: %w", id, err)
	}
	s := &script{proto: proto, limit: instLimit, idle: make(chan *vm, maxIdle)}
	v, err := m.spawn(s)
	if err != nil {
		return fmt.Errorf("scripting: loading %q: %w", id, err)
	}
	s.idle <- v

	m.mu.Lock()
	old := m.scripts[id]
	m.scripts[id] = s
	m.mu.Unlock()
	if old != nil {
		drain(old)
	}
	return nil
}

func (m *Manager) spawn(s *script) (*vm, error) {
	L, cancel := NewSandboxedState(s.limit)
	defer cancel()
	m.RegisterModules(L)
	v := &vm{L: L, base: make(map[lua.LValue]lua.LValue)}
	L.G.Global.ForEach(func(k, val lua.LValue) { v.base[k] = val })
	if err := v.run(s.proto); err != nil {
		L.Close()
		return nil, err
	}
	return v, nil
}

func (v *vm) run(proto *lua.FunctionProto) error {
	v.L.Push(v.L.NewFunctionFromProto(proto))
	return v.L.PCall(0, lua.MultRet, nil)
}

// reset restores the sandbox globals and reruns the chunk under a fresh budget.
func (v *vm) reset(s *script) error {
	cancel := Rearm(v.L, s.limit)
	defer cancel()
	g := v.L.G.Global
	var added []lua.LValue
	g.ForEach(func(k, _ lua.LValue) {
		if _, ok := v.base[k]; !ok {
			added = append(added, k)
		}
	})
	for _, k := range added {
		g.RawSet(k, lua.LNil)
	}
	for k, val := range v.base {
		g.RawSet(k, val)
	}
	return v.run(s.proto)
}

func drain(s *script) {
	for {
		select {
		case v := <-s.idle:
			v.L.Close()
		default:
			return
		}
	}
}

// Has reports whether id is loaded.
func (m *Manager) Has(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.scripts[id]
	return ok
}

// Call invokes the global function hook of script id. args builds the
// arguments on the VM that will run the call; read receives the first return
// value while the VM is still owned by the caller and must not retain it.
//
// Lua runtime errors, including an exhausted instruction budget, are logged
// at Warn level and returned; the VM that failed is discarded.
//
// Postcondition: returns ErrUnknownScript, ErrNoHook, a runtime error, or
// the error returned by read.
func (m *Manager) Call(id, hook string, args func(L *lua.LState) []lua.LValue, read func(ret lua.LValue) error) error {
	m.mu.RLock()
	s, ok := m.scripts[id]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("scripting: %w: %q", ErrUnknownScript, id)
	}

	var v *vm
	select {
	case v = <-s.idle:
	default:
		var err error
		if v, err = m.spawn(s); err != nil {
			return fmt.Errorf("scripting: starting %q: %w", id, err)
		}
	}
	L := v.L
	cancel := Rearm(L, s.limit)
	defer cancel()

	fn := L.GetGlobal(hook)
	if fn.Type() != lua.LTFunction {
		m.release(id, s, v)
		return fmt.Errorf("scripting: %w: %s.%s", ErrNoHook, id, hook)
	}

	var argv []lua.LValue
	if args != nil {
		argv = args(L)
	}
	if err := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, argv...); err != nil {
		m.logger.Warn("scripting: Lua runtime error",
			zap.String("script", id),
			zap.String("hook", hook),
			zap.Error(err),
		)
		L.Close()
		return fmt.Errorf("scripting: %s.%s: %w", id, hook, err)
	}
	ret := L.Get(-1)
	L.Pop(1)
	var err error
	if read != nil {
		err = read(ret)
	}
	m.release(id, s, v)
	return err
}

func (m *Manager) release(id string, s *script, v *vm) {
	if err := v.reset(s); err != nil {
		m.logger.Warn("scripting: discarding VM after failed reset",
			zap.String("script", id),
			zap.Error(err),
		)
		v.L.Close()
		return
	}
	select {
	case s.idle <- v:
	default:
		v.L.Close()
	}
}

// Close releases every idle VM.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.scripts {
		drain(s)
		delete(m.scripts, id)
	}
}
