package hooks

import (
	"fmt"
	"sync"
	"weak"

	"github.com/nerrad567/inputemu-core/internal/host"
)

// Logger defines the logging interface used by the Manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Kind groups interface identities that share a function table shape.
type Kind int

// Interface kinds known to the manager.
const (
	KindDriverContext Kind = iota + 1
	KindServerDriverHost
	KindDeviceDriver
	KindProperties
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindDriverContext:
		return "driver_context"
	case KindServerDriverHost:
		return "server_driver_host"
	case KindDeviceDriver:
		return "device_driver"
	case KindProperties:
		return "properties"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Strategy knows how to patch and restore one kind of function table.
type Strategy interface {
	Kind() Kind
	install(instance any) (*patch, error)
}

// patch records one installed table swap.
type patch struct {
	ref     host.Ref
	restore func() bool
}

// PatchFunc builds the replacement table for an instance from its original
// table. Fields left unchanged pass through to the runtime's own implementation.
type PatchFunc[T any] func(ref host.Ref, orig *T) *T

type tableStrategy[T any] struct {
	kind  Kind
	build PatchFunc[T]
}

// NewStrategy returns a Strategy that patches instances exposing a
// *host.Table[T]. New interface versions with the same table shape register
// the same strategy under another identity.
func NewStrategy[T any](kind Kind, build PatchFunc[T]) Strategy {
	return tableStrategy[T]{kind: kind, build: build}
}

func (s tableStrategy[T]) Kind() Kind { return s.kind }

func (s tableStrategy[T]) install(instance any) (*patch, error) {
	obj, ok := instance.(interface {
		Ref() host.Ref
		Table() *host.Table[T]
	})
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrInstanceMismatch, instance)
	}

	table := obj.Table()
	orig := table.Load()
	if orig == nil {
		return nil, fmt.Errorf("%w: %T has no function table", ErrInstanceMismatch, instance)
	}
	patched := s.build(obj.Ref(), orig)
	table.Store(patched)

	// The table is tracked weakly; an instance the runtime already tore
	// down is never touched again.
	wt := weak.Make(table)
	return &patch{
		ref: obj.Ref(),
		restore: func() bool {
			t := wt.Value()
			if t == nil {
				return false
			}
			return t.CompareAndSwap(patched, orig)
		},
	}, nil
}

// slotKey identifies one (instance, identity) pair.
type slotKey struct {
	ref      host.Ref
	identity string
}

// Manager installs interceptions on native instances and tracks them so each
// (instance, identity) pair is intercepted at most once.
//
// All methods are safe for concurrent use.
type Manager struct {
	mu         sync.Mutex
	strategies map[string]Strategy
	active     map[slotKey]*Handle
	logger     Logger
}

// NewManager creates a Manager with no registered strategies.
func NewManager() *Manager {
	return &Manager{
		strategies: make(map[string]Strategy),
		active:     make(map[slotKey]*Handle),
		logger:     noopLogger{},
	}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	m.mu.Lock()
	m.logger = logger
	m.mu.Unlock()
}

func (m *Manager) log() Logger {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.logger
}

// Register binds an interface identity to a strategy, replacing any earlier
// registration.
func (m *Manager) Register(identity string, s Strategy) error {
	if _, err := ParseIdentity(identity); err != nil {
		return err
	}
	m.mu.Lock()
	m.strategies[identity] = s
	m.mu.Unlock()
	return nil
}

// Supports reports whether a strategy is registered for identity.
func (m *Manager) Supports(identity string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.strategies[identity]
	return ok
}

// Hook installs the strategy registered for identity on instance.
//
// Returns ErrUnsupportedInterfaceVersion for unknown identities,
// ErrAlreadyIntercepted if the pair is already hooked and
// ErrInstanceMismatch if instance does not carry the expected table.
func (m *Manager) Hook(instance any, identity string) (*Handle, error) {
	id, err := ParseIdentity(identity)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.strategies[identity]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedInterfaceVersion, identity)
	}

	var ref host.Ref
	if r, ok := instance.(interface{ Ref() host.Ref }); ok {
		ref = r.Ref()
	} else {
		return nil, fmt.Errorf("%w: %T", ErrInstanceMismatch, instance)
	}

	key := slotKey{ref: ref, identity: identity}
	if _, exists := m.active[key]; exists {
		return nil, fmt.Errorf("%w: %s on %s", ErrAlreadyIntercepted, identity, ref)
	}

	p, err := s.install(instance)
	if err != nil {
		return nil, err
	}

	h := &Handle{
		mgr:      m,
		key:      key,
		identity: id,
		kind:     s.Kind(),
		restore:  p.restore,
	}
	m.active[key] = h
	m.logger.Debug("interface intercepted", "identity", identity, "instance", ref.String())
	return h, nil
}

// Active returns the number of live interceptions.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// Close removes every active interception.
func (m *Manager) Close() {
	m.mu.Lock()
	handles := make([]*Handle, 0, len(m.active))
	for _, h := range m.active {
		handles = append(handles, h)
	}
	m.mu.Unlock()

	for _, h := range handles {
		h.Unhook()
	}
}

func (m *Manager) release(key slotKey, h *Handle) {
	m.mu.Lock()
	if m.active[key] == h {
		delete(m.active, key)
	}
	m.mu.Unlock()
}

// Handle is one active interception.
type Handle struct {
	mgr      *Manager
	key      slotKey
	identity Identity
	kind     Kind
	restore  func() bool

	once     sync.Once
	restored bool
}

// Identity returns the intercepted interface identity.
func (h *Handle) Identity() Identity { return h.identity }

// Kind returns the intercepted table kind.
func (h *Handle) Kind() Kind { return h.kind }

// Instance returns the identity of the intercepted instance.
func (h *Handle) Instance() host.Ref { return h.key.ref }

// Unhook restores the original function table and frees the
// (instance, identity) slot. It reports whether the original table was put
// back; false means the instance is gone or its table was replaced by
// someone else, in which case nothing is written. Safe to call repeatedly.
func (h *Handle) Unhook() bool {
	h.once.Do(func() {
		h.restored = h.restore()
		h.mgr.release(h.key, h)
		if !h.restored {
			h.mgr.log().Debug("interception released without restore",
				"identity", h.identity.String(),
				"instance", h.key.ref.String(),
			)
		}
	})
	return h.restored
}
