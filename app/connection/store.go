package connection

import (
	"context"
	"errors"
	"sync"

	"github.com/amirphl/leadflow/utils"
	"github.com/asaskevich/EventBus"
	"go.uber.org/zap"
)

const stateTopic = "connection:state"

var ErrStoreClosed = errors.New("connection state store is shut down")

// StateStore owns the connection state of the transport session. The scheduler reads it with
// Current; the transport feeds it with Dispatch.
type StateStore interface {
	Current() State
	// Subscribe registers fn for every state change. Callbacks run synchronously in publish
	// order and must not subscribe or unsubscribe from inside the callback.
	Subscribe(fn func(State)) (unsubscribe func(), err error)
	Dispatch(ev Event) (State, error)
	Init(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// Manager is the in-process StateStore.
type Manager struct {
	mu    sync.RWMutex
	pubMu sync.Mutex
	state State
	open  bool

	bus    EventBus.Bus
	clock  utils.Clock
	logger *zap.Logger
}

// NewManager creates a store in the idle state. Init must be called before events are accepted.
func NewManager(clock utils.Clock, logger *zap.Logger) *Manager {
	if clock == nil {
		clock = utils.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		state:  idle(clock.Now()),
		bus:    EventBus.New(),
		clock:  clock,
		logger: logger,
	}
}

func (m *Manager) Init(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open = true
	m.state = idle(m.clock.Now())
	return nil
}

func (m *Manager) Shutdown(ctx context.Context) error {
	m.pubMu.Lock()
	defer m.pubMu.Unlock()
	m.mu.Lock()
	m.open = false
	m.state = idle(m.clock.Now())
	m.mu.Unlock()
	m.bus = EventBus.New()
	return nil
}

// Current returns a snapshot of the state without blocking on transitions in progress.
func (m *Manager) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Manager) Subscribe(fn func(State)) (func(), error) {
	m.pubMu.Lock()
	defer m.pubMu.Unlock()
	bus := m.bus
	if err := bus.Subscribe(stateTopic, fn); err != nil {
		return nil, err
	}
	return func() {
		m.pubMu.Lock()
		defer m.pubMu.Unlock()
		_ = bus.Unsubscribe(stateTopic, fn)
	}, nil
}

// Dispatch applies ev and notifies subscribers when the state changed. A rejected transition
// leaves the state untouched and is returned as an error.
func (m *Manager) Dispatch(ev Event) (State, error) {
	m.pubMu.Lock()
	defer m.pubMu.Unlock()

	m.mu.Lock()
	if !m.open {
		cur := m.state
		m.mu.Unlock()
		return cur, ErrStoreClosed
	}
	prev := m.state
	next, err := Transition(prev, ev, m.clock.Now())
	if err != nil {
		m.mu.Unlock()
		m.logger.Debug("connection event rejected",
			zap.String("event", string(ev.Kind)),
			zap.String("state", string(prev.Kind)),
			zap.Error(err))
		return prev, err
	}
	m.state = next
	m.mu.Unlock()

	m.logger.Info("connection state changed",
		zap.String("event", string(ev.Kind)),
		zap.String("from", string(prev.Kind)),
		zap.String("to", string(next.Kind)))
	m.bus.Publish(stateTopic, next)
	return next, nil
}
