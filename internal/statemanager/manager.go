package statemanager

import (
	"sync"
	"sync/atomic"

	"binance-spot-signal-bot-go/internal/persistence"

	"go.uber.org/zap"
)

const snapshotBuffer = 128

// Manager is responsible for persisting state snapshots.
// Callers submit a deep copy after every mutation; saves are processed
// serially in a background loop so the trading loop never blocks on I/O.
type Manager[T any] struct {
	repo            persistence.StateRepository[T]
	persistenceChan chan *T
	stopChan        chan struct{}
	done            chan struct{}
	saveMu          sync.Mutex
	stopped         atomic.Bool
	stopOnce        sync.Once
	saves           atomic.Int64
	logger          *zap.Logger
}

// New creates a Manager writing to repo.
func New[T any](repo persistence.StateRepository[T], logger *zap.Logger) *Manager[T] {
	return &Manager[T]{
		repo:            repo,
		persistenceChan: make(chan *T, snapshotBuffer),
		stopChan:        make(chan struct{}),
		done:            make(chan struct{}),
		logger:          logger,
	}
}

// Start begins the persistence loop.
func (m *Manager[T]) Start() {
	go m.persistenceLoop()
	m.logger.Sugar().Info("StateManager started.")
}

// Submit queues a snapshot for saving. The snapshot must not be mutated afterwards.
// When the queue is full the oldest pending snapshot is dropped, since only the
// latest state matters.
func (m *Manager[T]) Submit(snapshot *T) {
	if snapshot == nil || m.stopped.Load() {
		return
	}
	for {
		select {
		case m.persistenceChan <- snapshot:
			return
		default:
		}
		select {
		case <-m.persistenceChan:
		default:
		}
	}
}

// Flush saves the snapshot synchronously.
func (m *Manager[T]) Flush(snapshot *T) error {
	if snapshot == nil {
		return nil
	}
	return m.save(snapshot)
}

// Stop drains pending snapshots, saves the latest one and stops the loop.
// It is safe to call more than once.
func (m *Manager[T]) Stop() {
	m.stopOnce.Do(func() {
		m.stopped.Store(true)
		close(m.stopChan)
		<-m.done
		m.logger.Sugar().Info("StateManager stopped.")
	})
}

// Saves returns the number of successful saves, mainly for tests and diagnostics.
func (m *Manager[T]) Saves() int64 {
	return m.saves.Load()
}

// persistenceLoop handles the asynchronous saving of state snapshots.
func (m *Manager[T]) persistenceLoop() {
	defer close(m.done)
	for {
		select {
		case state := <-m.persistenceChan:
			if err := m.save(state); err != nil {
				m.logger.Sugar().Errorf("CRITICAL: Failed to save state: %v", err)
			}
		case <-m.stopChan:
			m.drain()
			return
		}
	}
}

// drain saves only the newest pending snapshot.
func (m *Manager[T]) drain() {
	var latest *T
	for {
		select {
		case state := <-m.persistenceChan:
			latest = state
		default:
			if latest != nil {
				if err := m.save(latest); err != nil {
					m.logger.Sugar().Errorf("CRITICAL: Failed to save final state: %v", err)
				}
			}
			return
		}
	}
}

func (m *Manager[T]) save(state *T) error {
	if m.repo == nil {
		return nil
	}
	m.saveMu.Lock()
	defer m.saveMu.Unlock()
	if err := m.repo.SaveState(state); err != nil {
		return err
	}
	m.saves.Add(1)
	return nil
}
