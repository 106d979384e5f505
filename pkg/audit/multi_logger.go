package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// maxMirrorErrors bounds the mirror failures kept for GetErrors
const maxMirrorErrors = 64

// MultiLogger writes every event to a primary sink and copies it to mirror
// sinks. Only the primary decides whether Log fails; mirror failures are
// kept for GetErrors.
type MultiLogger struct {
	primary Logger
	mirrors []Logger
	async   bool
	wg      sync.WaitGroup

	mu   sync.Mutex
	errs []error
}

// NewMultiLogger creates a logger with primary as the authoritative sink.
// primary may be nil, in which case every sink is a mirror.
func NewMultiLogger(primary Logger, mirrors ...Logger) *MultiLogger {
	return &MultiLogger{
		primary: primary,
		mirrors: mirrors,
	}
}

// SetAsync makes mirror writes asynchronous. The primary is always written
// before Log returns.
func (m *MultiLogger) SetAsync(async bool) {
	m.async = async
}

// Log writes event to the primary and then to every mirror
func (m *MultiLogger) Log(ctx context.Context, event *AuditEvent) error {
	var err error
	if m.primary != nil {
		err = m.primary.Log(ctx, event)
	}

	if m.async {
		m.mirrorAsync(context.WithoutCancel(ctx), event)
	} else {
		for _, mirror := range m.mirrors {
			m.mirror(ctx, mirror, event)
		}
	}
	return err
}

func (m *MultiLogger) mirror(ctx context.Context, l Logger, event *AuditEvent) {
	if err := l.Log(ctx, event); err != nil {
		m.mu.Lock()
		if len(m.errs) < maxMirrorErrors {
			m.errs = append(m.errs, err)
		}
		m.mu.Unlock()
	}
}

func (m *MultiLogger) mirrorAsync(ctx context.Context, event *AuditEvent) {
	for _, l := range m.mirrors {
		m.wg.Add(1)
		go func(l Logger) {
			defer m.wg.Done()
			m.mirror(ctx, l, event)
		}(l)
	}
}

// Wait waits for pending asynchronous mirror writes
func (m *MultiLogger) Wait() {
	m.wg.Wait()
}

// GetErrors drains the collected mirror failures
func (m *MultiLogger) GetErrors() []error {
	m.mu.Lock()
	defer m.mu.Unlock()
	errs := m.errs
	m.errs = nil
	return errs
}

// Close waits for pending writes and closes every sink
func (m *MultiLogger) Close() error {
	m.wg.Wait()

	sinks := m.mirrors
	if m.primary != nil {
		sinks = append([]Logger{m.primary}, m.mirrors...)
	}
	var errs []error
	for _, l := range sinks {
		if err := l.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close logger: %w", err))
		}
	}
	return errors.Join(errs...)
}
