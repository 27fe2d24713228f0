package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// ShutdownFunc releases one resource during shutdown
type ShutdownFunc func(context.Context) error

type shutdownHook struct {
	name string
	fn   ShutdownFunc
}

// ShutdownManager stops HTTP servers and then releases resources in reverse
// registration order, all within one timeout.
type ShutdownManager struct {
	logger          *Logger
	servers         []*http.Server
	hooks           []shutdownHook
	shutdownTimeout time.Duration
	mu              sync.Mutex
}

// NewShutdownManager creates a new shutdown manager
func NewShutdownManager(logger *Logger, timeout time.Duration) *ShutdownManager {
	if logger == nil {
		logger = NopLogger()
	}
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &ShutdownManager{logger: logger, shutdownTimeout: timeout}
}

// AddServer registers a server to drain before any hook runs
func (sm *ShutdownManager) AddServer(server *http.Server) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.servers = append(sm.servers, server)
}

// Register adds a hook. Hooks run last-registered first, so a resource
// opened early is closed after everything built on top of it.
func (sm *ShutdownManager) Register(name string, fn ShutdownFunc) {
	if fn == nil {
		return
	}
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.hooks = append(sm.hooks, shutdownHook{name: name, fn: fn})
}

// WaitForShutdown blocks until ctx is done and then shuts down. Pass a
// context from signal.NotifyContext to stop on SIGINT or SIGTERM.
func (sm *ShutdownManager) WaitForShutdown(ctx context.Context) error {
	<-ctx.Done()
	sm.logger.Info("Starting graceful shutdown")
	return sm.Shutdown(context.Background())
}

// Shutdown drains servers and runs the hooks. Every hook runs even when an
// earlier one fails; the errors are joined.
func (sm *ShutdownManager) Shutdown(parent context.Context) error {
	ctx, cancel := context.WithTimeout(parent, sm.shutdownTimeout)
	defer cancel()

	sm.mu.Lock()
	servers := append([]*http.Server(nil), sm.servers...)
	hooks := append([]shutdownHook(nil), sm.hooks...)
	sm.mu.Unlock()

	var errList []error
	for _, server := range servers {
		if err := server.Shutdown(ctx); err != nil {
			sm.logger.WithError(err).WithField("addr", server.Addr).Error("HTTP server shutdown error")
			errList = append(errList, fmt.Errorf("server %s: %w", server.Addr, err))
		}
	}

	for i := len(hooks) - 1; i >= 0; i-- {
		if ctx.Err() != nil {
			sm.logger.Warn("Shutdown timeout reached, skipping remaining hooks")
			errList = append(errList, fmt.Errorf("shutdown timeout reached before %s", hooks[i].name))
			break
		}
		if err := hooks[i].fn(ctx); err != nil {
			sm.logger.WithError(err).WithField("hook", hooks[i].name).Error("Shutdown hook failed")
			errList = append(errList, fmt.Errorf("%s: %w", hooks[i].name, err))
			continue
		}
		sm.logger.WithField("hook", hooks[i].name).Debug("Shutdown hook complete")
	}

	if len(errList) > 0 {
		return errors.Join(errList...)
	}
	sm.logger.Info("Graceful shutdown complete")
	return nil
}
