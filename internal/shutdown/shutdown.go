package shutdown

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Manager runs the registered shutdown handlers. Handlers of the same stage run concurrently;
// stages run in the order they were first used, so the listener can stop before the store closes.
type Manager struct {
	mu     sync.Mutex
	stages [][]func(context.Context) error
	logger *zap.Logger
}

func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{logger: logger}
}

// AddHandler registers handler in the current stage.
func (sh *Manager) AddHandler(handler func(context.Context) error) {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if len(sh.stages) == 0 {
		sh.stages = append(sh.stages, nil)
	}
	last := len(sh.stages) - 1
	sh.stages[last] = append(sh.stages[last], handler)
}

// NextStage starts a new stage: later handlers run after every earlier one has returned.
func (sh *Manager) NextStage() {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.stages = append(sh.stages, nil)
}

func (sh *Manager) RegisterShutdown(name string, shutdown func(context.Context) error) {
	sh.AddHandler(func(ctx context.Context) error {
		if err := shutdown(ctx); err != nil {
			return fmt.Errorf("%s shutdown: %w", name, err)
		}
		sh.logger.Debug("Component stopped", zap.String("component", name))
		return nil
	})
}

// Shutdown runs every stage and returns the joined handler errors, or ctx.Err() when the
// deadline passes first.
func (sh *Manager) Shutdown(ctx context.Context) error {
	sh.mu.Lock()
	stages := sh.stages
	sh.stages = nil
	sh.mu.Unlock()

	var errs []error
	for _, handlers := range stages {
		stageErrs, err := sh.runStage(ctx, handlers)
		errs = append(errs, stageErrs...)
		if err != nil {
			return err
		}
	}
	return errors.Join(errs...)
}

func (sh *Manager) runStage(ctx context.Context, handlers []func(context.Context) error) ([]error, error) {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, handler := range handlers {
		wg.Add(1)
		go func(h func(context.Context) error) {
			defer wg.Done()
			if err := h(ctx); err != nil {
				sh.logger.Error("Error during shutdown", zap.Error(err))
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(handler)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-done:
		return errs, nil
	}
}
