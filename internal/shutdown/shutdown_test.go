package shutdown

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestStagesRunInOrder(t *testing.T) {
	sh := NewManager(zap.NewNop())

	var (
		mu    sync.Mutex
		order []string
	)
	record := func(name string) func(context.Context) error {
		return func(context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}

	sh.RegisterShutdown("http", record("http"))
	sh.NextStage()
	sh.RegisterShutdown("auth", record("auth"))
	sh.NextStage()
	sh.RegisterShutdown("store", record("store"))

	require.NoError(t, sh.Shutdown(context.Background()))
	assert.Equal(t, []string{"http", "auth", "store"}, order)
}

func TestShutdownJoinsErrors(t *testing.T) {
	sh := NewManager(nil)
	boom := errors.New("boom")
	sh.RegisterShutdown("store", func(context.Context) error { return boom })
	sh.RegisterShutdown("hub", func(context.Context) error { return nil })

	err := sh.Shutdown(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "store shutdown")
}

func TestShutdownHonoursDeadline(t *testing.T) {
	sh := NewManager(nil)
	release := make(chan struct{})
	defer close(release)
	sh.AddHandler(func(context.Context) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, sh.Shutdown(ctx), context.DeadlineExceeded)
}
