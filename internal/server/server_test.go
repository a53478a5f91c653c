package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/victorgomez09/suivi/internal/config"
)

func TestServeAndShutdown(t *testing.T) {
	cfg := config.Defaults
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "ok")
	})

	errChan := make(chan error, 1)
	srv, err := NewServer(context.Background(), errChan, &cfg, handler, zap.NewNop())
	require.NoError(t, err)

	var ticks atomic.Int32
	srv.Go("tick", 5*time.Millisecond, func(context.Context) { ticks.Add(1) })

	var closed []string
	srv.OnShutdown("auth", func(context.Context) error { closed = append(closed, "auth"); return nil })
	srv.OnShutdown("store", func(context.Context) error { closed = append(closed, "store"); return nil })

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv.Serve(ln)

	resp, err := http.Get("http://" + ln.Addr().String() + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, "ok", string(body))

	assert.Eventually(t, func() bool { return ticks.Load() > 0 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
	assert.Equal(t, []string{"auth", "store"}, closed)

	select {
	case err := <-errChan:
		t.Fatalf("unexpected server error: %v", err)
	default:
	}
}

func TestMissingCertificate(t *testing.T) {
	cfg := config.Defaults
	cfg.TLS = config.TLS{Enabled: true, CertFile: "missing.crt", KeyFile: "missing.key"}
	_, err := NewServer(context.Background(), nil, &cfg, http.NotFoundHandler(), zap.NewNop())
	assert.Error(t, err)
}
