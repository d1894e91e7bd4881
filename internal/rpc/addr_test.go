package rpc

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/swarm/internal/measure"
)

func TestReachableURL(t *testing.T) {
	tests := []struct {
		name       string
		advertised string
		remote     string
		want       string
	}{
		{"loopback from remote host", "http://127.0.0.1:9000", "10.0.0.7:5123", "http://10.0.0.7:9000"},
		{"wildcard from remote host", "http://0.0.0.0:9000", "10.0.0.7:5123", "http://10.0.0.7:9000"},
		{"localhost from remote host", "http://localhost:9000", "10.0.0.7:5123", "http://10.0.0.7:9000"},
		{"ipv6 remote", "http://[::1]:9000", "[fd00::7]:5123", "http://[fd00::7]:9000"},
		{"loopback from loopback", "http://127.0.0.1:9000", "127.0.0.1:5123", "http://127.0.0.1:9000"},
		{"routable host kept", "http://agent-3.internal:9000", "10.0.0.7:5123", "http://agent-3.internal:9000"},
		{"routable ip kept", "http://10.0.0.9:9000", "10.0.0.7:5123", "http://10.0.0.9:9000"},
		{"no remote", "http://127.0.0.1:9000", "", "http://127.0.0.1:9000"},
		{"empty url", "", "10.0.0.7:5123", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ReachableURL(tt.advertised, tt.remote))
		})
	}
}

func TestHandle_PassesRemoteAddr(t *testing.T) {
	var got string
	r := chi.NewRouter()
	Mount(r, "who", func(ctx context.Context, _ echoReq) (Ack, error) {
		got = RemoteAddr(ctx)
		return Ack{OK: true}, nil
	})

	req := httptest.NewRequest(http.MethodPost, Path("who"), strings.NewReader(`{"value":1}`))
	req.RemoteAddr = "192.0.2.10:4444"
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "192.0.2.10:4444", got)
	assert.Empty(t, RemoteAddr(context.Background()))
}

func TestMonitorClient_LogKeepsBatchIDAcrossRetries(t *testing.T) {
	var (
		mu  sync.Mutex
		ids []string
	)
	srv := newServer(t, func(r chi.Router) {
		Mount(r, MethodLog, func(_ context.Context, batch LogBatch) (Ack, error) {
			mu.Lock()
			defer mu.Unlock()
			ids = append(ids, batch.BatchID)
			if len(ids) == 1 {
				return Ack{}, Unavailable(errors.New("store busy"))
			}
			return Ack{OK: true}, nil
		})
	})

	mc := NewMonitorClient(srv.URL, "agent-1", WithBackoff(fastBackoff()))
	events := []measure.Event{{Tag: "a"}}
	require.NoError(t, mc.Log(context.Background(), events))
	require.NoError(t, mc.Log(context.Background(), events))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, ids, 3)
	assert.NotEmpty(t, ids[0])
	assert.Equal(t, ids[0], ids[1], "a retry resends the same batch id")
	assert.NotEqual(t, ids[1], ids[2], "each batch gets its own id")
}
