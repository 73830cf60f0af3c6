package providerpool

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type rpcRequest struct {
	Method string `json:"method"`
	ID     int    `json:"id"`
}

// newFakeRPC answers eth_chainId and eth_blockNumber; blockNumber fails while
// failing.Load() is true, so tests can drive the unhealthy/reconnect path.
func newFakeRPC(t *testing.T, failing *atomic.Bool) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")

		switch req.Method {
		case "eth_chainId":
			_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":"0x1"}`))
		case "eth_blockNumber":
			if failing.Load() {
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32000,"message":"down"}}`))
				return
			}
			_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":"0x10"}`))
		default:
			_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":null}`))
		}
	}))
}

func TestPool_HealthyOnStart(t *testing.T) {
	var failing atomic.Bool
	srv := newFakeRPC(t, &failing)
	defer srv.Close()

	log := zap.NewNop().Sugar()
	pool, err := New(context.Background(), map[string]string{"ethereum": srv.URL}, nil, log,
		WithHealthCheck(10*time.Millisecond, 50*time.Millisecond, 2))
	require.NoError(t, err)
	defer pool.Close()

	health := pool.HealthMap()
	require.True(t, health["ethereum"].Healthy)

	_, ok := pool.Get("ethereum")
	require.True(t, ok)
}

func TestPool_MarksUnhealthyAfterThreshold(t *testing.T) {
	var failing atomic.Bool
	srv := newFakeRPC(t, &failing)
	defer srv.Close()

	log := zap.NewNop().Sugar()
	pool, err := New(context.Background(), map[string]string{"ethereum": srv.URL}, nil, log,
		WithHealthCheck(10*time.Millisecond, 50*time.Millisecond, 2))
	require.NoError(t, err)
	defer pool.Close()

	failing.Store(true)
	require.Eventually(t, func() bool {
		return !pool.HealthMap()["ethereum"].Healthy
	}, time.Second, 5*time.Millisecond)
}

func TestPool_UnknownChain(t *testing.T) {
	log := zap.NewNop().Sugar()
	pool, err := New(context.Background(), map[string]string{}, nil, log)
	require.NoError(t, err)
	defer pool.Close()

	_, ok := pool.Get("polygon")
	require.False(t, ok)
	_, ok = pool.WalletFor("polygon")
	require.False(t, ok)
}
