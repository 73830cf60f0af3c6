package tokens

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/duneflow/arbengine/internal/providerpool"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type rpcRequest struct {
	Method string `json:"method"`
	ID     int    `json:"id"`
}

// newFakeRPC answers eth_chainId/eth_blockNumber (for pool health/dial) and
// eth_call with a fixed allowance, matching the allowance()'s uint256 ABI
// encoding (32 zero-padded bytes).
func newFakeRPC(t *testing.T, allowanceWei *big.Int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")

		switch req.Method {
		case "eth_chainId":
			_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":"0x1"}`))
		case "eth_blockNumber":
			_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":"0x10"}`))
		case "eth_call":
			padded := common.LeftPadBytes(allowanceWei.Bytes(), 32)
			_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":"0x` + common.Bytes2Hex(padded) + `"}`))
		default:
			_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":null}`))
		}
	}))
}

func newTestPool(t *testing.T, srv *httptest.Server) *providerpool.Pool {
	t.Helper()
	log := zap.NewNop().Sugar()
	pool, err := providerpool.New(context.Background(), map[string]string{"ethereum": srv.URL}, nil, log)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func TestAllowanceChecker_Allowance(t *testing.T) {
	srv := newFakeRPC(t, big.NewInt(1_000_000))
	defer srv.Close()
	pool := newTestPool(t, srv)

	checker, err := New(pool)
	require.NoError(t, err)

	allowance, err := checker.Allowance(context.Background(), "ethereum",
		"0x0000000000000000000000000000000000000001",
		"0x0000000000000000000000000000000000000002",
		"0x0000000000000000000000000000000000000003")
	require.NoError(t, err)
	require.Equal(t, big.NewInt(1_000_000), allowance)
}

func TestAllowanceChecker_Allowance_UnknownChain(t *testing.T) {
	srv := newFakeRPC(t, big.NewInt(0))
	defer srv.Close()
	pool := newTestPool(t, srv)

	checker, err := New(pool)
	require.NoError(t, err)

	_, err = checker.Allowance(context.Background(), "polygon", "0x1", "0x2", "0x3")
	require.Error(t, err)
}

func TestAllowanceChecker_BuildApproveTx(t *testing.T) {
	srv := newFakeRPC(t, big.NewInt(0))
	defer srv.Close()
	pool := newTestPool(t, srv)

	checker, err := New(pool)
	require.NoError(t, err)

	data, err := checker.BuildApproveTx(context.Background(), "ethereum",
		"0x0000000000000000000000000000000000000001",
		"0x0000000000000000000000000000000000000002",
		big.NewInt(500))
	require.NoError(t, err)
	require.NotEmpty(t, data)

	decoded, err := checker.abi.MethodById(data[:4])
	require.NoError(t, err)
	require.Equal(t, "approve", decoded.Name)
}
