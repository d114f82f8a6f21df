package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"wallet-safety/pkg/errno"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEngine serves canned envelopes keyed by request path.
func fakeEngine(t *testing.T, routes map[string]interface{}) (*httptest.Server, *[]string) {
	t.Helper()
	var queries []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		queries = append(queries, r.URL.RawQuery)
		body, ok := routes[r.URL.Path]
		if !ok {
			body = map[string]interface{}{"code": errno.ErrRecoveryNotFound.Code, "msg": errno.ErrRecoveryNotFound.Message, "data": map[string]interface{}{}}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv, &queries
}

func success(data interface{}) map[string]interface{} {
	return map[string]interface{}{"code": 0, "msg": "Success", "data": data}
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRecoveryStatus(t *testing.T) {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	srv, _ := fakeEngine(t, map[string]interface{}{
		"/api/v1/recovery/r1": success(map[string]interface{}{
			"id": "r1", "wallet_id": 7, "user_id": 10, "type": "GUARDIAN_TRANSFER",
			"status": "FAILED", "approvals": []string{"0xaa", "0xbb"},
			"failure_reason": "Recovery execution failed",
			"created_at": created, "updated_at": created, "expires_at": created.Add(24 * time.Hour),
		}),
	})

	out, err := run(t, "--addr", srv.URL, "recovery", "status", "r1")
	require.NoError(t, err)
	assert.Contains(t, out, "Status:     FAILED")
	assert.Contains(t, out, "Approvals:  2")
	assert.Contains(t, out, "Failure:    Recovery execution failed")
	assert.Contains(t, out, "2026-01-03T03:04:05Z")
}

func TestRecoveryStatus_EngineError(t *testing.T) {
	srv, _ := fakeEngine(t, nil)

	_, err := run(t, "--addr", srv.URL, "recovery", "status", "nope")
	require.Error(t, err)
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, errno.ErrRecoveryNotFound.Code, apiErr.Code)
}

func TestRecoveryList(t *testing.T) {
	now := time.Now().UTC()
	srv, _ := fakeEngine(t, map[string]interface{}{
		"/api/v1/users/10/recoveries": success([]map[string]interface{}{
			{"id": "r1", "wallet_id": 7, "type": "EMERGENCY_FREEZE", "status": "PENDING", "approvals": []string{}, "expires_at": now},
			{"id": "r2", "wallet_id": 8, "type": "SOCIAL_RECOVERY", "status": "AWAITING_APPROVALS", "approvals": []string{"0xaa"}, "expires_at": now},
		}),
		"/api/v1/users/11/recoveries": success([]interface{}{}),
	})

	out, err := run(t, "--addr", srv.URL, "recovery", "list", "10")
	require.NoError(t, err)
	assert.Contains(t, out, "EMERGENCY_FREEZE")
	assert.Contains(t, out, "AWAITING_APPROVALS")

	out, err = run(t, "--addr", srv.URL, "recovery", "list", "11")
	require.NoError(t, err)
	assert.Contains(t, out, "No active recovery requests.")

	_, err = run(t, "--addr", srv.URL, "recovery", "list", "bob")
	assert.Error(t, err)
}

func TestGasHistory(t *testing.T) {
	srv, queries := fakeEngine(t, map[string]interface{}{
		"/api/v1/networks/bsc/gas": success(map[string]interface{}{
			"average": 5000000000, "median": 4000000000, "min": 3000000000, "max": 8500000000, "samples": 4,
		}),
	})

	out, err := run(t, "--addr", srv.URL, "gas", "history", "bsc", "--period", "6h")
	require.NoError(t, err)
	assert.Equal(t, "period=6h", (*queries)[len(*queries)-1])
	assert.Contains(t, out, "bsc gas price (6h, 4 samples)")
	assert.Contains(t, out, "average: 5 gwei")
	assert.Contains(t, out, "max:     8.5 gwei")
}

func TestLimits_Defaults(t *testing.T) {
	out, err := run(t, "limits", "bsc")
	require.NoError(t, err)
	assert.Contains(t, out, "bsc")
	assert.Contains(t, out, "20 gwei")
	assert.Contains(t, out, "100 BNB")
	assert.Contains(t, out, "50 BNB")

	_, err = run(t, "limits", "solana")
	assert.ErrorIs(t, err, errno.ErrNetworkNotSupported)
}
