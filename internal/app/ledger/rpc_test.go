package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLedgerServer(t *testing.T) (*httptest.Server, *Memory) {
	t.Helper()
	backing := NewMemory()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string                 `json:"method"`
			Params map[string]interface{} `json:"params"`
			ID     string                 `json:"id"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		write := func(result interface{}, err error) {
			resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
			if err != nil {
				resp["error"] = map[string]interface{}{"code": -32000, "message": err.Error()}
			} else {
				resp["result"] = result
			}
			json.NewEncoder(w).Encode(resp)
		}

		id := uint64(req.Params["id"].(float64))
		switch req.Method {
		case "ledger_mint":
			write(true, backing.Mint(r.Context(), req.Params["owner"].(string), id))
		case "ledger_transfer":
			write(true, backing.Transfer(r.Context(), req.Params["from"].(string), req.Params["to"].(string), id))
		case "ledger_ownerOf":
			owner, err := backing.OwnerOf(r.Context(), id)
			if err != nil {
				write("", nil)
				return
			}
			write(owner, nil)
		default:
			write(nil, nil)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, backing
}

func TestRPCClientRoundTrip(t *testing.T) {
	ctx := context.Background()
	srv, backing := newLedgerServer(t)

	client, err := NewRPCClient(RPCConfig{RPCURL: srv.URL})
	require.NoError(t, err)

	require.NoError(t, client.Mint(ctx, "alice", 0))

	owner, err := client.OwnerOf(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, "alice", owner)

	require.NoError(t, client.Transfer(ctx, "alice", "bob", 0))
	owner, err = backing.OwnerOf(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, "bob", owner)
}

func TestRPCClientErrors(t *testing.T) {
	ctx := context.Background()
	srv, _ := newLedgerServer(t)

	client, err := NewRPCClient(RPCConfig{RPCURL: srv.URL})
	require.NoError(t, err)

	// Remote rejection surfaces as an error.
	require.NoError(t, client.Mint(ctx, "alice", 0))
	err = client.Mint(ctx, "bob", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already minted")

	// Empty owner response maps to ErrUnknownToken.
	_, err = client.OwnerOf(ctx, 42)
	assert.ErrorIs(t, err, ErrUnknownToken)
}

func TestRPCClientRequiresURL(t *testing.T) {
	_, err := NewRPCClient(RPCConfig{})
	require.Error(t, err)
}
