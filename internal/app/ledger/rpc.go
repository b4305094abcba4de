package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// RPCConfig holds remote ledger client configuration.
type RPCConfig struct {
	RPCURL  string
	Timeout time.Duration
}

// RPCClient talks JSON-RPC 2.0 to a remote ownership ledger node.
type RPCClient struct {
	rpcURL     string
	httpClient *http.Client
}

var _ Ledger = (*RPCClient)(nil)

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      string      `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
	ID      string          `json:"id"`
}

// NewRPCClient creates a remote ledger client.
func NewRPCClient(cfg RPCConfig) (*RPCClient, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("RPC URL required")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &RPCClient{
		rpcURL: cfg.RPCURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

func (c *RPCClient) call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	req := rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      uuid.NewString(),
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}
	return rpcResp.Result, nil
}

func (c *RPCClient) Mint(ctx context.Context, owner string, id uint64) error {
	_, err := c.call(ctx, "ledger_mint", map[string]interface{}{
		"owner": owner,
		"id":    id,
	})
	return err
}

func (c *RPCClient) Transfer(ctx context.Context, from, to string, id uint64) error {
	_, err := c.call(ctx, "ledger_transfer", map[string]interface{}{
		"from": from,
		"to":   to,
		"id":   id,
	})
	return err
}

func (c *RPCClient) OwnerOf(ctx context.Context, id uint64) (string, error) {
	result, err := c.call(ctx, "ledger_ownerOf", map[string]interface{}{
		"id": id,
	})
	if err != nil {
		return "", err
	}

	var owner string
	if err := json.Unmarshal(result, &owner); err != nil {
		return "", fmt.Errorf("unmarshal owner: %w", err)
	}
	if owner == "" {
		return "", fmt.Errorf("token %d: %w", id, ErrUnknownToken)
	}
	return owner, nil
}

func (c *RPCClient) BalanceOf(ctx context.Context, owner string) (int, error) {
	result, err := c.call(ctx, "ledger_balanceOf", map[string]interface{}{
		"owner": owner,
	})
	if err != nil {
		return 0, err
	}

	var balance int
	if err := json.Unmarshal(result, &balance); err != nil {
		return 0, fmt.Errorf("unmarshal balance: %w", err)
	}
	return balance, nil
}
