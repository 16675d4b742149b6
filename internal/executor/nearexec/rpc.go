// Package nearexec implements internal/executor.Executor for NEAR. No NEAR
// Go SDK exists in the retrieval pack, so this talks to NEAR's JSON-RPC
// interface directly, following the teacher's internal/httputil (tuned
// *http.Client) + internal/rpcutil (WithRetry) idiom used everywhere else
// transient RPC errors need a retry policy.
package nearexec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/cedros-labs/payment-engine/internal/httputil"
	"github.com/cedros-labs/payment-engine/internal/rpcutil"
)

type rpcClient struct {
	url    string
	client *http.Client
	nextID int
}

func newRPCClient(url string) *rpcClient {
	return &rpcClient{url: url, client: httputil.NewClient(defaultTimeout)}
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      string      `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

type rpcError struct {
	Name string `json:"name"`
	Cause struct {
		Name string `json:"name"`
	} `json:"cause"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("near rpc: %s (%s)", e.Name, e.Cause.Name)
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (c *rpcClient) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	c.nextID++
	reqBody, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: fmt.Sprintf("req-%d", c.nextID), Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("near rpc: marshal request: %w", err)
	}

	_, err = rpcutil.WithRetry(ctx, func() (struct{}, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(reqBody))
		if err != nil {
			return struct{}{}, fmt.Errorf("near rpc: build request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(httpReq)
		if err != nil {
			return struct{}{}, fmt.Errorf("near rpc: %w", err)
		}
		defer resp.Body.Close()

		var rpcResp rpcResponse
		if decodeErr := json.NewDecoder(resp.Body).Decode(&rpcResp); decodeErr != nil {
			return struct{}{}, fmt.Errorf("near rpc: decode response: %w", decodeErr)
		}
		if rpcResp.Error != nil {
			return struct{}{}, rpcResp.Error
		}
		if out != nil {
			if err := json.Unmarshal(rpcResp.Result, out); err != nil {
				return struct{}{}, fmt.Errorf("near rpc: decode result: %w", err)
			}
		}
		return struct{}{}, nil
	})
	return err
}
