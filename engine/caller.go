package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/a2aflow/a2aflow/a2aerrors"
)

// AgentCaller invokes a single skill on a remote agent and waits for its
// result. Production code uses jsonRPCCaller; tests substitute a fake.
type AgentCaller interface {
	CallSkill(ctx context.Context, agentURL, skillID string, params map[string]any) (any, error)
}

type (
	rpcRequest struct {
		JSONRPC string `json:"jsonrpc"`
		Method  string `json:"method"`
		ID      string `json:"id"`
		Params  any    `json:"params,omitempty"`
	}

	rpcResponse struct {
		JSONRPC string          `json:"jsonrpc"`
		Result  json.RawMessage `json:"result"`
		Error   *rpcError       `json:"error"`
		ID      string          `json:"id"`
	}

	rpcError struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Data    any    `json:"data,omitempty"`
	}
)

func (e *rpcError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("agent error %d: %s", e.Code, e.Message)
}

// jsonRPCCaller invokes an agent's skill by posting a JSON-RPC 2.0 envelope
// to {agentURL}/execute.
type jsonRPCCaller struct {
	http *http.Client
}

func newJSONRPCCaller(httpClient *http.Client) *jsonRPCCaller {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &jsonRPCCaller{http: httpClient}
}

// CallSkill posts params as the JSON-RPC request params for method skillID
// and returns the decoded result value, or an AgentError/AgentTransportError
// describing the failure.
func (c *jsonRPCCaller) CallSkill(ctx context.Context, agentURL, skillID string, params map[string]any) (any, error) {
	req := rpcRequest{
		JSONRPC: "2.0",
		Method:  skillID,
		ID:      uuid.NewString(),
		Params:  params,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, &a2aerrors.AgentTransportError{URL: agentURL, Err: err}
	}

	endpoint := agentURL + "/execute"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &a2aerrors.AgentTransportError{URL: agentURL, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &a2aerrors.AgentTransportError{URL: agentURL, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &a2aerrors.AgentTransportError{URL: agentURL, Err: fmt.Errorf("http status %d", resp.StatusCode)}
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, &a2aerrors.AgentTransportError{URL: agentURL, Err: err}
	}
	if rpcResp.Error != nil {
		return nil, &a2aerrors.AgentError{Code: rpcResp.Error.Code, Message: rpcResp.Error.Message, Data: rpcResp.Error.Data}
	}

	var result any = map[string]any{}
	if len(rpcResp.Result) > 0 {
		if err := json.Unmarshal(rpcResp.Result, &result); err != nil {
			return nil, &a2aerrors.AgentTransportError{URL: agentURL, Err: err}
		}
	}
	return result, nil
}
