// Package directory is the client half of the trust-chain agent's peer
// registry (spec.md §6.2): announce this agent's AgentInfo on startup,
// withdraw it on shutdown, and look up everyone else's via the JSON-RPC
// directory config.Directory.URL points at. Liveness of what the
// directory hands back is the directory's problem, not this client's
// (spec.md §6) — a registration only ever disappears on explicit
// Unregister.
package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/trustmesh-net/trustchaind/internal/wire"
)

// Client calls a directory server's register/unregister/agents methods
// over JSON-RPC 2.0 HTTP, the same request/response shape the teacher's
// JSON-RPC backend client uses against a node's RPC endpoint.
type Client struct {
	url        string
	httpClient *http.Client
	requestID  atomic.Uint64
}

// New builds a Client pointed at a directory's JSON-RPC endpoint. An
// empty url disables the directory entirely; callers should check for
// that before constructing a Client (config.DirectoryConfig.URL).
func New(url string) *Client {
	return &Client{
		url:        url,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Register announces self to the directory. Re-registering the same
// public key just refreshes its AgentInfo.
func (c *Client) Register(ctx context.Context, self wire.AgentInfo) error {
	_, err := c.call(ctx, "register", map[string]interface{}{"agent": self})
	return err
}

// Unregister withdraws self's registration.
func (c *Client) Unregister(ctx context.Context, self wire.AgentInfo) error {
	_, err := c.call(ctx, "unregister", map[string]interface{}{"agent": self})
	return err
}

// Agents returns every agent currently registered.
func (c *Client) Agents(ctx context.Context) ([]wire.AgentInfo, error) {
	result, err := c.call(ctx, "agents", nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Agents []wire.AgentInfo `json:"agents"`
	}
	if err := json.Unmarshal(result, &out); err != nil {
		return nil, fmt.Errorf("parse agents response: %w", err)
	}
	return out.Agents, nil
}

func (c *Client) call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	id := c.requestID.Add(1)
	request := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  method,
		"params":  params,
	}

	data, err := json.Marshal(request)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var response struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      uint64          `json:"id"`
		Result  json.RawMessage `json:"result"`
		Error   *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("parse directory response: %w", err)
	}
	if response.Error != nil {
		return nil, fmt.Errorf("directory error %d: %s", response.Error.Code, response.Error.Message)
	}
	return response.Result, nil
}
