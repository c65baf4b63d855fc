// Package detection implements server probing and the client-side
// WaitForServer poll loop (spec.md §4.3), grounded on
// original_source/nexus3/rpc/detection.py.
package detection

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Result classifies the outcome of a single probe.
type Result string

const (
	NoServer    Result = "NO_SERVER"
	Timeout     Result = "TIMEOUT"
	NexusServer Result = "NEXUS_SERVER"
	OtherServer Result = "OTHER_SERVICE"
	ErrorResult Result = "ERROR"
)

// probeRequestBody is the fixed list_agents probe body.
var probeRequestBody = []byte(`{"jsonrpc":"2.0","method":"list_agents","id":"__detect__"}`)

// DetectServer sends a single JSON-RPC list_agents probe to host:port and
// classifies the response per the table in spec.md §4.3.
func DetectServer(ctx context.Context, host string, port int, token string, timeout time.Duration) Result {
	url := fmt.Sprintf("http://%s:%d/", host, port)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(probeRequestBody))
	if err != nil {
		return ErrorResult
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return Timeout
		}
		if isConnRefused(err) {
			return NoServer
		}
		return ErrorResult
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return NexusServer
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return OtherServer
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return ErrorResult
	}
	if analyzeResponse(body) {
		return NexusServer
	}
	return OtherServer
}

// analyzeResponse implements _analyze_response: must be a JSON object with
// jsonrpc=="2.0", an "id" key, and exactly one of result/error; if result,
// it must be an object with a list-valued "agents" key.
func analyzeResponse(body []byte) bool {
	var generic map[string]json.RawMessage
	if err := json.Unmarshal(body, &generic); err != nil {
		return false
	}
	var version string
	if raw, ok := generic["jsonrpc"]; ok {
		_ = json.Unmarshal(raw, &version)
	}
	if version != "2.0" {
		return false
	}
	if _, ok := generic["id"]; !ok {
		return false
	}
	_, hasResult := generic["result"]
	_, hasError := generic["error"]
	if hasResult == hasError {
		return false
	}
	if hasError {
		return true
	}
	var result struct {
		Agents []json.RawMessage `json:"agents"`
	}
	if err := json.Unmarshal(generic["result"], &result); err != nil {
		return false
	}
	return result.Agents != nil
}

func isConnRefused(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	return false
}

// WaitForServer polls DetectServer at pollInterval until it observes
// NexusServer or timeout elapses. Per-probe timeout is capped at
// min(1s, timeout/10). Every other result keeps polling.
func WaitForServer(ctx context.Context, host string, port int, token string, timeout, pollInterval time.Duration) (Result, error) {
	probeTimeout := timeout / 10
	if probeTimeout > time.Second {
		probeTimeout = time.Second
	}
	if probeTimeout <= 0 {
		probeTimeout = 100 * time.Millisecond
	}

	deadline := time.Now().Add(timeout)
	b := backoff.WithContext(&backoff.ConstantBackOff{Interval: pollInterval}, ctx)

	var last Result
	op := func() error {
		if time.Now().After(deadline) {
			return backoff.Permanent(fmt.Errorf("timed out waiting for server"))
		}
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		defer cancel()
		last = DetectServer(probeCtx, host, port, token, probeTimeout)
		if last == NexusServer {
			return nil
		}
		return fmt.Errorf("not yet a nexus server: %s", last)
	}

	if err := backoff.Retry(op, b); err != nil {
		return last, err
	}
	return NexusServer, nil
}
