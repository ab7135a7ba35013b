package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hivemind-ai/hive/internal/tracing"
)

// ActionFunc is a caller-provided step implementation. params is the step's
// static config; bag is the live execution context (reads are safe, writes
// land in the shared bag).
type ActionFunc func(ctx context.Context, params map[string]interface{}, bag map[string]interface{}) (interface{}, error)

// RegisterAction adds or replaces a named action.
func (e *Engine) RegisterAction(name string, fn ActionFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.actions[name] = fn
}

// builtinActions wires the actions every engine carries: log, setVariable,
// and httpRequest.
func builtinActions(logger *zap.Logger, client *http.Client) map[string]ActionFunc {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return map[string]ActionFunc{
		"log": func(_ context.Context, params map[string]interface{}, _ map[string]interface{}) (interface{}, error) {
			msg, _ := params["message"].(string)
			logger.Info("Workflow log step", zap.String("message", msg))
			return msg, nil
		},
		"setVariable": func(_ context.Context, params map[string]interface{}, bag map[string]interface{}) (interface{}, error) {
			name, _ := params["name"].(string)
			if name == "" {
				return nil, fmt.Errorf("setVariable: name is required")
			}
			bag[name] = params["value"]
			return params["value"], nil
		},
		"httpRequest": func(ctx context.Context, params map[string]interface{}, _ map[string]interface{}) (interface{}, error) {
			return httpRequestAction(ctx, client, params)
		},
	}
}

func httpRequestAction(ctx context.Context, client *http.Client, params map[string]interface{}) (interface{}, error) {
	url, _ := params["url"].(string)
	if url == "" {
		return nil, fmt.Errorf("httpRequest: url is required")
	}
	method, _ := params["method"].(string)
	if method == "" {
		method = http.MethodGet
	}
	method = strings.ToUpper(method)

	var body io.Reader
	if raw, ok := params["body"]; ok && raw != nil {
		encoded, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("httpRequest: encode body: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("httpRequest: %w", err)
	}
	tracing.InjectTraceparent(ctx, req)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if headers, ok := params["headers"].(map[string]interface{}); ok {
		for k, v := range headers {
			if s, ok := v.(string); ok {
				req.Header.Set(k, s)
			}
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("httpRequest: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("httpRequest: read body: %w", err)
	}

	result := map[string]interface{}{
		"status": resp.StatusCode,
	}
	var decoded interface{}
	if json.Unmarshal(payload, &decoded) == nil {
		result["body"] = decoded
	} else {
		result["body"] = string(payload)
	}
	if resp.StatusCode >= 400 {
		return result, fmt.Errorf("httpRequest: %s %s returned %d", method, url, resp.StatusCode)
	}
	return result, nil
}
