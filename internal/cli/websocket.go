package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"

	"github.com/coderunr/evaluator/internal/types"
	"github.com/fatih/color"
	"github.com/gorilla/websocket"
)

// wsMessage mirrors types.WebSocketMessage with a deferred payload
type wsMessage struct {
	Type     string          `json:"type"`
	Error    string          `json:"error,omitempty"`
	Index    *int            `json:"index,omitempty"`
	Language string          `json:"language,omitempty"`
	Version  string          `json:"version,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// evaluateStream evaluates on the server over WebSocket, printing each
// result as it arrives when print is set
func evaluateStream(ctx context.Context, baseURL string, request types.EvaluateRequest, print, verbose bool) (*types.ExecutionResponse, error) {
	// Convert HTTP URL to WebSocket URL
	wsURL, err := convertToWebSocketURL(baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to convert URL: %w", err)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL+"/api/v2/connect", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to WebSocket: %w", err)
	}
	defer conn.Close()

	if verbose {
		fmt.Printf("Connected to WebSocket: %s\n", wsURL+"/api/v2/connect")
	}

	// Writer mutex to serialize writes
	var writeMu sync.Mutex
	writeJSON := func(v interface{}) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(v)
	}

	// Ask the server to stop on interrupt
	stopCancel := context.AfterFunc(ctx, func() {
		_ = writeJSON(types.WebSocketMessage{Type: "cancel"})
	})
	defer stopCancel()

	if err := writeJSON(types.WebSocketMessage{Type: "init", Payload: request}); err != nil {
		return nil, fmt.Errorf("failed to send init request: %w", err)
	}

	bold := color.New(color.Bold)
	red := color.New(color.FgRed)
	if print {
		bold.Println("== Results ==")
	}

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return nil, fmt.Errorf("connection closed before completion: %w", err)
		}

		switch msg.Type {
		case "runtime":
			if verbose {
				fmt.Printf("Runtime: %s %s\n", msg.Language, msg.Version)
			}

		case "result":
			var result types.TestResult
			if err := json.Unmarshal(msg.Payload, &result); err != nil {
				return nil, fmt.Errorf("failed to decode result: %w", err)
			}
			if print {
				printResult(result, verbose)
			}

		case "complete":
			var response types.ExecutionResponse
			if err := json.Unmarshal(msg.Payload, &response); err != nil {
				return nil, fmt.Errorf("failed to decode response: %w", err)
			}
			return &response, nil

		case "error":
			red.Printf("Error: %s\n", msg.Error)
			return nil, fmt.Errorf("evaluation error: %s", msg.Error)

		default:
			if verbose {
				fmt.Printf("Unknown message type: %s\n", msg.Type)
			}
		}
	}
}

func convertToWebSocketURL(httpURL string) (string, error) {
	u, err := url.Parse(httpURL)
	if err != nil {
		return "", err
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported URL scheme: %s", u.Scheme)
	}

	return u.String(), nil
}
