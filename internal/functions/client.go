// Package functions is a client for the backend's HTTPS callable endpoints.
// Requests and responses use the callable protocol: the arguments travel in a
// {"data": ...} envelope and the reply carries either {"result": ...} or an
// {"error": {"message", "status"}} object with a canonical gRPC status name.
package functions

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
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Client calls backend functions over HTTPS.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// New creates a client for the given base URL, e.g.
// https://us-central1-myproject.cloudfunctions.net.
func New(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type callEnvelope struct {
	Data any `json:"data"`
}

type replyEnvelope struct {
	Result json.RawMessage `json:"result"`
	Error  *callError      `json:"error"`
}

type callError struct {
	Message string `json:"message"`
	Status  string `json:"status"`
}

// Call invokes one named function and returns the raw result payload.
// Backend errors come back as gRPC status errors so callers can classify
// them with the same predicates used for store errors.
func (c *Client) Call(ctx context.Context, name string, args any) (json.RawMessage, error) {
	body, err := json.Marshal(callEnvelope{Data: args})
	if err != nil {
		return nil, fmt.Errorf("encode %s args: %w", name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+name, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, status.Errorf(codes.Unavailable, "call %s: %v", name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s reply: %w", name, err)
	}

	var reply replyEnvelope
	if err := json.Unmarshal(raw, &reply); err != nil {
		return nil, fmt.Errorf("decode %s reply (http %d): %w", name, resp.StatusCode, err)
	}
	if reply.Error != nil {
		return nil, status.Error(parseCode(reply.Error.Status), reply.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, status.Errorf(codes.Unknown, "call %s: http %d", name, resp.StatusCode)
	}
	return reply.Result, nil
}

// parseCode maps a canonical status name like "PERMISSION_DENIED" to its
// code. Unrecognized names fall back to Unknown.
func parseCode(name string) codes.Code {
	var code codes.Code
	if err := code.UnmarshalJSON([]byte(`"` + name + `"`)); err != nil {
		return codes.Unknown
	}
	return code
}

// MarkMessageDelivered records a delivery receipt on the backend so other
// participants' devices see the state change.
func (c *Client) MarkMessageDelivered(ctx context.Context, messageID, userID string) error {
	_, err := c.Call(ctx, "markMessageDelivered", map[string]string{
		"messageId": messageID,
		"userId":    userID,
	})
	return err
}

// MarkMessageRead records a read receipt on the backend.
func (c *Client) MarkMessageRead(ctx context.Context, messageID, userID string) error {
	_, err := c.Call(ctx, "markMessageRead", map[string]string{
		"messageId": messageID,
		"userId":    userID,
	})
	return err
}

// MarkConversationMessagesRead bulk-marks every unread message in a
// conversation as read by userID and returns how many the backend updated.
func (c *Client) MarkConversationMessagesRead(ctx context.Context, conversationID, userID string) (int, error) {
	raw, err := c.Call(ctx, "markConversationMessagesRead", map[string]string{
		"conversationId": conversationID,
		"userId":         userID,
	})
	if err != nil {
		return 0, err
	}
	var result struct {
		UpdatedCount int `json:"updatedCount"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return 0, fmt.Errorf("decode markConversationMessagesRead result: %w", err)
	}
	return result.UpdatedCount, nil
}
