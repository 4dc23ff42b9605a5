// Package pipeline contains the asynchronous ingestion path: send
// requests published by other platform services are transformed and
// handed to the dispatch engine by a pool of workers.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"

	"github.com/rentfolio/go-push-service/pkg/push"
)

// SendRequest is the wire shape of an asynchronous send. Either Template
// (with Variables) or an inline Message is set; DeviceID optionally
// narrows the target to one device.
type SendRequest struct {
	UserID    string            `json:"user_id"`
	DeviceID  string            `json:"device_id,omitempty"`
	Template  string            `json:"template,omitempty"`
	Variables map[string]string `json:"variables,omitempty"`
	Message   push.Message      `json:"message"`

	// parsed by the transformer so workers never re-validate
	userURN urn.URN
}

// SendRequestTransformer unmarshals and validates a raw message payload.
// Malformed payloads are skipped (Nack/DLQ handled by the streaming
// service) rather than poisoning the worker loop.
func SendRequestTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*SendRequest, bool, error) {
	var req SendRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return nil, true, fmt.Errorf("failed to unmarshal send request from message %s: %w", msg.ID, err)
	}

	userURN, err := urn.Parse(req.UserID)
	if err != nil {
		return nil, true, fmt.Errorf("message %s carries invalid user id %q: %w", msg.ID, req.UserID, err)
	}
	req.userURN = userURN

	if req.Template == "" && req.Message.Title == "" {
		return nil, true, fmt.Errorf("message %s names neither template nor inline content", msg.ID)
	}

	return &req, false, nil
}
