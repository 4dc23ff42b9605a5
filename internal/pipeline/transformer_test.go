package pipeline_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rentfolio/go-push-service/internal/pipeline"
)

func payloadOf(t *testing.T, v interface{}) []byte {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func TestSendRequestTransformer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	testCases := []struct {
		name                  string
		inputMessage          *messagepipeline.Message
		expectError           bool
		expectedErrorContains string
	}{
		{
			name: "Happy Path - Inline message",
			inputMessage: &messagepipeline.Message{
				MessageData: messagepipeline.MessageData{ID: "msg-1", Payload: payloadOf(t, map[string]interface{}{
					"user_id": "urn:sm:user:user-123",
					"message": map[string]string{"title": "Hi", "body": "There"},
				})},
			},
			expectError: false,
		},
		{
			name: "Happy Path - Templated",
			inputMessage: &messagepipeline.Message{
				MessageData: messagepipeline.MessageData{ID: "msg-2", Payload: payloadOf(t, map[string]interface{}{
					"user_id":   "urn:sm:user:user-123",
					"template":  "rent_due",
					"variables": map[string]string{"amount": "$950"},
				})},
			},
			expectError: false,
		},
		{
			name: "Failure - Malformed JSON",
			inputMessage: &messagepipeline.Message{
				MessageData: messagepipeline.MessageData{ID: "msg-3", Payload: []byte("not-json")},
			},
			expectError:           true,
			expectedErrorContains: "failed to unmarshal send request",
		},
		{
			name: "Failure - Invalid URN",
			inputMessage: &messagepipeline.Message{
				MessageData: messagepipeline.MessageData{ID: "msg-4", Payload: payloadOf(t, map[string]interface{}{
					"user_id": "not-a-valid-urn",
					"message": map[string]string{"title": "Hi", "body": "There"},
				})},
			},
			expectError:           true,
			expectedErrorContains: "invalid user id",
		},
		{
			name: "Failure - Neither template nor inline content",
			inputMessage: &messagepipeline.Message{
				MessageData: messagepipeline.MessageData{ID: "msg-5", Payload: payloadOf(t, map[string]interface{}{
					"user_id": "urn:sm:user:user-123",
				})},
			},
			expectError:           true,
			expectedErrorContains: "neither template nor inline content",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req, skip, err := pipeline.SendRequestTransformer(ctx, tc.inputMessage)

			if tc.expectError {
				require.Error(t, err)
				assert.True(t, skip, "poison payloads must be skipped, not retried")
				assert.Contains(t, err.Error(), tc.expectedErrorContains)
			} else {
				require.NoError(t, err)
				assert.False(t, skip)
				assert.NotNil(t, req)
			}
		})
	}
}
