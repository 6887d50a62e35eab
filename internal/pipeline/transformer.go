// Package pipeline contains the core message processing components for the service.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
)

// DispatchRequestTransformer is a dataflow Transformer that safely unmarshals
// and validates a raw message payload into a DispatchRequest.
func DispatchRequestTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*DispatchRequest, bool, error) {
	var req DispatchRequest

	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		// skip=true so the StreamingService can handle the Nack/DLQ logic.
		return nil, true, fmt.Errorf("failed to unmarshal dispatch request from message %s: %w", msg.ID, err)
	}
	if err := req.Validate(); err != nil {
		return nil, true, fmt.Errorf("invalid dispatch request in message %s: %w", msg.ID, err)
	}

	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	return &req, false, nil
}
