package main

import "github.com/prospectiq/cortex/engine"

// API request and response models

// ExecuteRequest asks the active (or experiment-assigned) engine to
// run one named rule against an input attribute bag.
type ExecuteRequest struct {
	Rule     string         `json:"rule"`
	Input    map[string]any `json:"input"`
	EntityID string         `json:"entityId,omitempty"`
}

// ExecuteResponse wraps an execution result with a server-assigned id
// for audit correlation.
type ExecuteResponse struct {
	ExecutionID string                  `json:"executionId"`
	Result      *engine.ExecutionResult `json:"result"`
}
