package server

import (
	"llmstreambench/internal/catalog"
	"llmstreambench/internal/history"
)

// TestResponse is returned when a test task was started.
type TestResponse struct {
	TaskID  string `json:"task_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// AddModelRequest is the body of POST /api/models.
type AddModelRequest struct {
	Name       string `json:"name"`
	Endpoint   string `json:"endpoint"`
	APIKey     string `json:"api_key"`
	APIVersion string `json:"api_version"`
}

// ModelsResponse lists the configured models without their keys.
type ModelsResponse struct {
	Models []catalog.Info `json:"models"`
}

// DetailResponse carries a human readable outcome.
type DetailResponse struct {
	Detail string `json:"detail"`
}

// HistoryListResponse is the body of GET /api/history.
type HistoryListResponse struct {
	Status  string         `json:"status"`
	Count   int            `json:"count"`
	Records []history.Item `json:"records"`
}

// HistoryRecordResponse is the body of GET /api/history/{id}.
type HistoryRecordResponse struct {
	Status string         `json:"status"`
	Record history.Record `json:"record"`
}

// StatusResponse acknowledges a history mutation.
type StatusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status      string `json:"status"`
	ActiveTasks int    `json:"active_tasks"`
}

// ErrorResponse represents a standard error response. Detail repeats the
// message for clients that only read that field.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
	Detail  string `json:"detail,omitempty"`
}
