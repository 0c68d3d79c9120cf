// Package vespa is the HTTP client for the backend search cluster: deploy,
// package download, query, and document feed/get/list.
package vespa

import "encoding/json"

// Document is one backend document to feed.
type Document struct {
	ID     string         `json:"id,omitempty"`
	Fields map[string]any `json:"fields"`
}

// FeedResponse is the backend's answer to one document feed.
type FeedResponse struct {
	// Status is the HTTP status of the feed request.
	Status int `json:"status"`
	// ID is the backend path id of the document.
	ID string `json:"id"`
	// PathID echoes the request path.
	PathID string `json:"pathId"`
	// Message carries the error message for failed feeds.
	Message string `json:"message"`
}

// FeedBatchResponse aggregates a batch feed. Responses are in input order;
// Errors is true when any document failed.
type FeedBatchResponse struct {
	Responses []FeedResponse
	Errors    bool
}

// QueryHit is one hit of a query result.
type QueryHit struct {
	ID        string         `json:"id"`
	Relevance float64        `json:"relevance"`
	Source    string         `json:"source"`
	Fields    map[string]any `json:"fields"`
}

// QueryRootFields carries hit counting info.
type QueryRootFields struct {
	TotalCount int `json:"totalCount"`
}

// QueryRoot is the root of a backend query response.
type QueryRoot struct {
	ID        string          `json:"id"`
	Relevance float64         `json:"relevance"`
	Fields    QueryRootFields `json:"fields"`
	Coverage  json.RawMessage `json:"coverage,omitempty"`
	Children  []QueryHit      `json:"children"`
}

// QueryResult is a backend query response.
type QueryResult struct {
	Root   QueryRoot       `json:"root"`
	Timing json.RawMessage `json:"timing,omitempty"`
}

// GetDocumentResponse is the response to a single-document get.
type GetDocumentResponse struct {
	PathID string         `json:"pathId"`
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

// VisitedDocument is one document of a list response.
type VisitedDocument struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

// BatchGetDocumentResponse is the response to a document list request,
// carrying an opaque continuation token for pagination.
type BatchGetDocumentResponse struct {
	PathID        string            `json:"pathId"`
	Documents     []VisitedDocument `json:"documents"`
	DocumentCount int               `json:"documentCount"`
	Continuation  string            `json:"continuation,omitempty"`
}

// errorBody is the backend's JSON error envelope.
type errorBody struct {
	ErrorCode string `json:"error-code"`
	Message   string `json:"message"`
}
