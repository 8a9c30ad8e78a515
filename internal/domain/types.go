package domain

import (
	"time"
)

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// ListFilter narrows a listing by a single property. The expression carries an optional comparison
// prefix (=, !, >, <, >=, <=) followed by the value.
type ListFilter struct {
	PropertyName     string
	FilterExpression string
}

// ListOptions describes a paginated, optionally searched and filtered listing.
type ListOptions struct {
	PageSize          int
	ContinuationToken string
	Search            string
	SearchOn          string
	Sort              string
	SortDirection     SortOrder
	Filters           []ListFilter
}

// ListPage is a single page of results plus the opaque token for resuming the listing.
type ListPage[T any] struct {
	Items             []T
	ContinuationToken string
}

// UniqueKey names a set of document fields whose combined values must be unique within a partition.
type UniqueKey struct {
	Fields []string
}

// UniqueKeyed is implemented by persisted models that declare unique-key constraints.
type UniqueKeyed interface {
	UniqueKeys() []UniqueKey
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}
