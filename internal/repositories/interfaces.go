package repositories

import (
	"context"
	"errors"

	"github.com/ajsuth/headstart/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	ShippingMethods() ShippingMethodRepository
	Health() HealthRepository
}

var (
	// ErrInvalidCursor is returned when a continuation cursor names a document that no longer exists.
	ErrInvalidCursor = errors.New("repositories: continuation cursor no longer valid")
	// ErrInvalidFilter is returned when a filter value cannot be coerced to the stored field type.
	ErrInvalidFilter = errors.New("repositories: invalid filter")
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// ShippingMethodRepository persists shipping methods under a single partition key.
// Implementations return RepositoryError values for not-found, conflict and availability failures.
type ShippingMethodRepository interface {
	// Insert stores a new method. Conflict when the ID exists or a unique key collides.
	Insert(ctx context.Context, method domain.ShippingMethod) (domain.ShippingMethod, error)
	// Upsert creates or replaces the method with the same ID.
	Upsert(ctx context.Context, method domain.ShippingMethod) (domain.ShippingMethod, error)
	FindByID(ctx context.Context, id string) (domain.ShippingMethod, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, query ShippingMethodQuery) (domain.ListPage[domain.ShippingMethod], error)
	ListApplicable(ctx context.Context, query ApplicableQuery) ([]domain.ShippingMethod, error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// ShippingMethodQuery is a validated list request. Field names are document field names.
type ShippingMethodQuery struct {
	PageSize int
	// After is the ID of the last document on the previous page.
	After    string
	OrderBy  string
	Desc     bool
	Filters  []FieldFilter
	Search   string
	SearchOn string
}

// FieldFilter is a single comparison against a document field. Op uses Firestore operator spelling.
type FieldFilter struct {
	Field string
	Op    string
	Value string
}

// ApplicableQuery selects the active methods offered for a currency.
type ApplicableQuery struct {
	Currency string
	// Storefronts restricts results when non-empty.
	Storefronts []string
	Limit       int
}
