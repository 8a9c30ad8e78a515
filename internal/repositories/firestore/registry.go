package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/api/iterator"

	pfirestore "github.com/ajsuth/headstart/internal/platform/firestore"
	"github.com/ajsuth/headstart/internal/repositories"
)

const firestoreHealthTimeout = 1500 * time.Millisecond

// Registry is the Firestore-backed repositories.Registry.
type Registry struct {
	provider *pfirestore.Provider
	methods  *ShippingMethodRepository
	health   repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry builds the repositories over provider. Extra checks join the firestore probe in Health.
func NewRegistry(provider *pfirestore.Provider, methodOpts []ShippingMethodRepositoryOption, extraChecks ...repositories.DependencyCheck) (*Registry, error) {
	methods, err := NewShippingMethodRepository(provider, methodOpts...)
	if err != nil {
		return nil, err
	}
	checks := append([]repositories.DependencyCheck{{
		Name:    "firestore",
		Timeout: firestoreHealthTimeout,
		Check:   pingFirestore(provider),
	}}, extraChecks...)
	health, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	return &Registry{provider: provider, methods: methods, health: health}, nil
}

func (r *Registry) ShippingMethods() repositories.ShippingMethodRepository {
	if r == nil || r.methods == nil {
		return nil
	}
	return r.methods
}

func (r *Registry) Health() repositories.HealthRepository {
	if r == nil {
		return nil
	}
	return r.health
}

// Close releases the Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

func pingFirestore(provider *pfirestore.Provider) func(context.Context) error {
	return func(ctx context.Context) error {
		client, err := provider.Client(ctx)
		if err != nil {
			return err
		}
		_, err = client.Collections(ctx).Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		return err
	}
}
