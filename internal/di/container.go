package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ajsuth/headstart/internal/platform/config"
	"github.com/ajsuth/headstart/internal/platform/observability"
	"github.com/ajsuth/headstart/internal/repositories"
	"github.com/ajsuth/headstart/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	ShippingMethods services.ShippingMethodService
	ShippingRates   services.ShippingRateService
	System          services.SystemService
}

// Runtime carries process-wide collaborators that are not repositories.
type Runtime struct {
	Logger  *zap.Logger
	Metrics *observability.Metrics
	// Events is optional; without it writes are not announced.
	Events services.ShippingMethodEventPublisher
	Build  services.BuildInfo
	Clock  func() time.Time
}

// Container wires repositories and services for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services

	cache *services.ApplicableMethodsCache
}

// NewContainer constructs the runtime dependencies. Tests can supply in-memory registries.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, rt Runtime) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}
	if rt.Logger == nil {
		rt.Logger = zap.NewNop()
	}
	if rt.Clock == nil {
		rt.Clock = time.Now
	}

	cache := services.NewApplicableMethodsCache(cfg.Shipping.CacheTTL)
	svc, err := buildServices(ctx, reg, cfg, rt, cache)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
		cache:        cache,
	}, nil
}

// Close flushes caches and releases repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	c.cache.Flush()
	if c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, rt Runtime, cache *services.ApplicableMethodsCache) (Services, error) {
	var svc Services

	if methodsRepo := reg.ShippingMethods(); methodsRepo != nil {
		methodSvc, err := services.NewShippingMethodService(services.ShippingMethodServiceDeps{
			Repository:      methodsRepo,
			Cache:           cache,
			Events:          rt.Events,
			Clock:           rt.Clock,
			Logger:          observability.EventLogger(rt.Logger.Named("shipping_methods")),
			PartitionKey:    cfg.Shipping.PartitionKey,
			ApplicableLimit: cfg.Shipping.ApplicableLimit,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build shipping method service: %w", err)
		}
		svc.ShippingMethods = methodSvc

		rateSvc, err := services.NewShippingRateService(services.ShippingRateServiceDeps{
			Methods: methodSvc,
			Metrics: rt.Metrics,
			Clock:   rt.Clock,
			Logger:  observability.EventLogger(rt.Logger.Named("shipping_rates")),
		})
		if err != nil {
			return Services{}, fmt.Errorf("build shipping rate service: %w", err)
		}
		svc.ShippingRates = rateSvc
	}

	if healthRepo := reg.Health(); healthRepo != nil {
		build := rt.Build
		if build.Environment == "" {
			build.Environment = cfg.Environment
		}
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            rt.Clock,
			Build:            build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}
