package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/ajsuth/headstart/internal/di"
	"github.com/ajsuth/headstart/internal/handlers"
	"github.com/ajsuth/headstart/internal/platform/auth"
	"github.com/ajsuth/headstart/internal/platform/config"
	"github.com/ajsuth/headstart/internal/platform/events"
	pfirestore "github.com/ajsuth/headstart/internal/platform/firestore"
	"github.com/ajsuth/headstart/internal/platform/observability"
	"github.com/ajsuth/headstart/internal/platform/secrets"
	"github.com/ajsuth/headstart/internal/repositories"
	firestoreRepo "github.com/ajsuth/headstart/internal/repositories/firestore"
	"github.com/ajsuth/headstart/internal/services"
)

const (
	shutdownTimeout       = 10 * time.Second
	secretHealthReference = "secret://system/healthz?version=latest"
	envPubSubEmulatorHost = "PUBSUB_EMULATOR_HOST"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	envValues, err := config.EnvironmentValues()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read environment values: %v\n", err)
		os.Exit(1)
	}

	bootLogger, err := observability.NewLogger(config.LoggingConfig{Level: envValues["API_LOG_LEVEL"]})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}

	fetcher, err := newSecretFetcher(ctx, bootLogger, envValues)
	if err != nil {
		bootLogger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			bootLogger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(fetcher),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			bootLogger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		bootLogger.Fatal("failed to load configuration", zap.Error(err))
	}

	baseLogger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		bootLogger.Fatal("failed to initialise logger", zap.Error(err))
	}
	_ = bootLogger.Sync()
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("headstart")
	ctx = observability.WithLogger(ctx, logger)

	metrics := observability.NewMetrics()
	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)

	var publisher services.ShippingMethodEventPublisher
	var healthChecks []repositories.DependencyCheck
	healthChecks = append(healthChecks, secretManagerCheck(fetcher))
	if topicName := strings.TrimSpace(cfg.Shipping.EventsTopic); topicName != "" {
		client, err := newPubSubClient(ctx, cfg)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		defer func() {
			if err := client.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
		topic := client.Topic(topicName)
		eventsPublisher, err := events.NewPubSubPublisher(topic)
		if err != nil {
			logger.Fatal("failed to initialise shipping method events", zap.Error(err))
		}
		defer eventsPublisher.Stop()
		publisher = eventsPublisher
		healthChecks = append(healthChecks, repositories.DependencyCheck{
			Name:    "pubsub",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				ok, err := topic.Exists(ctx)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("topic %s not found", topicName)
				}
				return nil
			},
		})
	}

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore, firestoreClientOptions(cfg)...)
	registry, err := firestoreRepo.NewRegistry(firestoreProvider, []firestoreRepo.ShippingMethodRepositoryOption{
		firestoreRepo.WithShippingMethodsCollection(cfg.Shipping.Collection),
		firestoreRepo.WithShippingMethodsPartition(cfg.Shipping.PartitionKey),
	}, healthChecks...)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

	container, err := di.NewContainer(ctx, cfg, registry, di.Runtime{
		Logger:  logger,
		Metrics: metrics,
		Events:  publisher,
		Build:   buildInfo,
		Clock:   time.Now,
	})
	if err != nil {
		logger.Fatal("failed to build container", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("container close error", zap.Error(err))
		}
	}()

	verifier, err := newTokenVerifier(ctx, logger.Named("auth"), cfg)
	if err != nil {
		logger.Fatal("failed to initialise token verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(verifier, auth.WithMetrics(metrics))

	projectID := traceProjectID(cfg)
	opts := []handlers.Option{
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger.Named("http")),
			observability.TraceMiddleware(projectID),
			observability.RecoveryMiddleware(logger.Named("http")),
			observability.RequestLoggerMiddleware(metrics),
		),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(
			handlers.WithHealthBuildInfo(buildInfo),
			handlers.WithHealthSystemService(container.Services.System),
		)),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts,
			handlers.WithMetricsHandler(metrics.Handler()),
			handlers.WithMetricsPath(cfg.Metrics.Path),
		)
	}
	if cfg.Shipping.Provider == config.ShippingProviderCustom && container.Services.ShippingMethods != nil {
		shippingHandlers := handlers.NewShippingMethodHandlers(authenticator, container.Services.ShippingMethods)
		checkoutHandlers := handlers.NewCheckoutIntegrationHandlers(container.Services.ShippingRates,
			handlers.WithCheckoutMaxBody(cfg.Checkout.MaxBodyBytes),
		)
		opts = append(opts,
			handlers.WithShippingRoutes(shippingHandlers.Routes),
			handlers.WithIntegrationRoutes(checkoutHandlers.Routes),
			handlers.WithIntegrationMiddlewares(buildHMACMiddleware(logger.Named("auth"), metrics, cfg)),
		)
	} else {
		logger.Info("shipping routes disabled", zap.String("provider", cfg.Shipping.Provider))
	}

	router := handlers.NewRouter(opts...)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("headstart api listening",
			zap.String("version", buildInfo.Version),
			zap.String("environment", buildInfo.Environment),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: cfg.Environment,
		StartedAt:   started,
	}
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(keys ...string) string {
		for _, key := range keys {
			if value := strings.TrimSpace(env[key]); value != "" {
				return value
			}
		}
		return ""
	}

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithProject(lookup("API_SECRETS_PROJECT_ID", "API_FIRESTORE_PROJECT_ID", "API_FIREBASE_PROJECT_ID")),
	}
	if fallback := lookup("API_SECRETS_FALLBACK_FILE"); fallback != "" {
		opts = append(opts, secrets.WithFallbackFile(fallback))
	}
	if credentials := lookup("API_FIREBASE_CREDENTIALS_FILE"); credentials != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentials)))
	}
	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists the secrets startup cannot proceed without. The hash key only matters
// while the checkout integration is served.
func requiredSecretNames(env map[string]string) []string {
	provider := strings.ToLower(strings.TrimSpace(env["API_SHIPPING_PROVIDER"]))
	if provider == config.ShippingProviderNone {
		return nil
	}
	return []string{"Checkout.HashKey"}
}

func secretManagerCheck(fetcher *secrets.Fetcher) repositories.DependencyCheck {
	return repositories.DependencyCheck{
		Name:    "secretManager",
		Timeout: time.Second,
		Check: func(ctx context.Context) error {
			_, err := fetcher.Resolve(ctx, secretHealthReference)
			if err == nil {
				return nil
			}
			if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
				return nil
			}
			return err
		},
	}
}

func newPubSubClient(ctx context.Context, cfg config.Config) (*pubsub.Client, error) {
	if host := strings.TrimSpace(cfg.PubSub.EmulatorHost); host != "" && os.Getenv(envPubSubEmulatorHost) == "" {
		_ = os.Setenv(envPubSubEmulatorHost, host)
	}
	var opts []option.ClientOption
	if file := strings.TrimSpace(cfg.Firebase.CredentialsFile); file != "" && cfg.PubSub.EmulatorHost == "" {
		opts = append(opts, option.WithCredentialsFile(file))
	}
	return pubsub.NewClient(ctx, cfg.PubSub.ProjectID, opts...)
}

func firestoreClientOptions(cfg config.Config) []pfirestore.ProviderOption {
	file := strings.TrimSpace(cfg.Firebase.CredentialsFile)
	if file == "" || cfg.Firestore.EmulatorHost != "" {
		return nil
	}
	return []pfirestore.ProviderOption{pfirestore.WithClientOptions(option.WithCredentialsFile(file))}
}

func newTokenVerifier(ctx context.Context, logger *zap.Logger, cfg config.Config) (auth.TokenVerifier, error) {
	switch cfg.Auth.Provider {
	case config.AuthProviderOrderCloud:
		keys := auth.NewJWKSCache(cfg.Auth.JWKSURL, auth.WithJWKSLogger(observability.NewPrintfAdapter(logger)))
		opts := []auth.OrderCloudOption{auth.WithOrderCloudRoleClaim(cfg.Auth.RoleClaim)}
		if len(cfg.Auth.Issuers) > 0 {
			opts = append(opts, auth.WithOrderCloudIssuers(cfg.Auth.Issuers...))
		} else {
			logger.Warn("auth: no issuers configured; any issuer signed by the JWKS keys is accepted")
		}
		if aud := strings.TrimSpace(cfg.Auth.Audience); aud != "" {
			opts = append(opts, auth.WithOrderCloudAudience(aud))
		}
		return auth.NewOrderCloudVerifier(keys, opts...), nil
	case config.AuthProviderFirebase:
		verifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase, auth.WithFirebaseRoleClaim(cfg.Auth.RoleClaim))
		if err != nil {
			return nil, err
		}
		return verifier, nil
	default:
		return nil, fmt.Errorf("unsupported auth provider %q", cfg.Auth.Provider)
	}
}

func buildHMACMiddleware(logger *zap.Logger, metrics *observability.Metrics, cfg config.Config) func(http.Handler) http.Handler {
	validator := auth.NewHMACValidator(auth.StaticSecret(cfg.Checkout.HashKey),
		auth.WithHMACHeader(cfg.Checkout.SignatureHeader),
		auth.WithHMACMaxBody(cfg.Checkout.MaxBodyBytes),
		auth.WithHMACMetrics(metrics),
		auth.WithHMACLogger(observability.NewPrintfAdapter(logger)),
	)
	return validator.RequireSignature()
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}
