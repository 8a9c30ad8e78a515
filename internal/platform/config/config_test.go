package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ajsuth/headstart/internal/domain"
)

func TestLoadWithDefaults(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID": "hs-dev",
	}

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Firestore.ProjectID != "hs-dev" {
		t.Errorf("expected firestore project to default to firebase project, got %s", cfg.Firestore.ProjectID)
	}
	if cfg.PubSub.ProjectID != "hs-dev" || cfg.Secrets.ProjectID != "hs-dev" {
		t.Errorf("expected dependent projects to default, got pubsub=%s secrets=%s", cfg.PubSub.ProjectID, cfg.Secrets.ProjectID)
	}
	if cfg.Environment != "local" {
		t.Errorf("expected default environment local, got %s", cfg.Environment)
	}
	if cfg.Auth.Provider != AuthProviderFirebase {
		t.Errorf("expected firebase auth provider, got %s", cfg.Auth.Provider)
	}
	if cfg.Shipping.Provider != ShippingProviderCustom {
		t.Errorf("expected custom shipping provider, got %s", cfg.Shipping.Provider)
	}
	if cfg.Shipping.PartitionKey != domain.DefaultPartitionKey {
		t.Errorf("expected default partition key, got %s", cfg.Shipping.PartitionKey)
	}
	if cfg.Shipping.Collection != defaultShippingCollection {
		t.Errorf("unexpected collection %s", cfg.Shipping.Collection)
	}
	if cfg.Shipping.ApplicableLimit != 100 {
		t.Errorf("unexpected applicable limit %d", cfg.Shipping.ApplicableLimit)
	}
	if cfg.Shipping.CacheTTL != 0 {
		t.Errorf("expected cache disabled by default, got %s", cfg.Shipping.CacheTTL)
	}
	if cfg.Checkout.SignatureHeader != "X-oc-hash" {
		t.Errorf("expected default signature header, got %s", cfg.Checkout.SignatureHeader)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Path != "/metrics" {
		t.Errorf("unexpected metrics config %+v", cfg.Metrics)
	}
	if len(cfg.Auth.Issuers) != 0 {
		t.Errorf("expected no issuers, got %v", cfg.Auth.Issuers)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"API_ENVIRONMENT":               "PROD",
		"API_SERVER_PORT":               "9090",
		"API_SERVER_IDLE_TIMEOUT":       "2m",
		"API_FIRESTORE_PROJECT_ID":      "hs-fire",
		"API_AUTH_PROVIDER":             "ordercloud",
		"API_AUTH_JWKS_URL":             "https://auth.example.com/oauth/certs",
		"API_AUTH_ISSUERS":              "https://auth.example.com, https://sandbox.example.com",
		"API_AUTH_ROLE_CLAIM":           "roles",
		"API_SHIPPING_PARTITION_KEY":    "tenant-a",
		"API_SHIPPING_APPLICABLE_LIMIT": "25",
		"API_SHIPPING_CACHE_TTL":        "30s",
		"API_SHIPPING_EVENTS_TOPIC":     "shipping-methods",
		"API_CHECKOUT_HASH_KEY":         "secret://checkout/hash-key",
		"API_LOG_FILE":                  "/var/log/headstart.log",
		"API_LOG_FILE_MAX_BACKUPS":      "3",
		"API_METRICS_ENABLED":           "off",
	}
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if ref == "secret://checkout/hash-key" {
			return "resolved-key", nil
		}
		return "", errors.New("unexpected ref")
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Environment != "prod" {
		t.Errorf("expected lowercased environment, got %s", cfg.Environment)
	}
	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Server.IdleTimeout != 2*time.Minute {
		t.Errorf("unexpected idle timeout: %s", cfg.Server.IdleTimeout)
	}
	if cfg.Auth.Provider != AuthProviderOrderCloud || cfg.Auth.RoleClaim != "roles" {
		t.Errorf("unexpected auth config %+v", cfg.Auth)
	}
	if len(cfg.Auth.Issuers) != 2 {
		t.Fatalf("expected 2 issuers, got %v", cfg.Auth.Issuers)
	}
	if cfg.Shipping.PartitionKey != "tenant-a" {
		t.Errorf("unexpected partition key %s", cfg.Shipping.PartitionKey)
	}
	if cfg.Shipping.ApplicableLimit != 25 || cfg.Shipping.CacheTTL != 30*time.Second {
		t.Errorf("unexpected shipping config %+v", cfg.Shipping)
	}
	if cfg.Checkout.HashKey != "resolved-key" {
		t.Errorf("expected resolved hash key, got %s", cfg.Checkout.HashKey)
	}
	if cfg.Logging.File != "/var/log/headstart.log" || cfg.Logging.FileMaxBackups != 3 {
		t.Errorf("unexpected logging config %+v", cfg.Logging)
	}
	if cfg.Metrics.Enabled {
		t.Errorf("expected metrics disabled")
	}
}

func TestLoadDotEnvFallback(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	content := "# local overrides\nAPI_SERVER_PORT=7070\nAPI_FIREBASE_PROJECT_ID=\"hs-dot\"\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("failed writing env file: %v", err)
	}

	cfg, err := Load(context.Background(), WithEnvFile(envPath), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port from dotenv 7070, got %s", cfg.Server.Port)
	}
	if cfg.Firebase.ProjectID != "hs-dot" {
		t.Errorf("expected firebase project from dotenv, got %s", cfg.Firebase.ProjectID)
	}
}

func TestLoadMissingDotEnvIsIgnored(t *testing.T) {
	env := map[string]string{"API_FIREBASE_PROJECT_ID": "hs-dev"}
	path := filepath.Join(t.TempDir(), "absent.env")

	if _, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(path)); err != nil {
		t.Fatalf("expected missing dotenv to be ignored, got %v", err)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	_, err := Load(context.Background(), WithEnvMap(map[string]string{}), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	fields := validation.Fields()
	if len(fields) != 2 || fields[0] != "Firestore.ProjectID" || fields[1] != "Firebase.ProjectID" {
		t.Fatalf("unexpected fields %v", fields)
	}
}

func TestLoadRejectsInvalidProviders(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID":       "hs-dev",
		"API_AUTH_PROVIDER":             "ordercloud",
		"API_SHIPPING_PROVIDER":         "easypost",
		"API_SHIPPING_APPLICABLE_LIMIT": "0",
	}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	want := map[string]bool{"Auth.JWKSURL": true, "Shipping.Provider": true, "Shipping.ApplicableLimit": true}
	fields := validation.Fields()
	if len(fields) != len(want) {
		t.Fatalf("unexpected fields %v", fields)
	}
	for _, field := range fields {
		if !want[field] {
			t.Fatalf("unexpected field %s", field)
		}
	}
}

func TestLoadSecretResolverError(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID": "hs-dev",
		"API_CHECKOUT_HASH_KEY":   "secret://missing",
	}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected secret resolution error, got nil")
	}
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError, got %T", err)
	}
	if secretErr.Ref != "secret://missing" {
		t.Errorf("unexpected secret ref %s", secretErr.Ref)
	}
	if !errors.Is(err, errSecretResolverNotConfigured) {
		t.Errorf("expected resolver not configured, got %v", err)
	}
}

func TestEnvironmentValuesMergesSources(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "API_FIREBASE_PROJECT_ID=dot-project\nAPI_SECRETS_FALLBACK_FILE=.dot.local\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("failed writing env file: %v", err)
	}

	t.Setenv("API_FIREBASE_PROJECT_ID", "os-project")
	t.Setenv("API_SECRETS_PROJECT_ID", "os-secrets")

	overrides := map[string]string{
		"API_FIREBASE_PROJECT_ID": "override-project",
	}

	values, err := EnvironmentValues(WithEnvFile(envPath), WithEnvMap(overrides))
	if err != nil {
		t.Fatalf("EnvironmentValues returned error: %v", err)
	}

	if got := values["API_FIREBASE_PROJECT_ID"]; got != "override-project" {
		t.Fatalf("expected override project, got %s", got)
	}
	if got := values["API_SECRETS_FALLBACK_FILE"]; got != ".dot.local" {
		t.Fatalf("expected dotenv fallback file, got %s", got)
	}
	if got := values["API_SECRETS_PROJECT_ID"]; got != "os-secrets" {
		t.Fatalf("expected system env secrets project, got %s", got)
	}
}

func TestLoadMissingRequiredSecrets(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID": "hs-dev",
	}

	_, err := Load(context.Background(),
		WithEnvMap(env),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithRequiredSecrets("Checkout.HashKey"),
	)
	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingSecretsError, got %v", err)
	}
	if got := missing.Names(); len(got) != 1 || got[0] != "Checkout.HashKey" {
		t.Fatalf("unexpected names %v", got)
	}
	expectedRedacted := redactSecretName("Checkout.HashKey")
	if got := missing.RedactedNames(); len(got) != 1 || got[0] != expectedRedacted {
		t.Fatalf("unexpected redacted names %v", got)
	}
}

func TestLoadSupportsLegacySecretScheme(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID": "hs-dev",
		"API_CHECKOUT_HASH_KEY":   "sm://checkout/hash-key",
	}
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if ref == "secret://checkout/hash-key" {
			return "legacy-secret", nil
		}
		return "", errors.New("not found")
	})

	cfg, err := Load(context.Background(),
		WithEnvMap(env),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithSecretResolver(resolver),
		WithRequiredSecrets("Checkout.HashKey"),
	)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Checkout.HashKey != "legacy-secret" {
		t.Fatalf("expected legacy secret, got %s", cfg.Checkout.HashKey)
	}
}
