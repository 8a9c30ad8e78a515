package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/ajsuth/headstart/internal/domain"
)

const (
	defaultEnvFile             = ".env"
	defaultEnvironment         = "local"
	defaultPort                = "8080"
	defaultReadTimeout         = 15 * time.Second
	defaultWriteTimeout        = 30 * time.Second
	defaultIdleTimeout         = 120 * time.Second
	defaultAuthProvider        = AuthProviderFirebase
	defaultRoleClaim           = "role"
	defaultShippingProvider    = ShippingProviderCustom
	defaultShippingCollection  = "shippingMethods"
	defaultApplicableLimit     = 100
	defaultCheckoutHashHeader  = "X-oc-hash"
	defaultCheckoutMaxBody     = 1 << 20
	defaultLogFileMaxSizeMB    = 100
	defaultLogFileMaxBackups   = 7
	defaultLogFileMaxAgeDays   = 30
	defaultMetricsPath         = "/metrics"
	defaultSecretsFallbackFile = ".secrets.local"
)

const (
	// AuthProviderFirebase verifies bearer tokens as Firebase ID tokens.
	AuthProviderFirebase = "firebase"
	// AuthProviderOrderCloud verifies bearer tokens as OrderCloud-issued JWTs against a JWKS endpoint.
	AuthProviderOrderCloud = "ordercloud"

	// ShippingProviderCustom serves rates from the seller-managed shipping methods.
	ShippingProviderCustom = "custom"
	// ShippingProviderNone disables the shipping routes.
	ShippingProviderNone = "none"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Environment string
	Server      ServerConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	Auth        AuthConfig
	Shipping    ShippingConfig
	Checkout    CheckoutConfig
	PubSub      PubSubConfig
	Logging     LoggingConfig
	Metrics     MetricsConfig
	Secrets     SecretsConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirebaseConfig holds Firebase Admin SDK parameters.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig holds Firestore connectivity parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// AuthConfig selects and configures bearer token verification for the admin routes.
type AuthConfig struct {
	Provider  string
	JWKSURL   string
	Issuers   []string
	Audience  string
	RoleClaim string
}

// ShippingConfig configures the shipping method store and rate engine.
type ShippingConfig struct {
	Provider        string
	Collection      string
	PartitionKey    string
	ApplicableLimit int
	CacheTTL        time.Duration
	EventsTopic     string
}

// CheckoutConfig configures the OrderCloud checkout integration endpoint.
type CheckoutConfig struct {
	HashKey         string
	SignatureHeader string
	MaxBodyBytes    int64
}

// PubSubConfig holds Pub/Sub connectivity parameters.
type PubSubConfig struct {
	ProjectID    string
	EmulatorHost string
}

// LoggingConfig configures the zap logger and its optional rotating file sink.
type LoggingConfig struct {
	Level          string
	File           string
	FileMaxSizeMB  int
	FileMaxBackups int
	FileMaxAgeDays int
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool
	Path    string
}

// SecretsConfig configures Secret Manager lookups for secret:// references.
type SecretsConfig struct {
	ProjectID    string
	FallbackFile string
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError indicates that one or more required secrets resolved to empty values.
type MissingSecretsError struct {
	names []string
}

// Error implements the error interface.
func (e *MissingSecretsError) Error() string {
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(e.RedactedNames(), ", "))
}

// RedactedNames returns hashed field names safe for logs.
func (e *MissingSecretsError) RedactedNames() []string {
	redacted := make([]string, 0, len(e.names))
	for _, name := range e.names {
		redacted = append(redacted, redactSecretName(name))
	}
	sort.Strings(redacted)
	return redacted
}

// Names returns the missing secret field names.
func (e *MissingSecretsError) Names() []string {
	out := make([]string, len(e.names))
	copy(out, e.names)
	sort.Strings(out)
	return out
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile         string
	envMap          map[string]string
	useSystemEnv    bool
	secret          SecretResolver
	requiredSecrets []string
}

// WithEnvFile overrides the .env file path used for local overrides. An empty path disables the file.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map that takes precedence over every other source.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for secret:// and sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// WithRequiredSecrets marks secret-bearing fields (e.g. "Checkout.HashKey") as mandatory.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) {
		o.requiredSecrets = append(o.requiredSecrets, names...)
	}
}

// EnvironmentValues returns the effective environment map after applying the same precedence
// rules as Load (dotenv < OS env < explicit env map). Callers use it to build dependencies,
// such as the secret fetcher, before invoking Load.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := newLoaderOptions(opts)

	values, err := readDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}
	if values == nil {
		values = make(map[string]string)
	}
	if options.useSystemEnv {
		for _, entry := range os.Environ() {
			key, value, ok := strings.Cut(entry, "=")
			if !ok || strings.TrimSpace(key) == "" {
				continue
			}
			values[key] = value
		}
	}
	for key, value := range options.envMap {
		values[key] = value
	}
	return values, nil
}

// Load assembles the application configuration by combining defaults, .env overrides,
// environment variables, and secret lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts)

	values, err := EnvironmentValues(opts...)
	if err != nil {
		return Config{}, err
	}
	lookup := func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}

	cfg := Config{
		Environment: strings.ToLower(stringWithDefault(lookup, "API_ENVIRONMENT", defaultEnvironment)),
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "API_SERVER_PORT", defaultPort),
			ReadTimeout:  durationWithDefault(lookup, "API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Firebase: FirebaseConfig{
			ProjectID:       stringWithDefault(lookup, "API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: stringWithDefault(lookup, "API_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Auth: AuthConfig{
			Provider:  strings.ToLower(stringWithDefault(lookup, "API_AUTH_PROVIDER", defaultAuthProvider)),
			JWKSURL:   stringWithDefault(lookup, "API_AUTH_JWKS_URL", ""),
			Issuers:   csvWithDefault(lookup, "API_AUTH_ISSUERS"),
			Audience:  stringWithDefault(lookup, "API_AUTH_AUDIENCE", ""),
			RoleClaim: stringWithDefault(lookup, "API_AUTH_ROLE_CLAIM", defaultRoleClaim),
		},
		Shipping: ShippingConfig{
			Provider:        strings.ToLower(stringWithDefault(lookup, "API_SHIPPING_PROVIDER", defaultShippingProvider)),
			Collection:      stringWithDefault(lookup, "API_SHIPPING_COLLECTION", defaultShippingCollection),
			PartitionKey:    stringWithDefault(lookup, "API_SHIPPING_PARTITION_KEY", domain.DefaultPartitionKey),
			ApplicableLimit: intWithDefault(lookup, "API_SHIPPING_APPLICABLE_LIMIT", defaultApplicableLimit),
			CacheTTL:        durationWithDefault(lookup, "API_SHIPPING_CACHE_TTL", 0),
			EventsTopic:     stringWithDefault(lookup, "API_SHIPPING_EVENTS_TOPIC", ""),
		},
		Checkout: CheckoutConfig{
			HashKey:         stringWithDefault(lookup, "API_CHECKOUT_HASH_KEY", ""),
			SignatureHeader: stringWithDefault(lookup, "API_CHECKOUT_SIGNATURE_HEADER", defaultCheckoutHashHeader),
			MaxBodyBytes:    int64(intWithDefault(lookup, "API_CHECKOUT_MAX_BODY_BYTES", defaultCheckoutMaxBody)),
		},
		PubSub: PubSubConfig{
			ProjectID:    stringWithDefault(lookup, "API_PUBSUB_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "API_PUBSUB_EMULATOR_HOST", ""),
		},
		Logging: LoggingConfig{
			Level:          stringWithDefault(lookup, "API_LOG_LEVEL", ""),
			File:           stringWithDefault(lookup, "API_LOG_FILE", ""),
			FileMaxSizeMB:  intWithDefault(lookup, "API_LOG_FILE_MAX_SIZE_MB", defaultLogFileMaxSizeMB),
			FileMaxBackups: intWithDefault(lookup, "API_LOG_FILE_MAX_BACKUPS", defaultLogFileMaxBackups),
			FileMaxAgeDays: intWithDefault(lookup, "API_LOG_FILE_MAX_AGE_DAYS", defaultLogFileMaxAgeDays),
		},
		Metrics: MetricsConfig{
			Enabled: boolWithDefault(lookup, "API_METRICS_ENABLED", true),
			Path:    stringWithDefault(lookup, "API_METRICS_PATH", defaultMetricsPath),
		},
		Secrets: SecretsConfig{
			ProjectID:    stringWithDefault(lookup, "API_SECRETS_PROJECT_ID", ""),
			FallbackFile: stringWithDefault(lookup, "API_SECRETS_FALLBACK_FILE", defaultSecretsFallbackFile),
		},
	}

	// Dependent projects default to the Firestore project, which itself falls back to Firebase.
	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firestore.ProjectID
	}
	if cfg.Secrets.ProjectID == "" {
		cfg.Secrets.ProjectID = cfg.Firestore.ProjectID
	}

	resolved := make(map[string]string)
	secretFields := []struct {
		name  string
		field *string
	}{
		{"Checkout.HashKey", &cfg.Checkout.HashKey},
	}
	for _, target := range secretFields {
		value, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = value
		resolved[target.name] = strings.TrimSpace(value)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	var missing []string
	for _, name := range options.requiredSecrets {
		name = strings.TrimSpace(name)
		if name != "" && resolved[name] == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return Config{}, &MissingSecretsError{names: missing}
	}

	return cfg, nil
}

func newLoaderOptions(opts []Option) loaderOptions {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	return options
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if !isSecretReference(value) {
		return value, nil
	}
	ref := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, ref)
	if err != nil {
		return "", &SecretError{Ref: ref, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config) error {
	var invalid []string

	if cfg.Server.Port == "" {
		invalid = append(invalid, "Server.Port")
	}
	if cfg.Firestore.ProjectID == "" {
		invalid = append(invalid, "Firestore.ProjectID")
	}

	switch cfg.Auth.Provider {
	case AuthProviderFirebase:
		if cfg.Firebase.ProjectID == "" {
			invalid = append(invalid, "Firebase.ProjectID")
		}
	case AuthProviderOrderCloud:
		if cfg.Auth.JWKSURL == "" {
			invalid = append(invalid, "Auth.JWKSURL")
		}
	default:
		invalid = append(invalid, "Auth.Provider")
	}

	switch cfg.Shipping.Provider {
	case ShippingProviderCustom, ShippingProviderNone:
	default:
		invalid = append(invalid, "Shipping.Provider")
	}
	if strings.TrimSpace(cfg.Shipping.Collection) == "" {
		invalid = append(invalid, "Shipping.Collection")
	}
	if strings.TrimSpace(cfg.Shipping.PartitionKey) == "" {
		invalid = append(invalid, "Shipping.PartitionKey")
	}
	if cfg.Shipping.ApplicableLimit <= 0 {
		invalid = append(invalid, "Shipping.ApplicableLimit")
	}
	if cfg.Shipping.CacheTTL < 0 {
		invalid = append(invalid, "Shipping.CacheTTL")
	}
	if cfg.Checkout.MaxBodyBytes <= 0 {
		invalid = append(invalid, "Checkout.MaxBodyBytes")
	}

	if len(invalid) > 0 {
		return &ValidationError{fields: invalid}
	}
	return nil
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "sm://") {
		return "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	return trimmed
}

func redactSecretName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:8])
}

func readDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	values, err := godotenv.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", path, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}

func csvWithDefault(lookup func(string) (string, bool), key string) []string {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
