package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
)

// ProviderOrderCloud tags identities verified against the OrderCloud signing keys.
const ProviderOrderCloud = "ordercloud"

var (
	// ErrJWKSKeyNotFound is returned when the token's kid is absent from the key set.
	ErrJWKSKeyNotFound = errors.New("auth: jwks key not found")
	// ErrJWKSFetchFailed wraps transport or decoding errors while refreshing the key set.
	ErrJWKSFetchFailed = errors.New("auth: jwks fetch failed")
)

const (
	defaultJWKSRefreshInterval = 15 * time.Minute
	defaultJWKSRefreshTimeout  = 5 * time.Second
)

// JWKSCache fetches the OrderCloud key set on demand and keeps it until the
// response's cache lifetime runs out. Past the halfway mark a background refresh is started.
type JWKSCache struct {
	url    string
	client *http.Client
	logger Logger
	now    func() time.Time

	fallbackTTL    time.Duration
	refreshTimeout time.Duration
	background     bool

	mu       sync.RWMutex
	keys     map[string]jose.JSONWebKey
	expiry   time.Time
	prefetch time.Time

	refreshMu  sync.Mutex
	refreshing atomic.Bool
}

// JWKSOption customises JWKSCache behaviour.
type JWKSOption func(*JWKSCache)

// WithJWKSHTTPClient overrides the HTTP client used for key fetches.
func WithJWKSHTTPClient(client *http.Client) JWKSOption {
	return func(c *JWKSCache) {
		if client != nil {
			c.client = client
		}
	}
}

// WithJWKSLogger sets the logger for refresh events.
func WithJWKSLogger(logger Logger) JWKSOption {
	return func(c *JWKSCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithJWKSRefreshInterval sets the lifetime used when the response carries no cache headers.
func WithJWKSRefreshInterval(d time.Duration) JWKSOption {
	return func(c *JWKSCache) {
		if d > 0 {
			c.fallbackTTL = d
		}
	}
}

// WithJWKSClock injects a time source.
func WithJWKSClock(now func() time.Time) JWKSOption {
	return func(c *JWKSCache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithoutJWKSBackgroundRefresh disables the early refresh.
func WithoutJWKSBackgroundRefresh() JWKSOption {
	return func(c *JWKSCache) {
		c.background = false
	}
}

// NewJWKSCache constructs a cache for the key set published at url.
func NewJWKSCache(url string, opts ...JWKSOption) *JWKSCache {
	cache := &JWKSCache{
		url:            url,
		client:         &http.Client{Timeout: 10 * time.Second},
		logger:         log.Default(),
		now:            time.Now,
		fallbackTTL:    defaultJWKSRefreshInterval,
		refreshTimeout: defaultJWKSRefreshTimeout,
		background:     true,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cache)
		}
	}
	return cache
}

// Keyfunc adapts the cache to jwt-go's key lookup, accepting RS256 only.
func (c *JWKSCache) Keyfunc(ctx context.Context) jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		if token.Method == nil || token.Method.Alg() != jwt.SigningMethodRS256.Alg() {
			return nil, fmt.Errorf("auth: unexpected signing method %v", token.Header["alg"])
		}
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("auth: token missing kid header")
		}
		return c.Key(ctx, kid)
	}
}

// Key resolves the public key for kid. An unknown kid forces one refresh, which
// picks up keys rotated in since the last fetch.
func (c *JWKSCache) Key(ctx context.Context, kid string) (any, error) {
	now := c.now()
	if c.expired(now) {
		if err := c.refresh(ctx); err != nil {
			return nil, err
		}
	}

	if key, ok := c.lookup(kid); ok {
		if c.pastPrefetch(now) {
			c.refreshAsync()
		}
		return key, nil
	}

	if err := c.refresh(ctx); err != nil {
		return nil, err
	}
	if key, ok := c.lookup(kid); ok {
		return key, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrJWKSKeyNotFound, kid)
}

func (c *JWKSCache) lookup(kid string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	jwk, ok := c.keys[kid]
	if !ok {
		return nil, false
	}
	return jwk.Key, true
}

func (c *JWKSCache) expired(now time.Time) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.keys) == 0 || !now.Before(c.expiry)
}

func (c *JWKSCache) pastPrefetch(now time.Time) bool {
	if !c.background {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.prefetch.IsZero() && !now.Before(c.prefetch) && now.Before(c.expiry)
}

func (c *JWKSCache) refreshAsync() {
	if !c.refreshing.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer c.refreshing.Store(false)
		if err := c.refresh(context.Background()); err != nil && c.logger != nil {
			c.logger.Printf("auth: background jwks refresh failed: %v", err)
		}
	}()
}

func (c *JWKSCache) refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, c.refreshTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: unexpected status %d", ErrJWKSFetchFailed, resp.StatusCode)
	}

	var set jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("%w: decode jwks: %v", ErrJWKSFetchFailed, err)
	}

	keys := make(map[string]jose.JSONWebKey, len(set.Keys))
	for _, jwk := range set.Keys {
		if jwk.KeyID == "" || !jwk.Valid() || !jwk.IsPublic() {
			continue
		}
		keys[jwk.KeyID] = jwk
	}
	if len(keys) == 0 {
		return fmt.Errorf("%w: empty key set", ErrJWKSFetchFailed)
	}

	ttl := c.fallbackTTL
	if maxAge := parseMaxAge(resp.Header.Get("Cache-Control")); maxAge > 0 {
		ttl = maxAge
	}

	now := c.now()
	c.mu.Lock()
	c.keys = keys
	c.expiry = now.Add(ttl)
	c.prefetch = now.Add(ttl / 2)
	c.mu.Unlock()

	if c.logger != nil {
		c.logger.Printf("auth: refreshed jwks (%d keys, valid for %s)", len(keys), ttl)
	}
	return nil
}

func parseMaxAge(header string) time.Duration {
	for _, directive := range strings.Split(header, ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(directive), "=")
		if !ok || !strings.EqualFold(name, "max-age") {
			continue
		}
		seconds, err := strconv.ParseInt(strings.Trim(value, `" `), 10, 64)
		if err != nil || seconds <= 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	return 0
}

// OrderCloudVerifier validates OrderCloud-issued access tokens against the published key set.
type OrderCloudVerifier struct {
	keys      *JWKSCache
	issuers   []string
	audience  string
	roleClaim string
	now       func() time.Time
}

// OrderCloudOption customises the verifier.
type OrderCloudOption func(*OrderCloudVerifier)

// WithOrderCloudIssuers restricts accepted tokens to the given issuers.
func WithOrderCloudIssuers(issuers ...string) OrderCloudOption {
	return func(v *OrderCloudVerifier) {
		for _, iss := range issuers {
			if iss = strings.TrimSpace(iss); iss != "" {
				v.issuers = append(v.issuers, strings.TrimRight(iss, "/"))
			}
		}
	}
}

// WithOrderCloudAudience requires the token audience to contain aud.
func WithOrderCloudAudience(aud string) OrderCloudOption {
	return func(v *OrderCloudVerifier) {
		v.audience = strings.TrimSpace(aud)
	}
}

// WithOrderCloudRoleClaim overrides the claim that lists security profile roles.
func WithOrderCloudRoleClaim(claim string) OrderCloudOption {
	return func(v *OrderCloudVerifier) {
		if claim = strings.TrimSpace(claim); claim != "" {
			v.roleClaim = claim
		}
	}
}

// WithOrderCloudClock injects a time source for expiry checks.
func WithOrderCloudClock(now func() time.Time) OrderCloudOption {
	return func(v *OrderCloudVerifier) {
		if now != nil {
			v.now = now
		}
	}
}

// NewOrderCloudVerifier constructs a verifier backed by keys.
func NewOrderCloudVerifier(keys *JWKSCache, opts ...OrderCloudOption) *OrderCloudVerifier {
	v := &OrderCloudVerifier{
		keys:      keys,
		roleClaim: defaultRoleClaim,
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// Verify implements TokenVerifier.
func (v *OrderCloudVerifier) Verify(ctx context.Context, token string) (*Identity, error) {
	if v == nil || v.keys == nil {
		return nil, ErrVerifierUnavailable
	}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}), jwt.WithoutClaimsValidation())
	if _, err := parser.ParseWithClaims(token, claims, v.keys.Keyfunc(ctx)); err != nil {
		if errors.Is(err, ErrJWKSFetchFailed) {
			return nil, fmt.Errorf("%w: %v", ErrVerifierUnavailable, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	now := v.now().Unix()
	if !claims.VerifyExpiresAt(now, true) {
		return nil, ErrTokenExpired
	}
	if !claims.VerifyNotBefore(now, false) {
		return nil, fmt.Errorf("%w: token not yet valid", ErrTokenInvalid)
	}
	if len(v.issuers) > 0 && !v.issuerAllowed(claimAsString(claims, "iss")) {
		return nil, fmt.Errorf("%w: unexpected issuer", ErrTokenInvalid)
	}
	if v.audience != "" && !claims.VerifyAudience(v.audience, true) {
		return nil, fmt.Errorf("%w: unexpected audience", ErrTokenInvalid)
	}

	raw := map[string]any(claims)
	subject := claimAsString(raw, "u")
	if subject == "" {
		subject = claimAsString(raw, "sub")
	}
	return &Identity{
		Subject:  subject,
		Username: claimAsString(raw, "usr"),
		ClientID: claimAsString(raw, "cid"),
		UserType: claimAsString(raw, "usrtype"),
		Roles:    rolesFromClaims(raw, v.roleClaim),
		Provider: ProviderOrderCloud,
		Claims:   raw,
	}, nil
}

func (v *OrderCloudVerifier) issuerAllowed(iss string) bool {
	iss = strings.TrimRight(iss, "/")
	for _, allowed := range v.issuers {
		if strings.EqualFold(allowed, iss) {
			return true
		}
	}
	return false
}
