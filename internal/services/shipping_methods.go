package services

import (
	"context"
	"errors"
	"fmt"
	"html"
	"sort"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"
	"golang.org/x/text/currency"

	"github.com/ajsuth/headstart/internal/domain"
	"github.com/ajsuth/headstart/internal/platform/pagination"
	"github.com/ajsuth/headstart/internal/platform/textutil"
	"github.com/ajsuth/headstart/internal/repositories"
)

const (
	shippingMethodIDPrefix = "shm_"

	defaultApplicableLimit = 100

	ShippingMethodEventCreated = "shipping_method.created"
	ShippingMethodEventSaved   = "shipping_method.saved"
	ShippingMethodEventDeleted = "shipping_method.deleted"

	maxShippingMethodNameLength        = 120
	maxShippingMethodDescriptionLength = 2000
)

var (
	// ErrShippingMethodInvalid indicates the payload or list options failed validation.
	ErrShippingMethodInvalid = errors.New("shipping_method: invalid input")
	// ErrShippingMethodNotFound indicates no method exists for the identifier.
	ErrShippingMethodNotFound = errors.New("shipping_method: not found")
	// ErrShippingMethodConflict indicates the ID or the {name, currency, storefront} key is taken.
	ErrShippingMethodConflict = errors.New("shipping_method: conflict")
	// ErrShippingMethodUnavailable indicates the backing store could not be reached.
	ErrShippingMethodUnavailable = errors.New("shipping_method: unavailable")
)

var shippingMethodListOptions = pagination.Options{
	DefaultPageSize: pagination.DefaultPageSize,
	MaxPageSize:     pagination.DefaultMaxPageSize,
	OrderFields:     []string{"name", "currency", "storefront", "createdAt", "updatedAt"},
	FilterFields:    []string{"active", "currency", "storefront", "name", "estimatedTransitDays", "createdAt", "updatedAt"},
	SearchFields:    []string{"id", "name"},
	DefaultSearchOn: "id",
}

// ShippingMethodServiceDeps wires the shipping method command layer.
type ShippingMethodServiceDeps struct {
	Repository      repositories.ShippingMethodRepository
	Cache           *ApplicableMethodsCache
	Events          ShippingMethodEventPublisher
	Clock           func() time.Time
	IDGenerator     func() string
	Logger          func(context.Context, string, map[string]any)
	PartitionKey    string
	ApplicableLimit int
}

type shippingMethodService struct {
	repo      repositories.ShippingMethodRepository
	cache     *ApplicableMethodsCache
	events    ShippingMethodEventPublisher
	now       func() time.Time
	newID     func() string
	logger    func(context.Context, string, map[string]any)
	partition string
	limit     int
	sanitizer *bluemonday.Policy
}

var _ ShippingMethodService = (*shippingMethodService)(nil)

// NewShippingMethodService constructs the shipping method service.
func NewShippingMethodService(deps ShippingMethodServiceDeps) (ShippingMethodService, error) {
	if deps.Repository == nil {
		return nil, errors.New("shipping_method: repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	partition := strings.TrimSpace(deps.PartitionKey)
	if partition == "" {
		partition = domain.DefaultPartitionKey
	}
	limit := deps.ApplicableLimit
	if limit <= 0 {
		limit = defaultApplicableLimit
	}
	return &shippingMethodService{
		repo:   deps.Repository,
		cache:  deps.Cache,
		events: deps.Events,
		now: func() time.Time {
			return clock().UTC()
		},
		newID:     idGen,
		logger:    logger,
		partition: partition,
		limit:     limit,
		sanitizer: bluemonday.StrictPolicy(),
	}, nil
}

func (s *shippingMethodService) Create(ctx context.Context, cmd ShippingMethodCommand) (ShippingMethod, error) {
	method, err := s.normalize(cmd.Method)
	if err != nil {
		return ShippingMethod{}, err
	}
	if method.ID == "" {
		method.ID = shippingMethodIDPrefix + strings.ToLower(s.newID())
	}
	now := s.now()
	method.CreatedAt = now
	method.UpdatedAt = now

	created, err := s.repo.Insert(ctx, method)
	if err != nil {
		return ShippingMethod{}, s.translate(err)
	}
	s.afterWrite(ctx, ShippingMethodEventCreated, created, cmd.ActorID)
	return created, nil
}

func (s *shippingMethodService) List(ctx context.Context, opts ListOptions) (domain.ListPage[ShippingMethod], error) {
	params, err := pagination.FromListOptions(opts, shippingMethodListOptions)
	if err != nil {
		return domain.ListPage[ShippingMethod]{}, fmt.Errorf("%w: %v", ErrShippingMethodInvalid, err)
	}

	query := repositories.ShippingMethodQuery{
		PageSize: params.PageSize,
		After:    params.Cursor.After,
		Search:   params.Search,
		SearchOn: params.SearchOn,
	}
	if len(params.Orders) > 0 {
		query.OrderBy = params.Orders[0].Field
		query.Desc = params.Orders[0].Desc
	}
	for _, f := range params.Filters {
		query.Filters = append(query.Filters, repositories.FieldFilter{Field: f.Field, Op: string(f.Op), Value: f.Value})
	}

	page, err := s.repo.List(ctx, query)
	if err != nil {
		return domain.ListPage[ShippingMethod]{}, s.translate(err)
	}
	token, err := pagination.EncodeToken(pagination.Cursor{After: page.ContinuationToken})
	if err != nil {
		return domain.ListPage[ShippingMethod]{}, err
	}
	page.ContinuationToken = token
	if page.Items == nil {
		page.Items = []ShippingMethod{}
	}
	return page, nil
}

func (s *shippingMethodService) Get(ctx context.Context, id string) (ShippingMethod, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return ShippingMethod{}, fmt.Errorf("%w: id is required", ErrShippingMethodInvalid)
	}
	method, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return ShippingMethod{}, s.translate(err)
	}
	return method, nil
}

func (s *shippingMethodService) Find(ctx context.Context, search string) (ShippingMethod, error) {
	search = strings.TrimSpace(search)
	if search == "" {
		return ShippingMethod{}, fmt.Errorf("%w: search is required", ErrShippingMethodInvalid)
	}
	page, err := s.List(ctx, ListOptions{PageSize: 1, Search: search, SearchOn: "id"})
	if err != nil {
		return ShippingMethod{}, err
	}
	if len(page.Items) == 0 {
		return ShippingMethod{}, fmt.Errorf("%w: no method matches %q", ErrShippingMethodNotFound, search)
	}
	return page.Items[0], nil
}

func (s *shippingMethodService) Save(ctx context.Context, id string, cmd ShippingMethodCommand) (ShippingMethod, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return ShippingMethod{}, fmt.Errorf("%w: id is required", ErrShippingMethodInvalid)
	}
	method, err := s.normalize(cmd.Method)
	if err != nil {
		return ShippingMethod{}, err
	}
	method.ID = id

	now := s.now()
	method.CreatedAt = now
	existing, err := s.repo.FindByID(ctx, id)
	switch {
	case err == nil:
		method.CreatedAt = existing.CreatedAt
	case !isRepoNotFound(err):
		return ShippingMethod{}, s.translate(err)
	}
	method.UpdatedAt = now

	saved, err := s.repo.Upsert(ctx, method)
	if err != nil {
		return ShippingMethod{}, s.translate(err)
	}
	s.afterWrite(ctx, ShippingMethodEventSaved, saved, cmd.ActorID)
	return saved, nil
}

func (s *shippingMethodService) Delete(ctx context.Context, cmd DeleteShippingMethodCommand) error {
	id := strings.TrimSpace(cmd.ID)
	if id == "" {
		return fmt.Errorf("%w: id is required", ErrShippingMethodInvalid)
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return s.translate(err)
	}
	s.afterWrite(ctx, ShippingMethodEventDeleted, ShippingMethod{ID: id, PartitionKey: s.partition}, cmd.ActorID)
	return nil
}

func (s *shippingMethodService) ListApplicable(ctx context.Context, currencyCode string, cfg *CheckoutIntegrationConfiguration) []ShippingMethod {
	var storefronts []string
	if cfg != nil {
		storefronts = textutil.NormalizeList(cfg.Storefronts)
	}
	cached, generation, ok := s.cache.get(currencyCode, storefronts)
	if ok {
		return cached
	}

	methods, err := s.repo.ListApplicable(ctx, repositories.ApplicableQuery{
		Currency:    currencyCode,
		Storefronts: storefronts,
		Limit:       s.limit,
	})
	if err != nil {
		s.logger(ctx, "shipping_method.applicable.failed", map[string]any{
			"currency":    currencyCode,
			"storefronts": storefronts,
			"error":       err.Error(),
		})
		return []ShippingMethod{}
	}
	if methods == nil {
		methods = []ShippingMethod{}
	}
	s.cache.set(generation, currencyCode, storefronts, methods)
	return methods
}

func (s *shippingMethodService) afterWrite(ctx context.Context, eventType string, method ShippingMethod, actorID string) {
	s.cache.Flush()
	if s.events == nil {
		return
	}
	event := ShippingMethodEvent{
		Type:         eventType,
		MethodID:     method.ID,
		Name:         method.Name,
		Currency:     method.Currency,
		Storefront:   method.Storefront,
		PartitionKey: method.PartitionKey,
		ActorID:      strings.TrimSpace(actorID),
		OccurredAt:   s.now(),
	}
	if _, err := s.events.PublishShippingMethodEvent(ctx, event); err != nil {
		s.logger(ctx, "shipping_method.event.failed", map[string]any{
			"type":     eventType,
			"methodId": method.ID,
			"error":    err.Error(),
		})
	}
}

// normalize validates a write payload and returns the form that is persisted.
func (s *shippingMethodService) normalize(method ShippingMethod) (ShippingMethod, error) {
	method.ID = strings.TrimSpace(method.ID)
	if strings.Contains(method.ID, "/") {
		return ShippingMethod{}, fmt.Errorf("%w: id must not contain '/'", ErrShippingMethodInvalid)
	}
	method.PartitionKey = s.partition

	method.Name = s.plainText(method.Name)
	if method.Name == "" {
		return ShippingMethod{}, fmt.Errorf("%w: name is required", ErrShippingMethodInvalid)
	}
	if len(method.Name) > maxShippingMethodNameLength {
		return ShippingMethod{}, fmt.Errorf("%w: name exceeds %d characters", ErrShippingMethodInvalid, maxShippingMethodNameLength)
	}
	method.Description = s.plainText(method.Description)
	if len(method.Description) > maxShippingMethodDescriptionLength {
		return ShippingMethod{}, fmt.Errorf("%w: description exceeds %d characters", ErrShippingMethodInvalid, maxShippingMethodDescriptionLength)
	}

	unit, err := currency.ParseISO(strings.TrimSpace(method.Currency))
	if err != nil {
		return ShippingMethod{}, fmt.Errorf("%w: currency %q is not an ISO 4217 code", ErrShippingMethodInvalid, method.Currency)
	}
	method.Currency = unit.String()

	if method.EstimatedTransitDays != nil && *method.EstimatedTransitDays < 0 {
		return ShippingMethod{}, fmt.Errorf("%w: estimated transit days must not be negative", ErrShippingMethodInvalid)
	}

	tiers, err := normalizeTiers(method.ShippingCosts)
	if err != nil {
		return ShippingMethod{}, err
	}
	method.ShippingCosts = tiers

	method.Storefront = strings.TrimSpace(method.Storefront)
	method.Tax.Code = strings.TrimSpace(method.Tax.Code)
	method.Tax.Description = s.plainText(method.Tax.Description)
	method.IncludedProductIDs = textutil.NormalizeList(method.IncludedProductIDs)
	method.ExcludedProductIDs = textutil.NormalizeList(method.ExcludedProductIDs)
	return method, nil
}

func (s *shippingMethodService) plainText(value string) string {
	return strings.TrimSpace(html.UnescapeString(s.sanitizer.Sanitize(value)))
}

func normalizeTiers(costs []ShippingCost) ([]ShippingCost, error) {
	tiers := make([]ShippingCost, len(costs))
	copy(tiers, costs)
	sort.SliceStable(tiers, func(i, j int) bool { return tiers[i].OrderTotal < tiers[j].OrderTotal })
	for i, tier := range tiers {
		if tier.OrderTotal < 0 || tier.Amount < 0 {
			return nil, fmt.Errorf("%w: shipping cost values must not be negative", ErrShippingMethodInvalid)
		}
		if i > 0 && tiers[i-1].OrderTotal == tier.OrderTotal {
			return nil, fmt.Errorf("%w: duplicate shipping cost threshold %d", ErrShippingMethodInvalid, tier.OrderTotal)
		}
	}
	return tiers, nil
}

func (s *shippingMethodService) translate(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, repositories.ErrInvalidCursor), errors.Is(err, repositories.ErrInvalidFilter):
		return fmt.Errorf("%w: %v", ErrShippingMethodInvalid, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrShippingMethodNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrShippingMethodConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrShippingMethodUnavailable, err)
		}
	}
	return fmt.Errorf("shipping_method: %w", err)
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
