package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/ajsuth/headstart/internal/domain"
	pfirestore "github.com/ajsuth/headstart/internal/platform/firestore"
	"github.com/ajsuth/headstart/internal/repositories"
)

const (
	defaultShippingMethodsCollection = "shippingMethods"
	uniqueKeysSuffix                 = "UniqueKeys"

	// Firestore caps "in" filters at 30 values.
	maxInFilterValues = 30
	searchUpperBound  = "\uf8ff"
)

type fieldKind int

const (
	kindString fieldKind = iota
	kindBool
	kindInt
	kindTime
)

// Fields that may appear in filters, with the type their string values are parsed into.
var shippingMethodFieldKinds = map[string]fieldKind{
	"id":                   kindString,
	"name":                 kindString,
	"currency":             kindString,
	"storefront":           kindString,
	"active":               kindBool,
	"estimatedTransitDays": kindInt,
	"createdAt":            kindTime,
	"updatedAt":            kindTime,
}

// ShippingMethodRepositoryOption customises the repository.
type ShippingMethodRepositoryOption func(*ShippingMethodRepository)

// WithShippingMethodsCollection overrides the collection name.
func WithShippingMethodsCollection(name string) ShippingMethodRepositoryOption {
	return func(r *ShippingMethodRepository) {
		if name = strings.TrimSpace(name); name != "" {
			r.collection = name
		}
	}
}

// WithShippingMethodsPartition overrides the partition key every query is restricted to.
func WithShippingMethodsPartition(key string) ShippingMethodRepositoryOption {
	return func(r *ShippingMethodRepository) {
		if key = strings.TrimSpace(key); key != "" {
			r.partitionKey = key
		}
	}
}

// ShippingMethodRepository stores shipping methods in Firestore. Unique keys are enforced through a
// companion collection holding one document per key value, written in the same transaction.
type ShippingMethodRepository struct {
	base         *pfirestore.BaseRepository[domain.ShippingMethod]
	provider     *pfirestore.Provider
	collection   string
	partitionKey string
}

var _ repositories.ShippingMethodRepository = (*ShippingMethodRepository)(nil)

// NewShippingMethodRepository constructs a Firestore-backed shipping method repository.
func NewShippingMethodRepository(provider *pfirestore.Provider, opts ...ShippingMethodRepositoryOption) (*ShippingMethodRepository, error) {
	if provider == nil {
		return nil, errors.New("shipping method repository: firestore provider is required")
	}
	repo := &ShippingMethodRepository{
		provider:     provider,
		collection:   defaultShippingMethodsCollection,
		partitionKey: domain.DefaultPartitionKey,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(repo)
		}
	}

	encoder := func(_ context.Context, method domain.ShippingMethod) (any, error) {
		return encodeShippingMethod(method), nil
	}
	decoder := func(_ context.Context, snap *firestore.DocumentSnapshot) (domain.ShippingMethod, error) {
		var doc shippingMethodDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.ShippingMethod{}, err
		}
		doc.ID = snap.Ref.ID
		if doc.CreatedAt.IsZero() {
			doc.CreatedAt = snap.CreateTime
		}
		if doc.UpdatedAt.IsZero() {
			doc.UpdatedAt = snap.UpdateTime
		}
		return decodeShippingMethod(doc), nil
	}
	repo.base = pfirestore.NewBaseRepository[domain.ShippingMethod](provider, repo.collection, encoder, decoder)
	return repo, nil
}

// PartitionKey reports the partition the repository reads and writes.
func (r *ShippingMethodRepository) PartitionKey() string {
	return r.partitionKey
}

// Insert stores a new method.
func (r *ShippingMethodRepository) Insert(ctx context.Context, method domain.ShippingMethod) (domain.ShippingMethod, error) {
	if r == nil || r.base == nil {
		return domain.ShippingMethod{}, errors.New("shipping method repository not initialised")
	}
	method, err := r.prepare(method)
	if err != nil {
		return domain.ShippingMethod{}, err
	}

	methodRef, err := r.base.DocumentRef(ctx, method.ID)
	if err != nil {
		return domain.ShippingMethod{}, err
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.ShippingMethod{}, err
	}
	keys := r.uniqueKeyDocs(client, method)

	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		exists, err := documentExists(tx, methodRef)
		if err != nil {
			return err
		}
		if exists {
			return pfirestore.NewConflict("shipping_methods.insert", fmt.Errorf("shipping method %s already exists", method.ID))
		}
		for _, key := range keys {
			owner, err := keyOwner(tx, key.ref)
			if err != nil {
				return err
			}
			if owner != "" {
				return pfirestore.NewConflict("shipping_methods.insert", fmt.Errorf("unique key %s already used by %s", key.describe(), owner))
			}
		}

		if err := tx.Create(methodRef, encodeShippingMethod(method)); err != nil {
			return err
		}
		for _, key := range keys {
			if err := tx.Create(key.ref, key.doc); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.ShippingMethod{}, pfirestore.WrapError("shipping_methods.insert", err)
	}
	return method, nil
}

// Upsert creates or replaces the method, moving its unique key claims when the keyed fields change.
func (r *ShippingMethodRepository) Upsert(ctx context.Context, method domain.ShippingMethod) (domain.ShippingMethod, error) {
	if r == nil || r.base == nil {
		return domain.ShippingMethod{}, errors.New("shipping method repository not initialised")
	}
	method, err := r.prepare(method)
	if err != nil {
		return domain.ShippingMethod{}, err
	}

	methodRef, err := r.base.DocumentRef(ctx, method.ID)
	if err != nil {
		return domain.ShippingMethod{}, err
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.ShippingMethod{}, err
	}
	newKeys := r.uniqueKeyDocs(client, method)

	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		var previous *domain.ShippingMethod
		snap, err := tx.Get(methodRef)
		switch {
		case err == nil:
			decoded, decodeErr := r.base.Decode(ctx, snap)
			if decodeErr != nil {
				return decodeErr
			}
			if decoded.Data.PartitionKey != r.partitionKey {
				return pfirestore.NewConflict("shipping_methods.upsert", fmt.Errorf("shipping method %s belongs to another partition", method.ID))
			}
			previous = &decoded.Data
		case status.Code(err) != codes.NotFound:
			return err
		}

		claim := make([]uniqueKeyDoc, 0, len(newKeys))
		for _, key := range newKeys {
			owner, err := keyOwner(tx, key.ref)
			if err != nil {
				return err
			}
			switch owner {
			case "":
				claim = append(claim, key)
			case method.ID:
			default:
				return pfirestore.NewConflict("shipping_methods.upsert", fmt.Errorf("unique key %s already used by %s", key.describe(), owner))
			}
		}

		if previous != nil {
			if !previous.CreatedAt.IsZero() {
				method.CreatedAt = previous.CreatedAt
			}
			for _, old := range r.uniqueKeyDocs(client, *previous) {
				if !containsKey(newKeys, old.ref.ID) {
					if err := tx.Delete(old.ref); err != nil {
						return err
					}
				}
			}
		}

		if err := tx.Set(methodRef, encodeShippingMethod(method)); err != nil {
			return err
		}
		for _, key := range claim {
			if err := tx.Set(key.ref, key.doc); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.ShippingMethod{}, pfirestore.WrapError("shipping_methods.upsert", err)
	}
	return method, nil
}

// FindByID loads a method in the repository's partition.
func (r *ShippingMethodRepository) FindByID(ctx context.Context, id string) (domain.ShippingMethod, error) {
	if r == nil || r.base == nil {
		return domain.ShippingMethod{}, errors.New("shipping method repository not initialised")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.ShippingMethod{}, errors.New("shipping method repository: id is required")
	}
	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.ShippingMethod{}, err
	}
	if doc.Data.PartitionKey != r.partitionKey {
		return domain.ShippingMethod{}, pfirestore.NewNotFound("shipping_methods.get", fmt.Errorf("shipping method %s not found", id))
	}
	return doc.Data, nil
}

// Delete removes the method and releases its unique keys. Missing methods yield not-found.
func (r *ShippingMethodRepository) Delete(ctx context.Context, id string) error {
	if r == nil || r.base == nil {
		return errors.New("shipping method repository not initialised")
	}
	methodRef, err := r.base.DocumentRef(ctx, strings.TrimSpace(id))
	if err != nil {
		return err
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}

	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(methodRef)
		if err != nil {
			return err
		}
		existing, err := r.base.Decode(ctx, snap)
		if err != nil {
			return err
		}
		if existing.Data.PartitionKey != r.partitionKey {
			return pfirestore.NewNotFound("shipping_methods.delete", fmt.Errorf("shipping method %s not found", id))
		}
		if err := tx.Delete(methodRef, firestore.Exists); err != nil {
			return err
		}
		for _, key := range r.uniqueKeyDocs(client, existing.Data) {
			if err := tx.Delete(key.ref); err != nil {
				return err
			}
		}
		return nil
	})
	return pfirestore.WrapError("shipping_methods.delete", err)
}

// List returns one page of methods. The continuation token is the ID of the last method on the page.
func (r *ShippingMethodRepository) List(ctx context.Context, query repositories.ShippingMethodQuery) (domain.ListPage[domain.ShippingMethod], error) {
	if r == nil || r.base == nil {
		return domain.ListPage[domain.ShippingMethod]{}, errors.New("shipping method repository not initialised")
	}
	pageSize := query.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}

	filters := make([]typedFilter, 0, len(query.Filters))
	for _, f := range query.Filters {
		typed, err := typeFilter(f)
		if err != nil {
			return domain.ListPage[domain.ShippingMethod]{}, err
		}
		filters = append(filters, typed)
	}

	var cursor *firestore.DocumentSnapshot
	if after := strings.TrimSpace(query.After); after != "" {
		ref, err := r.base.DocumentRef(ctx, after)
		if err != nil {
			return domain.ListPage[domain.ShippingMethod]{}, err
		}
		snap, err := ref.Get(ctx)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return domain.ListPage[domain.ShippingMethod]{}, repositories.ErrInvalidCursor
			}
			return domain.ListPage[domain.ShippingMethod]{}, pfirestore.WrapError("shipping_methods.list", err)
		}
		cursor = snap
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("partitionKey", "==", r.partitionKey)
		for _, f := range filters {
			q = q.Where(f.path, f.op, f.value)
		}

		ordered := map[string]bool{}
		if query.Search != "" {
			path := documentPath(query.SearchOn)
			q = q.Where(path, ">=", query.Search).Where(path, "<", query.Search+searchUpperBound).OrderBy(path, firestore.Asc)
			ordered[path] = true
		}
		if field := strings.TrimSpace(query.OrderBy); field != "" && !ordered[documentPath(field)] {
			dir := firestore.Asc
			if query.Desc {
				dir = firestore.Desc
			}
			q = q.OrderBy(documentPath(field), dir)
			ordered[documentPath(field)] = true
		}
		if !ordered[firestore.DocumentID] {
			q = q.OrderBy(firestore.DocumentID, firestore.Asc)
		}
		if cursor != nil {
			q = q.StartAfter(cursor)
		}
		return q.Limit(pageSize + 1)
	})
	if err != nil {
		return domain.ListPage[domain.ShippingMethod]{}, err
	}

	page := domain.ListPage[domain.ShippingMethod]{Items: make([]domain.ShippingMethod, 0, min(len(docs), pageSize))}
	for i, doc := range docs {
		if i == pageSize {
			page.ContinuationToken = docs[i-1].ID
			break
		}
		page.Items = append(page.Items, doc.Data)
	}
	return page, nil
}

// ListApplicable returns active methods for the currency, optionally restricted to storefronts.
func (r *ShippingMethodRepository) ListApplicable(ctx context.Context, query repositories.ApplicableQuery) ([]domain.ShippingMethod, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("shipping method repository not initialised")
	}
	limit := query.Limit
	if limit <= 0 {
		limit = 100
	}
	base := func(q firestore.Query) firestore.Query {
		return q.Where("partitionKey", "==", r.partitionKey).
			Where("active", "==", true).
			Where("currency", "==", query.Currency)
	}
	if len(query.Storefronts) == 0 {
		docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
			return base(q).Limit(limit)
		})
		if err != nil {
			return nil, err
		}
		return documentData(docs), nil
	}

	methods := make([]domain.ShippingMethod, 0)
	for _, chunk := range storefrontChunks(query.Storefronts) {
		remaining := limit - len(methods)
		if remaining <= 0 {
			break
		}
		docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
			return base(q).Where("storefront", "in", chunk).Limit(remaining)
		})
		if err != nil {
			return nil, err
		}
		methods = append(methods, documentData(docs)...)
	}
	return methods, nil
}

// storefrontChunks splits storefronts into "in" filter sized groups, dropping repeats so that
// chunks never match the same document twice.
func storefrontChunks(storefronts []string) [][]string {
	seen := make(map[string]struct{}, len(storefronts))
	unique := make([]string, 0, len(storefronts))
	for _, s := range storefronts {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		unique = append(unique, s)
	}
	var chunks [][]string
	for len(unique) > 0 {
		n := min(len(unique), maxInFilterValues)
		chunks = append(chunks, unique[:n:n])
		unique = unique[n:]
	}
	return chunks
}

func documentData(docs []pfirestore.Document[domain.ShippingMethod]) []domain.ShippingMethod {
	methods := make([]domain.ShippingMethod, 0, len(docs))
	for _, doc := range docs {
		methods = append(methods, doc.Data)
	}
	return methods
}

func (r *ShippingMethodRepository) prepare(method domain.ShippingMethod) (domain.ShippingMethod, error) {
	method.ID = strings.TrimSpace(method.ID)
	if method.ID == "" {
		return domain.ShippingMethod{}, errors.New("shipping method repository: id is required")
	}
	if strings.Contains(method.ID, "/") {
		return domain.ShippingMethod{}, fmt.Errorf("shipping method repository: id %q must not contain '/'", method.ID)
	}
	method.PartitionKey = r.partitionKey
	return method, nil
}

type uniqueKeyDoc struct {
	ref    *firestore.DocumentRef
	doc    uniqueKeyDocument
	fields []string
}

func (k uniqueKeyDoc) describe() string {
	return "{" + strings.Join(k.fields, ", ") + "}"
}

func (r *ShippingMethodRepository) uniqueKeyDocs(client *firestore.Client, method domain.ShippingMethod) []uniqueKeyDoc {
	coll := client.Collection(r.collection + uniqueKeysSuffix)
	doc := encodeShippingMethod(method)

	keys := make([]uniqueKeyDoc, 0, len(method.UniqueKeys()))
	for _, key := range method.UniqueKeys() {
		values := make(map[string]string, len(key.Fields))
		parts := make([]string, 0, len(key.Fields)+1)
		parts = append(parts, r.partitionKey)
		for _, field := range key.Fields {
			value := doc.field(field)
			values[field] = value
			parts = append(parts, field+"="+value)
		}
		sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
		keys = append(keys, uniqueKeyDoc{
			ref: coll.Doc(base64.RawURLEncoding.EncodeToString(sum[:])),
			doc: uniqueKeyDocument{
				MethodID:     method.ID,
				PartitionKey: r.partitionKey,
				Fields:       values,
			},
			fields: key.Fields,
		})
	}
	return keys
}

func containsKey(keys []uniqueKeyDoc, id string) bool {
	for _, key := range keys {
		if key.ref.ID == id {
			return true
		}
	}
	return false
}

func documentExists(tx *firestore.Transaction, ref *firestore.DocumentRef) (bool, error) {
	_, err := tx.Get(ref)
	switch {
	case err == nil:
		return true, nil
	case status.Code(err) == codes.NotFound:
		return false, nil
	default:
		return false, err
	}
}

func keyOwner(tx *firestore.Transaction, ref *firestore.DocumentRef) (string, error) {
	snap, err := tx.Get(ref)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return "", nil
		}
		return "", err
	}
	var doc uniqueKeyDocument
	if err := snap.DataTo(&doc); err != nil {
		return "", err
	}
	return doc.MethodID, nil
}

type typedFilter struct {
	path  string
	op    string
	value any
}

func typeFilter(f repositories.FieldFilter) (typedFilter, error) {
	kind, ok := shippingMethodFieldKinds[f.Field]
	if !ok {
		return typedFilter{}, fmt.Errorf("%w: field %q", repositories.ErrInvalidFilter, f.Field)
	}
	out := typedFilter{path: documentPath(f.Field), op: f.Op}
	switch kind {
	case kindBool:
		v, err := strconv.ParseBool(f.Value)
		if err != nil {
			return typedFilter{}, fmt.Errorf("%w: %s expects a boolean: %w", repositories.ErrInvalidFilter, f.Field, err)
		}
		out.value = v
	case kindInt:
		v, err := strconv.ParseInt(f.Value, 10, 64)
		if err != nil {
			return typedFilter{}, fmt.Errorf("%w: %s expects an integer: %w", repositories.ErrInvalidFilter, f.Field, err)
		}
		out.value = v
	case kindTime:
		v, err := parseFilterTime(f.Value)
		if err != nil {
			return typedFilter{}, fmt.Errorf("%w: %s expects a timestamp: %w", repositories.ErrInvalidFilter, f.Field, err)
		}
		out.value = v
	default:
		out.value = f.Value
	}
	return out, nil
}

func parseFilterTime(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func documentPath(field string) string {
	if field == "id" {
		return firestore.DocumentID
	}
	return field
}
