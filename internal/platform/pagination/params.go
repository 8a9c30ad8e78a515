package pagination

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ajsuth/headstart/internal/domain"
)

const (
	// DefaultPageSize defines the fallback number of items returned when the client omits PageSize.
	DefaultPageSize = 20
	// DefaultMaxPageSize caps PageSize to prevent unbounded queries.
	DefaultMaxPageSize = 100

	maxFilterValueLength = 512
	maxSearchLength      = 256
)

// Operator enumerates supported comparison operators.
type Operator string

const (
	OperatorEqual        Operator = "=="
	OperatorNotEqual     Operator = "!="
	OperatorGreaterThan  Operator = ">"
	OperatorLessThan     Operator = "<"
	OperatorGreaterEqual Operator = ">="
	OperatorLessEqual    Operator = "<="
)

// Expression prefixes, longest first so ">=" wins over ">".
var expressionPrefixes = []struct {
	prefix string
	op     Operator
}{
	{">=", OperatorGreaterEqual},
	{"<=", OperatorLessEqual},
	{"!=", OperatorNotEqual},
	{">", OperatorGreaterThan},
	{"<", OperatorLessThan},
	{"!", OperatorNotEqual},
	{"=", OperatorEqual},
}

// Order describes a single order-by clause.
type Order struct {
	Field string
	Desc  bool
}

// Filter captures an individual predicate.
type Filter struct {
	Field string
	Op    Operator
	Value string
}

// Params is the validated, normalised form of a domain.ListOptions.
type Params struct {
	PageSize int
	Cursor   Cursor
	Orders   []Order
	Filters  []Filter
	Search   string
	SearchOn string
}

// Options control validation for a given listing.
type Options struct {
	DefaultPageSize int
	MaxPageSize     int
	// Allowlists are keyed case-insensitively; the stored spelling is what Params carries.
	OrderFields  []string
	FilterFields []string
	SearchFields []string
	// DefaultSearchOn is used when Search is set without SearchOn.
	DefaultSearchOn string
}

var (
	ErrInvalidPageSize  = errors.New("pagination: invalid pageSize")
	ErrInvalidOrderBy   = errors.New("pagination: invalid sort")
	ErrInvalidFilter    = errors.New("pagination: invalid filter")
	ErrInvalidSearch    = errors.New("pagination: invalid search")
	ErrInvalidPageToken = errors.New("pagination: invalid continuation token")
)

// FromListOptions validates list options against the allowlists in opts.
func FromListOptions(list domain.ListOptions, opts Options) (Params, error) {
	pageSize, err := pageSize(list.PageSize, opts)
	if err != nil {
		return Params{}, err
	}
	params := Params{PageSize: pageSize}

	if cursor, err := DecodeToken(list.ContinuationToken); err != nil {
		return Params{}, err
	} else {
		params.Cursor = cursor
	}

	if sort := strings.TrimSpace(list.Sort); sort != "" {
		field, ok := lookupField(opts.OrderFields, sort)
		if !ok {
			return Params{}, fmt.Errorf("%w: field %q is not sortable", ErrInvalidOrderBy, sort)
		}
		var desc bool
		switch domain.SortOrder(strings.ToLower(strings.TrimSpace(string(list.SortDirection)))) {
		case "", domain.SortAsc:
		case domain.SortDesc:
			desc = true
		default:
			return Params{}, fmt.Errorf("%w: invalid direction %q", ErrInvalidOrderBy, list.SortDirection)
		}
		params.Orders = []Order{{Field: field, Desc: desc}}
	}

	for _, raw := range list.Filters {
		filter, err := ParseFilter(raw.PropertyName, raw.FilterExpression)
		if err != nil {
			return Params{}, err
		}
		field, ok := lookupField(opts.FilterFields, filter.Field)
		if !ok {
			return Params{}, fmt.Errorf("%w: field %q is not filterable", ErrInvalidFilter, filter.Field)
		}
		filter.Field = field
		params.Filters = append(params.Filters, filter)
	}

	if search := strings.TrimSpace(list.Search); search != "" {
		if len(search) > maxSearchLength {
			return Params{}, fmt.Errorf("%w: search term too long", ErrInvalidSearch)
		}
		on := strings.TrimSpace(list.SearchOn)
		if on == "" {
			on = opts.DefaultSearchOn
		}
		field, ok := lookupField(opts.SearchFields, on)
		if !ok {
			return Params{}, fmt.Errorf("%w: field %q is not searchable", ErrInvalidSearch, on)
		}
		params.Search = search
		params.SearchOn = field
	}

	return params, nil
}

// ParseFilter converts a property name and prefixed expression ("=x", "!x", ">=x", ...) into a Filter.
// An expression without a prefix is an equality match.
func ParseFilter(property, expression string) (Filter, error) {
	field := strings.TrimSpace(property)
	if !isAllowedFieldName(field) {
		return Filter{}, fmt.Errorf("%w: invalid field %q", ErrInvalidFilter, property)
	}

	expression = strings.TrimSpace(expression)
	op := OperatorEqual
	for _, candidate := range expressionPrefixes {
		if strings.HasPrefix(expression, candidate.prefix) {
			op = candidate.op
			expression = expression[len(candidate.prefix):]
			break
		}
	}

	value := sanitizeFilterValue(expression)
	if value == "" {
		return Filter{}, fmt.Errorf("%w: empty value for field %q", ErrInvalidFilter, field)
	}
	return Filter{Field: field, Op: op, Value: value}, nil
}

func pageSize(requested int, opts Options) (int, error) {
	maxPageSize := opts.MaxPageSize
	if maxPageSize <= 0 {
		maxPageSize = DefaultMaxPageSize
	}
	defaultPageSize := opts.DefaultPageSize
	if defaultPageSize <= 0 {
		defaultPageSize = DefaultPageSize
	}
	defaultPageSize = min(defaultPageSize, maxPageSize)

	switch {
	case requested < 0:
		return 0, fmt.Errorf("%w: must not be negative", ErrInvalidPageSize)
	case requested == 0:
		return defaultPageSize, nil
	default:
		return min(requested, maxPageSize), nil
	}
}

func lookupField(allowed []string, name string) (string, bool) {
	for _, field := range allowed {
		if strings.EqualFold(field, name) {
			return field, true
		}
	}
	return "", false
}

func sanitizeFilterValue(value string) string {
	value = strings.TrimSpace(value)
	value = strings.Trim(value, "\"'")
	value = strings.ReplaceAll(value, "\n", " ")
	value = strings.ReplaceAll(value, "\r", " ")
	value = strings.TrimSpace(value)
	if len(value) > maxFilterValueLength {
		value = value[:maxFilterValueLength]
	}
	return value
}

func isAllowedFieldName(field string) bool {
	if field == "" {
		return false
	}
	for _, r := range field {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '_' || r == '.':
		default:
			return false
		}
	}
	return true
}
