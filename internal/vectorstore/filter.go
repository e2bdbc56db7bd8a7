package vectorstore

import (
	"github.com/qdrant/go-client/qdrant"
)

// OwnerScope is the set of identities whose records a query may search.
// A single identity becomes an equality filter, several an inclusion filter.
type OwnerScope struct {
	ids []string
}

// SingleOwner scopes a query to one identity.
func SingleOwner(id string) OwnerScope {
	return OwnerScope{ids: []string{id}}
}

// Owners scopes a query to a set of identities.
func Owners(ids []string) OwnerScope {
	return OwnerScope{ids: ids}
}

// IsEmpty reports whether the scope contains no identities.
func (s OwnerScope) IsEmpty() bool {
	return len(s.ids) == 0
}

// IDs returns the identities in the scope.
func (s OwnerScope) IDs() []string {
	return s.ids
}

func (s OwnerScope) condition() *qdrant.Condition {
	if len(s.ids) == 1 {
		return keywordCondition(MetadataOwnerID, s.ids[0])
	}
	return keywordsCondition(MetadataOwnerID, s.ids)
}

// Filter is a conjunction of metadata constraints. All constraints must hold
// for a record to match.
type Filter struct {
	conditions []*qdrant.Condition
}

// NewFilter creates an empty filter.
func NewFilter() *Filter {
	return &Filter{}
}

// Eq constrains a metadata key to equal a string value.
func (f *Filter) Eq(key, value string) *Filter {
	f.conditions = append(f.conditions, keywordCondition(key, value))
	return f
}

// In constrains a metadata key to equal any of the given values.
func (f *Filter) In(key string, values []string) *Filter {
	f.conditions = append(f.conditions, keywordsCondition(key, values))
	return f
}

// Range constrains a numeric metadata key to gte <= value <= lte.
// Either bound may be nil for a half-open range.
func (f *Filter) Range(key string, gte, lte *float64) *Filter {
	f.conditions = append(f.conditions, &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key: key,
				Range: &qdrant.Range{
					Gte: gte,
					Lte: lte,
				},
			},
		},
	})
	return f
}

// Merge appends every constraint from other into f.
func (f *Filter) Merge(other *Filter) *Filter {
	if other != nil {
		f.conditions = append(f.conditions, other.conditions...)
	}
	return f
}

// Len returns the number of constraints in the filter.
func (f *Filter) Len() int {
	if f == nil {
		return 0
	}
	return len(f.conditions)
}

// buildFilter assembles the Qdrant filter from the owner scope, the caller filter,
// and any extra store-imposed conditions. The owner scope always comes first
// and is never optional.
func buildFilter(scope *OwnerScope, filter *Filter, extra ...*qdrant.Condition) *qdrant.Filter {
	var must []*qdrant.Condition
	if scope != nil {
		must = append(must, scope.condition())
	}
	must = append(must, extra...)
	if filter != nil {
		must = append(must, filter.conditions...)
	}
	if len(must) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: must}
}

func keywordCondition(key, value string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key: key,
				Match: &qdrant.Match{
					MatchValue: &qdrant.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}

// keywordsCondition matches when the payload value (scalar or list) equals
// any of the given keywords. On list payloads like participants this is an
// intersection test.
func keywordsCondition(key string, values []string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key: key,
				Match: &qdrant.Match{
					MatchValue: &qdrant.Match_Keywords{
						Keywords: &qdrant.RepeatedStrings{Strings: values},
					},
				},
			},
		},
	}
}

// toPayload converts record metadata to the Qdrant payload representation.
// Supported scalar types: string, int, int64, float64, bool. String slices
// become list values (participants). Unsupported types are dropped.
func toPayload(metadata map[string]interface{}) map[string]*qdrant.Value {
	payload := make(map[string]*qdrant.Value, len(metadata))
	for k, v := range metadata {
		switch val := v.(type) {
		case string:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: val}}
		case int:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(val)}}
		case int64:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: val}}
		case float64:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: val}}
		case bool:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_BoolValue{BoolValue: val}}
		case []string:
			items := make([]*qdrant.Value, len(val))
			for i, s := range val {
				items[i] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: s}}
			}
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_ListValue{
				ListValue: &qdrant.ListValue{Values: items},
			}}
		}
	}
	return payload
}

// fromPayload converts a Qdrant payload back to record metadata.
func fromPayload(payload map[string]*qdrant.Value) map[string]interface{} {
	metadata := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		switch val := v.Kind.(type) {
		case *qdrant.Value_StringValue:
			metadata[k] = val.StringValue
		case *qdrant.Value_IntegerValue:
			metadata[k] = val.IntegerValue
		case *qdrant.Value_DoubleValue:
			metadata[k] = val.DoubleValue
		case *qdrant.Value_BoolValue:
			metadata[k] = val.BoolValue
		case *qdrant.Value_ListValue:
			items := make([]string, 0, len(val.ListValue.Values))
			for _, item := range val.ListValue.Values {
				if s, ok := item.Kind.(*qdrant.Value_StringValue); ok {
					items = append(items, s.StringValue)
				}
			}
			metadata[k] = items
		}
	}
	return metadata
}
