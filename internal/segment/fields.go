package segment

import (
	"math"
	"sort"
	"time"

	"github.com/sumanism/ECA2/internal/store"
)

// accessor extracts one named field from a user. ok is false when the
// user does not carry the field.
type accessor func(u *store.User, now time.Time) (Value, bool)

var accessors = map[string]accessor{
	"id":         func(u *store.User, _ time.Time) (Value, bool) { return text(u.ID), true },
	"email":      func(u *store.User, _ time.Time) (Value, bool) { return text(u.Email), true },
	"first_name": func(u *store.User, _ time.Time) (Value, bool) { return text(u.FirstName), true },
	"last_name":  func(u *store.User, _ time.Time) (Value, bool) { return text(u.LastName), true },
	"phone":      func(u *store.User, _ time.Time) (Value, bool) { return optionalText(u.Phone) },
	"shipping_state": func(u *store.User, _ time.Time) (Value, bool) {
		return optionalText(u.ShippingState)
	},
	"shipping_country": func(u *store.User, _ time.Time) (Value, bool) {
		return optionalText(u.ShippingCountry)
	},
	"marketing_opt_in":  func(u *store.User, _ time.Time) (Value, bool) { return Bool(u.MarketingOptIn), true },
	"total_order_value": func(u *store.User, _ time.Time) (Value, bool) { return Number(u.TotalOrderValue), true },
	"order_count":       func(u *store.User, _ time.Time) (Value, bool) { return Number(float64(u.OrderCount)), true },
	"created_at":        func(u *store.User, _ time.Time) (Value, bool) { return Timestamp(u.CreatedAt.UTC()), true },
	FieldLastOrderDate: func(u *store.User, _ time.Time) (Value, bool) {
		return Timestamp(effectiveLastOrder(u)), true
	},
	FieldDaysSinceLastOrder: func(u *store.User, now time.Time) (Value, bool) {
		return Number(float64(daysSinceLastOrder(u, now))), true
	},
}

// effectiveLastOrder returns the last order date, or the zero time for users
// who never ordered. No relative cutoff is ever earlier than the zero time.
func effectiveLastOrder(u *store.User) time.Time {
	if u.LastOrderDate == nil {
		return time.Time{}
	}
	return u.LastOrderDate.UTC()
}

func daysSinceLastOrder(u *store.User, now time.Time) int {
	if u.LastOrderDate == nil {
		return NeverOrderedDays
	}
	return int(math.Floor(now.Sub(*u.LastOrderDate).Hours() / 24))
}

func optionalText(s *string) (Value, bool) {
	if s == nil {
		return Value{}, false
	}
	return text(*s), true
}

// resolve looks a field up on the known columns first, then in the open
// attribute map.
func resolve(u *store.User, field string, now time.Time) (Value, bool) {
	if get, ok := accessors[field]; ok {
		return get(u, now)
	}
	raw, ok := u.Attributes[field]
	if !ok {
		return Value{}, false
	}
	return attributeValue(raw)
}

// attributeValue tags a decoded JSON attribute. Date strings keep their
// timestamp so stored dates order as instants.
func attributeValue(raw any) (Value, bool) {
	switch v := raw.(type) {
	case nil:
		return Value{}, false
	case string:
		return datedText(v), true
	case bool:
		return Bool(v), true
	case float64:
		return Number(v), true
	case float32:
		return Number(float64(v)), true
	case int:
		return Number(float64(v)), true
	case int64:
		return Number(float64(v)), true
	case int32:
		return Number(float64(v)), true
	case time.Time:
		return Timestamp(v.UTC()), true
	default:
		return Value{kind: KindUnsupported}, true
	}
}

// KnownField reports whether field is a built-in user column.
func KnownField(field string) bool {
	_, ok := accessors[field]
	return ok
}

// KnownFields lists the built-in user columns in sorted order.
func KnownFields() []string {
	fields := make([]string, 0, len(accessors))
	for f := range accessors {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

// Lookup resolves field on u the way the evaluator does. It is exported for
// callers that display the fields a rule set filtered on.
func Lookup(u *store.User, field string, now time.Time) (Value, bool) {
	return resolve(u, field, now)
}
