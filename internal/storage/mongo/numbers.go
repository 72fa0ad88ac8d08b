package mongo

import (
	"encoding/json"
	"strconv"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/bmsevents/event-ingestor/internal/event"
)

// toBSON rewrites json.Number values, which the driver would store as
// strings, into int64 when they fit and Decimal128 otherwise.
func toBSON(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if d, err := primitive.ParseDecimal128(x.String()); err == nil {
			return d
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case event.AdditionalData:
		return toBSON(map[string]any(x))
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[k] = toBSON(item)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = toBSON(item)
		}
		return out
	default:
		return v
	}
}

// fromBSON maps decoded documents back onto the JSON value shapes the rest
// of the service uses: numbers become json.Number, documents become maps.
func fromBSON(v any) any {
	switch x := v.(type) {
	case int32:
		return json.Number(strconv.FormatInt(int64(x), 10))
	case int64:
		return json.Number(strconv.FormatInt(x, 10))
	case float64:
		return json.Number(strconv.FormatFloat(x, 'g', -1, 64))
	case primitive.Decimal128:
		return json.Number(x.String())
	case primitive.D:
		out := make(map[string]any, len(x))
		for _, e := range x {
			out[e.Key] = fromBSON(e.Value)
		}
		return out
	case primitive.M:
		return fromBSON(map[string]any(x))
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[k] = fromBSON(item)
		}
		return out
	case primitive.A:
		return fromBSON([]any(x))
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = fromBSON(item)
		}
		return out
	default:
		return v
	}
}

func additionalToBSON(extra event.AdditionalData) event.AdditionalData {
	if extra == nil {
		return nil
	}
	return event.AdditionalData(toBSON(map[string]any(extra)).(map[string]any))
}

func additionalFromBSON(extra event.AdditionalData) event.AdditionalData {
	if extra == nil {
		return nil
	}
	return event.AdditionalData(fromBSON(map[string]any(extra)).(map[string]any))
}
