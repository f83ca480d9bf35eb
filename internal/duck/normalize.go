package duck

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/duckdb/duckdb-go/v2"
	"github.com/google/uuid"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04:05.999999"

	// Decimals up to this width round-trip exactly through float64.
	maxExactDecimalWidth = 15

	// Largest integer a JSON number (float64) carries without loss.
	maxSafeJSONInt = 1 << 53
)

// ToTransport maps a value scanned from the engine into one of: nil, bool, int64,
// float64 or string. dbType is the column's DatabaseTypeName and disambiguates
// values the driver returns with the same Go type (DATE vs TIMESTAMP, UUID vs BLOB).
// Nested values (LIST, STRUCT, MAP) are rejected unless nestedAsJSON is set, in which
// case they are normalized recursively and encoded as a JSON string.
func ToTransport(v any, dbType string, nestedAsJSON bool) (any, error) {
	dbType = strings.ToUpper(dbType)

	switch x := v.(type) {
	case nil:
		return nil, nil
	case bool:
		return x, nil
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint:
		return uintToTransport(uint64(x)), nil
	case uint64:
		return uintToTransport(x), nil
	case float32:
		return floatToTransport(float64(x)), nil
	case float64:
		return floatToTransport(x), nil
	case string:
		return x, nil
	case []byte:
		if dbType == "UUID" && len(x) == 16 {
			return uuid.UUID(x).String(), nil
		}
		return base64.StdEncoding.EncodeToString(x), nil
	case time.Time:
		return temporalToTransport(x, dbType), nil
	case *big.Int:
		if x == nil {
			return nil, nil
		}
		if x.IsInt64() {
			return x.Int64(), nil
		}
		return x.String(), nil
	case duckdb.Decimal:
		return decimalToTransport(x)
	case duckdb.Interval:
		return formatInterval(x), nil
	case uuid.UUID:
		return x.String(), nil
	case []any, map[string]any, duckdb.Map:
		if !nestedAsJSON {
			return nil, NewError(KindUnsupportedType, nil, "nested value of type %s has no transport mapping", describeType(v, dbType))
		}
		return nestedToTransport(v)
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Array && rv.Len() == 16 && rv.Type().Elem().Kind() == reflect.Uint8 {
		var u uuid.UUID
		reflect.Copy(reflect.ValueOf(u[:]), rv)
		return u.String(), nil
	}
	return nil, NewError(KindUnsupportedType, nil, "value of type %s has no transport mapping", describeType(v, dbType))
}

func describeType(v any, dbType string) string {
	if dbType != "" {
		return dbType
	}
	return fmt.Sprintf("%T", v)
}

func uintToTransport(u uint64) any {
	if u > math.MaxInt64 {
		return strconv.FormatUint(u, 10)
	}
	return int64(u)
}

// JSON has no encoding for non-finite floats.
func floatToTransport(f float64) any {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	return f
}

func temporalToTransport(t time.Time, dbType string) string {
	switch {
	case dbType == "DATE":
		return t.Format(dateLayout)
	case dbType == "TIME":
		return t.Format(timeLayout)
	case strings.HasPrefix(dbType, "TIME WITH TIME ZONE"), dbType == "TIMETZ":
		return t.Format(timeLayout + "Z07:00")
	}
	return t.Format(time.RFC3339Nano)
}

func decimalToTransport(d duckdb.Decimal) (any, error) {
	if d.Value == nil {
		return nil, nil
	}
	s := formatDecimal(d.Value, int(d.Scale))
	if d.Width > maxExactDecimalWidth {
		return s, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, NewError(KindUnsupportedType, err, "failed to convert decimal %s", s)
	}
	return f, nil
}

func formatDecimal(v *big.Int, scale int) string {
	neg := v.Sign() < 0
	digits := new(big.Int).Abs(v).String()
	if scale > 0 {
		if len(digits) <= scale {
			digits = strings.Repeat("0", scale-len(digits)+1) + digits
		}
		digits = digits[:len(digits)-scale] + "." + digits[len(digits)-scale:]
	}
	if neg {
		return "-" + digits
	}
	return digits
}

// formatInterval renders an interval as an ISO-8601 duration, e.g. P1Y2M3DT4.5S.
func formatInterval(iv duckdb.Interval) string {
	if iv.Months == 0 && iv.Days == 0 && iv.Micros == 0 {
		return "PT0S"
	}

	var b strings.Builder
	b.WriteString("P")
	if years := iv.Months / 12; years != 0 {
		fmt.Fprintf(&b, "%dY", years)
	}
	if months := iv.Months % 12; months != 0 {
		fmt.Fprintf(&b, "%dM", months)
	}
	if iv.Days != 0 {
		fmt.Fprintf(&b, "%dD", iv.Days)
	}
	if iv.Micros != 0 {
		b.WriteString("T")
		micros := iv.Micros
		if micros < 0 {
			b.WriteString("-")
			micros = -micros
		}
		hours := micros / int64(time.Hour/time.Microsecond)
		micros -= hours * int64(time.Hour/time.Microsecond)
		minutes := micros / int64(time.Minute/time.Microsecond)
		micros -= minutes * int64(time.Minute/time.Microsecond)
		if hours != 0 {
			fmt.Fprintf(&b, "%dH", hours)
		}
		if minutes != 0 {
			fmt.Fprintf(&b, "%dM", minutes)
		}
		if micros != 0 {
			secs := strconv.FormatFloat(float64(micros)/1e6, 'f', -1, 64)
			fmt.Fprintf(&b, "%sS", secs)
		}
	}
	return b.String()
}

func nestedToTransport(v any) (any, error) {
	normalized, err := normalizeNested(v)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(normalized)
	if err != nil {
		return nil, NewError(KindUnsupportedType, err, "failed to encode nested value")
	}
	return string(data), nil
}

func normalizeNested(v any) (any, error) {
	switch x := v.(type) {
	case []any:
		out := make([]any, len(x))
		for i, elem := range x {
			n, err := normalizeNested(elem)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, elem := range x {
			n, err := normalizeNested(elem)
			if err != nil {
				return nil, err
			}
			out[k] = n
		}
		return out, nil
	case duckdb.Map:
		out := make(map[string]any, len(x))
		for k, elem := range x {
			nk, err := ToTransport(k, "", true)
			if err != nil {
				return nil, err
			}
			key := fmt.Sprint(nk)
			n, err := normalizeNested(elem)
			if err != nil {
				return nil, err
			}
			out[key] = n
		}
		return out, nil
	}
	return ToTransport(v, "", true)
}

// ToNative converts an inbound parameter into a value the driver can bind.
// Plain JSON primitives are accepted as-is (integral float64 values become int64).
// A typed parameter is an object {"type": T, "value": V} with T one of null,
// boolean, integer, float, string, date, time, timestamp, blob or uuid.
func ToNative(v any) (any, error) {
	switch x := v.(type) {
	case nil, bool, string, int64:
		return x, nil
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case float32:
		return numberToNative(float64(x)), nil
	case float64:
		return numberToNative(x), nil
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i, nil
		}
		f, err := x.Float64()
		if err != nil {
			return nil, NewError(KindUnsupportedType, err, "invalid number %q", x.String())
		}
		return f, nil
	case map[string]any:
		return typedToNative(x)
	}
	return nil, NewError(KindUnsupportedType, nil, "parameter of type %T has no engine mapping", v)
}

func numberToNative(f float64) any {
	if f == math.Trunc(f) && math.Abs(f) <= maxSafeJSONInt {
		return int64(f)
	}
	return f
}

func typedToNative(m map[string]any) (any, error) {
	rawType, ok := m["type"]
	if !ok {
		return nil, NewError(KindUnsupportedType, nil, "object parameters must carry a \"type\" field")
	}
	typ, ok := rawType.(string)
	if !ok {
		return nil, NewError(KindUnsupportedType, nil, "parameter \"type\" must be a string")
	}
	val := m["value"]

	typ = strings.ToLower(typ)
	if typ == "null" || val == nil {
		return nil, nil
	}

	switch typ {
	case "boolean", "bool":
		b, ok := val.(bool)
		if !ok {
			return nil, typedMismatch(typ, val)
		}
		return b, nil
	case "integer", "int", "bigint":
		switch n := val.(type) {
		case json.Number:
			i, err := n.Int64()
			if err != nil {
				return nil, NewError(KindUnsupportedType, err, "invalid integer %s", n.String())
			}
			return i, nil
		case float64:
			if n != math.Trunc(n) || math.Abs(n) > maxSafeJSONInt {
				return nil, NewError(KindUnsupportedType, nil, "integer parameter %v is not an exact integer; pass it as a string", n)
			}
			return int64(n), nil
		case string:
			i, err := strconv.ParseInt(n, 10, 64)
			if err != nil {
				return nil, NewError(KindUnsupportedType, err, "invalid integer %q", n)
			}
			return i, nil
		}
		return nil, typedMismatch(typ, val)
	case "float", "double":
		switch n := val.(type) {
		case json.Number:
			f, err := n.Float64()
			if err != nil {
				return nil, NewError(KindUnsupportedType, err, "invalid float %s", n.String())
			}
			return f, nil
		case float64:
			return n, nil
		case string:
			f, err := strconv.ParseFloat(n, 64)
			if err != nil {
				return nil, NewError(KindUnsupportedType, err, "invalid float %q", n)
			}
			return f, nil
		}
		return nil, typedMismatch(typ, val)
	case "string", "varchar":
		s, ok := val.(string)
		if !ok {
			return nil, typedMismatch(typ, val)
		}
		return s, nil
	case "date":
		s, ok := val.(string)
		if !ok {
			return nil, typedMismatch(typ, val)
		}
		t, err := time.Parse(dateLayout, s)
		if err != nil {
			return nil, NewError(KindUnsupportedType, err, "invalid date %q, expected YYYY-MM-DD", s)
		}
		return t, nil
	case "time":
		s, ok := val.(string)
		if !ok {
			return nil, typedMismatch(typ, val)
		}
		t, err := time.Parse(timeLayout, s)
		if err != nil {
			return nil, NewError(KindUnsupportedType, err, "invalid time %q, expected HH:MM:SS[.ffffff]", s)
		}
		// The engine casts the canonical text form to TIME without a date component.
		return t.Format(timeLayout), nil
	case "timestamp", "datetime":
		s, ok := val.(string)
		if !ok {
			return nil, typedMismatch(typ, val)
		}
		return parseTimestamp(s)
	case "blob", "bytes":
		s, ok := val.(string)
		if !ok {
			return nil, typedMismatch(typ, val)
		}
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, NewError(KindUnsupportedType, err, "blob parameters must be base64 encoded")
		}
		return b, nil
	case "uuid":
		s, ok := val.(string)
		if !ok {
			return nil, typedMismatch(typ, val)
		}
		u, err := uuid.Parse(s)
		if err != nil {
			return nil, NewError(KindUnsupportedType, err, "invalid uuid %q", s)
		}
		return u, nil
	}
	return nil, NewError(KindUnsupportedType, nil, "unknown parameter type %q", typ)
}

func typedMismatch(typ string, val any) *Error {
	return NewError(KindUnsupportedType, nil, "value %v (%T) does not match declared type %q", val, val, typ)
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999", "2006-01-02T15:04:05.999999", dateLayout} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, NewError(KindUnsupportedType, nil, "invalid timestamp %q, expected ISO-8601", s)
}
