// Package normalize turns the payload shapes produced by the streaming
// service (field arrays, wrapped keyed objects, plain keyed objects) into a
// canonical model.Fields map.
package normalize

import (
	"bytes"
	"encoding/json"
	"math"
	"math/big"
	"strconv"

	"github.com/Guizzs26/dao_governance_stream/internal/model"
)

// envelopeKeys are stream metadata carried next to field data on keyed
// payloads. A scalar timestamp is vote data and is handled in decodeValue.
var envelopeKeys = map[string]bool{
	"metadata":  true,
	"publisher": true,
	"schemaId":  true,
}

// Normalize decodes raw into a field map. Unknown shapes yield an empty map.
func Normalize(raw any) model.Fields {
	if seq, ok := fieldSequence(raw); ok {
		return fromPairs(seq)
	}
	if obj, ok := asObject(raw); ok {
		if inner, ok := asObject(obj["data"]); ok {
			obj = inner
		}
		return fromKeyed(obj)
	}
	return model.Fields{}
}

// JSON decodes b with number preservation and normalizes the result.
// Invalid JSON yields an empty map.
func JSON(b []byte) model.Fields {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return model.Fields{}
	}
	return Normalize(raw)
}

// fieldSequence finds an ordered list of {name, value} pairs either as the
// payload itself or under its data/decoded key.
func fieldSequence(raw any) ([]any, bool) {
	if seq, ok := asSequence(raw); ok {
		return seq, true
	}
	obj, ok := asObject(raw)
	if !ok {
		return nil, false
	}
	for _, k := range []string{"data", "decoded"} {
		if seq, ok := asSequence(obj[k]); ok {
			return seq, true
		}
	}
	return nil, false
}

func fromPairs(seq []any) model.Fields {
	out := model.Fields{}
	for _, item := range seq {
		pair, ok := asObject(item)
		if !ok {
			continue
		}
		name, _ := pair["name"].(string)
		if name == "" {
			continue
		}
		if v, ok := decodeValue(pair); ok {
			out[name] = v
		}
	}
	return out
}

func fromKeyed(obj map[string]any) model.Fields {
	out := model.Fields{}
	for k, v := range obj {
		if envelopeKeys[k] {
			continue
		}
		if sv, ok := decodeValue(v); ok {
			out[k] = sv
		}
	}
	return out
}

// decodeValue unwraps v, {value: v}, {value: {value: v}} or {decoded: v}
// down to a scalar.
func decodeValue(v any) (model.Scalar, bool) {
	if obj, ok := asObject(v); ok {
		if inner, ok := obj["value"]; ok {
			if wrapped, ok := asObject(inner); ok {
				if innermost, ok := wrapped["value"]; ok {
					return scalar(innermost)
				}
				return nil, false
			}
			return scalar(inner)
		}
		if decoded, ok := obj["decoded"]; ok {
			return scalar(decoded)
		}
		return nil, false
	}
	return scalar(v)
}

func scalar(v any) (model.Scalar, bool) {
	switch t := v.(type) {
	case string, bool, int64:
		return t, true
	case float64:
		return fromFloat(t), true
	case float32:
		return fromFloat(float64(t)), true
	case int:
		return int64(t), true
	case int32:
		return int64(t), true
	case uint32:
		return int64(t), true
	case uint64:
		if t > math.MaxInt64 {
			return strconv.FormatUint(t, 10), true
		}
		return int64(t), true
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n, true
		}
		if f, err := t.Float64(); err == nil && f != math.Trunc(f) {
			return f, true
		}
		// integers wider than int64 keep their decimal form
		return t.String(), true
	case *big.Int:
		if t == nil {
			return nil, false
		}
		return fromBig(t), true
	case big.Int:
		return fromBig(&t), true
	default:
		return nil, false
	}
}

func fromFloat(f float64) model.Scalar {
	if f == math.Trunc(f) && f >= math.MinInt64 && f <= math.MaxInt64 {
		return int64(f)
	}
	return f
}

func fromBig(b *big.Int) model.Scalar {
	if b.IsInt64() {
		return b.Int64()
	}
	return b.String()
}

func asObject(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case model.Fields:
		return map[string]any(t), true
	default:
		return nil, false
	}
}

func asSequence(v any) ([]any, bool) {
	switch t := v.(type) {
	case []any:
		return t, true
	case []map[string]any:
		seq := make([]any, len(t))
		for i := range t {
			seq[i] = t[i]
		}
		return seq, true
	case []Field:
		seq := make([]any, len(t))
		for i := range t {
			seq[i] = map[string]any{"name": t[i].Name, "value": t[i].Value}
		}
		return seq, true
	default:
		return nil, false
	}
}
