package trainer

// CoerceMetrics converts scalar metric values to plain float64 numbers for
// transmission. Non-scalar values (vectors, strings, nested structures) are
// dropped.
func CoerceMetrics(in map[string]any) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		if f, ok := coerceScalar(v); ok {
			out[k] = f
		}
	}
	return out
}

func coerceScalar(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int8:
		return float64(x), true
	case int16:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint8:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case []float64:
		// A single-element tensor still counts as a scalar.
		if len(x) == 1 {
			return x[0], true
		}
		return 0, false
	case []float32:
		if len(x) == 1 {
			return float64(x[0]), true
		}
		return 0, false
	default:
		return 0, false
	}
}
