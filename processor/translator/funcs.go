package translator

import (
	"encoding/json"
	"fmt"
	"math"
	"sync"

	"github.com/CJ-Wright/SHED/stream"
)

// funcTable holds the processing functions pipeline definitions may
// reference by name. Populated at init with the stock functions;
// extended via RegisterMap/RegisterFilter/RegisterAlign before the
// component starts.
type funcTable struct {
	mu      sync.RWMutex
	maps    map[string]stream.MapFunc
	filters map[string]stream.FilterFunc
	aligns  map[string]stream.AlignFunc
}

var funcs = &funcTable{
	maps:    make(map[string]stream.MapFunc),
	filters: make(map[string]stream.FilterFunc),
	aligns:  make(map[string]stream.AlignFunc),
}

// RegisterMap makes a map function available to hosted pipelines under
// name. Call before the translator component starts.
func RegisterMap(name string, fn stream.MapFunc) {
	funcs.mu.Lock()
	defer funcs.mu.Unlock()
	funcs.maps[name] = fn
}

// RegisterFilter makes a filter function available to hosted pipelines.
func RegisterFilter(name string, fn stream.FilterFunc) {
	funcs.mu.Lock()
	defer funcs.mu.Unlock()
	funcs.filters[name] = fn
}

// RegisterAlign makes an align function available to hosted pipelines.
func RegisterAlign(name string, fn stream.AlignFunc) {
	funcs.mu.Lock()
	defer funcs.mu.Unlock()
	funcs.aligns[name] = fn
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func init() {
	RegisterMap("identity", func(v any) (any, error) {
		return v, nil
	})
	RegisterMap("negate", func(v any) (any, error) {
		f, ok := asFloat(v)
		if !ok {
			return nil, fmt.Errorf("negate: value %T is not numeric", v)
		}
		return -f, nil
	})
	RegisterMap("abs", func(v any) (any, error) {
		f, ok := asFloat(v)
		if !ok {
			return nil, fmt.Errorf("abs: value %T is not numeric", v)
		}
		return math.Abs(f), nil
	})
	RegisterMap("log", func(v any) (any, error) {
		f, ok := asFloat(v)
		if !ok {
			return nil, fmt.Errorf("log: value %T is not numeric", v)
		}
		if f <= 0 {
			return nil, fmt.Errorf("log: value %v is not positive", f)
		}
		return math.Log(f), nil
	})

	RegisterFilter("not_nil", func(v any) (bool, error) {
		return v != nil, nil
	})
	RegisterFilter("positive", func(v any) (bool, error) {
		f, ok := asFloat(v)
		if !ok {
			return false, nil
		}
		return f > 0, nil
	})
	RegisterFilter("finite", func(v any) (bool, error) {
		f, ok := asFloat(v)
		if !ok {
			return true, nil
		}
		return !math.IsNaN(f) && !math.IsInf(f, 0), nil
	})
}
