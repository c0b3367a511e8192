package sandbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"

	lua "github.com/yuin/gopher-lua"
)

// пределы сериализуемого состояния
const (
	maxValueDepth = 64
	maxValueNodes = 100_000
	maxValueBytes = 4 << 20
)

var errUnsupportedValue = errors.New("value is not JSON representable")

// encodeValue сериализует значение Lua в детерминированный JSON (ключи объектов отсортированы)
func encodeValue(v lua.LValue) ([]byte, error) {
	e := &encoder{path: make(map[*lua.LTable]struct{})}
	goValue, err := e.toGo(v, 0)
	if err != nil {
		return nil, err
	}
	return json.Marshal(goValue)
}

// decodeValue строит значение Lua из JSON
func decodeValue(L *lua.LState, data []byte) (lua.LValue, error) {
	if len(data) == 0 {
		return lua.LNil, nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return lua.LNil, fmt.Errorf("decode json: %w", err)
	}
	return toLua(L, v), nil
}

// encoder обходит значение; циклические таблицы отвергаются,
// объем обхода ограничен числом узлов и байтов
type encoder struct {
	path  map[*lua.LTable]struct{}
	nodes int
	bytes int
}

func (e *encoder) spend(nodes, bytes int) error {
	e.nodes += nodes
	e.bytes += bytes
	if e.nodes > maxValueNodes {
		return fmt.Errorf("%w: more than %d values", errUnsupportedValue, maxValueNodes)
	}
	if e.bytes > maxValueBytes {
		return fmt.Errorf("%w: larger than %d bytes", errUnsupportedValue, maxValueBytes)
	}
	return nil
}

func (e *encoder) toGo(v lua.LValue, depth int) (any, error) {
	if err := e.spend(1, 8); err != nil {
		return nil, err
	}
	switch val := v.(type) {
	case *lua.LNilType:
		return nil, nil
	case lua.LBool:
		return bool(val), nil
	case lua.LNumber:
		f := float64(val)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("%w: number %v", errUnsupportedValue, f)
		}
		return f, nil
	case lua.LString:
		if err := e.spend(0, len(val)); err != nil {
			return nil, err
		}
		return string(val), nil
	case *lua.LTable:
		if depth >= maxValueDepth {
			return nil, fmt.Errorf("%w: nested deeper than %d", errUnsupportedValue, maxValueDepth)
		}
		if _, seen := e.path[val]; seen {
			return nil, fmt.Errorf("%w: cyclic table", errUnsupportedValue)
		}
		e.path[val] = struct{}{}
		defer delete(e.path, val)
		return e.tableToGo(val, depth)
	default:
		return nil, fmt.Errorf("%w: %s", errUnsupportedValue, v.Type().String())
	}
}

func (e *encoder) tableToGo(t *lua.LTable, depth int) (any, error) {
	count, maxIndex := 0, 0
	isArray := true
	t.ForEach(func(k, _ lua.LValue) {
		count++
		n, ok := k.(lua.LNumber)
		if !ok || float64(n) != math.Trunc(float64(n)) || n < 1 {
			isArray = false
			return
		}
		if int(n) > maxIndex {
			maxIndex = int(n)
		}
	})
	if count > maxValueNodes {
		return nil, fmt.Errorf("%w: more than %d values", errUnsupportedValue, maxValueNodes)
	}

	if count > 0 && isArray && maxIndex == count {
		out := make([]any, count)
		for i := 1; i <= count; i++ {
			item, err := e.toGo(t.RawGetInt(i), depth+1)
			if err != nil {
				return nil, err
			}
			out[i-1] = item
		}
		return out, nil
	}

	out := make(map[string]any, count)
	var firstErr error
	t.ForEach(func(k, item lua.LValue) {
		if firstErr != nil {
			return
		}
		var key string
		switch kv := k.(type) {
		case lua.LString:
			key = string(kv)
		case lua.LNumber:
			key = strconv.FormatFloat(float64(kv), 'f', -1, 64)
		default:
			firstErr = fmt.Errorf("%w: table key of type %s", errUnsupportedValue, k.Type().String())
			return
		}
		if _, dup := out[key]; dup {
			firstErr = fmt.Errorf("%w: duplicate key %q", errUnsupportedValue, key)
			return
		}
		if err := e.spend(0, len(key)); err != nil {
			firstErr = err
			return
		}
		goValue, err := e.toGo(item, depth+1)
		if err != nil {
			firstErr = err
			return
		}
		out[key] = goValue
	})
	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

// cloneValue глубокая копия таблиц; общие ссылки и циклы сохраняются, ключи не меняют тип
func cloneValue(L *lua.LState, v lua.LValue, seen map[*lua.LTable]*lua.LTable) lua.LValue {
	t, ok := v.(*lua.LTable)
	if !ok {
		return v
	}
	if c, done := seen[t]; done {
		return c
	}
	c := L.CreateTable(t.Len(), 0)
	seen[t] = c
	c.Metatable = t.Metatable
	t.ForEach(func(k, item lua.LValue) {
		c.RawSet(cloneValue(L, k, seen), cloneValue(L, item, seen))
	})
	return c
}

func toLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case float64:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case []any:
		t := L.CreateTable(len(val), 0)
		for i, item := range val {
			t.RawSetInt(i+1, toLua(L, item))
		}
		return t
	case map[string]any:
		t := L.CreateTable(0, len(val))
		for k, item := range val {
			t.RawSetString(k, toLua(L, item))
		}
		return t
	}
	return lua.LNil
}
