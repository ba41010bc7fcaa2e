package expr

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Kind — тип значения.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindDate
	KindDuration
	KindList
	KindMap
)

var kindNames = [...]string{"none", "bool", "number", "string", "date", "duration", "list", "mapping"}

// String возвращает имя типа.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// DateLayout — формат даты в шаблонах и правилах.
const DateLayout = "2006-01-02"

// Value — значение языка выражений.
//
// Закрытый набор типов: none, bool, number (float64), string,
// date (календарная дата в UTC), duration (целое число дней),
// list и mapping (упорядоченный по ключам вставки).
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
	t    time.Time
	days int
	list []Value
	m    *Map
}

// Null возвращает значение none.
func Null() Value { return Value{} }

// Bool создаёт bool.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Number создаёт число.
func Number(n float64) Value { return Value{kind: KindNumber, n: n} }

// Int создаёт целое число.
func Int(n int) Value { return Value{kind: KindNumber, n: float64(n)} }

// String создаёт строку.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Date создаёт дату. Время суток и зона отбрасываются.
func Date(t time.Time) Value {
	y, m, d := t.Date()
	return Value{kind: KindDate, t: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// Days создаёт duration в днях.
func Days(n int) Value { return Value{kind: KindDuration, days: n} }

// List создаёт список.
func List(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{kind: KindList, list: items}
}

// MapValue оборачивает Map в Value.
func MapValue(m *Map) Value {
	if m == nil {
		m = NewMap()
	}
	return Value{kind: KindMap, m: m}
}

// Kind возвращает тип значения.
func (v Value) Kind() Kind { return v.kind }

// IsNull сообщает, является ли значение none.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool возвращает bool и признак того, что значение bool.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsNumber возвращает число.
func (v Value) AsNumber() (float64, bool) { return v.n, v.kind == KindNumber }

// AsString возвращает строку.
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

// AsDate возвращает дату.
func (v Value) AsDate() (time.Time, bool) { return v.t, v.kind == KindDate }

// AsDays возвращает duration в днях.
func (v Value) AsDays() (int, bool) { return v.days, v.kind == KindDuration }

// AsList возвращает элементы списка.
func (v Value) AsList() ([]Value, bool) { return v.list, v.kind == KindList }

// AsMap возвращает mapping.
func (v Value) AsMap() (*Map, bool) { return v.m, v.kind == KindMap }

// AsInt возвращает целое число, если значение — целочисленный number
// в диапазоне int.
func (v Value) AsInt() (int, bool) {
	if v.kind != KindNumber || v.n != math.Trunc(v.n) {
		return 0, false
	}
	if v.n < math.MinInt || v.n >= -math.MinInt {
		return 0, false
	}
	return int(v.n), true
}

// Truthy — истинность значения в if, and, or, not.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		return v.n != 0
	case KindString:
		return v.s != ""
	case KindDate:
		return true
	case KindDuration:
		return v.days != 0
	case KindList:
		return len(v.list) > 0
	case KindMap:
		return v.m.Len() > 0
	default:
		return false
	}
}

// String возвращает представление значения при подстановке в шаблон.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return ""
	case KindBool:
		if v.b {
			return "true"
		}
		return "false"
	case KindNumber:
		return formatNumber(v.n)
	case KindString:
		return v.s
	case KindDate:
		return v.t.Format(DateLayout)
	case KindDuration:
		if v.days == 1 || v.days == -1 {
			return fmt.Sprintf("%d day", v.days)
		}
		return fmt.Sprintf("%d days", v.days)
	default:
		data, err := json.Marshal(v.ToGo())
		if err != nil {
			return fmt.Sprintf("<%s>", v.kind)
		}
		return string(data)
	}
}

func formatNumber(n float64) string {
	if n == math.Trunc(n) && math.Abs(n) < 1e15 {
		return strconv.FormatInt(int64(n), 10)
	}
	return strconv.FormatFloat(n, 'f', -1, 64)
}

// ToGo преобразует значение в обычные Go-типы для JSON/YAML.
//
// Даты становятся строками "2006-01-02", duration — числом дней,
// целые числа — int64.
func (v Value) ToGo() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		if v.n == math.Trunc(v.n) && math.Abs(v.n) < 1e15 {
			return int64(v.n)
		}
		return v.n
	case KindString:
		return v.s
	case KindDate:
		return v.t.Format(DateLayout)
	case KindDuration:
		return v.days
	case KindList:
		out := make([]any, len(v.list))
		for i, item := range v.list {
			out[i] = item.ToGo()
		}
		return out
	case KindMap:
		out := make(map[string]any, v.m.Len())
		for _, k := range v.m.Keys() {
			val, _ := v.m.Get(k)
			out[k] = val.ToGo()
		}
		return out
	default:
		return nil
	}
}

// FromGo преобразует Go-значение (результат json/yaml декодирования) в Value.
func FromGo(x any) Value {
	switch t := x.(type) {
	case nil:
		return Null()
	case Value:
		return t
	case bool:
		return Bool(t)
	case int:
		return Int(t)
	case int32:
		return Number(float64(t))
	case int64:
		return Number(float64(t))
	case uint64:
		return Number(float64(t))
	case float32:
		return Number(float64(t))
	case float64:
		return Number(t)
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return String(t.String())
		}
		return Number(f)
	case string:
		return String(t)
	case time.Time:
		return Date(t)
	case time.Duration:
		return Days(int(t / (24 * time.Hour)))
	case []any:
		items := make([]Value, len(t))
		for i, item := range t {
			items[i] = FromGo(item)
		}
		return List(items...)
	case []string:
		items := make([]Value, len(t))
		for i, item := range t {
			items[i] = String(item)
		}
		return List(items...)
	case map[string]any:
		m := NewMap()
		for _, k := range sortedKeys(t) {
			m.Set(k, FromGo(t[k]))
		}
		return MapValue(m)
	case map[string]string:
		m := NewMap()
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			m.Set(k, String(t[k]))
		}
		return MapValue(m)
	case map[any]any:
		m := NewMap()
		keys := make([]string, 0, len(t))
		conv := make(map[string]any, len(t))
		for k, val := range t {
			ks := fmt.Sprint(k)
			keys = append(keys, ks)
			conv[ks] = val
		}
		sort.Strings(keys)
		for _, k := range keys {
			m.Set(k, FromGo(conv[k]))
		}
		return MapValue(m)
	default:
		return String(fmt.Sprint(t))
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Equal сравнивает значения. Значения разных типов не равны.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNull:
		return true
	case KindBool:
		return a.b == b.b
	case KindNumber:
		return a.n == b.n
	case KindString:
		return a.s == b.s
	case KindDate:
		return a.t.Equal(b.t)
	case KindDuration:
		return a.days == b.days
	case KindList:
		if len(a.list) != len(b.list) {
			return false
		}
		for i := range a.list {
			if !Equal(a.list[i], b.list[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if a.m.Len() != b.m.Len() {
			return false
		}
		for _, k := range a.m.Keys() {
			av, _ := a.m.Get(k)
			bv, ok := b.m.Get(k)
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	}
	return false
}

// Compare упорядочивает значения одного упорядоченного типа.
// Возвращает ErrType для разных типов и для неупорядоченных типов.
func Compare(a, b Value) (int, error) {
	if a.kind != b.kind {
		return 0, errorf(ErrType, "cannot compare %s with %s", a.kind, b.kind)
	}
	switch a.kind {
	case KindNumber:
		return cmpOrdered(a.n, b.n), nil
	case KindString:
		return strings.Compare(a.s, b.s), nil
	case KindDate:
		return a.t.Compare(b.t), nil
	case KindDuration:
		return cmpOrdered(a.days, b.days), nil
	default:
		return 0, errorf(ErrType, "%s values are not ordered", a.kind)
	}
}

func cmpOrdered[T int | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Map — mapping с сохранением порядка вставки ключей.
type Map struct {
	keys []string
	vals map[string]Value
}

// NewMap создаёт пустой mapping.
func NewMap() *Map {
	return &Map{vals: make(map[string]Value)}
}

// MapOf создаёт mapping из пар в порядке аргументов.
func MapOf(pairs map[string]Value) *Map {
	m := NewMap()
	keys := make([]string, 0, len(pairs))
	for k := range pairs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		m.Set(k, pairs[k])
	}
	return m
}

// Set устанавливает значение ключа.
func (m *Map) Set(key string, v Value) {
	if _, ok := m.vals[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.vals[key] = v
}

// Get возвращает значение ключа.
func (m *Map) Get(key string) (Value, bool) {
	if m == nil {
		return Value{}, false
	}
	v, ok := m.vals[key]
	return v, ok
}

// Keys возвращает ключи в порядке вставки.
func (m *Map) Keys() []string {
	if m == nil {
		return nil
	}
	return m.keys
}

// Len возвращает количество ключей.
func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// Clone возвращает неглубокую копию.
func (m *Map) Clone() *Map {
	c := NewMap()
	for _, k := range m.Keys() {
		c.Set(k, m.vals[k])
	}
	return c
}
