package expr

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"
)

// Func — чистая функция над значениями языка.
//
// Одна и та же функция доступна как вызов и как фильтр:
// days(3) и 3|days эквивалентны, значение слева от | — первый аргумент.
type Func func(args []Value) (Value, error)

// Registry — реестр функций и фильтров.
//
// Заполняется при старте программы, ядро только читает его.
// Потокобезопасен.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]Func)}
}

// DefaultRegistry создаёт реестр со всеми стандартными функциями.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	for _, name := range []string{"day", "days"} {
		r.Register(name, durationFunc(1))
	}
	for _, name := range []string{"week", "weeks"} {
		r.Register(name, durationFunc(7))
	}
	r.Register("date", fnDate)
	for _, name := range []string{"length", "len", "count"} {
		r.Register(name, fnLength)
	}
	r.Register("lower", stringFunc(strings.ToLower))
	r.Register("upper", stringFunc(strings.ToUpper))
	r.Register("trim", stringFunc(strings.TrimSpace))
	r.Register("capitalize", stringFunc(capitalize))
	r.Register("default", fnDefault)
	r.Register("d", fnDefault)
	r.Register("int", fnInt)
	r.Register("float", fnFloat)
	r.Register("string", fnString)
	r.Register("str", fnString)
	r.Register("join", fnJoin)
	r.Register("first", fnFirst)
	r.Register("last", fnLast)
	r.Register("tojson", fnToJSON)
	r.Register("json", fnToJSON)
	r.Register("fromjson", fnFromJSON)
	r.Register("replace", fnReplace)
	r.Register("min", extremum(-1))
	r.Register("max", extremum(1))
	r.Register("range", fnRange)
	r.Register("sort", fnSort)
	r.Register("keys", fnKeys)
	r.Register("list", fnList)
	r.Register("unique", fnUnique)
	r.Register("abs", fnAbs)
	r.Register("round", fnRound)

	return r
}

// Register регистрирует функцию. Существующая функция перезаписывается.
func (r *Registry) Register(name string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[name] = fn
}

// Get возвращает функцию по имени.
func (r *Registry) Get(name string) (Func, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fn, ok := r.funcs[name]
	if !ok {
		return nil, errorf(ErrUndefined, "unknown function %q", name)
	}
	return fn, nil
}

// Has проверяет, зарегистрирована ли функция.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.funcs[name]
	return ok
}

// Names возвращает отсортированный список имён.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Weekdays возвращает глобальные константы MONDAY..SUNDAY (0..6),
// совместимые с date.weekday().
func Weekdays() map[string]Value {
	names := []string{"MONDAY", "TUESDAY", "WEDNESDAY", "THURSDAY", "FRIDAY", "SATURDAY", "SUNDAY"}
	out := make(map[string]Value, len(names))
	for i, name := range names {
		out[name] = Int(i)
	}
	return out
}

func arity(args []Value, min, max int) error {
	if len(args) < min || len(args) > max {
		if min == max {
			return errorf(ErrCall, "expected %d argument(s), got %d", min, len(args))
		}
		return errorf(ErrCall, "expected %d to %d arguments, got %d", min, max, len(args))
	}
	return nil
}

// maxDays — предел длительности в днях.
const maxDays = 999_999_999

func durationFunc(unit int) Func {
	return func(args []Value) (Value, error) {
		if err := arity(args, 1, 1); err != nil {
			return Value{}, err
		}
		n, ok := args[0].AsInt()
		if !ok {
			if args[0].Kind() == KindNumber {
				return Value{}, errorf(ErrType, "duration needs an integer, got %s", args[0])
			}
			return Value{}, errorf(ErrType, "duration needs an integer, got %s", args[0].Kind())
		}
		if n > maxDays/unit || n < -maxDays/unit {
			return Value{}, errorf(ErrType, "duration of %d x %d days is out of range", n, unit)
		}
		return Days(n * unit), nil
	}
}

// ParseDate разбирает "2006-01-02" или RFC 3339 (берётся только дата).
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	if len(s) > len(DateLayout) {
		if t, err := time.Parse(DateLayout, s[:len(DateLayout)]); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errorf(ErrCall, "invalid date %q", s)
}

func fnDate(args []Value) (Value, error) {
	if err := arity(args, 1, 1); err != nil {
		return Value{}, err
	}
	switch args[0].Kind() {
	case KindDate:
		return args[0], nil
	case KindString:
		s, _ := args[0].AsString()
		t, err := ParseDate(s)
		if err != nil {
			return Value{}, err
		}
		return Date(t), nil
	}
	return Value{}, errorf(ErrType, "date needs a string, got %s", args[0].Kind())
}

func fnLength(args []Value) (Value, error) {
	if err := arity(args, 1, 1); err != nil {
		return Value{}, err
	}
	v := args[0]
	switch v.Kind() {
	case KindString:
		return Int(utf8.RuneCountInString(v.s)), nil
	case KindList:
		return Int(len(v.list)), nil
	case KindMap:
		return Int(v.m.Len()), nil
	}
	return Value{}, errorf(ErrType, "%s has no length", v.Kind())
}

func stringFunc(f func(string) string) Func {
	return func(args []Value) (Value, error) {
		if err := arity(args, 1, 1); err != nil {
			return Value{}, err
		}
		s, ok := args[0].AsString()
		if !ok {
			return Value{}, errorf(ErrType, "expected string, got %s", args[0].Kind())
		}
		return String(f(s)), nil
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}

// fnDefault — x|default(y[, boolean]).
// Неопределённое имя слева от фильтра превращается в none до вызова.
func fnDefault(args []Value) (Value, error) {
	if err := arity(args, 1, 3); err != nil {
		return Value{}, err
	}
	fallback := String("")
	if len(args) > 1 {
		fallback = args[1]
	}
	useFalsy := len(args) > 2 && args[2].Truthy()
	if args[0].IsNull() || (useFalsy && !args[0].Truthy()) {
		return fallback, nil
	}
	return args[0], nil
}

func fnInt(args []Value) (Value, error) {
	if err := arity(args, 1, 2); err != nil {
		return Value{}, err
	}
	v := args[0]
	switch v.Kind() {
	case KindNumber:
		return Number(math.Trunc(v.n)), nil
	case KindBool:
		if v.b {
			return Int(1), nil
		}
		return Int(0), nil
	case KindDuration:
		return Int(v.days), nil
	case KindString:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v.s), 64); err == nil {
			return Number(math.Trunc(f)), nil
		}
	}
	if len(args) == 2 {
		return args[1], nil
	}
	return Value{}, errorf(ErrCall, "cannot convert %s %q to int", v.Kind(), v.String())
}

func fnFloat(args []Value) (Value, error) {
	if err := arity(args, 1, 2); err != nil {
		return Value{}, err
	}
	v := args[0]
	switch v.Kind() {
	case KindNumber:
		return v, nil
	case KindString:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v.s), 64); err == nil {
			return Number(f), nil
		}
	}
	if len(args) == 2 {
		return args[1], nil
	}
	return Value{}, errorf(ErrCall, "cannot convert %s %q to float", v.Kind(), v.String())
}

func fnString(args []Value) (Value, error) {
	if err := arity(args, 1, 1); err != nil {
		return Value{}, err
	}
	return String(args[0].String()), nil
}

func fnJoin(args []Value) (Value, error) {
	if err := arity(args, 1, 2); err != nil {
		return Value{}, err
	}
	items, ok := args[0].AsList()
	if !ok {
		return Value{}, errorf(ErrType, "join needs a list, got %s", args[0].Kind())
	}
	sep := ""
	if len(args) == 2 {
		sep = args[1].String()
	}
	parts := make([]string, len(items))
	for i, item := range items {
		parts[i] = item.String()
	}
	return String(strings.Join(parts, sep)), nil
}

func sequence(v Value) ([]Value, error) {
	switch v.Kind() {
	case KindList:
		return v.list, nil
	case KindString:
		out := make([]Value, 0, len(v.s))
		for _, r := range v.s {
			out = append(out, String(string(r)))
		}
		return out, nil
	case KindMap:
		out := make([]Value, 0, v.m.Len())
		for _, k := range v.m.Keys() {
			out = append(out, String(k))
		}
		return out, nil
	}
	return nil, errorf(ErrType, "%s is not iterable", v.Kind())
}

func fnFirst(args []Value) (Value, error) {
	if err := arity(args, 1, 1); err != nil {
		return Value{}, err
	}
	items, err := sequence(args[0])
	if err != nil {
		return Value{}, err
	}
	if len(items) == 0 {
		return Value{}, errorf(ErrUndefined, "first of empty sequence")
	}
	return items[0], nil
}

func fnLast(args []Value) (Value, error) {
	if err := arity(args, 1, 1); err != nil {
		return Value{}, err
	}
	items, err := sequence(args[0])
	if err != nil {
		return Value{}, err
	}
	if len(items) == 0 {
		return Value{}, errorf(ErrUndefined, "last of empty sequence")
	}
	return items[len(items)-1], nil
}

func fnToJSON(args []Value) (Value, error) {
	if err := arity(args, 1, 1); err != nil {
		return Value{}, err
	}
	data, err := json.Marshal(args[0].ToGo())
	if err != nil {
		return Value{}, errorf(ErrCall, "tojson: %v", err)
	}
	return String(string(data)), nil
}

func fnFromJSON(args []Value) (Value, error) {
	if err := arity(args, 1, 1); err != nil {
		return Value{}, err
	}
	s, ok := args[0].AsString()
	if !ok {
		return Value{}, errorf(ErrType, "fromjson needs a string, got %s", args[0].Kind())
	}
	var out any
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return Value{}, errorf(ErrCall, "fromjson: %v", err)
	}
	return FromGo(out), nil
}

func fnReplace(args []Value) (Value, error) {
	if err := arity(args, 3, 3); err != nil {
		return Value{}, err
	}
	s, ok := args[0].AsString()
	if !ok {
		return Value{}, errorf(ErrType, "replace needs a string, got %s", args[0].Kind())
	}
	return String(strings.ReplaceAll(s, args[1].String(), args[2].String())), nil
}

// extremum возвращает min (sign=-1) или max (sign=1).
// Принимает список или несколько аргументов.
func extremum(sign int) Func {
	return func(args []Value) (Value, error) {
		items := args
		if len(args) == 1 {
			list, ok := args[0].AsList()
			if !ok {
				return Value{}, errorf(ErrType, "expected list, got %s", args[0].Kind())
			}
			items = list
		}
		if len(items) == 0 {
			return Value{}, errorf(ErrCall, "empty sequence")
		}
		best := items[0]
		for _, item := range items[1:] {
			c, err := Compare(item, best)
			if err != nil {
				return Value{}, err
			}
			if c*sign > 0 {
				best = item
			}
		}
		return best, nil
	}
}

func fnRange(args []Value) (Value, error) {
	if err := arity(args, 1, 3); err != nil {
		return Value{}, err
	}
	ints := make([]int, len(args))
	for i, a := range args {
		n, ok := a.AsInt()
		if !ok {
			return Value{}, errorf(ErrType, "range needs integers, got %s", a.Kind())
		}
		ints[i] = n
	}
	start, stop, step := 0, ints[0], 1
	if len(ints) >= 2 {
		start, stop = ints[0], ints[1]
	}
	if len(ints) == 3 {
		step = ints[2]
	}
	if step == 0 {
		return Value{}, errorf(ErrCall, "range step must not be zero")
	}
	var out []Value
	for i := start; (step > 0 && i < stop) || (step < 0 && i > stop); i += step {
		out = append(out, Int(i))
	}
	return List(out...), nil
}

func fnSort(args []Value) (Value, error) {
	if err := arity(args, 1, 2); err != nil {
		return Value{}, err
	}
	items, err := sequence(args[0])
	if err != nil {
		return Value{}, err
	}
	reverse := len(args) == 2 && args[1].Truthy()
	out := append([]Value(nil), items...)
	var cmpErr error
	sort.SliceStable(out, func(i, j int) bool {
		c, err := Compare(out[i], out[j])
		if err != nil && cmpErr == nil {
			cmpErr = err
		}
		if reverse {
			return c > 0
		}
		return c < 0
	})
	if cmpErr != nil {
		return Value{}, cmpErr
	}
	return List(out...), nil
}

func fnKeys(args []Value) (Value, error) {
	if err := arity(args, 1, 1); err != nil {
		return Value{}, err
	}
	m, ok := args[0].AsMap()
	if !ok {
		return Value{}, errorf(ErrType, "keys needs a mapping, got %s", args[0].Kind())
	}
	out := make([]Value, 0, m.Len())
	for _, k := range m.Keys() {
		out = append(out, String(k))
	}
	return List(out...), nil
}

func fnList(args []Value) (Value, error) {
	if err := arity(args, 1, 1); err != nil {
		return Value{}, err
	}
	items, err := sequence(args[0])
	if err != nil {
		return Value{}, err
	}
	return List(append([]Value(nil), items...)...), nil
}

func fnUnique(args []Value) (Value, error) {
	if err := arity(args, 1, 1); err != nil {
		return Value{}, err
	}
	items, err := sequence(args[0])
	if err != nil {
		return Value{}, err
	}
	var out []Value
	for _, item := range items {
		dup := false
		for _, seen := range out {
			if Equal(seen, item) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, item)
		}
	}
	return List(out...), nil
}

func fnAbs(args []Value) (Value, error) {
	if err := arity(args, 1, 1); err != nil {
		return Value{}, err
	}
	switch args[0].Kind() {
	case KindNumber:
		return Number(math.Abs(args[0].n)), nil
	case KindDuration:
		d := args[0].days
		if d < 0 {
			d = -d
		}
		return Days(d), nil
	}
	return Value{}, errorf(ErrType, "abs needs a number, got %s", args[0].Kind())
}

func fnRound(args []Value) (Value, error) {
	if err := arity(args, 1, 2); err != nil {
		return Value{}, err
	}
	n, ok := args[0].AsNumber()
	if !ok {
		return Value{}, errorf(ErrType, "round needs a number, got %s", args[0].Kind())
	}
	digits := 0
	if len(args) == 2 {
		if digits, ok = args[1].AsInt(); !ok {
			return Value{}, errorf(ErrType, "round precision must be an integer")
		}
	}
	p := math.Pow(10, float64(digits))
	return Number(math.Round(n*p) / p), nil
}
