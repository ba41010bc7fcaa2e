package expr

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(t *testing.T, s string) Value {
	t.Helper()
	d, err := time.Parse(DateLayout, s)
	require.NoError(t, err)
	return Date(d)
}

func testEnv(t *testing.T) MapEnv {
	env := MapEnv{
		"today":      date(t, "2025-07-05"),
		"start_date": date(t, "2025-07-17"),
		"n":          Int(3),
		"name":       String("rhel-10.1"),
		"items":      List(Int(1), Int(2), Int(3)),
		"release": MapValue(MapOf(map[string]Value{
			"major": Int(10),
			"minor": Int(1),
			"tags":  List(String("ga"), String("beta")),
		})),
	}
	for k, v := range Weekdays() {
		env[k] = v
	}
	return env
}

func TestEval_Literals(t *testing.T) {
	e := New(nil)
	env := MapEnv{}

	tests := []struct {
		src  string
		want Value
	}{
		{"42", Int(42)},
		{"1.5", Number(1.5)},
		{"'abc'", String("abc")},
		{`"a\"b"`, String(`a"b`)},
		{"true", Bool(true)},
		{"False", Bool(false)},
		{"none", Null()},
		{"[1, 'a']", List(Int(1), String("a"))},
		{"{'a': 1}['a']", Int(1)},
	}

	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			got, err := e.Eval(tt.src, env)
			require.NoError(t, err)
			assert.True(t, Equal(tt.want, got), "got %v", got)
		})
	}
}

func TestEval_Operators(t *testing.T) {
	e := New(nil)
	env := testEnv(t)

	tests := []struct {
		src  string
		want Value
	}{
		{"1 + 2 * 3", Int(7)},
		{"(1 + 2) * 3", Int(9)},
		{"7 // 2", Int(3)},
		{"-7 % 3", Int(2)},
		{"7 / 2", Number(3.5)},
		{"'a' ~ 1 ~ true", String("a1true")},
		{"'ab' + 'c'", String("abc")},
		{"n > 2 and n < 4", Bool(true)},
		{"n == 2 or 'fallback'", String("fallback")},
		{"not n", Bool(false)},
		{"2 in items", Bool(true)},
		{"5 not in items", Bool(true)},
		{"'ga' in release.tags", Bool(true)},
		{"'hel' in name", Bool(true)},
		{"'major' in release", Bool(true)},
		{"'yes' if n > 1 else 'no'", String("yes")},
		{"'yes' if n > 5", Null()},
		{"release.major ~ '.' ~ release['minor']", String("10.1")},
		{"items[-1]", Int(3)},
		{"name.upper()", String("RHEL-10.1")},
		{"name.split('-')[1]", String("10.1")},
		{"release.get('missing', 7)", Int(7)},
		{"1 == '1'", Bool(false)},
	}

	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			got, err := e.Eval(tt.src, env)
			require.NoError(t, err)
			assert.True(t, Equal(tt.want, got), "got %v (%s)", got, got.Kind())
		})
	}
}

func TestEval_DurationArithmetic(t *testing.T) {
	e := New(nil)
	env := testEnv(t)

	tests := []struct {
		src  string
		want string
	}{
		{"today + 1|day", "2025-07-06"},
		{"today + 1|days", "2025-07-06"},
		{"start_date - 2|weeks", "2025-07-03"},
		{"start_date - 2|week", "2025-07-03"},
		{"start_date - n|days", "2025-07-14"},
		{"start_date - (n + 1)|days", "2025-07-13"},
		{"days(2) + today", "2025-07-07"},
		{"today + 1|week * 2", "2025-07-19"},
		{"date('2025-01-31') + 1|day", "2025-02-01"},
		{"'2025-12-31T10:00:00Z'|date", "2025-12-31"},
	}

	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			got, err := e.Eval(tt.src, env)
			require.NoError(t, err)
			require.Equal(t, KindDate, got.Kind())
			assert.Equal(t, tt.want, got.String())
		})
	}

	got, err := e.Eval("today + 1|day == today + 1|days", env)
	require.NoError(t, err)
	assert.True(t, Equal(Bool(true), got))

	got, err = e.Eval("(start_date - today).days", env)
	require.NoError(t, err)
	assert.True(t, Equal(Int(12), got))

	got, err = e.Eval("start_date - 2|weeks == start_date - 14|days", env)
	require.NoError(t, err)
	assert.True(t, Equal(Bool(true), got))
}

func TestEval_DateAttributes(t *testing.T) {
	e := New(nil)
	env := testEnv(t)

	// 2025-07-05 — суббота
	got, err := e.Eval("today.weekday() == SATURDAY", env)
	require.NoError(t, err)
	assert.True(t, Equal(Bool(true), got))

	got, err = e.Eval("today.year * 100 + today.month", env)
	require.NoError(t, err)
	assert.True(t, Equal(Int(202507), got))

	got, err = e.Eval("today.isoformat()", env)
	require.NoError(t, err)
	assert.Equal(t, "2025-07-05", got.String())
}

func TestEval_Tests(t *testing.T) {
	e := New(nil)
	env := testEnv(t)

	tests := []struct {
		src  string
		want bool
	}{
		{"missing is defined", false},
		{"missing is not defined", true},
		{"release.major is defined", true},
		{"release.nope is defined", false},
		{"none is none", true},
		{"n is not none", true},
		{"release is mapping", true},
	}

	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			got, err := e.Eval(tt.src, env)
			require.NoError(t, err)
			assert.True(t, Equal(Bool(tt.want), got))
		})
	}
}

func TestEval_Filters(t *testing.T) {
	e := New(nil)
	env := testEnv(t)

	tests := []struct {
		src  string
		want string
	}{
		{"items|length", "3"},
		{"items|join(',')", "1,2,3"},
		{"missing|default('x')", "x"},
		{"name|upper|replace('-', '_')", "RHEL_10.1"},
		{"'4'|int + 1", "5"},
		{"items|first", "1"},
		{"items|last", "3"},
		{"[3, 1, 2]|sort|join", "123"},
		{"[3, 1, 2]|max", "3"},
		{"min(4, 2, 8)", "2"},
		{"range(3)|list|length", "3"},
		{"release|tojson", `{"major":10,"minor":1,"tags":["ga","beta"]}`},
		{"('{\"a\": [1]}'|fromjson).a[0]", "1"},
	}

	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			got, err := e.Eval(tt.src, env)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestEval_Errors(t *testing.T) {
	e := New(nil)
	env := testEnv(t)

	tests := []struct {
		src   string
		cause error
		path  string
	}{
		{"missing + 1", ErrUndefined, "missing"},
		{"release.nope", ErrUndefined, "release.nope"},
		{"items[10]", ErrUndefined, "items[10]"},
		{"today < 5", ErrType, "today < 5"},
		{"today + 1", ErrType, "today + 1"},
		{"'a' - 1", ErrType, ""},
		{"1.5|days", ErrType, "1.5|days"},
		{"9999999999999999999999|days", ErrType, "9999999999999999999999|days"},
		{"1000000000|days", ErrType, ""},
		{"200000000|weeks", ErrType, ""},
		{"-200000000|weeks", ErrType, ""},
		{"1 / 0", ErrZeroDivision, ""},
		{"nope(1)", ErrUndefined, "nope(1)"},
		{"1 +", ErrSyntax, ""},
		{"(1", ErrSyntax, ""},
		{"a $ b", ErrSyntax, "$"},
		{"'unterminated", ErrSyntax, ""},
		{"[1] < [2]", ErrType, ""},
	}

	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			_, err := e.Eval(tt.src, env)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.cause), "got %v", err)

			var ee *ExpressionError
			require.True(t, errors.As(err, &ee))
			assert.Equal(t, tt.src, ee.Source)
			if tt.path != "" {
				assert.Equal(t, tt.path, ee.Path)
			}
		})
	}
}

func TestEvalBool_RequiresBool(t *testing.T) {
	e := New(nil)
	env := testEnv(t)

	ok, err := e.EvalBool("today < start_date", env)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = e.EvalBool("n", env)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrType)
}

func TestEval_DoesNotMutateEnv(t *testing.T) {
	e := New(nil)
	s := NewScope()
	s.Set("x", List(Int(1)))

	_, err := e.Eval("x + [2]", s)
	require.NoError(t, err)

	v, _ := s.Lookup("x")
	assert.True(t, Equal(List(Int(1)), v))
	assert.Equal(t, []string{"x"}, s.Names())
}

func TestRefs(t *testing.T) {
	e := New(nil)

	refs, err := e.Refs("today >= start_date - 2|weeks and x is defined and f(y)")
	require.NoError(t, err)
	assert.Equal(t, []string{"today", "start_date", "y"}, refs.Names)
	assert.Equal(t, []string{"weeks", "f"}, refs.Funcs)
}

func TestRefs_DefaultFilterToleratesUndefined(t *testing.T) {
	e := New(nil)

	refs, err := e.Refs("(suffix | default('')) ~ name ~ (other.attr | d('x'))")
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "other"}, refs.Names)
	assert.Equal(t, []string{"default", "d"}, refs.Funcs)
}
