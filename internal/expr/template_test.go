package expr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	e := New(nil)
	env := testEnv(t)

	tests := []struct {
		name string
		tmpl string
		want string
	}{
		{"plain text", "no markup", "no markup"},
		{"interpolation", "{{ name }} due {{ start_date - 2|weeks }}", "rhel-10.1 due 2025-07-03"},
		{"number", "{{ release.major }}.{{ release.minor }}", "10.1"},
		{"duration", "{{ start_date - today }}", "12 days"},
		{"none renders empty", "[{{ none }}]", "[]"},
		{"comment", "a{# hidden #}b", "ab"},
		{"if true", "{% if n > 1 %}yes{% else %}no{% endif %}", "yes"},
		{"elif", "{% if n > 5 %}big{% elif n > 2 %}mid{% else %}small{% endif %}", "mid"},
		{"for", "{% for i in items %}{{ i }}{% if not loop.last %},{% endif %}{% endfor %}", "1,2,3"},
		{"for else", "{% for i in [] %}x{% else %}empty{% endfor %}", "empty"},
		{"for unpack", "{% for k, v in release.items() %}{% if k == 'major' %}{{ k }}={{ v }}{% endif %}{% endfor %}", "major=10"},
		{"map literal", "{{ {'a': {'b': 1}}.a.b }}", "1"},
		{"trim markers", "a  {{- 'b' -}}  c", "abc"},
		{"multiline", "summary: {{ name }}\nlabels:\n{% for t in release.tags %}  - {{ t }}\n{% endfor %}",
			"summary: rhel-10.1\nlabels:\n  - ga\n  - beta\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Render(tt.tmpl, env)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRender_Errors(t *testing.T) {
	e := New(nil)
	env := testEnv(t)

	tests := []struct {
		name  string
		tmpl  string
		cause error
	}{
		{"undefined", "{{ nope }}", ErrUndefined},
		{"unclosed output", "{{ name", ErrSyntax},
		{"missing endif", "{% if true %}x", ErrSyntax},
		{"unknown tag", "{% set x = 1 %}", ErrSyntax},
		{"stray endfor", "x{% endfor %}", ErrSyntax},
		{"bad loop", "{% for in items %}{% endfor %}", ErrSyntax},
		{"iterate number", "{% for x in n %}{% endfor %}", ErrType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Render(tt.tmpl, env)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.cause), "got %v", err)
		})
	}
}

func TestTemplateRefs_ExcludesLoopVariables(t *testing.T) {
	e := New(nil)

	refs, err := e.TemplateRefs("{{ a }}{% for x in xs %}{{ x }}{{ loop.index }}{{ b|upper }}{% endfor %}{% if c %}{% endif %}")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "xs", "b", "c"}, refs.Names)
	assert.Equal(t, []string{"upper"}, refs.Funcs)
}
