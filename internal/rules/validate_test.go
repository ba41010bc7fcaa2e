package rules

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/release-engineering/retasc/internal/engine"
	"github.com/release-engineering/retasc/internal/expr"
)

func parseAll(t *testing.T, src string) []error {
	t.Helper()
	return validateSrc(t, src, ValidateOptions{})
}

func validateSrc(t *testing.T, src string, opts ValidateOptions) []error {
	t.Helper()
	rules, errs := Parse([]byte(src), "rules.yaml")
	require.Empty(t, errs)
	return Validate(rules, opts)
}

func TestValidate_ValidRules(t *testing.T) {
	errs := parseAll(t, `
- version: 1
  name: base
  inputs:
    - product: rhel
      jira_label_templates: ["{{ release }}"]
  prerequisites:
    - condition: major >= 10 and minor is defined
    - schedule_task: "GA"
    - target_date: start_date - 2|weeks
    - variable: title
      string: "{{ product | upper }} {{ release }} due {{ end_date }}"
    - jira_issue: "{{ release }}-main"
      fields:
        summary: "{{ title }}"
        description: "{% for l in jira_labels %}{{ l }}{% endfor %}"
- version: 1
  name: dependent
  inputs:
    - product: rhel
  prerequisites:
    - rule: base
    - condition: report.state == 'Completed' and days_remaining is not defined
`)
	assert.Empty(t, errs)
}

func TestValidate_UndefinedNameInsideFields(t *testing.T) {
	errs := parseAll(t, `
version: 1
name: r
inputs:
  - variables:
      date: 2025-07-17
prerequisites:
  - jira_issue: x
    fields:
      summary: "{{ no_such_variable }}"
`)
	require.Len(t, errs, 1)
	assert.True(t, errors.Is(errs[0], expr.ErrUndefined))
	assert.Contains(t, errs[0].Error(), "no_such_variable")
}

func TestValidate_NameBoundLaterIsUndefined(t *testing.T) {
	errs := parseAll(t, `
version: 1
name: r
prerequisites:
  - condition: later > 1
  - variable: later
    value: 2
`)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], expr.ErrUndefined)
}

func TestValidate_InputNamesIntersect(t *testing.T) {
	errs := parseAll(t, `
version: 1
name: r
inputs:
  - product: rhel
  - variables:
      release: rhel-10
prerequisites:
  - condition: release != ''
  - condition: major > 1
`)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "major")
}

func TestValidate_UnknownFunction(t *testing.T) {
	errs := parseAll(t, `
version: 1
name: r
prerequisites:
  - variable: x
    value: frobnicate(1)
`)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "frobnicate")
}

func TestValidate_SyntaxError(t *testing.T) {
	errs := parseAll(t, `
version: 1
name: r
prerequisites:
  - condition: (1 +
`)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], expr.ErrSyntax)
}

func TestValidate_MissingRuleAndCycle(t *testing.T) {
	errs := parseAll(t, `
version: 1
name: r
prerequisites:
  - rule: ghost
`)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], engine.ErrMissingRule)

	errs = parseAll(t, `
- version: 1
  name: a
  prerequisites:
    - rule: b
- version: 1
  name: b
  prerequisites:
    - rule: a
`)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], engine.ErrCyclicDependency)
}

func TestValidate_ReleaseShapeMismatch(t *testing.T) {
	errs := parseAll(t, `
- version: 1
  name: constant
  prerequisites:
    - condition: true
- version: 1
  name: per-release
  inputs:
    - product: rhel
  prerequisites:
    - rule: constant
`)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrReleaseShape)
}

func TestValidate_ReleaseKeyContentMismatch(t *testing.T) {
	tests := []struct {
		name      string
		targetIn  string
		dependsIn string
		wantErr   bool
	}{
		{"same variables", "variables: {a: 1}", "variables: {a: 1}", false},
		{"different variables", "variables: {a: 1}", "variables: {a: 2}", true},
		{"same product", "product: rhel", "product: rhel", false},
		{"different product", "product: rhel", "product: fedora", true},
		{"same request", "http: https://example.com/items", "http: https://example.com/items", false},
		{"different request", "http: https://example.com/items", "http: https://example.com/other", true},
		{"jira search", "jira_issues: project = A", "jira_issues: project = B", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := parseAll(t, `
- version: 1
  name: target
  inputs:
    - `+tt.targetIn+`
  prerequisites:
    - condition: true
- version: 1
  name: dependent
  inputs:
    - `+tt.dependsIn+`
  prerequisites:
    - rule: target
`)
			if !tt.wantErr {
				assert.Empty(t, errs)
				return
			}
			require.Len(t, errs, 1)
			assert.ErrorIs(t, errs[0], ErrReleaseShape)
			assert.Contains(t, errs[0].Error(), `rule "target" has no input matching`)
		})
	}
}

func TestValidate_DuplicateIssueID(t *testing.T) {
	errs := parseAll(t, `
- version: 1
  name: a
  prerequisites:
    - jira_issue: same
- version: 1
  name: b
  prerequisites:
    - jira_issue: other
      subtasks:
        - id: same
`)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrDuplicateIssueID)
}

func TestValidate_TemplateFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ok.yaml"), []byte("summary: \"{{ release }}\"\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("summary: \"{{ missing }}\"\n"), 0o644))

	opts := ValidateOptions{JiraTemplatePath: dir, PipelineRunTemplatePath: dir}
	errs := validateSrc(t, `
version: 1
name: r
inputs:
  - product: rhel
prerequisites:
  - jira_issue: one
    template: ok.yaml
  - jira_issue: two
    template: bad.yaml
  - jira_issue: three
    template: absent.yaml
  - pipeline_run: run
    template: ok.yaml
`, opts)
	require.Len(t, errs, 2)
	assert.ErrorIs(t, errs[0], expr.ErrUndefined)
	assert.ErrorIs(t, errs[1], ErrMissingTemplate)
}

func TestValidate_ReservedLabelPrefix(t *testing.T) {
	errs := validateSrc(t, `
version: 1
name: r
prerequisites:
  - jira_issue: x
    fields:
      labels: [retasc-id-forged, fine]
`, ValidateOptions{JiraLabelPrefix: "retasc-id-"})
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "retasc-id-forged")
}

func TestValidate_ReportsEveryError(t *testing.T) {
	errs := parseAll(t, `
- version: 1
  name: a
  prerequisites:
    - condition: x1
- version: 1
  name: b
  prerequisites:
    - condition: x2
    - rule: ghost
`)
	assert.Len(t, errs, 3)
}
