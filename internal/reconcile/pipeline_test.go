package reconcile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/release-engineering/retasc/internal/domain"
	"github.com/release-engineering/retasc/internal/engine/enginetest"
	"github.com/release-engineering/retasc/internal/expr"
)

const runTemplate = `
apiVersion: tekton.dev/v1
kind: PipelineRun
metadata:
  labels:
    release: "{{ release }}"
spec:
  pipelineSpec:
    tasks:
      - name: build
    finally:
      - name: notify
`

func pipelineConfig(t *testing.T) Config {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "run.yaml"), []byte(runTemplate), 0o644))
	cfg := testConfig()
	cfg.PipelineRunTemplatePath = dir
	cfg.PipelineRunNamePrefix = "retasc-"
	cfg.DefaultNamespace = "builds"
	cfg.ResultImage = "registry.example.com/origin-cli:latest"
	return cfg
}

func pipelineTask() *domain.PipelineRun {
	return &domain.PipelineRun{ID: "build-{{ release }}", Template: "run.yaml"}
}

func boundRun(t *testing.T, v expr.Value) map[string]any {
	t.Helper()
	m, ok := v.ToGo().(map[string]any)
	require.True(t, ok)
	return m
}

func TestPipelineRun_CreatesWithResultTask(t *testing.T) {
	pipeline := enginetest.NewPipeline()
	p := New(pipelineConfig(t), nil, pipeline, nil)
	task := newTask(map[string]expr.Value{"release": expr.String("rhel-10.1")})

	out, err := p.PipelineRun(context.Background(), task, pipelineTask())
	require.NoError(t, err)
	assert.Equal(t, domain.StateInProgress, out.State)
	assert.Equal(t, 1, pipeline.Starts)

	run := pipeline.Run("builds", "retasc-build-rhel-10.1")
	require.NotNil(t, run)
	spec := run.Object["spec"].(map[string]any)["pipelineSpec"].(map[string]any)
	finally := spec["finally"].([]any)
	require.Len(t, finally, 2)
	assert.Equal(t, "notify", finally[0].(map[string]any)["name"])

	result := finally[1].(map[string]any)
	assert.Equal(t, resultTaskName, result["name"])
	step := result["taskSpec"].(map[string]any)["steps"].([]any)[0].(map[string]any)
	assert.Equal(t, "registry.example.com/origin-cli:latest", step["image"])
	assert.Contains(t, step["script"], `name: "retasc-build-rhel-10.1"`)
	assert.Contains(t, step["script"], `retasc.io/result: "true"`)

	bound := boundRun(t, out.Bind["pipeline_run"])
	assert.Equal(t, "build-rhel-10.1", bound["pipeline_run"])
	assert.Equal(t, "retasc-build-rhel-10.1", bound["name"])
	assert.Equal(t, "builds", bound["namespace"])
	assert.Equal(t, "Created", bound["status"])
	assert.Equal(t, false, bound["is_completed"])
	assert.NotNil(t, bound["object"])
}

func TestPipelineRun_TemplateWithoutSpec(t *testing.T) {
	cfg := pipelineConfig(t)
	require.NoError(t, os.WriteFile(filepath.Join(cfg.PipelineRunTemplatePath, "bare.yaml"), []byte("kind: PipelineRun\n"), 0o644))
	pipeline := enginetest.NewPipeline()
	p := New(cfg, nil, pipeline, nil)

	_, err := p.PipelineRun(context.Background(), newTask(nil), &domain.PipelineRun{ID: "bare", Template: "bare.yaml"})
	require.NoError(t, err)
	spec := pipeline.Run("builds", "retasc-bare").Object["spec"].(map[string]any)["pipelineSpec"].(map[string]any)
	assert.Len(t, spec["finally"], 1)
}

func TestPipelineRun_RunStatus(t *testing.T) {
	tests := []struct {
		status    domain.PipelineStatus
		state     domain.TaskState
		completed bool
	}{
		{domain.PipelineRunning, domain.StateInProgress, false},
		{domain.PipelineSucceeded, domain.StateCompleted, true},
		{domain.PipelineFailed, domain.StateInProgress, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			pipeline := enginetest.NewPipeline()
			p := New(pipelineConfig(t), nil, pipeline, nil)
			task := newTask(map[string]expr.Value{"release": expr.String("rhel-10.1")})
			_, err := p.PipelineRun(context.Background(), task, pipelineTask())
			require.NoError(t, err)

			pipeline.SetStatus("builds", "retasc-build-rhel-10.1", tt.status)
			out, err := p.PipelineRun(context.Background(), task, pipelineTask())
			require.NoError(t, err)
			assert.Equal(t, tt.state, out.State)
			assert.Equal(t, 1, pipeline.Starts)

			bound := boundRun(t, out.Bind["pipeline_run"])
			assert.Equal(t, string(tt.status), bound["status"])
			assert.Equal(t, tt.completed, bound["is_completed"])
		})
	}
}

func TestPipelineRun_StoredResult(t *testing.T) {
	tests := []struct {
		result string
		state  domain.TaskState
	}{
		{"Succeeded", domain.StateCompleted},
		{"Completed", domain.StateCompleted},
		{"Failed", domain.StateInProgress},
		{"None", domain.StateInProgress},
	}

	for _, tt := range tests {
		t.Run(tt.result, func(t *testing.T) {
			pipeline := enginetest.NewPipeline()
			p := New(pipelineConfig(t), nil, pipeline, nil)
			task := newTask(map[string]expr.Value{"release": expr.String("rhel-10.1")})
			_, err := p.PipelineRun(context.Background(), task, pipelineTask())
			require.NoError(t, err)

			// run удалён из кластера, итог остался в ConfigMap
			pipeline.SetResult("builds", "retasc-build-rhel-10.1", tt.result)
			pipeline.Delete("builds", "retasc-build-rhel-10.1")

			out, err := p.PipelineRun(context.Background(), task, pipelineTask())
			require.NoError(t, err)
			assert.Equal(t, tt.state, out.State)
			assert.Equal(t, 1, pipeline.Starts, "run with a stored result is not restarted")

			bound := boundRun(t, out.Bind["pipeline_run"])
			assert.Equal(t, tt.result, bound["status"])
			assert.Equal(t, true, bound["is_completed"])
			assert.Nil(t, bound["object"])
		})
	}
}

func TestPipelineRun_ResultLookupFailure(t *testing.T) {
	pipeline := enginetest.NewPipeline()
	pipeline.Err = errors.New("connection refused")
	p := New(pipelineConfig(t), nil, pipeline, nil)

	_, err := p.PipelineRun(context.Background(), newTask(map[string]expr.Value{"release": expr.String("x")}), pipelineTask())
	var ce *domain.CollaboratorError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "pipeline", ce.Collaborator)
	assert.Zero(t, pipeline.Starts)
}

func TestDryRunPipeline(t *testing.T) {
	pipeline := enginetest.NewPipeline()
	p := New(pipelineConfig(t), nil, NewDryRunPipeline(pipeline, nil), nil)

	out, err := p.PipelineRun(context.Background(), newTask(map[string]expr.Value{"release": expr.String("x")}), pipelineTask())
	require.NoError(t, err)
	assert.Equal(t, domain.StateInProgress, out.State)
	assert.Zero(t, pipeline.Starts)
	assert.Equal(t, "retasc-build-x", out.Details["name"])
}
