package reconcile

import (
	"context"
	"fmt"

	"github.com/release-engineering/retasc/internal/domain"
	"github.com/release-engineering/retasc/internal/engine"
	"github.com/release-engineering/retasc/internal/expr"
	"github.com/release-engineering/retasc/internal/telemetry"
)

// Итоги pipeline run, сохранённые finally-задачей, которые дают Completed.
var successfulResults = map[string]bool{"Succeeded": true, "Completed": true}

// resultTaskName — finally-задача, сохраняющая итог run в ConfigMap.
const resultTaskName = "retasc-store-result"

// PipelineRun согласует pipeline run пререквизита pipeline_run.
//
// Имя: pipeline_run_name_prefix + id + переменная pipeline_run_name_suffix
// (если задана). Сначала проверяется сохранённый итог run: Succeeded или
// Completed дают Completed, прочие итоги InProgress. Без итога смотрится
// сам run: Succeeded даёт Completed, иначе InProgress. Отсутствующий run
// создаётся из шаблона с finally-задачей сохранения итога, результат
// InProgress.
func (p *Planner) PipelineRun(ctx context.Context, task *engine.Task, spec *domain.PipelineRun) (*engine.Outcome, error) {
	if p.pipeline == nil {
		return nil, domain.NewCollaboratorError("pipeline", "reconcile", domain.ErrNotConfigured)
	}

	id, err := renderID(task, spec.ID)
	if err != nil {
		return nil, err
	}
	namespace := p.cfg.DefaultNamespace
	if spec.Namespace != "" {
		if namespace, err = task.Render(spec.Namespace); err != nil {
			return nil, err
		}
	}
	name := p.cfg.PipelineRunNamePrefix + id
	if suffix, ok := task.Scope.Lookup("pipeline_run_name_suffix"); ok && !suffix.IsNull() {
		name += suffix.String()
	}

	unlock := p.locks.Lock(namespace + "/" + name)
	defer unlock()

	var (
		status    string
		object    any
		completed bool
	)
	state := domain.StateInProgress

	result, err := p.pipeline.GetResult(ctx, namespace, name)
	telemetry.ObserveCall("pipeline", "result", err)
	if err != nil {
		return nil, domain.NewCollaboratorError("pipeline", "result "+name, err)
	}

	if result != "" {
		status, completed = result, true
		if successfulResults[result] {
			state = domain.StateCompleted
		}
	} else {
		run, err := p.pipeline.FindByName(ctx, namespace, name)
		telemetry.ObserveCall("pipeline", "find", err)
		if err != nil {
			return nil, domain.NewCollaboratorError("pipeline", "find "+name, err)
		}
		if run == nil {
			if run, err = p.startPipelineRun(ctx, task, spec, id, namespace, name); err != nil {
				return nil, err
			}
			status = "Created"
		} else {
			st := p.pipeline.Status(run)
			if st == "" {
				st = domain.PipelineRunning
			}
			if st == domain.PipelineSucceeded {
				state = domain.StateCompleted
			}
			status = string(st)
			completed = st == domain.PipelineSucceeded || st == domain.PipelineFailed
		}
		object = run.Object
	}

	value := expr.NewMap()
	value.Set("pipeline_run", expr.String(id))
	value.Set("name", expr.String(name))
	value.Set("namespace", expr.String(namespace))
	value.Set("status", expr.String(status))
	value.Set("is_completed", expr.Bool(completed))
	value.Set("object", expr.FromGo(object))

	return &engine.Outcome{
		State: state,
		Bind:  map[string]expr.Value{"pipeline_run": expr.MapValue(value)},
		Details: map[string]any{
			"pipeline_run": id,
			"name":         name,
			"namespace":    namespace,
			"status":       status,
			"is_completed": completed,
		},
	}, nil
}

func (p *Planner) startPipelineRun(
	ctx context.Context,
	task *engine.Task,
	spec *domain.PipelineRun,
	id, namespace, name string,
) (*domain.PipelineRunObject, error) {
	if spec.Template == "" {
		return nil, fmt.Errorf("%w: pipeline_run %q has no template", ErrTemplate, id)
	}
	env := task.Scope.Derive()
	env.Set("pipeline_run_name", expr.String(name))
	env.Set("pipeline_run_namespace", expr.String(namespace))
	obj, err := p.renderYAML(task, env, p.cfg.PipelineRunTemplatePath, spec.Template)
	if err != nil {
		return nil, err
	}
	metadata := childMap(obj, "metadata")
	metadata["name"] = name
	metadata["namespace"] = namespace
	p.injectResultTask(obj, name)

	run, err := p.pipeline.Start(ctx, namespace, obj)
	telemetry.ObserveCall("pipeline", "start", err)
	if err != nil {
		return nil, domain.NewCollaboratorError("pipeline", "start "+name, err)
	}
	p.logger.Info("pipeline run created", "name", name, "namespace", namespace, "rule", task.Rule.Name)
	return run, nil
}

// injectResultTask добавляет в spec.pipelineSpec.finally задачу, которая
// записывает итог run в ConfigMap name (data.status).
func (p *Planner) injectResultTask(obj map[string]any, name string) {
	script := fmt.Sprintf(`#!/bin/bash
set -e
oc apply -f - <<EOF
apiVersion: v1
kind: ConfigMap
metadata:
  name: %q
  labels:
    retasc.io/result: "true"
data:
  status: "$RETASC_PIPELINE_RUN_STATUS"
EOF`, name)

	task := map[string]any{
		"name": resultTaskName,
		"params": []any{
			map[string]any{"name": "aggregateTasksStatus", "value": "$(tasks.status)"},
		},
		"taskSpec": map[string]any{
			"steps": []any{
				map[string]any{
					"name":  "create-result",
					"image": p.cfg.ResultImage,
					"env": []any{
						map[string]any{"name": "RETASC_PIPELINE_RUN_STATUS", "value": "$(params.aggregateTasksStatus)"},
					},
					"script": script,
				},
			},
		},
	}

	pipelineSpec := childMap(childMap(obj, "spec"), "pipelineSpec")
	finally, _ := pipelineSpec["finally"].([]any)
	pipelineSpec["finally"] = append(finally, task)
}

// childMap возвращает вложенный объект key, создавая его при отсутствии.
func childMap(obj map[string]any, key string) map[string]any {
	m, ok := obj[key].(map[string]any)
	if !ok {
		m = map[string]any{}
		obj[key] = m
	}
	return m
}
