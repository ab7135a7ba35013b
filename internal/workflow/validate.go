package workflow

import (
	"fmt"

	"github.com/hivemind-ai/hive/internal/expr"
)

// Validate checks a workflow graph for static defects: missing fields,
// duplicate ids, unknown kinds, dangling dependency or compensation
// references, and dependency cycles. Validation errors are never retried.
func Validate(wf *Workflow) ValidationResult {
	res := ValidationResult{}
	addErr := func(format string, args ...interface{}) {
		res.Errors = append(res.Errors, fmt.Sprintf(format, args...))
	}

	if wf.ID == "" {
		addErr("workflow id is required")
	}
	if wf.Name == "" {
		addErr("workflow name is required")
	}
	if len(wf.Steps) == 0 {
		addErr("workflow has no steps")
	}

	// ids must be unique across the whole graph, nested bodies included
	seen := map[string]bool{}
	var collect func(steps []Step)
	collect = func(steps []Step) {
		for i := range steps {
			s := &steps[i]
			if s.ID == "" {
				addErr("step %d: id is required", i)
				continue
			}
			if seen[s.ID] {
				addErr("duplicate step id %q", s.ID)
			}
			seen[s.ID] = true
			collect(s.Steps)
		}
	}
	collect(wf.Steps)

	topLevel := map[string]*Step{}
	for i := range wf.Steps {
		topLevel[wf.Steps[i].ID] = &wf.Steps[i]
	}

	var validateStep func(s *Step)
	validateStep = func(s *Step) {
		switch s.Kind {
		case KindAction:
			if s.Action == "" {
				addErr("step %s: action name is required", s.ID)
			}
		case KindCondition:
			if s.Expression == "" {
				addErr("step %s: condition expression is required", s.ID)
			} else if _, err := expr.Parse(s.Expression); err != nil {
				addErr("step %s: %v", s.ID, err)
			}
			if s.TruePath != "" && topLevel[s.TruePath] == nil {
				addErr("step %s: truePath references unknown step %q", s.ID, s.TruePath)
			}
			if s.FalsePath != "" && topLevel[s.FalsePath] == nil {
				addErr("step %s: falsePath references unknown step %q", s.ID, s.FalsePath)
			}
		case KindParallel, KindSequential:
			if len(s.Steps) == 0 {
				addErr("step %s: %s step has no sub-steps", s.ID, s.Kind)
			}
			if s.MaxConcurrency < 0 {
				addErr("step %s: maxConcurrency must be >= 0", s.ID)
			}
		case KindLoop:
			if len(s.Steps) == 0 {
				addErr("step %s: loop body has no sub-steps", s.ID)
			}
			if s.Over == "" && len(s.Items) == 0 {
				addErr("step %s: loop needs a collection (over or items)", s.ID)
			}
		case KindWait:
			if s.Duration <= 0 && s.Until == nil {
				addErr("step %s: wait needs a duration or an until timestamp", s.ID)
			}
		case KindSubWorkflow:
			if s.WorkflowID == "" {
				addErr("step %s: sub-workflow id is required", s.ID)
			}
		case "":
			addErr("step %s: kind is required", s.ID)
		default:
			addErr("step %s: unknown kind %q", s.ID, s.Kind)
		}

		for _, dep := range s.DependsOn {
			if topLevel[dep] == nil {
				addErr("step %s: dependency %q does not exist", s.ID, dep)
			}
		}
		if s.CompensationStep != "" && topLevel[s.CompensationStep] == nil {
			addErr("step %s: compensation step %q does not exist", s.ID, s.CompensationStep)
		}
		if s.OnError != "" {
			switch s.OnError {
			case OnErrorStop, OnErrorContinue, OnErrorRetry, OnErrorCompensate:
			default:
				addErr("step %s: unknown on-error policy %q", s.ID, s.OnError)
			}
		}
		if s.OnError == OnErrorCompensate && s.CompensationStep == "" {
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("step %s: compensate policy without a compensation step", s.ID))
		}
		for i := range s.Steps {
			validateStep(&s.Steps[i])
		}
	}
	for i := range wf.Steps {
		validateStep(&wf.Steps[i])
	}

	if cycle := findCycle(wf.Steps); cycle != "" {
		addErr("cyclic dependency involving step %q", cycle)
	}

	res.Valid = len(res.Errors) == 0
	return res
}

// findCycle runs DFS with a recursion stack over the top-level dependency
// graph and returns a step id on a cycle, or "".
func findCycle(steps []Step) string {
	deps := make(map[string][]string, len(steps))
	for i := range steps {
		deps[steps[i].ID] = steps[i].DependsOn
	}

	const (
		white = 0 // unvisited
		grey  = 1 // on recursion stack
		black = 2 // done
	)
	color := make(map[string]int, len(deps))

	var visit func(id string) string
	visit = func(id string) string {
		color[id] = grey
		for _, dep := range deps[id] {
			switch color[dep] {
			case grey:
				return dep
			case white:
				if c := visit(dep); c != "" {
					return c
				}
			}
		}
		color[id] = black
		return ""
	}
	for i := range steps {
		if color[steps[i].ID] == white {
			if c := visit(steps[i].ID); c != "" {
				return c
			}
		}
	}
	return ""
}
