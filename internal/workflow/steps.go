package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hivemind-ai/hive/internal/expr"
)

// dispatch routes a step to its kind executor.
func (e *Engine) dispatch(ctx context.Context, wf *Workflow, st *execState, step *Step, bag map[string]interface{}) (interface{}, error) {
	switch step.Kind {
	case KindAction:
		return e.execAction(ctx, st, step, bag)
	case KindCondition:
		return e.execCondition(st, step, bag)
	case KindParallel:
		return e.execParallel(ctx, wf, st, step, bag)
	case KindSequential:
		return e.execSequential(ctx, wf, st, step, bag)
	case KindLoop:
		return e.execLoop(ctx, wf, st, step, bag)
	case KindWait:
		return e.execWait(ctx, st, step)
	case KindSubWorkflow:
		return e.execSubWorkflow(ctx, st, step, bag)
	default:
		return nil, fmt.Errorf("step %s: unknown kind %q", step.ID, step.Kind)
	}
}

func (e *Engine) execAction(ctx context.Context, st *execState, step *Step, bag map[string]interface{}) (interface{}, error) {
	e.mu.Lock()
	fn, ok := e.actions[step.Action]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, step.Action)
	}
	return fn(ctx, step.Params, bag)
}

// execCondition evaluates the expression and rules out the branch not
// taken; the selected branch id is surfaced in the result.
func (e *Engine) execCondition(st *execState, step *Step, bag map[string]interface{}) (interface{}, error) {
	vars := st.cloneBag(bag)
	value, err := expr.EvalBool(step.Expression, vars)
	if err != nil {
		return nil, fmt.Errorf("condition %s: %w", step.ID, err)
	}
	next, other := step.TruePath, step.FalsePath
	if !value {
		next, other = step.FalsePath, step.TruePath
	}
	if other != "" {
		st.markBranchSkipped(other)
	}
	result := map[string]interface{}{"result": value}
	if next != "" {
		result["nextStep"] = next
	}
	return result, nil
}

// execParallel runs children concurrently in fixed-size chunks bounded by
// maxConcurrency. Every child runs; failures aggregate.
func (e *Engine) execParallel(ctx context.Context, wf *Workflow, st *execState, step *Step, bag map[string]interface{}) (interface{}, error) {
	chunk := step.MaxConcurrency
	if chunk <= 0 || chunk > len(step.Steps) {
		chunk = len(step.Steps)
	}

	results := make(map[string]interface{}, len(step.Steps))
	failures := make(map[string]error)
	var mu sync.Mutex

	for base := 0; base < len(step.Steps); base += chunk {
		end := base + chunk
		if end > len(step.Steps) {
			end = len(step.Steps)
		}
		var wg sync.WaitGroup
		for i := base; i < end; i++ {
			child := &step.Steps[i]
			childBag := st.cloneBag(bag)
			wg.Add(1)
			go func(child *Step, childBag map[string]interface{}) {
				defer wg.Done()
				err := e.runStep(ctx, wf, st, child, childBag)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					failures[child.ID] = err
					return
				}
				results[child.ID] = childBag[child.ID]
			}(child, childBag)
		}
		wg.Wait()
	}

	if len(failures) > 0 {
		return results, &AggregateError{StepID: step.ID, Failures: failures}
	}
	return results, nil
}

// execSequential runs children in order on the shared bag, so each child
// sees prior results.
func (e *Engine) execSequential(ctx context.Context, wf *Workflow, st *execState, step *Step, bag map[string]interface{}) (interface{}, error) {
	results := make(map[string]interface{}, len(step.Steps))
	for i := range step.Steps {
		child := &step.Steps[i]
		if st.isCancelled() {
			return results, ErrCancelled
		}
		if err := e.runStep(ctx, wf, st, child, bag); err != nil {
			return results, err
		}
		st.mu.Lock()
		results[child.ID] = bag[child.ID]
		st.mu.Unlock()
	}
	return results, nil
}

// execLoop iterates a finite collection, binding item and index variables
// into a local bag copy per iteration.
func (e *Engine) execLoop(ctx context.Context, wf *Workflow, st *execState, step *Step, bag map[string]interface{}) (interface{}, error) {
	items := step.Items
	if step.Over != "" {
		vars := st.cloneBag(bag)
		collection := expr.Lookup(vars, step.Over)
		var ok bool
		items, ok = asSlice(collection)
		if !ok {
			return nil, fmt.Errorf("loop %s: %q is not a collection (got %T)", step.ID, step.Over, collection)
		}
	}

	itemVar := step.ItemVar
	if itemVar == "" {
		itemVar = "item"
	}
	indexVar := step.IndexVar
	if indexVar == "" {
		indexVar = "index"
	}

	iterations := make([]interface{}, 0, len(items))
	for idx, item := range items {
		if st.isCancelled() {
			return iterations, ErrCancelled
		}
		local := st.cloneBag(bag)
		local[itemVar] = item
		local[indexVar] = idx

		iterResult := make(map[string]interface{}, len(step.Steps))
		for i := range step.Steps {
			child := &step.Steps[i]
			if err := e.runStep(ctx, wf, st, child, local); err != nil {
				return iterations, fmt.Errorf("loop %s iteration %d: %w", step.ID, idx, err)
			}
			iterResult[child.ID] = local[child.ID]
		}
		iterations = append(iterations, iterResult)
	}
	return iterations, nil
}

// execWait suspends until the duration elapses or the until timestamp is
// reached.
func (e *Engine) execWait(ctx context.Context, st *execState, step *Step) (interface{}, error) {
	d := step.Duration
	if step.Until != nil {
		d = time.Until(*step.Until)
	}
	if d <= 0 {
		return map[string]interface{}{"waited_ms": int64(0)}, nil
	}
	select {
	case <-time.After(d):
		return map[string]interface{}{"waited_ms": d.Milliseconds()}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// execSubWorkflow extracts mapped inputs, runs the referenced workflow, and
// maps outputs back into the parent bag.
func (e *Engine) execSubWorkflow(ctx context.Context, st *execState, step *Step, bag map[string]interface{}) (interface{}, error) {
	vars := st.cloneBag(bag)
	inputs := make(map[string]interface{}, len(step.InputMapping))
	for childKey, path := range step.InputMapping {
		inputs[childKey] = expr.Lookup(vars, path)
	}

	childExec, err := e.Execute(ctx, step.WorkflowID, inputs)
	if err != nil {
		return nil, fmt.Errorf("sub-workflow %s: %w", step.WorkflowID, err)
	}

	for parentKey, path := range step.OutputMapping {
		st.bagSet(bag, parentKey, expr.Lookup(childExec.Context, path))
	}
	return map[string]interface{}{
		"execution_id": childExec.ID,
		"status":       string(childExec.Status),
	}, nil
}

func asSlice(v interface{}) ([]interface{}, bool) {
	switch t := v.(type) {
	case []interface{}:
		return t, true
	case []string:
		out := make([]interface{}, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out, true
	case []int:
		out := make([]interface{}, len(t))
		for i, n := range t {
			out[i] = n
		}
		return out, true
	case []float64:
		out := make([]interface{}, len(t))
		for i, f := range t {
			out[i] = f
		}
		return out, true
	case []map[string]interface{}:
		out := make([]interface{}, len(t))
		for i, m := range t {
			out[i] = m
		}
		return out, true
	case nil:
		return nil, false
	default:
		return nil, false
	}
}
