package cel

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// LeadVars is the activation a rule condition is evaluated against.
type LeadVars struct {
	LeadID      string
	WorkspaceID string
	PipelineID  string
	Source      string
	Tags        []string
}

func (v LeadVars) activation() map[string]interface{} {
	tags := v.Tags
	if tags == nil {
		tags = []string{}
	}
	return map[string]interface{}{
		"lead_id":      v.LeadID,
		"workspace_id": v.WorkspaceID,
		"pipeline_id":  v.PipelineID,
		"source":       v.Source,
		"tags":         tags,
	}
}

// Evaluator compiles rule conditions once and caches the resulting programs.
type Evaluator struct {
	env      *cel.Env
	programs sync.Map
}

func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("lead_id", cel.StringType),
		cel.Variable("workspace_id", cel.StringType),
		cel.Variable("pipeline_id", cel.StringType),
		cel.Variable("source", cel.StringType),
		cel.Variable("tags", cel.ListType(cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Evaluator{env: env}, nil
}

// ValidateCondition reports whether expression compiles to a bool.
func (e *Evaluator) ValidateCondition(expression string) error {
	_, err := e.compile(expression)
	return err
}

func (e *Evaluator) compile(expression string) (cel.Program, error) {
	if p, ok := e.programs.Load(expression); ok {
		return p.(cel.Program), nil
	}

	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL expression validation failed: %w", issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("condition must return bool, got %v", ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	actual, _ := e.programs.LoadOrStore(expression, program)
	return actual.(cel.Program), nil
}

func (e *Evaluator) EvaluateCondition(ctx context.Context, expression string, vars LeadVars) (bool, error) {
	program, err := e.compile(expression)
	if err != nil {
		return false, err
	}

	result, _, err := program.ContextEval(ctx, vars.activation())
	if err != nil {
		return false, fmt.Errorf("failed to evaluate CEL expression: %w", err)
	}

	matched, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression did not return bool, got %T", result.Value())
	}
	return matched, nil
}
