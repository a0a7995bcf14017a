// Package rules provides the CEL-Go based filter rule engine used to drop
// weak flags after confidence refinement.
package rules

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/fraudgraph/internal/domain"
)

// Engine is the CEL-based filter rule engine. Rules are evaluated in load
// order and the first match wins.
type Engine struct {
	mu            sync.RWMutex
	env           *cel.Env
	compiledRules []*CompiledRule
	maxWorkers    int
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Config  domain.FilterRule
	Program cel.Program
}

// Input holds the per-transfer facts a filter rule can reference.
type Input struct {
	TransferID       int64
	Amount           float64
	Confidence       float64
	HybridScore      float64
	MedianScore      float64
	MedianAmount     float64
	DegScore         float64
	PatternScore     float64
	StdTimeBetweenTx float64
	OutCount         int64
	Step             int64
}

// Match is the first rule that fired for an input, if any.
type Match struct {
	TransferID int64
	RuleID     string
	Reason     string
	Matched    bool
	Err        error
}

// NewEngine creates a new filter rule engine.
func NewEngine(maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	// Create CEL environment with transfer variables
	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("confidence", cel.DoubleType),
		cel.Variable("hybrid_score", cel.DoubleType),
		cel.Variable("median_score", cel.DoubleType),
		cel.Variable("median_amount", cel.DoubleType),
		cel.Variable("deg_score", cel.DoubleType),
		cel.Variable("pattern_score", cel.DoubleType),
		cel.Variable("std_time_between_tx", cel.DoubleType),
		cel.Variable("out_count", cel.IntType),
		cel.Variable("step", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:        env,
		maxWorkers: maxWorkers,
	}, nil
}

// ValidateRule compiles and validates a rule without mutating loaded engine rules.
func (e *Engine) ValidateRule(rule domain.FilterRule) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileRule(rule)
	return err
}

// LoadRules replaces the loaded rules. Nothing changes if any rule fails to
// compile.
func (e *Engine) LoadRules(configs []domain.FilterRule) error {
	compiled := make([]*CompiledRule, 0, len(configs))
	for _, cfg := range configs {
		rule, err := e.compileRule(cfg)
		if err != nil {
			return err
		}
		compiled = append(compiled, rule)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiledRules = compiled
	return nil
}

// Evaluate runs the loaded rules against one input.
func (e *Engine) Evaluate(input Input) Match {
	e.mu.RLock()
	rules := e.compiledRules
	e.mu.RUnlock()

	return evaluate(rules, input)
}

// EvaluateAll evaluates every input in parallel. Results keep input order.
func (e *Engine) EvaluateAll(ctx context.Context, inputs []Input) ([]Match, error) {
	e.mu.RLock()
	rules := e.compiledRules
	e.mu.RUnlock()

	results := make([]Match, len(inputs))
	if len(rules) == 0 {
		for i, in := range inputs {
			results[i] = Match{TransferID: in.TransferID}
		}
		return results, nil
	}

	// Parallel evaluation using worker pool pattern
	var wg sync.WaitGroup

	// Limit concurrency with semaphore
	sem := make(chan struct{}, e.maxWorkers)

	for i := range inputs {
		if err := ctx.Err(); err != nil {
			wg.Wait()
			return nil, err
		}
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			results[idx] = evaluate(rules, inputs[idx])
		}(i)
	}

	wg.Wait()

	return results, nil
}

func evaluate(rules []*CompiledRule, input Input) Match {
	match := Match{TransferID: input.TransferID}
	activation := map[string]any{
		"amount":              input.Amount,
		"confidence":          input.Confidence,
		"hybrid_score":        input.HybridScore,
		"median_score":        input.MedianScore,
		"median_amount":       input.MedianAmount,
		"deg_score":           input.DegScore,
		"pattern_score":       input.PatternScore,
		"std_time_between_tx": input.StdTimeBetweenTx,
		"out_count":           input.OutCount,
		"step":                input.Step,
	}

	for _, rule := range rules {
		out, _, err := rule.Program.Eval(activation)
		if err != nil {
			match.Err = fmt.Errorf("rule %s: evaluation error: %w", rule.Config.ID, err)
			return match
		}
		if b, ok := out.(types.Bool); ok && bool(b) {
			match.RuleID = rule.Config.ID
			match.Reason = rule.Config.Reason
			match.Matched = true
			return match
		}
	}
	return match
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledRules)
}

// GetLoadedRules returns the currently loaded rule configurations.
func (e *Engine) GetLoadedRules() []domain.FilterRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]domain.FilterRule, 0, len(e.compiledRules))
	for _, compiled := range e.compiledRules {
		rules = append(rules, compiled.Config)
	}
	return rules
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiledRules = nil
	return nil
}

func (e *Engine) compileRule(cfg domain.FilterRule) (*CompiledRule, error) {
	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.ID, issues.Err())
	}

	if outputType := ast.OutputType(); outputType != cel.BoolType {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", cfg.ID, outputType)
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
	}

	return &CompiledRule{
		Config:  cfg,
		Program: program,
	}, nil
}
