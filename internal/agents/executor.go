package agents

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"market-analysis-engine/internal/metrics"
	"market-analysis-engine/internal/models"
)

// Executor runs analyzer waves in parallel with per-agent timeouts and
// panic isolation. One agent's failure never aborts the others.
type Executor struct {
	registry *Registry
	log      zerolog.Logger
}

// NewExecutor builds an executor over the registry.
func NewExecutor(registry *Registry, log zerolog.Logger) *Executor {
	return &Executor{
		registry: registry,
		log:      log.With().Str("component", "agent_executor").Logger(),
	}
}

// Execute runs the requested agents (all registered when ids is empty)
// and returns a result per agent, failures included. The only error
// returns are selection problems (unknown agent, cycle) before any
// agent runs.
func (e *Executor) Execute(ctx context.Context, ids []string, in Inputs) (map[string]models.AgentResult, error) {
	waves, err := e.registry.Select(ids)
	if err != nil {
		return nil, err
	}

	results := make(map[string]models.AgentResult)
	var mu sync.Mutex

	for _, wave := range waves {
		var wg sync.WaitGroup
		for _, agent := range wave {
			spec := agent.Spec()

			// A failed, skipped, or timed-out dependency skips this
			// agent; its absence is reported, not silently dropped. The
			// lock covers the read too: goroutines launched earlier in
			// this wave write into results concurrently.
			mu.Lock()
			reason := blockedBy(spec, results)
			if reason != "" {
				results[spec.ID] = models.SkippedResult(spec.ID, reason)
			}
			mu.Unlock()
			if reason != "" {
				metrics.AnalyzerDuration.WithLabelValues(spec.ID, string(models.AgentSkipped)).Observe(0)
				continue
			}

			wg.Add(1)
			go func(agent Analyzer, spec Spec) {
				defer wg.Done()
				res := e.runOne(ctx, agent, spec, in, snapshotPriors(spec, results, &mu))
				mu.Lock()
				results[spec.ID] = res
				mu.Unlock()
			}(agent, spec)
		}
		wg.Wait()

		if ctx.Err() != nil {
			// Mark anything not yet run so the caller sees a complete
			// result set.
			e.fillCancelled(waves, results)
			break
		}
	}
	return results, nil
}

// runOne executes a single agent under its timeout with panic recovery.
func (e *Executor) runOne(ctx context.Context, agent Analyzer, spec Spec, in Inputs, priors map[string]models.AgentResult) models.AgentResult {
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	agentIn := in.clone()
	agentIn.PriorResults = priors

	start := time.Now()
	done := make(chan models.AgentResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				e.log.Error().Str("agent", spec.ID).Interface("panic", r).Msg("analyzer panicked")
				done <- models.FailedResult(spec.ID, fmt.Errorf("panic: %v", r))
			}
		}()
		done <- agent.Run(runCtx, agentIn)
	}()

	var res models.AgentResult
	select {
	case res = <-done:
	case <-runCtx.Done():
		res = models.TimeoutResult(spec.ID)
	}
	res.DurationMs = time.Since(start).Milliseconds()

	metrics.AnalyzerDuration.WithLabelValues(spec.ID, string(res.Status)).Observe(time.Since(start).Seconds())
	e.log.Debug().
		Str("agent", spec.ID).
		Str("status", string(res.Status)).
		Int64("duration_ms", res.DurationMs).
		Msg("analyzer finished")
	return res
}

func (e *Executor) fillCancelled(waves [][]Analyzer, results map[string]models.AgentResult) {
	for _, wave := range waves {
		for _, agent := range wave {
			id := agent.Spec().ID
			if _, done := results[id]; !done {
				results[id] = models.TimeoutResult(id)
			}
		}
	}
}

// blockedBy returns a skip reason when any dependency is missing or did
// not complete ok.
func blockedBy(spec Spec, results map[string]models.AgentResult) string {
	for _, dep := range spec.DependsOn {
		r, ok := results[dep]
		if !ok {
			return fmt.Sprintf("dependency %s did not run", dep)
		}
		if r.Status != models.AgentOK {
			return fmt.Sprintf("dependency %s %s", dep, r.Status)
		}
	}
	return ""
}

// snapshotPriors copies just the declared dependencies' results.
func snapshotPriors(spec Spec, results map[string]models.AgentResult, mu *sync.Mutex) map[string]models.AgentResult {
	priors := make(map[string]models.AgentResult, len(spec.DependsOn))
	mu.Lock()
	defer mu.Unlock()
	for _, dep := range spec.DependsOn {
		if r, ok := results[dep]; ok {
			priors[dep] = r
		}
	}
	return priors
}
