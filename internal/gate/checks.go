package gate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"plangate/internal/registry"
	"plangate/pkg/models"
)

// StatFunc reports file information, like os.Stat.
type StatFunc func(path string) (os.FileInfo, error)

// checkOutput accumulates the findings of one or more checks.
type checkOutput struct {
	errors   []models.Finding
	warnings []models.Finding
	// patterns lists finding kinds that feed the error-pattern histogram.
	patterns []models.FindingKind
}

func (o *checkOutput) add(f models.Finding, counted bool) {
	if f.Severity.Blocking() {
		o.errors = append(o.errors, f)
	} else {
		o.warnings = append(o.warnings, f)
	}
	if counted {
		o.patterns = append(o.patterns, f.Type)
	}
}

func (o *checkOutput) merge(other checkOutput) {
	o.errors = append(o.errors, other.errors...)
	o.warnings = append(o.warnings, other.warnings...)
	o.patterns = append(o.patterns, other.patterns...)
}

// checker runs the fixed validation categories of a plan against one registry view.
type checker struct {
	view        registry.View
	stat        StatFunc
	statTimeout time.Duration
}

// run executes the four checks concurrently and merges their findings in the
// order nodes, workflows, tools, services.
func (c *checker) run(ctx context.Context, plan *models.ExecutionPlan) checkOutput {
	var parts [4]checkOutput

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		parts[0] = c.checkNodes(plan.NodesToInvoke)
		return nil
	})
	g.Go(func() error {
		parts[1] = c.checkWorkflows(gctx, plan.WorkflowsToExecute)
		return nil
	})
	g.Go(func() error {
		parts[2] = c.checkTools(gctx, plan.ToolsToUse)
		return nil
	})
	g.Go(func() error {
		parts[3] = c.checkServices(plan.ServicesRequired)
		return nil
	})
	_ = g.Wait()

	var out checkOutput
	for _, p := range parts {
		out.merge(p)
	}
	return out
}

func (c *checker) checkNodes(entries []models.PlanEntry) checkOutput {
	var out checkOutput
	for _, e := range entries {
		node, ok := c.view.Node(e.Name)
		if !ok {
			out.add(models.Finding{
				Type:      models.KindNodeNotFound,
				Component: e.Name,
				Message:   fmt.Sprintf("Node '%s' not found in registry", e.Name),
				Severity:  models.SeverityCritical,
			}, true)
			continue
		}

		if node.Status == registry.StatusDisabled {
			out.add(models.Finding{
				Type:      models.KindNodeDisabled,
				Component: e.Name,
				Message:   fmt.Sprintf("Node '%s' is disabled", e.Name),
				Severity:  models.SeverityHigh,
			}, false)
		}

		var missing []string
		for _, dep := range node.Dependencies {
			if _, ok := c.view.Tool(dep); !ok {
				missing = append(missing, dep)
			}
		}
		if len(missing) > 0 {
			out.add(models.Finding{
				Type:      models.KindMissingDependencies,
				Component: e.Name,
				Message:   fmt.Sprintf("Node '%s' has missing dependencies: %s", e.Name, strings.Join(missing, ", ")),
				Severity:  models.SeverityMedium,
			}, false)
		}

		if node.PrimaryTool != "" {
			if _, ok := c.view.Tool(node.PrimaryTool); !ok {
				out.add(models.Finding{
					Type:      models.KindNodeToolNotFound,
					Component: e.Name,
					Message:   fmt.Sprintf("Node '%s' requires tool '%s' which is not available", e.Name, node.PrimaryTool),
					Severity:  models.SeverityHigh,
				}, false)
			}
		}
	}
	return out
}

func (c *checker) checkWorkflows(ctx context.Context, entries []models.PlanEntry) checkOutput {
	var out checkOutput
	for _, e := range entries {
		wf, ok := c.view.Workflow(e.Name)
		if !ok {
			out.add(models.Finding{
				Type:      models.KindWorkflowNotFound,
				Component: e.Name,
				Message:   fmt.Sprintf("Workflow '%s' not found in registry", e.Name),
				Severity:  models.SeverityCritical,
			}, true)
			continue
		}

		if wf.FilePath == "" {
			continue
		}
		if _, err := c.statBounded(ctx, wf.FilePath); err != nil {
			msg := fmt.Sprintf("Workflow file '%s' does not exist", wf.FilePath)
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				msg = fmt.Sprintf("Workflow file '%s' could not be verified within %s", wf.FilePath, c.statTimeout)
			}
			out.add(models.Finding{
				Type:      models.KindFileNotFound,
				Component: e.Name,
				Message:   msg,
				Severity:  models.SeverityCritical,
			}, true)
		}
	}
	return out
}

func (c *checker) checkTools(ctx context.Context, entries []models.PlanEntry) checkOutput {
	var out checkOutput
	for _, e := range entries {
		tool, ok := c.view.Tool(e.Name)
		if !ok {
			out.add(models.Finding{
				Type:      models.KindToolNotFound,
				Component: e.Name,
				Message:   fmt.Sprintf("Tool '%s' not found in registry", e.Name),
				Severity:  models.SeverityHigh,
			}, true)
			continue
		}

		if tool.ExecutablePath == "" {
			continue
		}
		info, err := c.statBounded(ctx, tool.ExecutablePath)
		switch {
		case err != nil:
			out.add(models.Finding{
				Type:      models.KindToolNotExecutable,
				Component: e.Name,
				Message:   fmt.Sprintf("Tool executable '%s' is not accessible", tool.ExecutablePath),
				Severity:  models.SeverityHigh,
			}, false)
		case info.IsDir() || info.Mode().Perm()&0o111 == 0:
			out.add(models.Finding{
				Type:      models.KindToolNotExecutable,
				Component: e.Name,
				Message:   fmt.Sprintf("Tool executable '%s' is not executable", tool.ExecutablePath),
				Severity:  models.SeverityHigh,
			}, false)
		}
	}
	return out
}

func (c *checker) checkServices(entries []models.PlanEntry) checkOutput {
	var out checkOutput
	for _, e := range entries {
		svc, ok := c.view.Service(e.Name)
		if !ok {
			out.add(models.Finding{
				Type:      models.KindServiceUnregistered,
				Component: e.Name,
				Message:   fmt.Sprintf("Service '%s' not yet registered (may be external)", e.Name),
				Severity:  models.SeverityLow,
			}, false)
			continue
		}

		if svc.Endpoint == "" && svc.HealthCheckURL == "" {
			out.add(models.Finding{
				Type:      models.KindServiceUnconfigured,
				Component: e.Name,
				Message:   fmt.Sprintf("Service '%s' has no configured endpoint", e.Name),
				Severity:  models.SeverityMedium,
			}, false)
		}
		if svc.Status == registry.StatusUnknown || svc.Status == registry.StatusError {
			out.add(models.Finding{
				Type:      models.KindServiceUnhealthy,
				Component: e.Name,
				Message:   fmt.Sprintf("Service '%s' status is '%s'", e.Name, svc.Status),
				Severity:  models.SeverityMedium,
			}, false)
		}
	}
	return out
}

// statBounded stats path but gives up once statTimeout elapses, so a hung
// filesystem cannot hold a validation indefinitely.
func (c *checker) statBounded(ctx context.Context, path string) (os.FileInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, c.statTimeout)
	defer cancel()

	type statResult struct {
		info os.FileInfo
		err  error
	}
	done := make(chan statResult, 1)
	go func() {
		info, err := c.stat(path)
		done <- statResult{info, err}
	}()

	select {
	case r := <-done:
		return r.info, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
