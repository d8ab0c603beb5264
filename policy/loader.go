package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// LoadDir compiles every .rego file under dir into the engine, named by
// its base filename. A missing directory is an error; an existing but
// empty one loads nothing and leaves the engine allowing everything.
func (e *Engine) LoadDir(ctx context.Context, dir string) error {
	ctx, span := e.tracer.Start(ctx, "policy.load_dir",
		trace.WithAttributes(attribute.String("policy.dir", dir)))
	defer span.End()

	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("policy dir %s: %w", dir, err)
	}

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(path, ".rego") {
			return nil
		}
		return e.loadFile(ctx, dir, path)
	})
	if err != nil {
		return err
	}

	e.logger.WithContext(ctx).Info().
		Str("dir", dir).
		Int("policies", len(e.queries)).
		Msg("policy directory loaded")
	return nil
}

func (e *Engine) loadFile(ctx context.Context, dir, path string) error {
	if err := validatePolicyPath(dir, path); err != nil {
		return fmt.Errorf("policy file %s: %w", path, err)
	}

	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("read policy file %s: %w", path, err)
	}

	name := strings.TrimSuffix(filepath.Base(path), ".rego")
	if err := e.LoadPolicy(ctx, name, string(content)); err != nil {
		return err
	}
	return nil
}

// validatePolicyPath rejects paths that resolve outside the policy dir.
func validatePolicyPath(dir, path string) error {
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("resolve relative path: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path escapes policy dir")
	}
	return nil
}
