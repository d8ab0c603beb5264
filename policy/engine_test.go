package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/varunnarsana/stratus/types"
)

const denyDeletePolicy = `package stratus

import rego.v1

decision := "deny" if {
	input.action.verb == "delete"
}

reason := "deletes are forbidden here" if {
	decision == "deny"
}`

func testInput(verb types.Verb) Input {
	return Input{
		Workspace: "prod",
		Action: types.ChangeAction{
			ResourceID: "db-main",
			Verb:       verb,
			Reason:     "test",
		},
		Spec: &types.ResourceSpec{
			ID:   "db-main",
			Kind: types.KindDatabase,
			Attributes: map[string]any{
				"engine":  "postgres",
				"size_gb": 100,
			},
		},
	}
}

func TestEngine_LoadAndEvaluate(t *testing.T) {
	engine := NewEngine()
	ctx := context.Background()

	require.NoError(t, engine.LoadPolicy(ctx, "deny-deletes", denyDeletePolicy))

	decision, err := engine.EvaluateAction(ctx, testInput(types.VerbDelete))
	require.NoError(t, err)
	assert.Equal(t, DecisionDeny, decision.Decision)
	assert.Equal(t, "deletes are forbidden here", decision.Reason)
	assert.Equal(t, []string{"deny-deletes"}, decision.Policies)

	// The same policy stays silent on a create.
	decision, err = engine.EvaluateAction(ctx, testInput(types.VerbCreate))
	require.NoError(t, err)
	assert.Equal(t, DecisionAllow, decision.Decision)
	assert.Empty(t, decision.Policies)
}

func TestEngine_NoPoliciesAllows(t *testing.T) {
	engine := NewEngine()
	assert.True(t, engine.Empty())

	decision, err := engine.EvaluateAction(context.Background(), testInput(types.VerbDelete))
	require.NoError(t, err)
	assert.Equal(t, DecisionAllow, decision.Decision)
}

func TestEngine_StrictestDecisionWins(t *testing.T) {
	engine := NewEngine()
	ctx := context.Background()

	require.NoError(t, engine.LoadPolicy(ctx, "allow-all", `package stratus

import rego.v1

decision := "allow"
reason := "baseline"`))

	require.NoError(t, engine.LoadPolicy(ctx, "approve-databases", `package stratus

import rego.v1

decision := "require_approval" if {
	input.spec.kind == "database"
}

reason := "database changes need a human" if {
	decision == "require_approval"
}`))

	require.NoError(t, engine.LoadPolicy(ctx, "deny-deletes", denyDeletePolicy))

	decision, err := engine.EvaluateAction(ctx, testInput(types.VerbDelete))
	require.NoError(t, err)
	assert.Equal(t, DecisionDeny, decision.Decision)
	assert.Equal(t, "deletes are forbidden here", decision.Reason)
	assert.Equal(t, []string{"allow-all", "approve-databases", "deny-deletes"}, decision.Policies)

	// Without the delete, approval is the strictest voice left.
	decision, err = engine.EvaluateAction(ctx, testInput(types.VerbUpdate))
	require.NoError(t, err)
	assert.Equal(t, DecisionRequireApproval, decision.Decision)
	assert.Equal(t, "database changes need a human", decision.Reason)
}

func TestEngine_SubpackageRulesAreFound(t *testing.T) {
	engine := NewEngine()
	ctx := context.Background()

	require.NoError(t, engine.LoadPolicy(ctx, "guard", `package stratus.guard

import rego.v1

decision := "require_approval" if {
	input.workspace == "prod"
}

reason := "prod changes need sign-off" if {
	decision == "require_approval"
}`))

	decision, err := engine.EvaluateAction(ctx, testInput(types.VerbCreate))
	require.NoError(t, err)
	assert.Equal(t, DecisionRequireApproval, decision.Decision)
	assert.Equal(t, "prod changes need sign-off", decision.Reason)
}

func TestEngine_UnknownDecisionFailsClosed(t *testing.T) {
	engine := NewEngine()
	ctx := context.Background()

	require.NoError(t, engine.LoadPolicy(ctx, "typo", `package stratus

import rego.v1

decision := "dny" if {
	input.action.verb == "delete"
}`))

	_, err := engine.EvaluateAction(ctx, testInput(types.VerbDelete))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown decision "dny"`)
}

func TestEngine_CompileErrorRejected(t *testing.T) {
	engine := NewEngine()

	err := engine.LoadPolicy(context.Background(), "broken", `package stratus

decision := if {`)
	require.Error(t, err)
	assert.True(t, engine.Empty())
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "deny-deletes.rego"), []byte(denyDeletePolicy), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not a policy"), 0o644))

	sub := filepath.Join(dir, "team")
	require.NoError(t, os.Mkdir(sub, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "approve.rego"), []byte(`package stratus

import rego.v1

decision := "require_approval" if {
	input.action.verb == "create"
}`), 0o644))

	engine := NewEngine()
	ctx := context.Background()
	require.NoError(t, engine.LoadDir(ctx, dir))
	assert.Len(t, engine.queries, 2)

	decision, err := engine.EvaluateAction(ctx, testInput(types.VerbDelete))
	require.NoError(t, err)
	assert.Equal(t, DecisionDeny, decision.Decision)
}

func TestLoadDir_MissingDirFails(t *testing.T) {
	engine := NewEngine()
	err := engine.LoadDir(context.Background(), filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
}
