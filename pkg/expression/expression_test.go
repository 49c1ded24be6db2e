package expression

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apiweave/apiweave/pkg/varsystem"
)

func TestEvaluateAsBool(t *testing.T) {
	ctx := context.Background()
	env := NewEnv(map[string]any{"count": 5, "name": "stripe"})

	ok, err := EvaluateAsBool(ctx, env, "count > 3")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = EvaluateAsBool(ctx, env, `name == "hubspot"`)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = EvaluateAsBool(ctx, env, "count >")
	assert.Error(t, err)
}

func TestEvaluateAsBoolUndefinedVariable(t *testing.T) {
	env := NewEnv(map[string]any{})
	ok, err := EvaluateAsBool(context.Background(), env, "missing == nil")
	require.NoError(t, err, "undefined variables evaluate to nil instead of failing compilation")
	assert.True(t, ok)
}

func TestEvaluateAsArray(t *testing.T) {
	ctx := context.Background()

	t.Run("plain selector", func(t *testing.T) {
		env := NewEnv(map[string]any{"customers": []any{"c-1", "c-2"}})
		got, err := EvaluateAsArray(ctx, env, "customers")
		require.NoError(t, err)
		assert.Equal(t, []any{"c-1", "c-2"}, got)
	})

	t.Run("nested field", func(t *testing.T) {
		env := NewEnv(map[string]any{
			"orders": map[string]any{"items": []any{1, 2, 3}},
		})
		got, err := EvaluateAsArray(ctx, env, "orders.items")
		require.NoError(t, err)
		assert.Len(t, got, 3)
	})

	t.Run("filter expression", func(t *testing.T) {
		env := NewEnv(map[string]any{"nums": []any{1, 2, 3, 4}})
		got, err := EvaluateAsArray(ctx, env, "filter(nums, # > 2)")
		require.NoError(t, err)
		assert.Equal(t, []any{3, 4}, got)
	})

	t.Run("map of maps", func(t *testing.T) {
		env := NewEnv(map[string]any{"rows": []map[string]any{{"id": 1}, {"id": 2}}})
		got, err := EvaluateAsArray(ctx, env, "rows")
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("nil result", func(t *testing.T) {
		env := NewEnv(map[string]any{})
		got, err := EvaluateAsArray(ctx, env, "missing")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("non-array result", func(t *testing.T) {
		env := NewEnv(map[string]any{"n": 7})
		_, err := EvaluateAsArray(ctx, env, "n")
		assert.ErrorContains(t, err, "expected array")
	})
}

func TestEvaluate(t *testing.T) {
	env := NewEnv(map[string]any{"a": 2, "b": 3})
	got, err := Evaluate(context.Background(), env, "a * b")
	require.NoError(t, err)
	assert.Equal(t, 6, got)
}

func TestNormalizeExpression(t *testing.T) {
	vars := varsystem.NewVarMap(map[string]string{"limit": "10"})

	got, err := NormalizeExpression(context.Background(), "  count > <<limit>>  ", vars)
	require.NoError(t, err)
	assert.Equal(t, "count > 10", got)

	_, err = NormalizeExpression(context.Background(), "<<missing>>", vars)
	assert.ErrorIs(t, err, varsystem.ErrKeyNotFound)
}

func TestProgramCacheReuse(t *testing.T) {
	ctx := context.Background()
	env := NewEnv(map[string]any{"n": 1})

	for i := 0; i < 3; i++ {
		got, err := Evaluate(ctx, env, "n + 1")
		require.NoError(t, err)
		assert.Equal(t, 2, got)
	}
}
