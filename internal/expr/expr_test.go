package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvalBoolTable(t *testing.T) {
	vars := map[string]interface{}{
		"count":  float64(5),
		"name":   "alpha",
		"active": true,
		"order": map[string]interface{}{
			"total":  120.5,
			"status": "paid",
		},
	}

	cases := []struct {
		expr string
		want bool
	}{
		{"count > 3", true},
		{"count >= 5", true},
		{"count < 5", false},
		{"count == 5", true},
		{"count != 5", false},
		{"name == 'alpha'", true},
		{"name == \"beta\"", false},
		{"active", true},
		{"!active", false},
		{"active && count > 3", true},
		{"active && count > 10", false},
		{"count > 10 || name == 'alpha'", true},
		{"(count + 1) * 2 == 12", true},
		{"count % 2 == 1", true},
		{"order.total > 100", true},
		{"order.status == 'paid' && order.total > 100", true},
		{"missing == null", true},
		{"missing", false},
		{"-count < 0", true},
		{"'a' < 'b'", true},
	}
	for _, tc := range cases {
		got, err := EvalBool(tc.expr, vars)
		require.NoError(t, err, tc.expr)
		assert.Equal(t, tc.want, got, tc.expr)
	}
}

func TestEvalArithmetic(t *testing.T) {
	v, err := Eval("2 + 3 * 4", nil)
	require.NoError(t, err)
	assert.Equal(t, 14.0, v)

	v, err = Eval("(2 + 3) * 4", nil)
	require.NoError(t, err)
	assert.Equal(t, 20.0, v)

	v, err = Eval("'total: ' + 42", nil)
	require.NoError(t, err)
	assert.Equal(t, "total: 42", v)
}

func TestEvalErrors(t *testing.T) {
	_, err := Parse("count >")
	assert.ErrorIs(t, err, ErrParse)

	_, err = Parse("(a == 1")
	assert.ErrorIs(t, err, ErrParse)

	_, err = Parse("a @ b")
	assert.ErrorIs(t, err, ErrParse)

	_, err = Eval("1 / 0", nil)
	assert.ErrorIs(t, err, ErrEval)

	_, err = Eval("true * 2", nil)
	assert.ErrorIs(t, err, ErrTypeMix)
}

func TestNumericStringCoercion(t *testing.T) {
	vars := map[string]interface{}{"qty": "12"}
	got, err := EvalBool("qty > 10", vars)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestLookupDottedPath(t *testing.T) {
	vars := map[string]interface{}{
		"a": map[string]interface{}{
			"b": map[string]interface{}{"c": 7},
		},
		"flat.key": "direct",
	}
	assert.Equal(t, 7, Lookup(vars, "a.b.c"))
	assert.Equal(t, "direct", Lookup(vars, "flat.key")) // exact key wins
	assert.Nil(t, Lookup(vars, "a.x.c"))
	assert.Nil(t, Lookup(nil, "a"))
}
