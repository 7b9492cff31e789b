package program

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_Infix_To_Postfix(t *testing.T) {
	infix := []string{
		"a+b",
		"a + b*  c + d",
		"aa+bb*(cc-dd)*(ee + ff  * gg )-hh",
		"max(max(bid0, bid1), bid2)",
		"2 * min(a, b + 1)",
	}
	expectedAns := [][]string{
		{"a", "b", "+"},
		{"a", "b", "c", "*", "+", "d", "+"},
		{"aa", "bb", "cc", "dd", "-", "*", "ee", "ff", "gg", "*", "+", "*", "+", "hh", "-"},
		{"bid0", "bid1", "max", "bid2", "max"},
		{"2", "a", "b", "1", "+", "min", "*"},
	}

	for i, test := range infix {
		postfix, err := infixToPostfix(test)
		require.NoError(t, err)
		require.Equal(t, expectedAns[i], postfix, test)
	}
}

func Test_Expr_Invalid(t *testing.T) {
	invalid := []string{
		"",
		"a +",
		"a / b",
		"(a + b",
		"a + b)",
		"max(a)",
		"max(a, b, c)",
		"foo(a, b)",
		"a, b",
		"2a + b",
	}

	for _, test := range invalid {
		_, err := Compile(test)
		require.Error(t, err, test)
	}
}

func Test_Expr_Eval(t *testing.T) {
	env := map[string]*big.Int{
		"bid0": big.NewInt(100),
		"bid1": big.NewInt(200),
		"bid2": big.NewInt(150),
	}

	tests := map[string]int64{
		"max(max(bid0, bid1), bid2)": 200,
		"min(bid0, min(bid1, bid2))": 100,
		"bid0 + bid1 * 2":            500,
		"(bid0 + bid1) * 2":          600,
		"bid2 - bid0 - 10":           40,
		"bid1":                       200,
	}

	for infix, expected := range tests {
		expr, err := Compile(infix)
		require.NoError(t, err, infix)
		res, err := expr.Eval(env)
		require.NoError(t, err, infix)
		require.Equal(t, big.NewInt(expected).String(), res.String(), infix)
	}

	expr, err := Compile("a + b")
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, expr.Variables())
	_, err = expr.Eval(map[string]*big.Int{"a": big.NewInt(1)})
	require.Error(t, err)
}
