package netlist

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvalConst(t *testing.T) {
	params := map[string]int{"WIDTH": 8, "N": 3}

	testCases := []struct {
		description string
		expr        string
		expect      int
		hasError    bool
	}{
		{description: "decimal", expr: "37", expect: 37},
		{description: "sized hex", expr: "8'hff", expect: 255},
		{description: "binary with underscores", expr: "4'b10_01", expect: 9},
		{description: "parameter arithmetic", expr: "WIDTH-1", expect: 7},
		{description: "precedence", expr: "2+3*4", expect: 14},
		{description: "parentheses", expr: "(2+3)*4", expect: 20},
		{description: "power is right associative", expr: "2**N**2", expect: 512},
		{description: "shift", expr: "1<<N", expect: 8},
		{description: "unary minus", expr: "-N+4", expect: 1},
		{description: "modulo", expr: "WIDTH%N", expect: 2},
		{description: "large power", expr: "2**40", expect: 1 << 40},
		{description: "negative base", expr: "(-2)**3", expect: -8},
		{description: "power overflow", expr: "3**4000000000", hasError: true},
		{description: "unknown name", expr: "DEPTH-1", hasError: true},
		{description: "division by zero", expr: "WIDTH/0", hasError: true},
		{description: "trailing tokens", expr: "1 2", hasError: true},
	}

	for _, testCase := range testCases {
		tokens, err := lexVerilog("expr", []byte(testCase.expr))
		require.NoError(t, err, testCase.description)
		actual, err := evalConst(tokens, params)
		if testCase.hasError {
			assert.Error(t, err, testCase.description)
			continue
		}
		if assert.NoError(t, err, testCase.description) {
			assert.Equal(t, testCase.expect, actual, testCase.description)
		}
	}
}
