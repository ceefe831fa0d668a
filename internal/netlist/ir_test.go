package netlist

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPortSplit(t *testing.T) {
	testCases := []struct {
		description string
		port        Port
		expect      []string
	}{
		{
			description: "vector port",
			port:        NewBusPort("p", Input, 0, 3),
			expect:      []string{"p[0]", "p[1]", "p[2]", "p[3]"},
		},
		{
			description: "scalar port",
			port:        Port{Name: "p", Direction: Output},
			expect:      []string{"p"},
		},
		{
			description: "bounds given msb first",
			port:        NewBusPort("la", Inout, 6, 4),
			expect:      []string{"la[4]", "la[5]", "la[6]"},
		},
		{
			description: "offset bus",
			port:        NewBusPort("io", Input, 37, 37),
			expect:      []string{"io[37]"},
		},
	}

	for _, testCase := range testCases {
		assert.EqualValues(t, testCase.expect, testCase.port.Split(), testCase.description)
		assert.Equal(t, len(testCase.expect), testCase.port.Width(), testCase.description)
	}
}

func TestStripBackslashes(t *testing.T) {
	testCases := []struct {
		description string
		input       string
		expect      string
	}{
		{description: "clean identifier", input: "mprj", expect: "mprj"},
		{description: "escaped identifier", input: `\mprj.core[0]`, expect: "mprj.core[0]"},
		{description: "several escapes", input: `a\b\c`, expect: "abc"},
	}

	for _, testCase := range testCases {
		once := StripBackslashes(testCase.input)
		assert.Equal(t, testCase.expect, once, testCase.description)
		assert.Equal(t, once, StripBackslashes(once), testCase.description+": idempotent")
	}
}

func TestInstanceAccessorsStripEscapes(t *testing.T) {
	inst := Instance{
		RawName:       `\core.u0`,
		RawModuleType: `\mprj_core`,
		Connections: []Connection{
			{Formal: "clk", Actual: "wb_clk_i"},
			{Formal: "rst"},
		},
	}

	assert.Equal(t, "core.u0", inst.Name())
	assert.Equal(t, "mprj_core", inst.ModuleType())
	assert.Equal(t, `\core.u0`, inst.RawName, "raw form is kept")
	assert.Equal(t, map[string]string{"clk": "wb_clk_i", "rst": ""}, inst.Hooks())
	assert.Equal(t, []string{"wb_clk_i"}, inst.Actuals())
}

func TestNetlistQueries(t *testing.T) {
	n := &Netlist{
		TopModule: "caravel",
		Ports: []Port{
			{Name: "clk", Direction: Input},
			NewBusPort("gpio", Inout, 0, 1),
		},
		Instances: []Instance{
			{RawName: "a", RawModuleType: "cell_a"},
			{RawName: "b", RawModuleType: `\cell_b`},
			{RawName: "c", RawModuleType: "cell_a"},
		},
	}

	assert.Equal(t, []string{"clk", "gpio[0]", "gpio[1]"}, n.PortNames())
	assert.Equal(t, map[string]Direction{"clk": Input, "gpio[0]": Inout, "gpio[1]": Inout}, n.PortDirections())
	assert.Equal(t, []string{"cell_a", "cell_b"}, n.ModuleTypes())
	if assert.NotNil(t, n.FindInstanceOf("cell_b")) {
		assert.Equal(t, "b", n.FindInstanceOf("cell_b").Name())
	}
	assert.Nil(t, n.FindInstanceOf("cell_z"))
}

func TestDirectionJSON(t *testing.T) {
	data, err := json.Marshal(Port{Name: "x", Direction: Inout})
	assert.NoError(t, err)
	assert.JSONEq(t, `{"name":"x","direction":"inout"}`, string(data))

	var p Port
	assert.NoError(t, json.Unmarshal([]byte(`{"name":"y","direction":"output","lsb":0,"msb":7}`), &p))
	assert.Equal(t, Output, p.Direction)
	assert.Equal(t, 8, p.Width())

	assert.Error(t, json.Unmarshal([]byte(`{"name":"z","direction":"sideways"}`), &p))
}
