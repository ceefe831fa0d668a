package netlist

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const physicalNetlist = `module user_proj (input clk, output q);
  sky130_fd_sc_hd__decap_4 FILLER_0_1 ();
  sky130_fd_sc_hd__fill_2 FILLER_0_2 (.VPWR(vccd1), .VGND(vssd1));
  sky130_fd_sc_hd__dfxtp_1 _42_ (.CLK(clk), .Q(q));
  \sky130_fd_sc_hd__tapvpwrvgnd_1 TAP_3 ();
endmodule
`

func TestRemoveInstances(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, dir, "user_proj.v", physicalNetlist)
	out := filepath.Join(dir, "user_proj.stripped.v")

	removed, err := RemoveInstances(context.Background(), in, out, []string{
		"sky130_fd_sc_*__decap_*",
		"sky130_fd_sc_*__fill_*",
		"sky130_fd_sc_*__tapvpwrvgnd_*",
	})
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	n, err := ParseVerilog(context.Background(), out, "user_proj", VerilogOptions{})
	require.NoError(t, err)
	require.Len(t, n.Instances, 1)
	assert.Equal(t, "_42_", n.Instances[0].Name())
	assert.Equal(t, []string{"clk", "q"}, n.PortNames())
}

func TestRemoveInstancesKeepsUnbalancedDirectives(t *testing.T) {
	src := "module m (input a);\n" +
		"  sky130_fd_sc_hd__decap_3 D0 (\n" +
		"`ifdef USE_POWER_PINS\n" +
		"    .VPWR(vccd1),\n" +
		"`endif\n" +
		"    .A(a));\n" +
		"`ifdef USE_POWER_PINS\n" +
		"  sky130_fd_sc_hd__decap_3 D1 (.VPWR(vccd1)\n" +
		"`else\n" +
		"  sky130_fd_sc_hd__decap_3 D1 (.VPWR(1'b1)\n" +
		"`endif\n" +
		"  );\n" +
		"  buf b0 (a, a);\n" +
		"endmodule\n"
	dir := t.TempDir()
	in := writeFile(t, dir, "m.v", src)
	out := filepath.Join(dir, "out.v")

	removed, err := RemoveInstances(context.Background(), in, out, []string{"*decap*"})
	require.NoError(t, err)
	assert.Equal(t, 1, removed, "only the self-contained instance is removed")

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "D0")
	assert.Contains(t, string(data), "D1")
	assert.Contains(t, string(data), "buf b0")
}

func TestRemoveInstancesErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := RemoveInstances(context.Background(), filepath.Join(dir, "absent.v"), filepath.Join(dir, "o.v"), []string{"x"})
	var parseErr *ParseError
	assert.True(t, errors.As(err, &parseErr), "unreadable input")

	only := writeFile(t, dir, "only.v", "sky130_fd_sc_hd__fill_1 F ();\n")
	_, err = RemoveInstances(context.Background(), only, filepath.Join(dir, "o.v"), []string{"*fill*"})
	assert.True(t, errors.As(err, &parseErr), "empty result")

	_, err = RemoveInstances(context.Background(), only, filepath.Join(dir, "o.v"), []string{"[unclosed"})
	assert.Error(t, err, "bad pattern")
}

func TestPatterns(t *testing.T) {
	patterns, err := CompilePatterns([]string{"sky130_fd_sc_*__decap_*", "caravel_power_routing"})
	require.NoError(t, err)

	testCases := []struct {
		description string
		name        string
		expect      bool
	}{
		{description: "wildcard match", name: "sky130_fd_sc_hd__decap_12", expect: true},
		{description: "escaped name", name: `\sky130_fd_sc_hvl__decap_4`, expect: true},
		{description: "literal pattern", name: "caravel_power_routing", expect: true},
		{description: "literal pattern is exact", name: "caravel_power_routing_2", expect: false},
		{description: "functional cell", name: "sky130_fd_sc_hd__dfxtp_1", expect: false},
	}
	for _, testCase := range testCases {
		assert.Equal(t, testCase.expect, patterns.Match(testCase.name), testCase.description)
	}

	assert.Equal(t, []string{"caravel_power_routing", "sky130_fd_sc_hd__decap_3"},
		patterns.Expand([]string{"caravel_power_routing", "mprj", "sky130_fd_sc_hd__decap_3", "caravel_power_routing"}))
	assert.Equal(t, []string{"sky130_fd_sc_*__decap_*", "caravel_power_routing"}, patterns.Strings())

	var none *Patterns
	assert.False(t, none.Match("anything"))
	assert.Nil(t, none.Strings())
}
