package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	RootCmd.SetOut(&out)
	RootCmd.SetErr(&out)
	RootCmd.SetArgs(args)
	t.Cleanup(func() {
		RootCmd.SetArgs(nil)
		RootCmd.SetOut(nil)
		RootCmd.SetErr(nil)
	})
	err := Execute()
	return out.String(), err
}

func TestRootCommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range RootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"monitor", "agent", "scenarios"} {
		assert.True(t, names[want], "missing %s command", want)
	}
}

func TestScenariosCommand_ListsBuiltins(t *testing.T) {
	out, err := runCLI(t, "scenarios")
	require.NoError(t, err)
	for _, name := range []string{"sleep", "kv_set_get", "inventory_reserve", "queue_consume"} {
		assert.Contains(t, out, name)
	}
	assert.Contains(t, out, "--keyspace integer (default 1000)")
}

func TestScenariosCommand_LoadsModules(t *testing.T) {
	dir := t.TempDir()
	module := `
- name: warm_cache
  title: Warm cache
  kind: kv_set_get
  params:
    keyspace: {type: integer, default: 10}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cache.yaml"), []byte(module), 0644))

	out, err := runCLI(t, "scenarios", "--scenarios-dir", dir, "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"name": "warm_cache"`)
	RootCmd.PersistentFlags().Set("scenarios-dir", "")
	scenariosCmd.Flags().Set("json", "false")
}

func TestMonitorCommand_Validation(t *testing.T) {
	_, err := runCLI(t, "monitor")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--simulation")

	path := filepath.Join(t.TempDir(), "sim.yaml")
	sim := "scenarios:\n  - scenario: nope\n    execution:\n      iterations: 1\n      numberOfUsers: 1\n"
	require.NoError(t, os.WriteFile(path, []byte(sim), 0644))

	_, err = runCLI(t, "monitor", "-s", path, "-o", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")
	monitorCmd.Flags().Set("simulation", "")
}

func TestAgentCommand_RequiresMonitorURL(t *testing.T) {
	_, err := runCLI(t, "agent")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "--monitor-url"))
}

func TestAgentArgs(t *testing.T) {
	args := agentArgs(monitorCmd, monitorFlags{targetURL: "redis://t:6379/0"})
	assert.Equal(t, []string{"--log-level", "info", "--target-url", "redis://t:6379/0"}, args)
	assert.Equal(t, "127.0.0.1", advertiseHost("0.0.0.0"))
	assert.Equal(t, "10.0.0.5", advertiseHost("10.0.0.5"))
}
