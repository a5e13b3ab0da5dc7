package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	defs := filepath.Join(dir, "definitions.yaml")
	require.NoError(t, os.WriteFile(defs, []byte(`
missions:
  - id: m1
    name: M1
    reward_points: 5
    rule: {kind: counter_at_least, counter: c, threshold: 1}
combinations:
  - code: C1
    required_hints: [a, b]
    reward_code: R1
`), 0o644))
	cfg := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte(`
database:
  mode: memory
engine:
  definitions_path: `+defs+`
`), 0o644))
	return cfg
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootCommand_Subcommands(t *testing.T) {
	cmd := NewRootCommand()
	names := map[string]bool{}
	for _, c := range cmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["serve"])
	assert.True(t, names["migrate"])
	assert.True(t, names["seed"])
}

func TestMigrate(t *testing.T) {
	_, err := run(t, "migrate", "--config", writeFiles(t))
	assert.NoError(t, err)
}

func TestMigrate_MissingConfig(t *testing.T) {
	_, err := run(t, "migrate", "--config", filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestSeed(t *testing.T) {
	out, err := run(t, "seed", "--config", writeFiles(t))
	require.NoError(t, err)
	assert.Contains(t, out, "seeded 1 combination(s), 1 mission(s) valid")
}

func TestSeed_BadDefinitions(t *testing.T) {
	cfg := writeFiles(t)
	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("missions:\n  - id: x\n    rule: {kind: nope}\n"), 0o644))
	_, err := run(t, "seed", "--config", cfg, "--definitions", bad)
	assert.Error(t, err)
}
