package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

const minimalScenario = `
name: minimal
description: "One full sync and one compile"
init:
  std_schema: STD
steps:
  - op: compile
    client: 7
    db: shop
    sync:
      dbs:
        shop: {user_schema: A, reflection_cache: C1, database_config: K1}
      global_schema: G
      instance_config: I
    args: q
    expect:
      result: "units[q@A]"
assertions:
  - type: cached_clients
    clients: [7]
`

const failingScenario = `
name: failing
description: "Expects a result the fake compiler never returns"
init:
  std_schema: STD
steps:
  - op: compile
    client: 7
    db: shop
    sync:
      dbs:
        shop: {user_schema: A, reflection_cache: C1, database_config: K1}
      global_schema: G
      instance_config: I
    args: q
    expect:
      result: "something else"
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// execute runs cmd with args and returns stdout.
func execute(cmd *cobra.Command, args ...string) (string, error) {
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}
