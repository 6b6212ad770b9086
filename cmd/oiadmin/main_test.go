package main

import (
	"context"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, cmd *cobra.Command, args ...string) error {
	t.Helper()
	cmd.SetArgs(args)
	cmd.SetOut(&strings.Builder{})
	cmd.SetErr(&strings.Builder{})
	return cmd.ExecuteContext(context.Background())
}

func TestCommandTree(t *testing.T) {
	root := &cobra.Command{Use: "oiadmin"}
	root.AddCommand(newMigrateCmd(), newStatsCmd(), newCleanupCmd(), newTokenCmd(), newIndexerCmd(), newReindexCmd())

	for _, path := range [][]string{
		{"migrate"},
		{"stats", "rebuild"},
		{"stats", "show"},
		{"cleanup", "stale"},
		{"token", "issue"},
		{"indexer", "add"},
		{"reindex"},
	} {
		found, _, err := root.Find(path)
		require.NoError(t, err, strings.Join(path, " "))
		assert.Equal(t, path[len(path)-1], found.Name())
	}
}

func TestFlagValidationRunsBeforeConnecting(t *testing.T) {
	err := execute(t, newTokenIssueCmd())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--user is required")

	err = execute(t, newIndexerAddCmd(), "--user", "7")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--name are required")

	err = execute(t, newStatsShowCmd(), "--language", "en", "--country", "us")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not both")

	err = execute(t, newCleanupStaleCmd(), "--weeks", "-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "negative")

	err = execute(t, newReindexCmd(), "--kind", "spaceship")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid kind")
}
