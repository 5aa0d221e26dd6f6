//go:build !integration

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRootCmd_Subcommands(t *testing.T) {
	want := []string{"serve", "run", "runs", "links", "import", "cache", "store"}
	var got []string
	for _, c := range rootCmd.Commands() {
		got = append(got, c.Name())
	}
	for _, name := range want {
		assert.Contains(t, got, name)
	}
}

func TestRootCmd_NestedCommands(t *testing.T) {
	for _, path := range [][]string{
		{"runs", "list"}, {"runs", "show"}, {"runs", "stats"},
		{"links", "show"}, {"import", "homepages"},
		{"cache", "prune"}, {"cache", "prime"}, {"store", "init"},
	} {
		cmd, _, err := rootCmd.Find(path)
		if assert.NoError(t, err, path) {
			assert.Equal(t, path[len(path)-1], cmd.Name())
		}
	}
}

func TestRootCmd_PersistentFlags(t *testing.T) {
	for _, name := range []string{"config", "log-level"} {
		assert.NotNil(t, rootCmd.PersistentFlags().Lookup(name), name)
	}
}
