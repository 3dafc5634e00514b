package main

import (
	"context"
	"io"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommands(t *testing.T) {
	root := newRootCmd(&app{})

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	sort.Strings(names)
	assert.Equal(t, []string{"fix", "force", "migrate", "status", "sweep"}, names)
}

func TestForceRequiresVersion(t *testing.T) {
	root := newRootCmd(&app{})
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"force"})

	// Argument validation runs before the database is opened.
	err := root.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestBuiltinCommandsSkipDatabase(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	for _, args := range [][]string{{"help"}, {"help", "migrate"}, {"completion", "bash"}} {
		a := &app{}
		root := newRootCmd(a)
		root.SetOut(io.Discard)
		root.SetErr(io.Discard)
		root.SetArgs(args)

		require.NoError(t, root.ExecuteContext(context.Background()), args)
		assert.Nil(t, a.db, args)
		a.close()
	}
}

func TestCommandsRequireDatabaseConfig(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	a := &app{}
	root := newRootCmd(a)
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"status"})

	err := root.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load configuration")
	assert.Nil(t, a.db)
}
