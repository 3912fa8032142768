package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCmd_HasSubcommands(t *testing.T) {
	expected := []string{"serve", "ask", "validate", "sqlcheck", "report", "secrets", "init", "version"}
	registered := make(map[string]bool)
	for _, cmd := range rootCmd.Commands() {
		registered[cmd.Name()] = true
	}
	for _, name := range expected {
		assert.True(t, registered[name], "subcommand %q should be registered", name)
	}
}

func TestSecretsCmd_HasSubcommands(t *testing.T) {
	expected := []string{"put", "list", "rotate", "audit"}
	registered := make(map[string]bool)
	for _, cmd := range secretsCmd.Commands() {
		registered[cmd.Name()] = true
	}
	for _, name := range expected {
		assert.True(t, registered[name], "secrets subcommand %q should be registered", name)
	}
}

func TestSQLCheckCmd_RequiresOneArg(t *testing.T) {
	assert.NotNil(t, sqlcheckCmd.Args)
	assert.Error(t, sqlcheckCmd.Args(sqlcheckCmd, []string{}))
	assert.NoError(t, sqlcheckCmd.Args(sqlcheckCmd, []string{"SELECT 1"}))
}

func TestAskCmd_Flags(t *testing.T) {
	flags := []string{"tenant", "user", "session", "data-source", "json"}
	for _, name := range flags {
		assert.NotNil(t, askCmd.Flags().Lookup(name), "ask flag %q should be registered", name)
	}
}

func TestReportCmd_WindowDefault(t *testing.T) {
	flag := reportCmd.Flags().Lookup("window-days")
	require.NotNil(t, flag)
	assert.Equal(t, "30", flag.DefValue)
}

func TestSecretsAuditCmd_LimitDefault(t *testing.T) {
	flag := secretsAuditCmd.Flags().Lookup("limit")
	require.NotNil(t, flag)
	assert.Equal(t, "50", flag.DefValue)
}

func TestRootCmd_PersistentFlags(t *testing.T) {
	flags := []string{"verbose", "log-level", "log-format", "otel"}
	for _, name := range flags {
		assert.NotNil(t, rootCmd.PersistentFlags().Lookup(name), "persistent flag %q should be registered", name)
	}
}
