package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildCLI(t *testing.T) {
	cmd := BuildCLI()
	assert.NotNil(t, cmd)
	assert.Equal(t, "relayd", cmd.Use)

	names := make(map[string]bool)
	for _, c := range cmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["serve"])
	assert.True(t, names["backup"])
	assert.True(t, names["federation"])
	assert.True(t, names["status"])

	configFlag := cmd.PersistentFlags().Lookup("config")
	assert.NotNil(t, configFlag)
	assert.Equal(t, "configs/default.yaml", configFlag.DefValue)
}

func TestFederationSubcommands(t *testing.T) {
	fed := buildFederationCommand()
	names := make(map[string]bool)
	for _, c := range fed.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["enable-room"])
	assert.True(t, names["disable-room"])
}
