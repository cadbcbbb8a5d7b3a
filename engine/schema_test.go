package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aledsdavies/xrun/command"
)

func TestValidateAdapterOptions_LocalAlwaysPasses(t *testing.T) {
	require.NoError(t, validateAdapterOptions(command.Local, nil))
}

func TestValidateAdapterOptions_SSHRequiresHostAndUsername(t *testing.T) {
	require.Error(t, validateAdapterOptions(command.SSH, map[string]any{"username": "root"}))
	require.Error(t, validateAdapterOptions(command.SSH, map[string]any{"host": "example.com"}))
	require.NoError(t, validateAdapterOptions(command.SSH, map[string]any{
		"host": "example.com", "username": "root",
	}))
}

func TestValidateAdapterOptions_ContainerAcceptsContainerName(t *testing.T) {
	require.NoError(t, validateAdapterOptions(command.Container, map[string]any{"container": "web-1"}))
}

func TestValidateAdapterOptions_ClusterRejectsEmptyPod(t *testing.T) {
	require.Error(t, validateAdapterOptions(command.Cluster, map[string]any{"pod": ""}))
}

func TestValidateAdapterOptions_UnknownKindIsValidationError(t *testing.T) {
	err := validateAdapterOptions(command.AdapterKind("bogus"), map[string]any{})
	require.Error(t, err)
}

func TestJSONSafeInstance_DropsNonJSONValues(t *testing.T) {
	instance, err := jsonSafeInstance(map[string]any{
		"host":     "example.com",
		"username": "root",
		"signer":   make(chan int), // not JSON-representable, silently dropped
	})
	require.NoError(t, err)
	m, ok := instance.(map[string]any)
	require.True(t, ok)
	require.Contains(t, m, "host")
	require.NotContains(t, m, "signer")
}
