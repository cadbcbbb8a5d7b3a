package engine

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/aledsdavies/xrun/command"
)

// sshFixtureYAML is the kind of adapter-option document an external loader
// (out of scope here, per spec.md's Non-goals on config-file loading) would
// hand to Engine.With after decoding — used here only to ground option
// validation against a non-Go-literal source.
const sshFixtureYAML = `
host: build.example.com
port: 22
username: deploy
strictHostKeyChecking: true
`

const clusterFixtureYAML = `
pod: web-7c9d9
namespace: prod
`

func TestEngineWith_AcceptsYAMLDecodedSSHOptions(t *testing.T) {
	var opts map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(sshFixtureYAML), &opts))

	e, err := New().With(command.SSH, opts)
	require.NoError(t, err)
	require.Equal(t, command.SSH, e.pending.Adapter)
}

func TestEngineWith_RejectsYAMLDecodedClusterOptionsMissingPod(t *testing.T) {
	var opts map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(clusterFixtureYAML), &opts))

	// pod is present here, so this must succeed...
	_, err := New().With(command.Cluster, opts)
	require.NoError(t, err)

	// ...but a document missing it must not.
	delete(opts, "pod")
	_, err = New().With(command.Cluster, opts)
	require.Error(t, err)
}
