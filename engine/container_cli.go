package engine

import (
	"sort"
	"strings"

	"github.com/aledsdavies/xrun/command"
	"github.com/aledsdavies/xrun/escape"
	"github.com/aledsdavies/xrun/xerr"
)

// containerShellLine assembles the docker/podman argv spec §6's Container
// option contract describes, then renders it as a single shell-safe line —
// the form the remoteContainer selector hands to the SSH adapter, since an
// SSH session runs one command line rather than an argv vector the way a
// local child process does.
func containerShellLine(opts map[string]any, cmd command.Command) (string, error) {
	runtime := stringOpt(opts, "runtime", "docker")
	image, hasImage := opts["image"].(string)
	name, hasContainer := opts["container"].(string)

	var argv []string
	switch {
	case hasContainer && name != "":
		argv = append(argv, runtime, "exec")
		argv = append(argv, commonFlags(opts)...)
		argv = append(argv, name)
	case hasImage && image != "":
		argv = append(argv, runtime, "run", "--rm")
		argv = append(argv, runOnlyFlags(opts)...)
		argv = append(argv, commonFlags(opts)...)
		argv = append(argv, image)
	default:
		return "", xerr.New(xerr.KindValidation, "remote container options require image or container")
	}

	argv = append(argv, payloadFor(cmd)...)

	parts := make([]string, len(argv))
	for i, a := range argv {
		parts[i] = escape.Quote(escape.POSIX, a)
	}
	return strings.Join(parts, " "), nil
}

func commonFlags(opts map[string]any) []string {
	var flags []string
	if wd := stringOpt(opts, "workdir", ""); wd != "" {
		flags = append(flags, "-w", wd)
	}
	if user := stringOpt(opts, "user", ""); user != "" {
		flags = append(flags, "-u", user)
	}
	for _, k := range sortedKeys(envOpt(opts)) {
		flags = append(flags, "-e", k+"="+envOpt(opts)[k])
	}
	if extra, ok := opts["extraFlags"].([]string); ok {
		flags = append(flags, extra...)
	}
	return flags
}

func runOnlyFlags(opts map[string]any) []string {
	var flags []string
	if network := stringOpt(opts, "network", ""); network != "" {
		flags = append(flags, "--network", network)
	}
	if mem := stringOpt(opts, "memory", ""); mem != "" {
		flags = append(flags, "--memory", mem)
	}
	if cpus := stringOpt(opts, "cpus", ""); cpus != "" {
		flags = append(flags, "--cpus", cpus)
	}
	if volumes, ok := opts["volumes"].([]string); ok {
		for _, v := range volumes {
			flags = append(flags, "-v", v)
		}
	}
	return flags
}

func stringOpt(opts map[string]any, key, fallback string) string {
	if v, ok := opts[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func envOpt(opts map[string]any) map[string]string {
	if env, ok := opts["env"].(map[string]string); ok {
		return env
	}
	return map[string]string{}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// payloadFor renders cmd's program/args or shell line as the trailing argv
// a container-runtime CLI expects after its own flags.
func payloadFor(cmd command.Command) []string {
	if cmd.UseShellLine {
		return []string{"sh", "-c", cmd.ShellLine}
	}
	return append([]string{cmd.Program}, cmd.Args...)
}
