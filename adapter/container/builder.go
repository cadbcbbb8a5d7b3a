package container

import "github.com/aledsdavies/xrun/command"

// EphemeralSpec fluently configures a `run --rm` invocation against image,
// per spec §4.9's `ephemeral(image).workdir(...).env(...).run(cmd)` surface.
type EphemeralSpec struct {
	image   string
	workdir string
	user    string
	network string
	memory  string
	cpus    string
	mounts  []Mount
	env     map[string]string
	extra   []string
	runtime string
}

// Ephemeral starts a fluent configuration for a one-shot `run --rm` against
// image, deferring CLI selection to the docker default until Runtime is
// called.
func Ephemeral(image string) *EphemeralSpec {
	return &EphemeralSpec{image: image, env: map[string]string{}}
}

func (s *EphemeralSpec) Workdir(dir string) *EphemeralSpec { s.workdir = dir; return s }
func (s *EphemeralSpec) User(user string) *EphemeralSpec   { s.user = user; return s }
func (s *EphemeralSpec) Network(n string) *EphemeralSpec   { s.network = n; return s }
func (s *EphemeralSpec) Memory(limit string) *EphemeralSpec { s.memory = limit; return s }
func (s *EphemeralSpec) CPUs(limit string) *EphemeralSpec  { s.cpus = limit; return s }
func (s *EphemeralSpec) Runtime(name string) *EphemeralSpec { s.runtime = name; return s }

func (s *EphemeralSpec) Env(delta map[string]string) *EphemeralSpec {
	for k, v := range delta {
		s.env[k] = v
	}
	return s
}

func (s *EphemeralSpec) Mount(m Mount) *EphemeralSpec {
	s.mounts = append(s.mounts, m)
	return s
}

func (s *EphemeralSpec) ExtraFlags(flags ...string) *EphemeralSpec {
	s.extra = append(s.extra, flags...)
	return s
}

// Run builds the Command that executes line inside a fresh container from
// this spec's image, removed on completion.
func (s *EphemeralSpec) Run(line string) command.Command {
	return command.New(command.Container).
		WithShellLine(line).
		WithEnv(s.env).
		WithAdapterOptions(s.optionsMap())
}

func (s *EphemeralSpec) optionsMap() map[string]any {
	opts := map[string]any{
		OptMode:  modeEphemeral,
		OptImage: s.image,
	}
	if s.workdir != "" {
		opts[OptWorkdir] = s.workdir
	}
	if s.user != "" {
		opts[OptUser] = s.user
	}
	if s.network != "" {
		opts[OptNetwork] = s.network
	}
	if s.memory != "" {
		opts[OptMemory] = s.memory
	}
	if s.cpus != "" {
		opts[OptCPUs] = s.cpus
	}
	if len(s.mounts) > 0 {
		opts[OptMounts] = s.mounts
	}
	if len(s.extra) > 0 {
		opts[OptExtra] = s.extra
	}
	if s.runtime != "" {
		opts[OptRuntime] = s.runtime
	}
	return opts
}

// ExistingSpec fluently configures an exec dispatched against an already
// running container named name, per spec §4.9's
// `container(name).workdir(...).exec(cmd)` surface.
type ExistingSpec struct {
	name    string
	workdir string
	user    string
	extra   []string
	runtime string
}

// Container starts a fluent configuration targeting the running container
// named name.
func Container(name string) *ExistingSpec {
	return &ExistingSpec{name: name}
}

func (s *ExistingSpec) Workdir(dir string) *ExistingSpec  { s.workdir = dir; return s }
func (s *ExistingSpec) User(user string) *ExistingSpec    { s.user = user; return s }
func (s *ExistingSpec) Runtime(name string) *ExistingSpec { s.runtime = name; return s }

func (s *ExistingSpec) ExtraFlags(flags ...string) *ExistingSpec {
	s.extra = append(s.extra, flags...)
	return s
}

// Exec builds the Command that runs line against the existing container.
func (s *ExistingSpec) Exec(line string) command.Command {
	opts := map[string]any{
		OptMode: modeExisting,
		OptName: s.name,
	}
	if s.workdir != "" {
		opts[OptWorkdir] = s.workdir
	}
	if s.user != "" {
		opts[OptUser] = s.user
	}
	if len(s.extra) > 0 {
		opts[OptExtra] = s.extra
	}
	if s.runtime != "" {
		opts[OptRuntime] = s.runtime
	}
	return command.New(command.Container).
		WithShellLine(line).
		WithAdapterOptions(opts)
}
