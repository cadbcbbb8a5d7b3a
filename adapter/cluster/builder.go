package cluster

import "github.com/aledsdavies/xrun/command"

// ExecSpec fluently configures a cluster exec dispatch against a pod
// (resolved by literal name or, if Pod is empty, by Selector).
type ExecSpec struct {
	pod       string
	selector  string
	namespace string
	container string
	binary    string
	extra     []string
}

// Pod targets a literal pod name.
func Pod(name string) *ExecSpec {
	return &ExecSpec{pod: name}
}

// Selector targets the first pod matching a label selector.
func Selector(labelSelector string) *ExecSpec {
	return &ExecSpec{selector: labelSelector}
}

func (s *ExecSpec) Namespace(ns string) *ExecSpec     { s.namespace = ns; return s }
func (s *ExecSpec) Container(name string) *ExecSpec   { s.container = name; return s }
func (s *ExecSpec) Binary(path string) *ExecSpec      { s.binary = path; return s }
func (s *ExecSpec) ExtraFlags(f ...string) *ExecSpec  { s.extra = append(s.extra, f...); return s }

// Exec builds the Command that runs line against the resolved pod.
func (s *ExecSpec) Exec(line string) command.Command {
	opts := map[string]any{}
	if s.pod != "" {
		opts[OptPod] = s.pod
	}
	if s.selector != "" {
		opts[OptSelector] = s.selector
	}
	if s.namespace != "" {
		opts[OptNamespace] = s.namespace
	}
	if s.container != "" {
		opts[OptContainer] = s.container
	}
	if s.binary != "" {
		opts[OptBinary] = s.binary
	}
	if len(s.extra) > 0 {
		opts[OptExtra] = s.extra
	}
	return command.New(command.Cluster).
		WithShellLine(line).
		WithAdapterOptions(opts)
}
