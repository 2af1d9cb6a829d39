// Package pipelinefile loads pipeline definitions from YAML or TOML files and
// turns them into runner pipelines.
package pipelinefile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"procwire/core/stdio"
	"procwire/runner"
)

// Stage is one command of a definition. Stdio fields use the stdio.Parse
// forms; empty means unset.
type Stage struct {
	Argv        []string          `yaml:"argv" toml:"argv"`
	Dir         string            `yaml:"dir" toml:"dir"`
	Env         map[string]string `yaml:"env" toml:"env"`
	Unset       []string          `yaml:"unset" toml:"unset"`
	EnvClear    bool              `yaml:"env_clear" toml:"env_clear"`
	Stdin       string            `yaml:"stdin" toml:"stdin"`
	Stdout      string            `yaml:"stdout" toml:"stdout"`
	Stderr      string            `yaml:"stderr" toml:"stderr"`
	MergeStderr bool              `yaml:"merge_stderr" toml:"merge_stderr"`
}

// Definition is a whole pipeline file.
type Definition struct {
	Pipefail        bool    `yaml:"pipefail" toml:"pipefail"`
	NewProcessGroup bool    `yaml:"new_process_group" toml:"new_process_group"`
	Stdin           string  `yaml:"stdin" toml:"stdin"`
	Stdout          string  `yaml:"stdout" toml:"stdout"`
	Stderr          string  `yaml:"stderr" toml:"stderr"`
	Timeout         string  `yaml:"timeout" toml:"timeout"`
	KillGrace       string  `yaml:"kill_grace" toml:"kill_grace"`
	Stages          []Stage `yaml:"stages" toml:"stages"`
}

// Format names a file syntax.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatFor picks the syntax from a file extension.
func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	}
	return "", fmt.Errorf("pipelinefile: unsupported extension %q", filepath.Ext(path))
}

// Load reads and validates the definition at path.
func Load(path string) (Definition, error) {
	format, err := FormatFor(path)
	if err != nil {
		return Definition{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, fmt.Errorf("pipelinefile: %w", err)
	}
	def, err := Parse(data, format)
	if err != nil {
		return Definition{}, fmt.Errorf("pipelinefile: parsing %s: %w", path, err)
	}
	return def, nil
}

// Parse decodes and validates data.
func Parse(data []byte, format Format) (Definition, error) {
	var def Definition
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &def); err != nil {
			return Definition{}, err
		}
	case FormatTOML:
		if err := toml.Unmarshal(data, &def); err != nil {
			return Definition{}, err
		}
	default:
		return Definition{}, fmt.Errorf("unknown format %q", format)
	}
	if err := def.Validate(); err != nil {
		return Definition{}, err
	}
	return def, nil
}

// Validate checks everything Build would reject, reporting every problem.
func (d Definition) Validate() error {
	var errs []error
	if len(d.Stages) == 0 {
		errs = append(errs, errors.New("no stages"))
	}
	for _, field := range []struct{ name, value string }{
		{"stdin", d.Stdin}, {"stdout", d.Stdout}, {"stderr", d.Stderr},
	} {
		if _, err := stdio.Parse(field.value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field.name, err))
		}
	}
	if _, _, err := d.WaitOptions(); err != nil {
		errs = append(errs, err)
	}
	for i, s := range d.Stages {
		if len(s.Argv) == 0 || s.Argv[0] == "" {
			errs = append(errs, fmt.Errorf("stage %d: empty argv", i))
		}
		for _, field := range []struct{ name, value string }{
			{"stdin", s.Stdin}, {"stdout", s.Stdout}, {"stderr", s.Stderr},
		} {
			if _, err := stdio.Parse(field.value); err != nil {
				errs = append(errs, fmt.Errorf("stage %d %s: %w", i, field.name, err))
			}
		}
	}
	return errors.Join(errs...)
}

// WaitOptions returns the parsed timeout and kill grace. ok is false when no
// timeout is set.
func (d Definition) WaitOptions() (runner.WaitOptions, bool, error) {
	var opts runner.WaitOptions
	var err error
	if d.Timeout != "" {
		if opts.Timeout, err = time.ParseDuration(d.Timeout); err != nil {
			return opts, false, fmt.Errorf("timeout: %w", err)
		}
	}
	if d.KillGrace != "" {
		if opts.KillGrace, err = time.ParseDuration(d.KillGrace); err != nil {
			return opts, false, fmt.Errorf("kill_grace: %w", err)
		}
	}
	return opts, opts.Timeout > 0, nil
}

// Build turns the definition into a pipeline. Stdio fields left empty keep
// the runner defaults.
func (d Definition) Build() (*runner.Pipeline, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	p := runner.NewPipeline().Pipefail(d.Pipefail).NewProcessGroup(d.NewProcessGroup)
	for _, s := range d.Stages {
		cmd, err := s.command()
		if err != nil {
			return nil, err
		}
		p.Then(cmd)
	}
	if err := setStdio(d.Stdin, func(v stdio.Stdio) { p.Stdin(v) }); err != nil {
		return nil, err
	}
	if err := setStdio(d.Stdout, func(v stdio.Stdio) { p.Stdout(v) }); err != nil {
		return nil, err
	}
	if err := setStdio(d.Stderr, func(v stdio.Stdio) { p.Stderr(v) }); err != nil {
		return nil, err
	}
	return p, nil
}

func (s Stage) command() (*runner.Command, error) {
	cmd := runner.NewCommand(s.Argv[0]).Args(s.Argv[1:]...)
	if s.Dir != "" {
		cmd.Dir(s.Dir)
	}
	if s.EnvClear {
		cmd.EnvClear()
	}
	keys := make([]string, 0, len(s.Env))
	for k := range s.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		cmd.Env(k, s.Env[k])
	}
	for _, k := range s.Unset {
		cmd.EnvRemove(k)
	}
	cmd.Options(runner.SpawnOptions{MergeStderrIntoStdout: s.MergeStderr})
	for _, f := range []struct {
		value string
		set   func(stdio.Stdio)
	}{
		{s.Stdin, func(v stdio.Stdio) { cmd.Stdin(v) }},
		{s.Stdout, func(v stdio.Stdio) { cmd.Stdout(v) }},
		{s.Stderr, func(v stdio.Stdio) { cmd.Stderr(v) }},
	} {
		if err := setStdio(f.value, f.set); err != nil {
			return nil, err
		}
	}
	return cmd, nil
}

func setStdio(value string, set func(stdio.Stdio)) error {
	if value == "" {
		return nil
	}
	v, err := stdio.Parse(value)
	if err != nil {
		return err
	}
	set(v)
	return nil
}
