package schema

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadFile reads and structurally decodes an atscript/v0 YAML file.
// Returns a structural error if the YAML contains unknown fields.
func LoadFile(path string) (*Script, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open script: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load reads an atscript/v0 script from a reader.
func Load(r io.Reader) (*Script, error) {
	var sc Script
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true) // strict: reject unknown fields
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("structural decode: %w", err)
	}
	return &sc, nil
}

// Program is a script compiled for execution.
type Program struct {
	Name           string
	Commands       []*Command
	Setups         []Setup
	Device         Device
	AbortOnFailure bool
	Secrets        []string
}

// Compile turns a decoded script into commands and setup keywords.
// Each setup keyword is attached to the position of the command that
// follows it.
func Compile(sc *Script) (*Program, error) {
	prog := &Program{
		Name:           sc.Meta.Name,
		AbortOnFailure: true,
		Secrets:        append([]string(nil), sc.Secrets...),
	}
	if sc.Device != nil {
		prog.Device = *sc.Device
	}
	if sc.AbortOnFailure != nil {
		prog.AbortOnFailure = *sc.AbortOnFailure
	}

	for i := range sc.Steps {
		step := &sc.Steps[i]
		kws := step.Keywords()
		isCmd := step.IsCommand()

		switch {
		case isCmd && len(kws) > 0:
			return nil, fmt.Errorf("steps[%d]: command step cannot also set %s", i, joinKeywords(kws))
		case isCmd:
			cmd, err := compileCommand(step)
			if err != nil {
				return nil, fmt.Errorf("steps[%d]: %w", i, err)
			}
			prog.Commands = append(prog.Commands, cmd)
		case len(kws) == 1:
			prog.Setups = append(prog.Setups, compileSetup(step, kws[0], len(prog.Commands))...)
		case len(kws) > 1:
			return nil, fmt.Errorf("steps[%d]: one setup keyword per step, got %s", i, joinKeywords(kws))
		default:
			return nil, fmt.Errorf("steps[%d]: empty step", i)
		}
	}
	return prog, nil
}

func compileCommand(step *Step) (*Command, error) {
	if step.Command == "" {
		return nil, fmt.Errorf("command is required")
	}
	if step.Expect == "" {
		return nil, fmt.Errorf("expect is required")
	}
	cmd := &Command{
		Text:       step.Command,
		Expected:   step.Expect,
		Timeout:    step.Timeout.Std(),
		Delay:      step.Delay.Std(),
		Extractors: append([]string(nil), step.Collect...),
	}
	if alt := step.Alternate; alt != nil {
		if alt.Command == "" || alt.Expect == "" {
			return nil, fmt.Errorf("alternate needs command and expect")
		}
		cmd.Alternate = &Command{
			Text:       alt.Command,
			Expected:   alt.Expect,
			Timeout:    alt.Timeout.Std(),
			Delay:      alt.Delay.Std(),
			Extractors: append([]string(nil), alt.Collect...),
		}
	}
	return cmd, nil
}

func compileSetup(step *Step, kw Keyword, before int) []Setup {
	base := Setup{Keyword: kw, StepID: step.ID, Before: before}
	switch kw {
	case KeywordSet:
		names := make([]string, 0, len(step.Set))
		for name := range step.Set {
			names = append(names, name)
		}
		sort.Strings(names)
		out := make([]Setup, 0, len(names))
		for _, name := range names {
			s := base
			s.Name = name
			s.Value = step.Set[name]
			out = append(out, s)
		}
		return out
	case KeywordGetenv:
		base.Value = step.Getenv
	case KeywordPrint:
		base.Value = step.Print
	case KeywordExec:
		base.Value = step.Exec
	case KeywordAssert:
		base.Value = step.Assert
	case KeywordDevice:
		base.Value = step.Port
	case KeywordBaudRate:
		base.Value = step.BaudRate
	case KeywordTimeout:
		base.Value = time.Duration(step.DefaultTimeout)
	case KeywordBreak:
		base.Value = step.LineBreak
	case KeywordAbortOnFailure:
		base.Value = *step.AbortOnFailure
	}
	return []Setup{base}
}

func joinKeywords(kws []Keyword) string {
	parts := make([]string, len(kws))
	for i, k := range kws {
		parts[i] = string(k)
	}
	return strings.Join(parts, ", ")
}
