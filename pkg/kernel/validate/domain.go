package validate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ormasoftchile/atrun/pkg/kernel/eval"
	"github.com/ormasoftchile/atrun/pkg/kernel/pattern"
	"github.com/ormasoftchile/atrun/pkg/kernel/schema"
)

// validateDomain runs atscript/v0 domain-level validation rules.
func validateDomain(sc *schema.Script) []*ValidationError {
	var errs []*ValidationError

	// D1: apiVersion must be atscript/v0
	if sc.APIVersion != schema.APIVersionScript {
		errs = append(errs, errorf("domain", "apiVersion", "expected %q, got %q", schema.APIVersionScript, sc.APIVersion))
	}
	if strings.TrimSpace(sc.Meta.Name) == "" {
		errs = append(errs, errorf("domain", "meta.name", "meta.name is required"))
	}

	// D2: device settings
	if d := sc.Device; d != nil {
		if d.BaudRate < 0 {
			errs = append(errs, errorf("domain", "device.baud_rate", "baud rate must be positive, got %d", d.BaudRate))
		}
		if d.Timeout < 0 {
			errs = append(errs, errorf("domain", "device.timeout", "timeout must not be negative"))
		}
	}

	// D3: step shape: a command, or exactly one setup keyword
	commands := 0
	for i := range sc.Steps {
		errs = append(errs, validateStepShape(&sc.Steps[i], stepPath(i))...)
		if sc.Steps[i].IsCommand() {
			commands++
		}
	}
	if commands == 0 {
		errs = append(errs, warningf("domain", "steps", "script sends no commands"))
	}

	// D4: step ID uniqueness
	ids := map[string]string{} // id → path
	for i, s := range sc.Steps {
		if s.ID == "" {
			continue
		}
		path := stepPath(i)
		if prev, ok := ids[s.ID]; ok {
			errs = append(errs, errorf("domain", path+".id", "duplicate step ID %q (first at %s)", s.ID, prev))
		} else {
			ids[s.ID] = path
		}
	}

	// D5: per-step fields
	for i := range sc.Steps {
		s := &sc.Steps[i]
		path := stepPath(i)
		if s.IsCommand() {
			errs = append(errs, validateCommand(s.Command, s.Expect, s.Collect, s.Timeout, s.Delay, path)...)
			if alt := s.Alternate; alt != nil {
				errs = append(errs, validateCommand(alt.Command, alt.Expect, alt.Collect, alt.Timeout, alt.Delay, path+".alternate")...)
			}
			continue
		}
		errs = append(errs, validateSetup(s, path)...)
	}

	// D6: secrets must be value names
	for i, name := range sc.Secrets {
		if !pattern.ValidName(name) {
			errs = append(errs, errorf("domain", fmt.Sprintf("secrets[%d]", i), "invalid value name %q", name))
		}
	}

	// D7: references to names nothing sets before use
	errs = append(errs, validateReferences(sc)...)

	return errs
}

func validateStepShape(s *schema.Step, path string) []*ValidationError {
	kws := s.Keywords()
	switch {
	case s.IsCommand() && len(kws) > 0:
		return []*ValidationError{errorf("domain", path, "command step cannot also set %s", joinKeywords(kws))}
	case !s.IsCommand() && len(kws) > 1:
		return []*ValidationError{errorf("domain", path, "one setup keyword per step, got %s", joinKeywords(kws))}
	case !s.IsCommand() && len(kws) == 0:
		return []*ValidationError{errorf("domain", path, "step has neither a command nor a setup keyword")}
	}
	return nil
}

func validateCommand(text, expect string, collect []string, timeout, delay schema.Duration, path string) []*ValidationError {
	var errs []*ValidationError
	if text == "" {
		errs = append(errs, errorf("domain", path+".command", "command step requires 'command' field"))
	}
	if expect == "" {
		errs = append(errs, errorf("domain", path+".expect", "command step requires 'expect' field"))
	} else if _, err := regexp.Compile(schema.AnchorExpected(expect)); err != nil {
		errs = append(errs, errorf("domain", path+".expect", "invalid expected pattern: %v", err))
	}
	if timeout < 0 {
		errs = append(errs, errorf("domain", path+".timeout", "timeout must not be negative"))
	}
	if delay < 0 {
		errs = append(errs, errorf("domain", path+".delay", "delay must not be negative"))
	}

	seen := map[string]bool{}
	for j, tmpl := range collect {
		cpath := fmt.Sprintf("%s.collect[%d]", path, j)
		if err := pattern.Check(tmpl); err != nil {
			errs = append(errs, errorf("domain", cpath, "%v", err))
			continue
		}
		for _, name := range pattern.Captures(tmpl) {
			if seen[name] {
				errs = append(errs, warningf("domain", cpath, "%q is captured by an earlier extractor of the same command", name))
			}
			seen[name] = true
		}
	}
	return errs
}

func validateSetup(s *schema.Step, path string) []*ValidationError {
	var errs []*ValidationError
	switch {
	case len(s.Set) > 0:
		for name := range s.Set {
			if !pattern.ValidName(name) {
				errs = append(errs, errorf("domain", path+".set", "invalid value name %q", name))
			}
		}
	case s.Getenv != "":
		if !pattern.ValidName(s.Getenv) {
			errs = append(errs, errorf("domain", path+".getenv", "invalid value name %q", s.Getenv))
		}
	case s.Assert != "":
		if err := eval.Check(s.Assert); err != nil {
			errs = append(errs, errorf("domain", path+".assert", "%v", err))
		}
	case s.BaudRate != 0:
		if s.BaudRate < 0 {
			errs = append(errs, errorf("domain", path+".baud_rate", "baud rate must be positive, got %d", s.BaudRate))
		}
	case s.DefaultTimeout != 0:
		if s.DefaultTimeout < 0 {
			errs = append(errs, errorf("domain", path+".default_timeout", "timeout must be positive"))
		}
	}
	return errs
}

// validateReferences warns about ${name} tokens whose name no earlier step
// sets. Values passed at run time may still provide them.
func validateReferences(sc *schema.Script) []*ValidationError {
	var errs []*ValidationError
	known := map[string]bool{}
	check := func(tmpl, path string) {
		for _, name := range pattern.References(tmpl) {
			if !known[name] {
				errs = append(errs, warningf("domain", path, "${%s} is not set by any earlier step", name))
			}
		}
	}

	for i, s := range sc.Steps {
		path := stepPath(i)
		switch {
		case s.IsCommand():
			check(s.Command, path+".command")
			for j, c := range s.Collect {
				check(c, fmt.Sprintf("%s.collect[%d]", path, j))
			}
			if alt := s.Alternate; alt != nil {
				// The alternate runs after the command's captures are stored.
				for _, c := range s.Collect {
					markCaptures(known, c)
				}
				check(alt.Command, path+".alternate.command")
				for j, c := range alt.Collect {
					check(c, fmt.Sprintf("%s.alternate.collect[%d]", path, j))
					markCaptures(known, c)
				}
			}
			for _, c := range s.Collect {
				markCaptures(known, c)
			}
		case s.Set != nil:
			for name := range s.Set {
				known[name] = true
			}
		case s.Getenv != "":
			known[s.Getenv] = true
		case s.Print != "":
			check(s.Print, path+".print")
		case s.Exec != "":
			check(s.Exec, path+".exec")
		}
	}

	for i, name := range sc.Secrets {
		if !known[name] {
			errs = append(errs, warningf("domain", fmt.Sprintf("secrets[%d]", i), "secret %q is not set by any step", name))
		}
	}
	return errs
}

func markCaptures(known map[string]bool, tmpl string) {
	for _, name := range pattern.Captures(tmpl) {
		known[name] = true
	}
}

func stepPath(i int) string {
	return fmt.Sprintf("steps[%d]", i)
}

func joinKeywords(kws []schema.Keyword) string {
	parts := make([]string, len(kws))
	for i, k := range kws {
		parts[i] = string(k)
	}
	return strings.Join(parts, ", ")
}
