package runtime

import (
	"fmt"

	"github.com/google/shlex"

	"tutorexec/internal/domain/execution"
)

// CommandOverride replaces a profile's commands with shell-style strings, e.g.
// "gcc -O2 -std=c11 main.c -o a.out". Empty fields keep the default.
type CommandOverride struct {
	Compile string `yaml:"compile"`
	Run     string `yaml:"run"`
}

// ApplyOverrides returns copies of profiles with the overrides applied. The
// strings are tokenized with shell quoting rules but never passed to a shell.
func ApplyOverrides(profiles []Profile, overrides map[execution.Language]CommandOverride) ([]Profile, error) {
	out := make([]Profile, 0, len(profiles))
	for _, profile := range profiles {
		profile = profile.clone()
		override, ok := overrides[profile.Language]
		if ok {
			if override.Compile != "" {
				argv, err := splitCommand(override.Compile)
				if err != nil {
					return nil, fmt.Errorf("%s compile override: %w", profile.Language, err)
				}
				profile.Compile = argv
			}
			if override.Run != "" {
				argv, err := splitCommand(override.Run)
				if err != nil {
					return nil, fmt.Errorf("%s run override: %w", profile.Language, err)
				}
				profile.Run = argv
			}
		}
		out = append(out, profile)
	}
	return out, nil
}

func splitCommand(raw string) ([]string, error) {
	argv, err := shlex.Split(raw)
	if err != nil {
		return nil, fmt.Errorf("split %q: %w", raw, err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	return argv, nil
}
