package runtime

import (
	"slices"

	"tutorexec/internal/domain/execution"
)

// Profile describes how to build and run programs written in one language.
// Profiles are immutable once registered.
type Profile struct {
	Language       execution.Language
	SourceFilename string
	// Compile is nil for interpreted languages.
	Compile []string
	Run     []string
	// Transform rewrites the submitted source before it is materialized.
	Transform func(source string) string
}

// Compiled reports whether the profile has a separate build step.
func (p Profile) Compiled() bool {
	return len(p.Compile) > 0
}

// PrepareSource applies the profile's source transform, if any.
func (p Profile) PrepareSource(source string) string {
	if p.Transform == nil {
		return source
	}
	return p.Transform(source)
}

func (p Profile) clone() Profile {
	p.Compile = slices.Clone(p.Compile)
	p.Run = slices.Clone(p.Run)
	return p
}

// DefaultProfiles returns the built-in profiles for c, cpp, java and python.
func DefaultProfiles() []Profile {
	return []Profile{
		{
			Language:       execution.LanguageC,
			SourceFilename: "main.c",
			Compile:        []string{"gcc", "main.c", "-o", "a.out"},
			Run:            []string{"./a.out"},
		},
		{
			Language:       execution.LanguageCPP,
			SourceFilename: "main.cpp",
			Compile:        []string{"g++", "main.cpp", "-o", "a.out"},
			Run:            []string{"./a.out"},
		},
		{
			Language:       execution.LanguageJava,
			SourceFilename: "Main.java",
			Compile:        []string{"javac", "Main.java"},
			Run:            []string{"java", "-cp", ".", "Main"},
			Transform:      WrapJavaSnippet,
		},
		{
			Language:       execution.LanguagePython,
			SourceFilename: "main.py",
			// -u keeps stdout unbuffered so interactive output arrives line by line.
			Run: []string{"python3", "-u", "main.py"},
		},
	}
}
