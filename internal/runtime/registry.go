package runtime

import (
	"fmt"
	"sync"

	"tutorexec/internal/domain/execution"
)

// Registry resolves language identifiers to their profiles.
type Registry struct {
	mu       sync.RWMutex
	profiles map[execution.Language]Profile
}

// NewRegistry constructs a registry from the supplied profiles.
func NewRegistry(profiles ...Profile) (*Registry, error) {
	reg := &Registry{
		profiles: make(map[execution.Language]Profile, len(profiles)),
	}

	for _, profile := range profiles {
		if profile.Language == "" {
			return nil, fmt.Errorf("runtime profile missing language identifier")
		}
		if profile.SourceFilename == "" {
			return nil, fmt.Errorf("runtime profile for %q missing source filename", profile.Language)
		}
		if len(profile.Run) == 0 {
			return nil, fmt.Errorf("runtime profile for %q missing run command", profile.Language)
		}
		if _, exists := reg.profiles[profile.Language]; exists {
			return nil, fmt.Errorf("duplicate runtime profile for language %q", profile.Language)
		}

		reg.profiles[profile.Language] = profile.clone()
	}

	if len(reg.profiles) == 0 {
		return nil, fmt.Errorf("at least one runtime profile must be registered")
	}

	return reg, nil
}

// DefaultRegistry builds a registry over DefaultProfiles.
func DefaultRegistry() *Registry {
	reg, err := NewRegistry(DefaultProfiles()...)
	if err != nil {
		panic(fmt.Sprintf("runtime: invalid default profiles: %v", err))
	}
	return reg
}

// Resolve normalizes id and returns the matching profile, or an error
// wrapping execution.ErrUnsupportedLanguage.
func (r *Registry) Resolve(id string) (Profile, error) {
	lang, err := execution.ParseLanguage(id)
	if err != nil {
		return Profile{}, err
	}

	r.mu.RLock()
	profile, ok := r.profiles[lang]
	r.mu.RUnlock()
	if !ok {
		return Profile{}, fmt.Errorf("%w: no profile registered for %q", execution.ErrUnsupportedLanguage, lang)
	}
	return profile.clone(), nil
}

// Languages lists the registered languages.
func (r *Registry) Languages() []execution.Language {
	r.mu.RLock()
	defer r.mu.RUnlock()

	langs := make([]execution.Language, 0, len(r.profiles))
	for _, lang := range execution.Languages() {
		if _, ok := r.profiles[lang]; ok {
			langs = append(langs, lang)
		}
	}
	return langs
}
