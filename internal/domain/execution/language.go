package execution

import (
	"fmt"
	"strings"
)

// Language identifies the programming language of a submission.
type Language string

const (
	LanguageC      Language = "c"
	LanguageCPP    Language = "cpp"
	LanguageJava   Language = "java"
	LanguagePython Language = "python"
)

var languageAliases = map[string]Language{
	"c":       LanguageC,
	"cpp":     LanguageCPP,
	"c++":     LanguageCPP,
	"java":    LanguageJava,
	"python":  LanguagePython,
	"python3": LanguagePython,
	"py":      LanguagePython,
}

// ParseLanguage normalizes a caller supplied identifier (trimmed, case-folded)
// and maps it onto a supported Language.
func ParseLanguage(raw string) (Language, error) {
	key := strings.ToLower(strings.TrimSpace(raw))
	lang, ok := languageAliases[key]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedLanguage, raw)
	}
	return lang, nil
}

// Languages lists every supported language in a stable order.
func Languages() []Language {
	return []Language{LanguageC, LanguageCPP, LanguageJava, LanguagePython}
}
