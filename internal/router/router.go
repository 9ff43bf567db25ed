// Package router dispatches source code to the runner of its language.
package router

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dontdude/codebox/internal/domain"
)

var (
	// ErrUnsupportedLanguage is returned for languages outside the supported set.
	ErrUnsupportedLanguage = errors.New("unsupported language")

	// ErrNotImplemented is returned for supported languages that have no runner wired.
	ErrNotImplemented = errors.New("compiler not implemented")
)

// Supported lists the canonical language names, in the order they are reported.
var Supported = []string{"javascript", "typescript", "python", "c", "go"}

// Aliases maps alternative spellings onto canonical names.
var Aliases = map[string]string{
	"js":     "javascript",
	"ts":     "typescript",
	"py":     "python",
	"golang": "go",
}

// Router resolves language names and dispatches to runners.
type Router struct {
	runners map[string]domain.Runner
}

// New returns a router over runners, keyed by canonical language name.
func New(runners map[string]domain.Runner) *Router {
	wired := make(map[string]domain.Runner, len(runners))
	for lang, r := range runners {
		if r != nil {
			wired[lang] = r
		}
	}
	return &Router{runners: wired}
}

// Normalize lowercases and trims a language name and resolves aliases.
// It does not check membership in the supported set.
func Normalize(language string) string {
	lang := strings.ToLower(strings.TrimSpace(language))
	if canonical, ok := Aliases[lang]; ok {
		return canonical
	}
	return lang
}

// Resolve returns the canonical name of language, or ErrUnsupportedLanguage.
func (r *Router) Resolve(language string) (string, error) {
	lang := Normalize(language)
	for _, s := range Supported {
		if s == lang {
			return lang, nil
		}
	}
	return "", fmt.Errorf("%w: '%s'. Supported languages: %s",
		ErrUnsupportedLanguage, language, strings.Join(Supported, ", "))
}

// Route runs code with the runner for language.
// Errors are reserved for requests that never reach a runner; execution failures come back
// inside the result.
func (r *Router) Route(ctx context.Context, language, code string) (domain.CompilationResult, error) {
	lang, err := r.Resolve(language)
	if err != nil {
		return domain.CompilationResult{}, err
	}

	runner, ok := r.runners[lang]
	if !ok {
		return domain.CompilationResult{}, fmt.Errorf("%w for '%s'", ErrNotImplemented, language)
	}
	return runner.Run(ctx, code), nil
}

// Wired lists the canonical languages that have a runner.
func (r *Router) Wired() []string {
	var langs []string
	for _, s := range Supported {
		if _, ok := r.runners[s]; ok {
			langs = append(langs, s)
		}
	}
	return langs
}
