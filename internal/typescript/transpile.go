package typescript

import (
	"errors"

	"github.com/evanw/esbuild/pkg/api"
)

// Transpiler turns type-checked TypeScript into JavaScript.
type Transpiler interface {
	Transpile(code string) (string, error)
}

// Esbuild strips types with esbuild's transform API.
type Esbuild struct{}

func (Esbuild) Transpile(code string) (string, error) {
	result := api.Transform(code, api.TransformOptions{
		Loader:     api.LoaderTS,
		Target:     api.ES2020,
		Sourcefile: "main.ts",
	})
	if len(result.Errors) > 0 {
		diags := make([]Diagnostic, 0, len(result.Errors))
		for _, m := range result.Errors {
			d := Diagnostic{File: "main.ts", Message: m.Text}
			if m.Location != nil {
				d.Line = m.Location.Line
				d.Column = m.Location.Column + 1
			}
			diags = append(diags, d)
		}
		return "", errors.New(formatDiagnostics(diags))
	}
	return string(result.Code), nil
}
