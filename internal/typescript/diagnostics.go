package typescript

import (
	"bufio"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// duplicateIdentifier is the compiler code for "Duplicate identifier 'x'".
const duplicateIdentifier = "TS2300"

// Diagnostic is one error reported by the type checker.
type Diagnostic struct {
	File    string
	Line    int
	Column  int
	Code    string
	Message string
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("Line %d, Column %d: %s", d.Line, d.Column, d.Message)
}

var (
	diagnosticLine = regexp.MustCompile(`^(.+)\((\d+),(\d+)\): error (TS\d+): (.*)$`)
	duplicateName  = regexp.MustCompile(`Duplicate identifier '([^']+)'`)
)

// parseDiagnostics extracts error diagnostics from non-pretty tsc output.
// Continuation lines are folded into the previous message.
func parseDiagnostics(output string) []Diagnostic {
	var diags []Diagnostic
	sc := bufio.NewScanner(strings.NewReader(output))
	sc.Buffer(make([]byte, 64*1024), 1024*1024)

	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		m := diagnosticLine.FindStringSubmatch(line)
		if m == nil {
			if len(diags) > 0 && strings.HasPrefix(line, " ") && strings.TrimSpace(line) != "" {
				last := &diags[len(diags)-1]
				last.Message += "\n" + strings.TrimSpace(line)
			}
			continue
		}
		lineNo, _ := strconv.Atoi(m[2])
		col, _ := strconv.Atoi(m[3])
		diags = append(diags, Diagnostic{
			File:    m[1],
			Line:    lineNo,
			Column:  col,
			Code:    m[4],
			Message: m[5],
		})
	}
	return diags
}

// filterFalsePositives drops duplicate-identifier errors caused by checking a standalone
// snippet against the full ambient library: the name clashes with a library declaration,
// not with anything else in the source.
func filterFalsePositives(diags []Diagnostic, source string) []Diagnostic {
	kept := diags[:0:0]
	for _, d := range diags {
		if d.Code == duplicateIdentifier {
			if m := duplicateName.FindStringSubmatch(d.Message); m != nil && occurrences(source, m[1]) <= 1 {
				continue
			}
		}
		kept = append(kept, d)
	}
	return kept
}

var identifierToken = regexp.MustCompile(`[A-Za-z_$][A-Za-z0-9_$]*`)

// occurrences counts whole-identifier occurrences of ident in source.
func occurrences(source, ident string) int {
	count := 0
	for _, tok := range identifierToken.FindAllString(source, -1) {
		if tok == ident {
			count++
		}
	}
	return count
}

func formatDiagnostics(diags []Diagnostic) string {
	lines := make([]string, len(diags))
	for i, d := range diags {
		lines[i] = d.String()
	}
	return strings.Join(lines, "\n")
}
