package core

import (
	"fmt"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// CommandVerbs returns the name of every command a shell line would run, in
// source order. Commands inside substitutions, background jobs, subshells and
// function bodies are included. A command name that is not a plain word is
// returned as written, so it never matches an allow-list entry.
func CommandVerbs(line string) ([]string, error) {
	f, err := syntax.NewParser().Parse(strings.NewReader(line), "")
	if err != nil {
		return nil, fmt.Errorf("parse command line: %w", err)
	}
	var verbs []string
	syntax.Walk(f, func(node syntax.Node) bool {
		switch n := node.(type) {
		case *syntax.CallExpr:
			if len(n.Args) > 0 {
				verbs = append(verbs, wordText(n.Args[0]))
			}
		case *syntax.DeclClause:
			verbs = append(verbs, n.Variant.Value)
		case *syntax.LetClause:
			verbs = append(verbs, "let")
		}
		return true
	})
	return verbs, nil
}

func wordText(w *syntax.Word) string {
	if lit := w.Lit(); lit != "" {
		return lit
	}
	var sb strings.Builder
	if err := syntax.NewPrinter().Print(&sb, w); err != nil {
		return "?"
	}
	return sb.String()
}
