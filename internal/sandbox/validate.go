package sandbox

import (
	"fmt"
	"go/parser"
	"go/token"
	"sort"
	"strconv"
	"strings"

	"deanalyse/domain/core"
)

// wrapCode prefixes a package clause when the snippet has none
func wrapCode(code string) string {
	if strings.HasPrefix(strings.TrimSpace(stripLeadingComments(code)), "package ") {
		return code
	}
	return "package main\n\n" + code
}

func stripLeadingComments(code string) string {
	for {
		code = strings.TrimSpace(code)
		switch {
		case strings.HasPrefix(code, "//"):
			nl := strings.IndexByte(code, '\n')
			if nl < 0 {
				return ""
			}
			code = code[nl+1:]
		case strings.HasPrefix(code, "/*"):
			end := strings.Index(code, "*/")
			if end < 0 {
				return ""
			}
			code = code[end+2:]
		default:
			return code
		}
	}
}

// validateImports parses only the import section and rejects anything
// outside AllowedImports, and any package clause other than main.
func validateImports(src string) error {
	file, err := parser.ParseFile(token.NewFileSet(), "analysis.go", src, parser.ImportsOnly)
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	if file.Name.Name != "main" {
		return fmt.Errorf("%w: package must be main, got %s", core.ErrForbiddenCode, file.Name.Name)
	}

	var forbidden []string
	for _, imp := range file.Imports {
		pkg, err := strconv.Unquote(imp.Path.Value)
		if err != nil {
			return fmt.Errorf("parse import %s: %w", imp.Path.Value, err)
		}
		if !AllowedImports[pkg] {
			forbidden = append(forbidden, pkg)
		}
	}
	if len(forbidden) > 0 {
		return fmt.Errorf("%w: forbidden imports %v (allowed: %s)", core.ErrForbiddenCode, forbidden, allowedList())
	}
	return nil
}

func allowedList() string {
	pkgs := make([]string, 0, len(AllowedImports))
	for pkg := range AllowedImports {
		pkgs = append(pkgs, pkg)
	}
	sort.Strings(pkgs)
	return strings.Join(pkgs, ", ")
}
