// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scanner

import (
	"log/slog"
	"strings"
	"unicode"
)

// controlFlowNames are rejected as definition names even when a rule's
// regex happens to match them (e.g. a macro-like construct named "if").
var controlFlowNames = map[string]bool{
	"if": true, "for": true, "while": true, "switch": true, "else": true,
	"return": true, "break": true, "continue": true, "do": true,
	"catch": true, "try": true, "case": true, "default": true,
}

// Extract runs the language's compiled rules over content line by line,
// producing CodeDefinition records for relPath.
//
// Description:
//
//	Exactly one definition is emitted per matching region: once a line
//	matches a rule, scanning for that region stops at the first match
//	(rules are tried in declared order) and resumes on the next line.
//	End lines are approximated by an indentation/brace scan capped at
//	maxEndLineLookahead lines past the start. After maxDefinitionsPerFile
//	definitions, remaining matches are dropped and a warning is logged.
func Extract(relPath, language, content string, table *RuleTable, logger *slog.Logger) []CodeDefinition {
	if logger == nil {
		logger = slog.Default()
	}

	lr := languageRulesFor(language, table)
	if lr == nil || len(lr.Rules) == 0 {
		return nil
	}

	lines := strings.Split(content, "\n")
	var defs []CodeDefinition
	truncated := false

	for i, line := range lines {
		if len(defs) >= maxDefinitionsPerFile {
			truncated = true
			break
		}

		for _, rule := range lr.Rules {
			m := rule.re.FindStringSubmatch(line)
			if m == nil || len(m) < 2 {
				continue
			}
			name := m[1]
			if !validName(name) {
				continue
			}

			startLine := i + 1
			endLine := approximateEndLine(lines, i)

			defs = append(defs, CodeDefinition{
				FilePath:  relPath,
				Name:      name,
				Kind:      rule.kind,
				StartLine: startLine,
				EndLine:   endLine,
				Signature: strings.TrimSpace(line),
				Exported:  isExported(language, name),
			})
			break // one definition per region
		}
	}

	if truncated {
		logger.Warn("scanner: definition count truncated",
			slog.String("file", relPath), slog.Int("limit", maxDefinitionsPerFile))
	}

	return defs
}

func languageRulesFor(language string, table *RuleTable) *LanguageRules {
	for _, lr := range table.ByExtension {
		if lr.Name == language {
			return lr
		}
	}
	return nil
}

func validName(name string) bool {
	if len(name) < minNameLength || len(name) > maxNameLength {
		return false
	}
	if controlFlowNames[name] {
		return false
	}
	return true
}

// approximateEndLine scans forward from a definition's start line for a
// point where indentation returns to (or below) the start line's level,
// or a lone closing brace at column zero, capped at maxEndLineLookahead.
func approximateEndLine(lines []string, startIdx int) int {
	baseIndent := indentOf(lines[startIdx])
	limit := startIdx + maxEndLineLookahead
	if limit >= len(lines) {
		limit = len(lines) - 1
	}

	for i := startIdx + 1; i <= limit; i++ {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed == "}" && indentOf(lines[i]) <= baseIndent {
			return i + 1
		}
		if trimmed != "" && indentOf(lines[i]) <= baseIndent && i > startIdx+1 {
			return i
		}
	}
	return limit + 1
}

func indentOf(line string) int {
	n := 0
	for _, r := range line {
		if r == ' ' {
			n++
		} else if r == '\t' {
			n += 4
		} else {
			break
		}
	}
	return n
}

// isExported approximates visibility: Go's leading-capital convention
// for Go, and absence of a leading underscore for everything else
// (languages that express visibility via keywords already captured that
// in the regex, not in the name).
func isExported(language, name string) bool {
	if name == "" {
		return false
	}
	if language == "go" {
		return unicode.IsUpper(rune(name[0]))
	}
	return !strings.HasPrefix(name, "_")
}
