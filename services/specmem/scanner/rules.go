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
	_ "embed"
	"fmt"
	"regexp"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed languages.yaml
var defaultLanguagesYAML []byte

// rawRuleSet mirrors languages.yaml's shape for unmarshaling.
type rawRuleSet struct {
	Languages []struct {
		Name       string   `yaml:"name"`
		Extensions []string `yaml:"extensions"`
		Rules      []struct {
			Kind    string `yaml:"kind"`
			Pattern string `yaml:"pattern"`
		} `yaml:"rules"`
	} `yaml:"languages"`
	IgnoredDirectories []string `yaml:"ignored_directories"`
	MaxDepth           int      `yaml:"max_depth"`
}

// compiledRule pairs a compiled regexp with the kind it produces.
type compiledRule struct {
	kind DefinitionKind
	re   *regexp.Regexp
}

// LanguageRules is the fully compiled, ready-to-use extraction rule
// table for one language.
type LanguageRules struct {
	Name  string
	Rules []compiledRule
}

// RuleTable is the complete compiled rule set loaded from languages.yaml.
type RuleTable struct {
	ByExtension map[string]*LanguageRules
	IgnoredDirs map[string]bool
	MaxDepth    int
}

var (
	ruleTableOnce sync.Once
	ruleTable     *RuleTable
	ruleTableErr  error
)

// DefaultRuleTable returns the compiled rule table embedded at build
// time, loading and compiling it once.
func DefaultRuleTable() (*RuleTable, error) {
	ruleTableOnce.Do(func() {
		ruleTable, ruleTableErr = LoadRuleTable(defaultLanguagesYAML)
	})
	return ruleTable, ruleTableErr
}

// LoadRuleTable parses and compiles a rule table from raw YAML, letting
// callers (and tests) supply an alternate table without touching the
// embedded default.
func LoadRuleTable(data []byte) (*RuleTable, error) {
	var raw rawRuleSet
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse language rule table: %w", err)
	}

	table := &RuleTable{
		ByExtension: make(map[string]*LanguageRules),
		IgnoredDirs: make(map[string]bool, len(raw.IgnoredDirectories)),
		MaxDepth:    raw.MaxDepth,
	}
	if table.MaxDepth <= 0 {
		table.MaxDepth = 15
	}
	for _, d := range raw.IgnoredDirectories {
		table.IgnoredDirs[d] = true
	}

	for _, lang := range raw.Languages {
		lr := &LanguageRules{Name: lang.Name}
		for _, r := range lang.Rules {
			re, err := regexp.Compile(r.Pattern)
			if err != nil {
				return nil, fmt.Errorf("language %s: compile rule %q: %w", lang.Name, r.Pattern, err)
			}
			lr.Rules = append(lr.Rules, compiledRule{kind: DefinitionKind(r.Kind), re: re})
		}
		for _, ext := range lang.Extensions {
			table.ByExtension[ext] = lr
		}
	}

	return table, nil
}
