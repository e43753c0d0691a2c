// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tsrefine tightens the regex extractor's end-line
// approximation for Go source using a real parse tree. It never adds or
// removes definitions, and never touches any language but Go: regex
// remains the required, authoritative extractor everywhere (spec.md
// §4.5); this package only refines a number the regex scan already
// produced.
package tsrefine

import (
	"context"
	"fmt"
	"log/slog"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"

	"github.com/jonhardwick-spec/specmem/services/specmem/scanner"
)

// funcLikeNodeTypes are the tree-sitter node kinds that correspond to
// the regex extractor's "function" and "method" kinds.
var funcLikeNodeTypes = map[string]bool{
	"function_declaration": true,
	"method_declaration":   true,
}

// Refine re-walks content with tree-sitter and, for every def in defs
// whose Kind is function or method, replaces EndLine with the matching
// node's true closing line when a same-name, same-start node is found.
// Definitions tree-sitter cannot confidently match (ambiguous name
// collisions, parse errors) are left exactly as the regex pass produced
// them.
func Refine(ctx context.Context, content []byte, defs []scanner.CodeDefinition, logger *slog.Logger) []scanner.CodeDefinition {
	if logger == nil {
		logger = slog.Default()
	}

	parser := sitter.NewParser()
	parser.SetLanguage(golang.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		logger.Warn("tsrefine: parse failed, keeping regex end-lines", slog.String("error", err.Error()))
		return defs
	}
	defer tree.Close()

	nodesByNameAndStart := indexFuncNodes(tree.RootNode(), content)

	refined := make([]scanner.CodeDefinition, len(defs))
	for i, d := range defs {
		refined[i] = d
		if d.Kind != scanner.KindFunction && d.Kind != scanner.KindMethod {
			continue
		}
		key := fmt.Sprintf("%s:%d", d.Name, d.StartLine)
		if node, ok := nodesByNameAndStart[key]; ok {
			refined[i].EndLine = int(node.EndPoint().Row) + 1
		}
	}
	return refined
}

// indexFuncNodes walks the parse tree once and indexes every
// function/method declaration by "name:1-based-start-line", so Refine
// can look each definition up without a second full tree walk.
func indexFuncNodes(root *sitter.Node, content []byte) map[string]*sitter.Node {
	index := make(map[string]*sitter.Node)

	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if n == nil {
			return
		}
		if funcLikeNodeTypes[n.Type()] {
			if nameNode := n.ChildByFieldName("name"); nameNode != nil {
				name := nameNode.Content(content)
				startLine := int(n.StartPoint().Row) + 1
				key := fmt.Sprintf("%s:%d", name, startLine)
				index[key] = n
			}
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i))
		}
	}
	walk(root)
	return index
}
