// Copyright 2025 Author(s) of MCP Any
// SPDX-License-Identifier: Apache-2.0

// Package search ranks catalog operations against free-text queries with a
// TF-IDF model plus a few exact-match boosts. The index is immutable once
// built; catalog refreshes swap in a freshly built index.
package search

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/samber/lo"

	"github.com/mcpany/heroku-mcp/pkg/schema"
)

const (
	// DefaultLimit is used when the caller does not bound the result count.
	DefaultLimit = 8
	// MaxLimit caps the result count regardless of what the caller asks for.
	MaxLimit = 25
)

var tokenSplitter = regexp.MustCompile(`[^a-z0-9_]+`)

// Result is one ranked operation.
type Result struct {
	OperationID    string   `json:"operation_id"`
	Method         string   `json:"method"`
	Path           string   `json:"path"`
	Summary        string   `json:"summary"`
	RequiredParams []string `json:"required_params"`
	IsMutating     bool     `json:"is_mutating"`
	Score          float64  `json:"score"`
}

type document struct {
	op       *schema.Operation
	tf       map[string]float64
	maxTF    float64
	haystack string
	pathLC   string
	titleLC  string
	methodLC string
	filterLC string
}

// Index holds the per-operation term statistics and corpus IDF table.
type Index struct {
	docs       []*document
	idf        map[string]float64
	docsTokens map[string]bool
}

// Build indexes the given operations. docsContext is the optional prose blob
// scraped from the reference documentation; sharing any token with it earns a
// small boost.
func Build(operations []*schema.Operation, docsContext string) *Index {
	idx := &Index{
		idf:        make(map[string]float64),
		docsTokens: make(map[string]bool),
	}
	for _, t := range Tokenize(docsContext) {
		idx.docsTokens[t] = true
	}

	df := make(map[string]float64)
	for _, op := range operations {
		doc := &document{
			op:       op,
			tf:       make(map[string]float64),
			maxTF:    1,
			haystack: strings.ToLower(op.OperationID + " " + op.PathTemplate + " " + op.Title + " " + op.Description + " " + op.Rel),
			pathLC:   strings.ToLower(op.PathTemplate),
			titleLC:  strings.ToLower(op.Title),
			methodLC: strings.ToLower(op.Method),
			filterLC: strings.ToLower(op.DefinitionName + " " + op.PathTemplate + " " + op.OperationID),
		}
		corpus := strings.Join([]string{
			op.OperationID, op.Title, op.Description, op.SearchText,
			op.PathTemplate, op.Method, op.DefinitionName,
		}, " ")
		for _, t := range Tokenize(corpus) {
			doc.tf[t]++
			if doc.tf[t] > doc.maxTF {
				doc.maxTF = doc.tf[t]
			}
		}
		for t := range doc.tf {
			df[t]++
		}
		idx.docs = append(idx.docs, doc)
	}

	n := float64(len(idx.docs))
	if n == 0 {
		n = 1
	}
	for t, d := range df {
		idx.idf[t] = math.Log((1+n)/(1+d)) + 1
	}
	return idx
}

// Tokenize lowercases, splits on non-word runs and drops one-char tokens.
func Tokenize(s string) []string {
	parts := tokenSplitter.Split(strings.ToLower(s), -1)
	return lo.Filter(parts, func(t string, _ int) bool { return len(t) > 1 })
}

// Search ranks operations against query. A blank query yields no results.
// resourceFilter, when non-empty, keeps only operations whose definition name,
// path or id contains at least one of the filter strings.
func (idx *Index) Search(query string, resourceFilter []string, limit int) []Result {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}
	queryLC := strings.ToLower(query)
	tokens := Tokenize(query)

	filters := lo.FilterMap(resourceFilter, func(f string, _ int) (string, bool) {
		f = strings.ToLower(strings.TrimSpace(f))
		return f, f != ""
	})

	if limit < 1 {
		limit = DefaultLimit
	}
	limit = min(max(limit, 1), MaxLimit)

	var results []Result
	for _, doc := range idx.docs {
		if len(filters) > 0 && !lo.SomeBy(filters, func(f string) bool {
			return strings.Contains(doc.filterLC, f)
		}) {
			continue
		}

		score := 0.0
		for _, t := range tokens {
			if tf, ok := doc.tf[t]; ok {
				score += (tf / doc.maxTF) * idx.idf[t]
			}
		}
		if strings.Contains(doc.haystack, queryLC) {
			score += 6
		}
		if strings.Contains(doc.pathLC, queryLC) {
			score += 3
		}
		if doc.titleLC != "" && strings.Contains(doc.titleLC, queryLC) {
			score += 2
		}
		if lo.Contains(tokens, doc.methodLC) {
			score += 1
		}
		if len(idx.docsTokens) > 0 && lo.SomeBy(tokens, func(t string) bool { return idx.docsTokens[t] }) {
			score += 0.25
		}
		if score <= 0 {
			continue
		}

		results = append(results, Result{
			OperationID:    doc.op.OperationID,
			Method:         doc.op.Method,
			Path:           doc.op.PathTemplate,
			Summary:        summarize(doc.op),
			RequiredParams: doc.op.RequiredParams,
			IsMutating:     doc.op.IsMutating,
			Score:          math.Round(score*10000) / 10000,
		})
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

func summarize(op *schema.Operation) string {
	if op.Description != "" {
		return op.Description
	}
	if op.Title != "" {
		return op.Title
	}
	return op.Method + " " + op.PathTemplate
}
