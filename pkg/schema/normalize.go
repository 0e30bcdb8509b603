// Copyright 2025 Author(s) of MCP Any
// SPDX-License-Identifier: Apache-2.0

// Package schema turns the upstream hypermedia JSON Schema into a canonical,
// deduplicated catalog of operations. Normalization is a pure transform: the
// same root schema always yields the same catalog.
package schema

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/samber/lo"
)

// PathParam is one placeholder in a path template.
type PathParam struct {
	// Name is the sanitized parameter name used in the template.
	Name string `json:"name"`
	// SourceRef is the raw placeholder content the name was derived from.
	SourceRef string `json:"source_ref,omitempty"`
}

// Operation is one canonical catalog entry.
type Operation struct {
	OperationID    string         `json:"operation_id"`
	Method         string         `json:"method"`
	PathTemplate   string         `json:"path_template"`
	PathParams     []PathParam    `json:"path_params,omitempty"`
	RequiredParams []string       `json:"required_params,omitempty"`
	RequestSchema  map[string]any `json:"request_schema,omitempty"`
	IsMutating     bool           `json:"is_mutating"`
	DefinitionName string         `json:"definition_name,omitempty"`
	Title          string         `json:"title,omitempty"`
	Description    string         `json:"description,omitempty"`
	Rel            string         `json:"rel,omitempty"`
	SearchText     string         `json:"search_text,omitempty"`
}

// Catalog is the output of normalization. RootSchema is kept verbatim so the
// executor can resolve `definitions` references during body validation.
type Catalog struct {
	Operations []*Operation   `json:"operations"`
	RootSchema map[string]any `json:"root_schema"`
}

// Operation returns the catalog entry with the given id, or nil.
func (c *Catalog) Operation(id string) *Operation {
	for _, op := range c.Operations {
		if op.OperationID == id {
			return op
		}
	}
	return nil
}

// placeholderPattern matches both `{(encoded-pointer)}` and plain `{name}`.
var placeholderPattern = regexp.MustCompile(`\{\(?([^{}]*?)\)?\}`)

var nonAlnumRun = regexp.MustCompile(`[^a-z0-9]+`)

// Normalize builds the canonical catalog from the raw root schema.
// Definitions are walked in sorted name order so repeated runs over the same
// input produce identical catalogs.
func Normalize(root map[string]any) (*Catalog, error) {
	defs, _ := root["definitions"].(map[string]any)
	if defs == nil {
		return nil, fmt.Errorf("root schema has no definitions object")
	}

	byID := make(map[string]*Operation)
	var order []string

	defNames := lo.Keys(defs)
	sort.Strings(defNames)

	for _, defName := range defNames {
		def, _ := defs[defName].(map[string]any)
		if def == nil {
			continue
		}
		links, _ := def["links"].([]any)
		for _, raw := range links {
			link, _ := raw.(map[string]any)
			if link == nil {
				continue
			}
			href, _ := link["href"].(string)
			if href == "" {
				continue
			}

			op := operationFromLink(defName, link, href)
			if existing, ok := byID[op.OperationID]; ok {
				mergeOperation(existing, op)
				continue
			}
			byID[op.OperationID] = op
			order = append(order, op.OperationID)
		}
	}

	operations := make([]*Operation, 0, len(order))
	for _, id := range order {
		operations = append(operations, byID[id])
	}
	return &Catalog{Operations: operations, RootSchema: root}, nil
}

func operationFromLink(defName string, link map[string]any, href string) *Operation {
	method := coerceMethod(link["method"])
	pathTemplate, params := renderPath(href)

	op := &Operation{
		OperationID:    method + " " + pathTemplate,
		Method:         method,
		PathTemplate:   pathTemplate,
		PathParams:     params,
		IsMutating:     method != "GET" && method != "HEAD",
		DefinitionName: defName,
	}
	op.Title, _ = link["title"].(string)
	op.Description, _ = link["description"].(string)
	op.Rel, _ = link["rel"].(string)
	if schema, ok := link["schema"].(map[string]any); ok {
		op.RequestSchema = schema
	}

	required := make([]string, 0, len(params))
	for _, p := range params {
		required = append(required, p.Name)
	}
	for _, field := range schemaRequiredFields(op.RequestSchema) {
		required = append(required, "body."+field)
	}
	op.RequiredParams = lo.Uniq(required)

	op.SearchText = strings.ToLower(strings.Join(lo.Compact([]string{
		op.Title, op.Description, op.Rel, defName, method, pathTemplate,
	}), " "))
	return op
}

// renderPath replaces every raw placeholder in href with a sanitized `{name}`
// placeholder and reports the resulting parameter list. Name collisions inside
// one template are disambiguated with a monotonically increasing suffix.
func renderPath(href string) (string, []PathParam) {
	var params []PathParam
	seen := make(map[string]bool)
	index := 0

	rendered := placeholderPattern.ReplaceAllStringFunc(href, func(match string) string {
		inner := strings.TrimSuffix(strings.TrimPrefix(match, "{"), "}")
		encoded := strings.HasPrefix(inner, "(") && strings.HasSuffix(inner, ")")
		if encoded {
			inner = strings.TrimSuffix(strings.TrimPrefix(inner, "("), ")")
		}

		var name string
		if encoded {
			name = nameFromPointer(inner, index)
		} else {
			name = sanitizeName(inner, index)
		}
		base := name
		for seen[name] {
			index++
			name = fmt.Sprintf("%s_%d", base, index)
		}
		seen[name] = true
		params = append(params, PathParam{Name: name, SourceRef: inner})
		index++
		return "{" + name + "}"
	})
	return rendered, params
}

// nameFromPointer derives a parameter name from a percent-encoded JSON
// pointer such as %23%2Fdefinitions%2Fapp%2Fdefinitions%2Fidentity.
func nameFromPointer(encoded string, index int) string {
	pointer, err := url.PathUnescape(encoded)
	if err != nil {
		pointer = encoded
	}
	pointer = strings.TrimPrefix(pointer, "#")
	segments := lo.Compact(strings.Split(pointer, "/"))

	var names []string
	for i, seg := range segments {
		if seg == "definitions" && i+1 < len(segments) {
			names = append(names, segments[i+1])
		}
	}
	switch {
	case len(names) >= 2:
		return sanitizeName(names[0]+"_"+names[len(names)-1], index)
	case len(names) == 1:
		return sanitizeName(names[0], index)
	case len(segments) > 0:
		return sanitizeName(segments[len(segments)-1], index)
	default:
		return sanitizeName("", index)
	}
}

// sanitizeName lowercases, collapses non-alphanumeric runs to underscores and
// guarantees a usable identifier.
func sanitizeName(s string, index int) string {
	s = strings.ToLower(s)
	s = nonAlnumRun.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	if s == "" {
		return fmt.Sprintf("param_%d", index)
	}
	if s[0] >= '0' && s[0] <= '9' {
		s = "p_" + s
	}
	return s
}

func coerceMethod(v any) string {
	method, ok := v.(string)
	if !ok || method == "" {
		return "GET"
	}
	return strings.ToUpper(method)
}

func schemaRequiredFields(schema map[string]any) []string {
	if schema == nil {
		return nil
	}
	raw, _ := schema["required"].([]any)
	var fields []string
	for _, r := range raw {
		if field, ok := r.(string); ok {
			fields = append(fields, field)
		}
	}
	return fields
}

// mergeOperation folds a duplicate (method, path_template) link into the
// first-seen entry: descriptions concatenate, required params union in
// first-seen order, search text appends.
func mergeOperation(dst, src *Operation) {
	if src.Description != "" {
		dst.Description = strings.TrimSpace(dst.Description + " " + src.Description)
	}
	if dst.Title == "" {
		dst.Title = src.Title
	}
	if dst.Rel == "" {
		dst.Rel = src.Rel
	}
	if dst.RequestSchema == nil {
		dst.RequestSchema = src.RequestSchema
	}
	dst.RequiredParams = lo.Uniq(append(dst.RequiredParams, src.RequiredParams...))
	if src.SearchText != "" {
		dst.SearchText = strings.TrimSpace(dst.SearchText + " " + src.SearchText)
	}
}
