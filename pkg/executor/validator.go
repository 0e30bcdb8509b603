// Copyright 2025 Author(s) of MCP Any
// SPDX-License-Identifier: Apache-2.0

package executor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// validatorCache compiles one JSON Schema validator per operation and reuses
// it for the life of the process. Hypermedia request schemas reference the
// root schema's definitions, so those are injected at compile time.
type validatorCache struct {
	mu       sync.Mutex
	compiled map[string]*jsonschema.Schema
}

func newValidatorCache() *validatorCache {
	return &validatorCache{compiled: make(map[string]*jsonschema.Schema)}
}

// Invalidate drops all compiled validators. Called on catalog republication.
func (vc *validatorCache) Invalidate() {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	vc.compiled = make(map[string]*jsonschema.Schema)
}

func (vc *validatorCache) validator(operationID string, requestSchema, rootSchema map[string]any) (*jsonschema.Schema, error) {
	vc.mu.Lock()
	defer vc.mu.Unlock()

	if sch, ok := vc.compiled[operationID]; ok {
		return sch, nil
	}

	doc := make(map[string]any, len(requestSchema)+1)
	for k, v := range requestSchema {
		doc[k] = v
	}
	if _, ok := doc["definitions"]; !ok {
		if defs, ok := rootSchema["definitions"]; ok {
			doc["definitions"] = defs
		}
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize request schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft4
	resource := "inline://request-schema"
	if err := compiler.AddResource(resource, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("failed to register request schema: %w", err)
	}
	sch, err := compiler.Compile(resource)
	if err != nil {
		return nil, fmt.Errorf("failed to compile request schema: %w", err)
	}

	vc.compiled[operationID] = sch
	return sch, nil
}

// validationMessage flattens a validation failure into "path: message" pairs.
func validationMessage(err error) string {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return err.Error()
	}

	var parts []string
	var walk func(*jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			parts = append(parts, loc+": "+e.Message)
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	return strings.Join(parts, "; ")
}
