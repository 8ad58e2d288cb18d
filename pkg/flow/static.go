// SPDX-License-Identifier: Apache-2.0

package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/jllopis/flowgate/pkg/errors"
)

// Manifest declares static flows for the dev server. A static flow replays
// canned chunks and a canned result (or failure), which lets clients be
// developed against the gateway before real flows exist.
type Manifest struct {
	Flows []StaticFlow `yaml:"flows"`
}

// StaticFlow is one canned flow declaration.
type StaticFlow struct {
	Name   string       `yaml:"name"`
	Chunks []any        `yaml:"chunks"`
	Result any          `yaml:"result"`
	Error  *StaticError `yaml:"error"`
}

// StaticError makes a static flow fail with the given taxonomy status after
// its chunks have been emitted.
type StaticError struct {
	Status  string `yaml:"status"`
	Message string `yaml:"message"`
}

// LoadManifest reads a YAML flow manifest from disk.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	for i, f := range manifest.Flows {
		if f.Name == "" {
			return nil, fmt.Errorf("manifest flow %d has no name", i)
		}
	}
	return &manifest, nil
}

// Actions converts the manifest into registerable actions. YAML values are
// re-encoded as JSON so payloads flow through the gateway unchanged.
func (m *Manifest) Actions() ([]Action, error) {
	out := make([]Action, 0, len(m.Flows))
	for _, f := range m.Flows {
		chunks := make([]json.RawMessage, 0, len(f.Chunks))
		for _, c := range f.Chunks {
			raw, err := toJSON(c)
			if err != nil {
				return nil, fmt.Errorf("flow %q chunk: %w", f.Name, err)
			}
			chunks = append(chunks, raw)
		}
		var result json.RawMessage
		if f.Error == nil {
			raw, err := toJSON(f.Result)
			if err != nil {
				return nil, fmt.Errorf("flow %q result: %w", f.Name, err)
			}
			result = raw
		}
		out = append(out, &staticAction{
			name:   f.Name,
			chunks: chunks,
			result: result,
			fail:   f.Error,
		})
	}
	return out, nil
}

type staticAction struct {
	name   string
	chunks []json.RawMessage
	result json.RawMessage
	fail   *StaticError
}

func (a *staticAction) Name() string { return a.name }

func (a *staticAction) Run(ctx context.Context, req *Request, cb StreamCallback) (*Result, error) {
	if cb != nil {
		for _, chunk := range a.chunks {
			if err := cb(ctx, chunk); err != nil {
				return nil, err
			}
		}
	}
	if a.fail != nil {
		return nil, errors.New(errors.Status(a.fail.Status), a.fail.Message, nil)
	}
	return &Result{Output: a.result}, nil
}

func toJSON(value any) (json.RawMessage, error) {
	raw, err := json.Marshal(normalizeYAML(value))
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// yaml.v3 decodes mappings as map[string]any already, but nested sequences
// of mappings can still surface map[any]any from older documents.
func normalizeYAML(value any) any {
	switch v := value.(type) {
	case map[any]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[fmt.Sprintf("%v", key)] = normalizeYAML(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = normalizeYAML(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = normalizeYAML(item)
		}
		return out
	default:
		return v
	}
}
