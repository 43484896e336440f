package layers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/openfroyo/configscope/pkg/schema"
	"github.com/openfroyo/configscope/pkg/scope"
)

var (
	cueOnce     sync.Once
	cueRegistry *schema.Registry
)

func cueDecoder() *schema.Registry {
	cueOnce.Do(func() { cueRegistry = schema.NewRegistry() })
	return cueRegistry
}

// LoadFile reads a layer file into a plain mapping. The format follows the
// extension: .yaml/.yml, .json or .cue.
func LoadFile(path string) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read layer file: %w", err)
	}

	m, err := Decode(path, data)
	if err != nil {
		return nil, fmt.Errorf("layer %s: %w", path, err)
	}
	return m, nil
}

// Decode parses layer content named by filename.
func Decode(filename string, data []byte) (map[string]interface{}, error) {
	var raw interface{}

	switch ext := filepath.Ext(filename); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
	case ".cue":
		m, err := cueDecoder().Decode(filename, data)
		if err != nil {
			return nil, err
		}
		raw = m
	default:
		return nil, fmt.Errorf("unsupported layer format %q", ext)
	}

	if raw == nil {
		return map[string]interface{}{}, nil
	}
	return toMapping(raw)
}

func toMapping(raw interface{}) (map[string]interface{}, error) {
	v, err := scope.Normalize(raw)
	if err != nil {
		return nil, err
	}
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("top level must be a mapping, got %T", v)
	}
	return m, nil
}

// LoadFiles loads each file and merges them in order; later files win.
func LoadFiles(paths []string) (map[string]interface{}, error) {
	out := make(map[string]interface{})
	for _, path := range paths {
		m, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		Merge(out, m)
	}
	return out, nil
}

// Merge copies src into dst. Nested mappings present on both sides are
// merged recursively; any other value in src replaces the one in dst.
func Merge(dst, src map[string]interface{}) {
	for k, v := range src {
		if sm, ok := v.(map[string]interface{}); ok {
			if dm, ok := dst[k].(map[string]interface{}); ok {
				Merge(dm, sm)
				continue
			}
		}
		dst[k] = scope.DeepCopy(v)
	}
}
