// Package agentconfig loads and merges the external agent's YAML
// configuration files. The files remain opaque pass-through for the agent
// itself; the driver only merges them (later files override earlier ones)
// to validate them up front and to read a few well-known fields.
package agentconfig

import (
	"fmt"
	"os"

	"github.com/go-viper/mapstructure/v2"
	"gopkg.in/yaml.v3"
)

// Summary is the typed view of the merged configuration. Only fields the
// driver itself consults are decoded; everything else is passed through.
type Summary struct {
	Agent struct {
		Model struct {
			Name string `mapstructure:"name"`
		} `mapstructure:"model"`
	} `mapstructure:"agent"`
	Env struct {
		Repo struct {
			Path string `mapstructure:"path"`
		} `mapstructure:"repo"`
		Deployment struct {
			Image string `mapstructure:"image"`
		} `mapstructure:"deployment"`
	} `mapstructure:"env"`
}

// Load reads each config file, merges them in order with later files
// overriding earlier ones, and returns the merged document. An unreadable
// or unparseable file is a configuration error.
func Load(paths []string) (map[string]any, error) {
	merged := map[string]any{}

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading agent config %s: %w", path, err)
		}

		var doc map[string]any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parsing agent config %s: %w", path, err)
		}
		merged = deepMerge(merged, doc)
	}

	return merged, nil
}

// Decode extracts the typed summary from a merged document.
func Decode(merged map[string]any) (*Summary, error) {
	var s Summary
	if err := mapstructure.Decode(merged, &s); err != nil {
		return nil, fmt.Errorf("decoding agent config: %w", err)
	}
	return &s, nil
}

// deepMerge overlays src onto dst. Nested maps merge recursively; any other
// value in src replaces the value in dst.
func deepMerge(dst, src map[string]any) map[string]any {
	for k, v := range src {
		srcMap, srcOK := v.(map[string]any)
		dstMap, dstOK := dst[k].(map[string]any)
		if srcOK && dstOK {
			dst[k] = deepMerge(dstMap, srcMap)
			continue
		}
		dst[k] = v
	}
	return dst
}
