package secrets

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// readFallback loads the local secrets file: a flat YAML mapping from secret name, or
// name@version for a pinned version, to value. A missing file yields no values.
//
//	stripe_api_key: sk_test_123
//	stripe_webhook_secret@3: whsec_old
func readFallback(path string) (map[string]string, error) {
	values := map[string]string{}
	if path == "" {
		return values, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return values, nil
	}
	if err != nil {
		return nil, fmt.Errorf("secrets: read fallback %s: %w", path, err)
	}
	var raw map[string]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("secrets: parse fallback %s: %w", path, err)
	}
	for key, value := range raw {
		key = strings.TrimPrefix(strings.TrimSpace(key), scheme)
		if key != "" {
			values[key] = strings.TrimSpace(value)
		}
	}
	return values, nil
}

func fallbackValue(values map[string]string, name, version string) (string, bool) {
	if v, ok := values[name+"@"+version]; ok {
		return v, true
	}
	v, ok := values[name]
	return v, ok
}
