package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseJSON loads a Manifest from JSON text and validates it.
func ParseJSON(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	if err := Validate(&m); err != nil {
		return nil, err
	}
	return &m, nil
}

// ParseYAML loads a Manifest from YAML text and validates it. yaml.v3 reports
// line numbers in its errors, which the loader surfaces verbatim.
func ParseYAML(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	normalizeYAMLValues(&m)
	if err := Validate(&m); err != nil {
		return nil, err
	}
	return &m, nil
}

// ParseFile dispatches on the file extension: .yaml/.yml parse as YAML,
// anything else as JSON.
func ParseFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("manifest load failed (%s): %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(data)
	default:
		return ParseJSON(data)
	}
}

// ParseFiles loads every path and merges the results into one Manifest.
func ParseFiles(paths []string) (*Manifest, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: no manifest files given", ErrInvalidManifest)
	}
	base, err := ParseFile(paths[0])
	if err != nil {
		return nil, err
	}
	for _, path := range paths[1:] {
		extra, err := ParseFile(path)
		if err != nil {
			return nil, err
		}
		if err := Merge(base, extra); err != nil {
			return nil, fmt.Errorf("merging %s: %w", path, err)
		}
	}
	return base, nil
}

var versionPattern = regexp.MustCompile(`^\d+\.\d+\.\d+`)

// Validate applies load-time checks: identification fields, declared channels,
// known argument types, compilable patterns, and the built-in reservation.
func Validate(m *Manifest) error {
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidManifest)
	}
	if strings.TrimSpace(m.Version) == "" {
		return fmt.Errorf("%w: missing version", ErrInvalidManifest)
	}
	if !versionPattern.MatchString(m.Version) {
		return fmt.Errorf("%w: version %q is not semver-like", ErrInvalidManifest, m.Version)
	}
	if len(m.Channels) == 0 {
		return fmt.Errorf("%w: no channels declared", ErrInvalidManifest)
	}
	for chName, ch := range m.Channels {
		if ch == nil {
			return fmt.Errorf("%w: channel %q is empty", ErrInvalidManifest, chName)
		}
		for cmdName, cmd := range ch.Commands {
			if IsReservedCommand(cmdName) {
				return fmt.Errorf("%w: channel %q declares %q, a reserved built-in command",
					ErrInvalidManifest, chName, cmdName)
			}
			if cmd == nil {
				return fmt.Errorf("%w: channel %q command %q is empty", ErrInvalidManifest, chName, cmdName)
			}
			for argName, arg := range cmd.Arguments {
				if err := validateArgumentSpec(arg, fmt.Sprintf("%s.%s.%s", chName, cmdName, argName)); err != nil {
					return err
				}
			}
			if cmd.Response != nil {
				if err := validateArgumentSpec(cmd.Response, fmt.Sprintf("%s.%s.response", chName, cmdName)); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func validateArgumentSpec(spec *ArgumentSpec, path string) error {
	if spec == nil {
		return fmt.Errorf("%w: %s: empty argument spec", ErrInvalidManifest, path)
	}
	if _, ok := validTypes[spec.Type]; !ok {
		return fmt.Errorf("%w: %s: unknown type %q", ErrInvalidManifest, path, spec.Type)
	}
	if spec.Pattern != "" {
		if _, err := regexp.Compile(spec.Pattern); err != nil {
			return fmt.Errorf("%w: %s: invalid pattern: %v", ErrInvalidManifest, path, err)
		}
	}
	if spec.MinLength != nil && *spec.MinLength < 0 {
		return fmt.Errorf("%w: %s: negative min_length", ErrInvalidManifest, path)
	}
	if spec.MinLength != nil && spec.MaxLength != nil && *spec.MinLength > *spec.MaxLength {
		return fmt.Errorf("%w: %s: min_length exceeds max_length", ErrInvalidManifest, path)
	}
	if spec.Minimum != nil && spec.Maximum != nil && *spec.Minimum > *spec.Maximum {
		return fmt.Errorf("%w: %s: minimum exceeds maximum", ErrInvalidManifest, path)
	}
	if spec.Items != nil {
		if spec.Type != TypeArray {
			return fmt.Errorf("%w: %s: items on non-array type", ErrInvalidManifest, path)
		}
		if err := validateArgumentSpec(spec.Items, path+".items"); err != nil {
			return err
		}
	}
	for name, prop := range spec.Properties {
		if spec.Type != TypeObject {
			return fmt.Errorf("%w: %s: properties on non-object type", ErrInvalidManifest, path)
		}
		if err := validateArgumentSpec(prop, path+"."+name); err != nil {
			return err
		}
	}
	return nil
}

// ToJSON serialises the manifest, e.g. for the spec built-in response.
func ToJSON(m *Manifest) ([]byte, error) {
	return json.Marshal(m)
}

// normalizeYAMLValues rewrites yaml.v3 enum values into the representations
// json.Unmarshal would produce, so enum comparison behaves identically for
// both loaders.
func normalizeYAMLValues(m *Manifest) {
	for _, ch := range m.Channels {
		if ch == nil {
			continue
		}
		for _, cmd := range ch.Commands {
			if cmd == nil {
				continue
			}
			for _, arg := range cmd.Arguments {
				normalizeSpecValues(arg)
			}
			normalizeSpecValues(cmd.Response)
		}
	}
}

func normalizeSpecValues(spec *ArgumentSpec) {
	if spec == nil {
		return
	}
	for i, v := range spec.Enum {
		spec.Enum[i] = normalizeValue(v)
	}
	normalizeSpecValues(spec.Items)
	for _, prop := range spec.Properties {
		normalizeSpecValues(prop)
	}
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case uint64:
		return float64(t)
	case map[string]any:
		for k, elem := range t {
			t[k] = normalizeValue(elem)
		}
		return t
	case []any:
		for i, elem := range t {
			t[i] = normalizeValue(elem)
		}
		return t
	default:
		return v
	}
}
