package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// WeightPreset is a named weight vector, typically one per character build.
type WeightPreset struct {
	Name    string             `yaml:"name"`
	Weights map[string]float64 `yaml:"weights"`
}

type presetFile struct {
	Presets []WeightPreset `yaml:"presets"`
}

// LoadPresets reads a YAML preset file and validates every weight map
// against the catalogue.
func LoadPresets(cat *Catalog, path string) ([]WeightPreset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read presets: %w", err)
	}
	var file presetFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse presets: %w", err)
	}
	if len(file.Presets) == 0 {
		return nil, fmt.Errorf("presets: %s defines no presets", path)
	}
	seen := make(map[string]bool, len(file.Presets))
	for _, p := range file.Presets {
		if p.Name == "" {
			return nil, fmt.Errorf("presets: unnamed preset in %s", path)
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("presets: duplicate preset %q", p.Name)
		}
		seen[p.Name] = true
		for name, w := range p.Weights {
			if _, ok := cat.Index(name); !ok {
				return nil, fmt.Errorf("presets: %q references unknown buff %q", p.Name, name)
			}
			if w < 0 {
				return nil, fmt.Errorf("presets: %q has negative weight for %q", p.Name, name)
			}
		}
	}
	return file.Presets, nil
}

// FindPreset returns the preset with the given name.
func FindPreset(presets []WeightPreset, name string) (WeightPreset, error) {
	for _, p := range presets {
		if p.Name == name {
			return p, nil
		}
	}
	return WeightPreset{}, fmt.Errorf("presets: no preset named %q", name)
}

type userCountFile struct {
	Counts map[string]map[int]int `yaml:"counts"`
}

// LoadUserCounts reads user-observed roll counts from a YAML file. The
// counts are validated against the catalogue grid when blended.
func LoadUserCounts(path string) (UserCounts, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read user counts: %w", err)
	}
	var file userCountFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse user counts: %w", err)
	}
	if len(file.Counts) == 0 {
		return nil, fmt.Errorf("user counts: %s has no counts", path)
	}
	return UserCounts(file.Counts), nil
}
