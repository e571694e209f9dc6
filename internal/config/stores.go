package config

import (
	"fmt"
	"path/filepath"
)

// Store is reference data for one store.
type Store struct {
	Code string `yaml:"code"`
	Name string `yaml:"name"`
	City string `yaml:"city"`
}

type storesFile struct {
	Stores []Store `yaml:"stores"`
}

// LoadStores reads <configDir>/stores.yml keyed by store code. A missing
// file yields an empty map.
func LoadStores(configDir string) (map[string]Store, error) {
	var f storesFile
	if _, err := readYAML(filepath.Join(configDir, "stores.yml"), &f); err != nil {
		return nil, err
	}
	out := make(map[string]Store, len(f.Stores))
	for _, s := range f.Stores {
		if s.Code == "" {
			return nil, fmt.Errorf("store entry %q has no code", s.Name)
		}
		out[s.Code] = s
	}
	return out, nil
}
