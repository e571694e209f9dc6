package config

import (
	"fmt"
	"path/filepath"
)

// Shift is a named time-of-day range, "HH:MM" or "HH:MM:SS", start inclusive
// and end exclusive.
type Shift struct {
	ID    string `yaml:"id"`
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

type shiftsFile struct {
	Shifts []Shift `yaml:"shifts"`
}

// LoadShifts reads <configDir>/shifts.yml. A missing file yields no shifts.
// Order is preserved; the first matching shift wins when ranges overlap.
func LoadShifts(configDir string) ([]Shift, error) {
	var f shiftsFile
	if _, err := readYAML(filepath.Join(configDir, "shifts.yml"), &f); err != nil {
		return nil, err
	}
	for i, s := range f.Shifts {
		if s.ID == "" {
			return nil, fmt.Errorf("shift %d has no id", i)
		}
	}
	return f.Shifts, nil
}
