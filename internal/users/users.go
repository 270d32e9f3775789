package users

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"fuel-price-alerts/internal/fuel"
)

// ErrNoUsers is returned when the preference list is empty.
var ErrNoUsers = errors.New("users: no recipients configured")

// Preference is one recipient and the grade they want reported.
type Preference struct {
	Name            string `yaml:"name" json:"name" validate:"required"`
	UserKey         string `yaml:"user_key" json:"user_key" validate:"required"`
	PreferredFuelID int    `yaml:"preferred_fuel_id" json:"preferred_fuel_id" validate:"required,gt=0"`
}

// GradeName is the display name of the preferred grade.
func (p Preference) GradeName() string {
	return fuel.Name(p.PreferredFuelID)
}

// Load reads a YAML or JSON list of preferences. JSON files parse as YAML.
func Load(path string) ([]Preference, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read users file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a preference list.
func Parse(data []byte) ([]Preference, error) {
	var list []Preference
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("decode users file: %w", err)
	}
	if len(list) == 0 {
		return nil, ErrNoUsers
	}

	validate := validator.New()
	problems := make([]string, 0)
	for i, p := range list {
		if err := validate.Struct(p); err != nil {
			problems = append(problems, fmt.Sprintf("entry %d (%s): %v", i, p.Name, err))
		}
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("invalid users file: %s", strings.Join(problems, "; "))
	}
	return list, nil
}

// Source supplies the preference list at the start of each run.
type Source interface {
	Preferences() ([]Preference, error)
}

// File reads preferences from a path on every call.
type File string

// Preferences loads the file.
func (f File) Preferences() ([]Preference, error) {
	return Load(string(f))
}

// Static is a fixed preference list.
type Static []Preference

// Preferences returns the list.
func (s Static) Preferences() ([]Preference, error) {
	if len(s) == 0 {
		return nil, ErrNoUsers
	}
	return s, nil
}
