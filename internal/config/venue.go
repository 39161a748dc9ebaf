package config

import (
	"fmt"
	"os"
	"time"
	// Pickup days are counted in the venue zone even on hosts without tzdata.
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

// Venue is where bundles are collected. Its details go out with ready and
// pickup reminder notifications.
type Venue struct {
	Name     string `yaml:"name"`
	Address  string `yaml:"address"`
	Hours    string `yaml:"hours"`
	Timezone string `yaml:"timezone"`
	Contact  string `yaml:"contact"`

	location *time.Location
}

func DefaultVenue() Venue {
	v := Venue{
		Name:     "Perdami Pickup Counter",
		Address:  "Venue main hall",
		Hours:    "09:00-17:00",
		Timezone: "Asia/Jakarta",
	}
	v.location = loadLocation(v.Timezone)
	return v
}

// LoadVenue reads a YAML venue file. An empty path yields DefaultVenue.
func LoadVenue(path string) (Venue, error) {
	v := DefaultVenue()
	if path == "" {
		return v, nil
	}

	body, err := os.ReadFile(path)
	if err != nil {
		return Venue{}, fmt.Errorf("read venue file: %w", err)
	}
	if err := yaml.Unmarshal(body, &v); err != nil {
		return Venue{}, fmt.Errorf("parse venue file: %w", err)
	}

	loc, err := time.LoadLocation(v.Timezone)
	if err != nil {
		return Venue{}, fmt.Errorf("venue timezone %q: %w", v.Timezone, err)
	}
	v.location = loc
	return v, nil
}

// Location is the venue time zone; calendar days for pickup reminders are
// counted in it.
func (v Venue) Location() *time.Location {
	if v.location == nil {
		return loadLocation(v.Timezone)
	}
	return v.location
}

func loadLocation(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}
