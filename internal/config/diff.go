package config

import (
	"strings"

	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v3"
)

// DiffSerialized returns a line diff between two raw configuration files, or
// "" when they are equal.
func DiffSerialized(previous, current []byte) string {
	return cmp.Diff(splitLines(previous), splitLines(current))
}

// Diff compares two decoded configurations after defaults were applied, so
// that an omitted field and its default compare equal.
func Diff(previous, current *Config) string {
	prev, err := yaml.Marshal(previous)
	if err != nil {
		return ""
	}
	curr, err := yaml.Marshal(current)
	if err != nil {
		return ""
	}
	return DiffSerialized(prev, curr)
}

func splitLines(data []byte) []string {
	text := strings.TrimSuffix(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}
