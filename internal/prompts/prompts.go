// Package prompts loads the example questions shown by the chat client.
package prompts

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

//go:embed examples.toml
var defaultExamples []byte

// File is the on-disk layout of an example-questions file, in TOML or YAML.
type File struct {
	Questions []string `toml:"questions" yaml:"questions"`
}

// Defaults returns the built-in example questions.
func Defaults() []string {
	var f File
	if _, err := toml.Decode(string(defaultExamples), &f); err != nil {
		panic(fmt.Sprintf("prompts: embedded examples are invalid: %v", err))
	}
	return clean(f.Questions)
}

// Load reads questions from path. Files ending in .yaml or .yml are parsed as
// YAML, anything else as TOML. Blank entries are dropped; a file without any
// question is an error.
func Load(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading prompts file: %w", err)
	}

	var f File
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &f)
	default:
		_, err = toml.Decode(string(data), &f)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing prompts file %s: %w", path, err)
	}

	questions := clean(f.Questions)
	if len(questions) == 0 {
		return nil, errors.New("prompts file contains no questions")
	}
	return questions, nil
}

// Resolve returns the questions from path, or the defaults when path is empty.
func Resolve(path string) ([]string, error) {
	if path == "" {
		return Defaults(), nil
	}
	return Load(path)
}

func clean(in []string) []string {
	out := make([]string, 0, len(in))
	for _, q := range in {
		if q = strings.TrimSpace(q); q != "" {
			out = append(out, q)
		}
	}
	return out
}
