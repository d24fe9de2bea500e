/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package games

import (
	_ "embed"
	"errors"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed words.yaml
var defaultWords []byte

var ErrUnknownCategory = errors.New("unknown category")

// Word is the secret shared by every crewmate in a round. The imposter
// only learns the hint.
type Word struct {
	Word string `yaml:"word"`
	Hint string `yaml:"hint"`
}

type Category struct {
	Name  string `yaml:"name"`
	Words []Word `yaml:"words"`
}

// WordList is the set of categories a round can be played in.
type WordList struct {
	Categories []Category `yaml:"categories"`
}

// ParseWords reads a YAML word list and rejects empty categories.
func ParseWords(data []byte) (*WordList, error) {
	var list WordList
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parsing word list: %w", err)
	}

	if len(list.Categories) == 0 {
		return nil, errors.New("word list has no categories")
	}

	seen := make(map[string]bool, len(list.Categories))
	for _, c := range list.Categories {
		switch {
		case c.Name == "":
			return nil, errors.New("word list has a category with no name")
		case seen[c.Name]:
			return nil, fmt.Errorf("duplicate category %q", c.Name)
		case len(c.Words) == 0:
			return nil, fmt.Errorf("category %q has no words", c.Name)
		}
		seen[c.Name] = true
	}

	return &list, nil
}

var loadDefault = sync.OnceValues(func() (*WordList, error) {
	return ParseWords(defaultWords)
})

// DefaultWords returns the built-in word list.
func DefaultWords() (*WordList, error) {
	return loadDefault()
}

// Names returns the category names in file order.
func (l *WordList) Names() []string {
	names := make([]string, 0, len(l.Categories))
	for _, c := range l.Categories {
		names = append(names, c.Name)
	}
	return names
}

// Pick returns a random word from the named category. An empty name picks
// a random category first.
func (l *WordList) Pick(category string) (string, Word, error) {
	if category == "" {
		category = l.Categories[randomIndex(len(l.Categories))].Name
	}

	for _, c := range l.Categories {
		if c.Name == category {
			return c.Name, c.Words[randomIndex(len(c.Words))], nil
		}
	}

	return "", Word{}, fmt.Errorf("%w: %q", ErrUnknownCategory, category)
}
