package character

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrEmptySeed is returned when a seed file defines no characters.
var ErrEmptySeed = errors.New("seed file defines no characters")

type seedDocument struct {
	Characters []Character `yaml:"characters"`
}

// LoadSeedFile reads the initial characters from a YAML document with a top-level
// `characters` list. Unknown keys are rejected.
func LoadSeedFile(path string) ([]Character, error) {
	file, openErr := os.Open(path)
	if openErr != nil {
		return nil, fmt.Errorf("failed to open seed file %s: %w", path, openErr)
	}
	defer file.Close()

	return DecodeSeed(file)
}

// DecodeSeed parses a seed document from r.
func DecodeSeed(r io.Reader) ([]Character, error) {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)

	var document seedDocument

	decodeErr := decoder.Decode(&document)
	if decodeErr != nil && !errors.Is(decodeErr, io.EOF) {
		return nil, fmt.Errorf("failed to decode seed yaml: %w", decodeErr)
	}

	if len(document.Characters) == 0 {
		return nil, ErrEmptySeed
	}

	for index, seed := range document.Characters {
		if seed.Name == "" {
			return nil, fmt.Errorf("seed character %d: %w", index, ErrNameRequired)
		}
	}

	return document.Characters, nil
}

func defaultCharacters() []Character {
	return []Character{
		{
			Name:        "Luna",
			Personality: "Helpful and empathetic AI assistant",
			Description: "A caring and knowledgeable companion who loves to help with any task.",
			Avatar:      "🌙",
			Voice:       "female-calm",
			Traits:      []string{"Helpful", "Empathetic", "Patient", "Knowledgeable"},
			Backstory: "Luna was designed to be the perfect assistant, with deep understanding " +
				"of human emotions and needs.",
		},
		{
			Name:        "Alex",
			Personality: "Creative and artistic thinker",
			Description: "An imaginative AI with a passion for creative writing and storytelling.",
			Avatar:      "✨",
			Voice:       "neutral-energetic",
			Traits:      []string{"Creative", "Artistic", "Imaginative", "Inspiring"},
			Backstory: "Alex draws inspiration from countless stories and creative works " +
				"to help others express their ideas.",
		},
	}
}
