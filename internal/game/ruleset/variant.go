package ruleset

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Variant is a named set of house rules loaded from content.
//
// Precondition: ID must be non-empty after loading.
type Variant struct {
	ID          string    `yaml:"id"`
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	Turn        TurnRules `yaml:"turn"`
	Game        GameRules `yaml:"game"`
}

// LoadVariants reads all .yaml files in dir and parses each as a Variant.
// Fields a file omits keep their DefaultTurnRules and DefaultGameRules values.
//
// Precondition: dir must be a readable directory path.
// Postcondition: Returns all parsed and validated variants (may be empty) or a non-nil error.
func LoadVariants(dir string) ([]*Variant, error) {
	files, err := yamlFiles(dir)
	if err != nil {
		return nil, err
	}
	variants := make([]*Variant, 0, len(files))
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		v := Variant{Turn: DefaultTurnRules(), Game: DefaultGameRules()}
		if err := yaml.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("parsing variant file %s: %w", path, err)
		}
		if v.ID == "" {
			return nil, fmt.Errorf("variant file %s: id must not be empty", path)
		}
		if err := v.Turn.Validate(); err != nil {
			return nil, fmt.Errorf("variant %s: %w", v.ID, err)
		}
		if err := v.Game.Validate(); err != nil {
			return nil, fmt.Errorf("variant %s: %w", v.ID, err)
		}
		variants = append(variants, &v)
	}
	return variants, nil
}

func yamlFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading directory %s: %w", dir, err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml") {
			paths = append(paths, filepath.Join(dir, name))
		}
	}
	return paths, nil
}
