// Package catalog holds the enumerations jokes and filters are validated against.
package catalog

import (
	"errors"
	"fmt"
	"strings"

	"jokeapi/internal/models"

	"github.com/spf13/viper"
)

// AnyCategory resolves to every canonical category.
const AnyCategory = "Any"

var (
	ErrUnknownCategory = errors.New("unknown category")
	ErrEmptyCatalog    = errors.New("catalog has no categories or languages")
)

type Catalog struct {
	Categories      []string          `mapstructure:"categories"`
	Aliases         map[string]string `mapstructure:"aliases"`
	UnsafeCategory  string            `mapstructure:"unsafe_category"`
	Flags           []string          `mapstructure:"flags"`
	Types           []string          `mapstructure:"types"`
	Languages       []string          `mapstructure:"languages"`
	DefaultLanguage string            `mapstructure:"default_language"`
}

func Default() *Catalog {
	return &Catalog{
		Categories: []string{"Misc", "Programming", "Dark", "Pun", "Spooky", "Christmas"},
		Aliases: map[string]string{
			"Miscellaneous": "Misc",
			"Coding":        "Programming",
			"Development":   "Programming",
			"Halloween":     "Spooky",
		},
		UnsafeCategory:  "Dark",
		Flags:           flagNames(),
		Types:           []string{string(models.TypeSingle), string(models.TypeTwoPart)},
		Languages:       []string{"cs", "de", "en", "es", "fr", "pt"},
		DefaultLanguage: "en",
	}
}

// Load overlays the built-in catalog with the values found in path.
// Any format viper understands (yaml, json, toml) is accepted.
// Values can also be overridden through JOKEAPI_CATALOG_* environment variables.
func Load(path string) (*Catalog, error) {
	def := Default()

	v := viper.New()
	v.SetEnvPrefix("JOKEAPI_CATALOG")
	v.AutomaticEnv()
	v.SetDefault("categories", def.Categories)
	v.SetDefault("unsafe_category", def.UnsafeCategory)
	v.SetDefault("flags", def.Flags)
	v.SetDefault("types", def.Types)
	v.SetDefault("languages", def.Languages)
	v.SetDefault("default_language", def.DefaultLanguage)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read catalog from %s: %w", path, err)
		}
	}

	var c Catalog
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("failed to decode catalog: %w", err)
	}
	// Alias maps replace the built-in set instead of merging into it.
	if c.Aliases == nil {
		c.Aliases = def.Aliases
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) Validate() error {
	if len(c.Categories) == 0 || len(c.Languages) == 0 {
		return ErrEmptyCatalog
	}
	for alias, target := range c.Aliases {
		if _, ok := c.canonical(target); !ok {
			return fmt.Errorf("alias %q points to %w %q", alias, ErrUnknownCategory, target)
		}
	}
	if c.UnsafeCategory != "" {
		if _, ok := c.canonical(c.UnsafeCategory); !ok {
			return fmt.Errorf("unsafe category: %w %q", ErrUnknownCategory, c.UnsafeCategory)
		}
	}
	if !c.IsLanguage(c.DefaultLanguage) {
		return fmt.Errorf("default language %q is not a known language", c.DefaultLanguage)
	}
	for _, f := range c.Flags {
		if !isModelFlag(f) {
			return fmt.Errorf("flag %q is not supported", f)
		}
	}
	for _, t := range c.Types {
		if t != string(models.TypeSingle) && t != string(models.TypeTwoPart) {
			return fmt.Errorf("joke type %q is not supported", t)
		}
	}
	return nil
}

func (c *Catalog) canonical(name string) (string, bool) {
	for _, cat := range c.Categories {
		if strings.EqualFold(cat, name) {
			return cat, true
		}
	}
	return "", false
}

// ResolveCategory maps a category or alias, in any case, to its canonical spelling.
// The "Any" sentinel resolves to itself.
func (c *Catalog) ResolveCategory(name string) (string, bool) {
	name = strings.TrimSpace(name)
	if strings.EqualFold(name, AnyCategory) {
		return AnyCategory, true
	}
	if cat, ok := c.canonical(name); ok {
		return cat, true
	}
	// viper lowercases map keys, so alias names only ever compare case-insensitively.
	for alias, target := range c.Aliases {
		if strings.EqualFold(alias, name) {
			return c.canonical(target)
		}
	}
	return "", false
}

func (c *Catalog) IsUnsafeCategory(category string) bool {
	return c.UnsafeCategory != "" && strings.EqualFold(c.UnsafeCategory, category)
}

func (c *Catalog) IsLanguage(code string) bool {
	for _, l := range c.Languages {
		if l == code {
			return true
		}
	}
	return false
}

// ResolveFlag returns the canonical flag for a case-insensitive name.
func (c *Catalog) ResolveFlag(name string) (models.Flag, bool) {
	for _, f := range c.Flags {
		if strings.EqualFold(f, strings.TrimSpace(name)) {
			return models.Flag(f), true
		}
	}
	return "", false
}

// ResolveType returns the canonical joke type for a case-insensitive name.
func (c *Catalog) ResolveType(name string) (models.JokeType, bool) {
	for _, t := range c.Types {
		if strings.EqualFold(t, strings.TrimSpace(name)) {
			return models.JokeType(t), true
		}
	}
	return "", false
}

func flagNames() []string {
	names := make([]string, 0, len(models.AllFlags))
	for _, f := range models.AllFlags {
		names = append(names, string(f))
	}
	return names
}

func isModelFlag(name string) bool {
	for _, f := range models.AllFlags {
		if string(f) == name {
			return true
		}
	}
	return false
}
