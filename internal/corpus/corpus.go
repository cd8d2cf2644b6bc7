// Package corpus loads the joke data files into an immutable per-language collection.
package corpus

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"jokeapi/internal/catalog"
	"jokeapi/internal/models"
)

const (
	filePrefix    = "jokes-"
	fileExtension = ".json"
	formatVersion = 3
)

var (
	ErrNoJokeFiles     = errors.New("no joke files found")
	ErrUnknownLanguage = errors.New("unknown language")
)

// Corpus is read-only once built. Reloads build a new Corpus instead of mutating one.
type Corpus struct {
	jokes map[string][]models.Joke
}

// New builds a corpus from already validated jokes. The slices are copied.
func New(jokes map[string][]models.Joke) *Corpus {
	c := &Corpus{jokes: make(map[string][]models.Joke, len(jokes))}
	for lang, list := range jokes {
		c.jokes[lang] = append([]models.Joke(nil), list...)
	}
	return c
}

// Jokes returns the jokes of a language ordered by ID. Callers must not modify the slice.
func (c *Corpus) Jokes(lang string) []models.Joke {
	return c.jokes[lang]
}

func (c *Corpus) Count(lang string) int {
	return len(c.jokes[lang])
}

// MaxID is the highest valid ID for lang, or -1 when the language has no jokes.
func (c *Corpus) MaxID(lang string) int {
	return len(c.jokes[lang]) - 1
}

func (c *Corpus) Languages() []string {
	langs := make([]string, 0, len(c.jokes))
	for lang := range c.jokes {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	return langs
}

type IDRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

type Stats struct {
	TotalCount int                `json:"totalCount"`
	SafeCount  map[string]int     `json:"safeJokes"`
	Count      map[string]int     `json:"jokes"`
	IDRanges   map[string]IDRange `json:"idRange"`
}

func (c *Corpus) Stats() Stats {
	s := Stats{
		SafeCount: make(map[string]int, len(c.jokes)),
		Count:     make(map[string]int, len(c.jokes)),
		IDRanges:  make(map[string]IDRange, len(c.jokes)),
	}
	for lang, list := range c.jokes {
		s.TotalCount += len(list)
		s.Count[lang] = len(list)
		s.IDRanges[lang] = IDRange{Min: 0, Max: len(list) - 1}
		for _, j := range list {
			if j.Safe {
				s.SafeCount[lang]++
			}
		}
	}
	return s
}

type jokeFile struct {
	Info struct {
		FormatVersion int `json:"formatVersion"`
	} `json:"info"`
	Jokes []json.RawMessage `json:"jokes"`
}

// ValidationError describes one problem found in a data file.
type ValidationError struct {
	File   string
	Index  int
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("%s: %s", e.File, e.Reason)
	}
	return fmt.Sprintf("%s: joke #%d: %s", e.File, e.Index, e.Reason)
}

// LoadError aggregates every validation problem of a load.
type LoadError struct {
	Problems []*ValidationError
}

func (e *LoadError) Error() string {
	msgs := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		msgs = append(msgs, p.Error())
	}
	return fmt.Sprintf("corpus validation failed with %d problem(s): %s", len(e.Problems), strings.Join(msgs, "; "))
}

// Load reads every jokes-<lang>.json file in dir and validates it against cat.
func Load(dir string, cat *catalog.Catalog) (*Corpus, error) {
	paths, err := filepath.Glob(filepath.Join(dir, filePrefix+"*"+fileExtension))
	if err != nil {
		return nil, fmt.Errorf("failed to list joke files in %s: %w", dir, err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoJokeFiles, dir)
	}
	sort.Strings(paths)

	jokes := make(map[string][]models.Joke, len(paths))
	loadErr := &LoadError{}

	for _, path := range paths {
		lang := LanguageOf(path)
		if !cat.IsLanguage(lang) {
			loadErr.Problems = append(loadErr.Problems, &ValidationError{
				File: filepath.Base(path), Index: -1, Reason: fmt.Sprintf("%v %q", ErrUnknownLanguage, lang),
			})
			continue
		}

		list, problems, err := loadFile(path, lang, cat)
		if err != nil {
			return nil, err
		}
		loadErr.Problems = append(loadErr.Problems, problems...)
		jokes[lang] = list
	}

	if len(loadErr.Problems) > 0 {
		return nil, loadErr
	}
	return &Corpus{jokes: jokes}, nil
}

// LanguageOf extracts the language code from a data file path.
func LanguageOf(path string) string {
	name := filepath.Base(path)
	name = strings.TrimPrefix(name, filePrefix)
	return strings.TrimSuffix(name, fileExtension)
}

func loadFile(path, lang string, cat *catalog.Catalog) ([]models.Joke, []*ValidationError, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	name := filepath.Base(path)
	var file jokeFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, []*ValidationError{{File: name, Index: -1, Reason: err.Error()}}, nil
	}

	var problems []*ValidationError
	addProblem := func(index int, format string, args ...any) {
		problems = append(problems, &ValidationError{File: name, Index: index, Reason: fmt.Sprintf(format, args...)})
	}

	if file.Info.FormatVersion != formatVersion {
		addProblem(-1, "format version %d, want %d", file.Info.FormatVersion, formatVersion)
	}

	jokes := make([]models.Joke, 0, len(file.Jokes))
	for i, raw := range file.Jokes {
		var j models.Joke
		if err := json.Unmarshal(raw, &j); err != nil {
			addProblem(i, "%v", err)
			continue
		}

		if j.ID != i {
			addProblem(i, "id %d is not contiguous, want %d", j.ID, i)
		}
		if err := j.Validate(); err != nil {
			addProblem(i, "%v", err)
		}

		category, ok := cat.ResolveCategory(j.Category)
		if !ok || category == catalog.AnyCategory {
			addProblem(i, "%v %q", catalog.ErrUnknownCategory, j.Category)
		}
		j.Category = category

		if _, ok := cat.ResolveType(string(j.Type())); !ok {
			addProblem(i, "joke type %q is not enabled", j.Type())
		}
		if j.Lang != lang {
			addProblem(i, "lang %q does not match file language %q", j.Lang, lang)
		}
		if j.Safe && (j.Flags.Any() || cat.IsUnsafeCategory(j.Category)) {
			addProblem(i, "joke is marked safe but has flags set or an unsafe category")
		}

		jokes = append(jokes, j)
	}

	return jokes, problems, nil
}

// Holder publishes the current corpus to concurrent readers.
type Holder struct {
	current atomic.Pointer[Corpus]
}

func NewHolder(c *Corpus) *Holder {
	h := &Holder{}
	h.current.Store(c)
	return h
}

// Get returns the corpus in effect. A request should call it once and keep the result.
func (h *Holder) Get() *Corpus {
	return h.current.Load()
}

func (h *Holder) Swap(c *Corpus) {
	h.current.Store(c)
}
