// Package filter builds a per-request joke filter and selects jokes that satisfy it.
//
// A FilteredJoke is created for one request, configured through its setters and consumed once by
// Select. Every setter validates its input independently: on failure it returns a *ValidationError,
// records the message and leaves the filter unchanged.
package filter

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"jokeapi/internal/cache"
	"jokeapi/internal/catalog"
	"jokeapi/internal/corpus"
	"jokeapi/internal/models"
	"jokeapi/internal/search"
	"jokeapi/pkg/logger"
)

const (
	DefaultMaxAmount    = 10
	DefaultCacheTimeout = 2 * time.Second
)

var (
	ErrNoMatchingJoke    = errors.New("No matching joke found")
	ErrInvalidClientHash = errors.New("internal error: malformed client identity hash")
)

// CacheReader is the part of the cache store selection needs.
type CacheReader interface {
	ListEntries(ctx context.Context, clientHash, lang string) ([]int, error)
}

type Settings struct {
	MaxAmount    int
	CacheTimeout time.Duration
	Search       search.Options
}

func (s Settings) withDefaults() Settings {
	if s.MaxAmount <= 0 {
		s.MaxAmount = DefaultMaxAmount
	}
	if s.CacheTimeout <= 0 {
		s.CacheTimeout = DefaultCacheTimeout
	}
	return s
}

// ValidationError is returned by a setter that rejected its input.
type ValidationError struct {
	Param   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// FilterErrors carries every validation message recorded on a filter.
type FilterErrors struct {
	Messages []string
}

func (e *FilterErrors) Error() string {
	return "invalid joke filter: " + strings.Join(e.Messages, "; ")
}

type FilteredJoke struct {
	corpus   *corpus.Corpus
	catalog  *catalog.Catalog
	cache    CacheReader
	settings Settings
	perm     func(n int) []int

	anyCategory     bool
	categories      map[string]bool
	types           map[models.JokeType]bool
	searchString    string
	idMin, idMax    int
	idRangeModified bool
	blacklist       []models.Flag
	language        string
	safeMode        bool
	amount          int

	errors []string
}

// New returns a filter that allows every joke of the catalog's default language, one at a time.
// cache may be nil, in which case nothing is excluded.
func New(c *corpus.Corpus, cat *catalog.Catalog, cache CacheReader, settings Settings) *FilteredJoke {
	f := &FilteredJoke{
		corpus:      c,
		catalog:     cat,
		cache:       cache,
		settings:    settings.withDefaults(),
		perm:        rand.Perm,
		anyCategory: true,
		categories:  allCategories(cat),
		types:       make(map[models.JokeType]bool, len(cat.Types)),
		language:    cat.DefaultLanguage,
		amount:      1,
	}
	for _, t := range cat.Types {
		f.types[models.JokeType(t)] = true
	}
	return f
}

func allCategories(cat *catalog.Catalog) map[string]bool {
	all := make(map[string]bool, len(cat.Categories))
	for _, c := range cat.Categories {
		all[c] = true
	}
	return all
}

func (f *FilteredJoke) fail(param, format string, args ...any) error {
	err := &ValidationError{Param: param, Message: fmt.Sprintf(format, args...)}
	f.errors = append(f.errors, err.Message)
	return err
}

// SetAllowedCategories accepts categories or aliases in any case. "Any" anywhere in the input
// allows every category.
func (f *FilteredJoke) SetAllowedCategories(categories ...string) error {
	if len(categories) == 0 {
		return f.fail("category", "No category was specified")
	}

	resolved := make(map[string]bool, len(categories))
	var unknown []string
	anyCategory := false
	for _, c := range categories {
		canonical, ok := f.catalog.ResolveCategory(c)
		switch {
		case !ok:
			unknown = append(unknown, c)
		case canonical == catalog.AnyCategory:
			anyCategory = true
		default:
			resolved[canonical] = true
		}
	}

	if len(unknown) > 0 {
		return f.fail("category", "Invalid category/categories: %q. Possible values: %s",
			unknown, strings.Join(append([]string{catalog.AnyCategory}, f.catalog.Categories...), ", "))
	}

	if anyCategory {
		f.anyCategory = true
		f.categories = allCategories(f.catalog)
		return nil
	}
	f.anyCategory = false
	f.categories = resolved
	return nil
}

func (f *FilteredJoke) SetAllowedType(jokeType string) error {
	t, ok := f.catalog.ResolveType(jokeType)
	if !ok {
		return f.fail("type", "Invalid joke type %q. Possible values: %s", jokeType, strings.Join(f.catalog.Types, ", "))
	}
	f.types = map[models.JokeType]bool{t: true}
	return nil
}

// SetSearchString stores the raw string. Decoding and pattern checks happen when jokes are selected.
func (f *FilteredJoke) SetSearchString(s string) error {
	f.searchString = s
	return nil
}

// SetIDRange restricts selection to IDs between start and end inclusive. An empty end means end equals
// start. lang selects the corpus used for the upper bound and defaults to the filter's language.
// A successful call disables cache based exclusion for this request.
func (f *FilteredJoke) SetIDRange(start, end, lang string) error {
	from, err := strconv.Atoi(strings.TrimSpace(start))
	if err != nil {
		return f.fail("idRange", "ID range start %q is not a number", start)
	}
	to := from
	if strings.TrimSpace(end) != "" {
		to, err = strconv.Atoi(strings.TrimSpace(end))
		if err != nil {
			return f.fail("idRange", "ID range end %q is not a number", end)
		}
	}
	return f.SetIDRangeInts(from, to, lang)
}

func (f *FilteredJoke) SetIDRangeInts(from, to int, lang string) error {
	if lang == "" {
		lang = f.language
	}
	if !f.catalog.IsLanguage(lang) {
		return f.fail("idRange", "Invalid language code %q for the ID range", lang)
	}

	maxID := f.corpus.MaxID(lang)
	switch {
	case from < 0:
		return f.fail("idRange", "ID range start %d must not be negative", from)
	case to < from:
		return f.fail("idRange", "ID range end %d must not be lower than start %d", to, from)
	case to > maxID:
		return f.fail("idRange", "ID range end %d exceeds the highest joke ID %d for language %q", to, maxID, lang)
	}

	f.idMin, f.idMax = from, to
	f.idRangeModified = true
	return nil
}

// SetBlacklistFlags applies all flags or none.
func (f *FilteredJoke) SetBlacklistFlags(flags ...string) error {
	resolved := make([]models.Flag, 0, len(flags))
	var unknown []string
	for _, name := range flags {
		flag, ok := f.catalog.ResolveFlag(name)
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		if !containsFlag(resolved, flag) {
			resolved = append(resolved, flag)
		}
	}

	if len(unknown) > 0 {
		return f.fail("blacklistFlags", "Invalid blacklist flag(s): %q. Possible values: %s",
			unknown, strings.Join(f.catalog.Flags, ", "))
	}

	f.blacklist = resolved
	return nil
}

func containsFlag(flags []models.Flag, flag models.Flag) bool {
	for _, f := range flags {
		if f == flag {
			return true
		}
	}
	return false
}

func (f *FilteredJoke) SetLanguage(code string) error {
	code = strings.ToLower(strings.TrimSpace(code))
	if !f.catalog.IsLanguage(code) {
		return f.fail("lang", "Invalid language code %q. Possible values: %s", code, strings.Join(f.catalog.Languages, ", "))
	}
	f.language = code
	return nil
}

// SetSafeMode treats anything but a boolean true as false.
func (f *FilteredJoke) SetSafeMode(enabled any) error {
	b, ok := enabled.(bool)
	f.safeMode = ok && b
	return nil
}

func (f *FilteredJoke) SetAmount(amount string) error {
	n, err := strconv.Atoi(strings.TrimSpace(amount))
	if err != nil {
		return f.fail("amount", "Amount %q is not a number. It has to be between 1 and %d", amount, f.settings.MaxAmount)
	}
	return f.SetAmountInt(n)
}

func (f *FilteredJoke) SetAmountInt(n int) error {
	if n < 1 || n > f.settings.MaxAmount {
		return f.fail("amount", "Amount %d is out of range. It has to be between 1 and %d", n, f.settings.MaxAmount)
	}
	f.amount = n
	return nil
}

// Errors returns the messages of every failed setter call, in call order.
func (f *FilteredJoke) Errors() []string {
	return append([]string(nil), f.errors...)
}

func (f *FilteredJoke) Categories() []string {
	out := make([]string, 0, len(f.categories))
	for _, c := range f.catalog.Categories {
		if f.categories[c] {
			out = append(out, c)
		}
	}
	return out
}

func (f *FilteredJoke) AllowsAnyCategory() bool { return f.anyCategory }

func (f *FilteredJoke) Types() []models.JokeType {
	out := make([]models.JokeType, 0, len(f.types))
	for _, t := range f.catalog.Types {
		if f.types[models.JokeType(t)] {
			out = append(out, models.JokeType(t))
		}
	}
	return out
}

func (f *FilteredJoke) BlacklistFlags() []models.Flag {
	return append([]models.Flag(nil), f.blacklist...)
}

func (f *FilteredJoke) SearchString() string { return f.searchString }
func (f *FilteredJoke) Language() string     { return f.language }
func (f *FilteredJoke) SafeMode() bool       { return f.safeMode }
func (f *FilteredJoke) Amount() int          { return f.amount }

// IDRange returns the explicit range and whether one was set.
func (f *FilteredJoke) IDRange() (from, to int, modified bool) {
	return f.idMin, f.idMax, f.idRangeModified
}

// Select returns between 1 and Amount jokes that satisfy every criterion.
//
// Jokes already served to clientHash are excluded unless an ID range was set. A cache read that fails
// or times out is treated as an empty exclusion set. When nothing matches, Select returns
// *FilterErrors if any setter failed and ErrNoMatchingJoke otherwise.
func (f *FilteredJoke) Select(ctx context.Context, clientHash string) ([]models.Joke, error) {
	if !cache.ValidClientHash(clientHash) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidClientHash, clientHash)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	matcher, err := search.Compile(f.searchString, f.settings.Search)
	if err != nil {
		return nil, err
	}

	jokes := f.corpus.Jokes(f.language)
	excluded := f.excludedIDs(ctx, clientHash)

	idMin, idMax := 0, f.corpus.MaxID(f.language)
	if f.idRangeModified {
		idMin, idMax = f.idMin, f.idMax
	}

	candidates := make([]models.Joke, 0, len(jokes))
	for _, j := range jokes {
		if excluded[j.ID] {
			continue
		}
		ok, err := f.matches(j, idMin, idMax, matcher)
		if err != nil {
			return nil, err
		}
		if ok {
			candidates = append(candidates, j)
		}
	}

	if len(candidates) == 0 {
		if len(f.errors) > 0 {
			return nil, &FilterErrors{Messages: f.Errors()}
		}
		return nil, ErrNoMatchingJoke
	}

	if f.amount >= len(candidates) {
		return candidates, nil
	}

	picked := make([]models.Joke, 0, f.amount)
	for _, i := range f.perm(len(candidates))[:f.amount] {
		picked = append(picked, candidates[i])
	}
	return picked, nil
}

func (f *FilteredJoke) excludedIDs(ctx context.Context, clientHash string) map[int]bool {
	if f.idRangeModified || f.cache == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, f.settings.CacheTimeout)
	defer cancel()

	ids, err := f.cache.ListEntries(ctx, clientHash, f.language)
	if err != nil {
		logger.Warn("Joke cache unavailable, selecting without exclusions",
			logger.Err(err),
			logger.String("lang", f.language),
		)
		return nil
	}

	excluded := make(map[int]bool, len(ids))
	for _, id := range ids {
		excluded[id] = true
	}
	return excluded
}

// matches evaluates the predicates in a fixed order and stops at the first one that rejects.
func (f *FilteredJoke) matches(j models.Joke, idMin, idMax int, matcher *search.Matcher) (bool, error) {
	if f.safeMode && (!j.Safe || f.catalog.IsUnsafeCategory(j.Category)) {
		return false, nil
	}
	if j.ID < idMin || j.ID > idMax {
		return false, nil
	}
	if !f.anyCategory && !f.categories[j.Category] {
		return false, nil
	}
	for _, flag := range f.blacklist {
		if j.Flags.Has(flag) {
			return false, nil
		}
	}
	if !f.types[j.Type()] {
		return false, nil
	}

	text, err := j.SearchText()
	if err != nil {
		return false, err
	}
	ok, err := matcher.Match(text)
	if err != nil || !ok {
		return false, err
	}

	return j.Lang == f.language, nil
}
