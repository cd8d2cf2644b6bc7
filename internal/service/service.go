// Package service answers joke requests: it applies request parameters to a filter, selects jokes and
// records what each client was served.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"jokeapi/internal/cache"
	"jokeapi/internal/catalog"
	"jokeapi/internal/corpus"
	"jokeapi/internal/filter"
	"jokeapi/internal/metrics"
	"jokeapi/internal/models"
	"jokeapi/internal/search"
	"jokeapi/pkg/logger"
)

const recordTimeout = 5 * time.Second

// Request carries the raw request parameters. Zero values mean "not provided".
type Request struct {
	ClientHash     string
	Categories     []string
	Type           string
	Contains       string
	IDRange        string
	BlacklistFlags []string
	Lang           string
	SafeMode       bool
	Amount         string
}

type Result struct {
	Jokes []models.Joke
	Lang  string
}

type Service struct {
	corpus   *corpus.Holder
	catalog  *catalog.Catalog
	store    cache.Store
	recorder Recorder
	metrics  metrics.Metrics
	settings filter.Settings
	clock    func() time.Time
}

// New returns a service. store is required; recorder defaults to writing to store directly and m to
// no-op metrics.
func New(holder *corpus.Holder, cat *catalog.Catalog, store cache.Store, recorder Recorder, m metrics.Metrics, settings filter.Settings) *Service {
	if recorder == nil {
		recorder = NewStoreRecorder(store)
	}
	if m == nil {
		m = metrics.Noop()
	}
	if settings.MaxAmount <= 0 {
		settings.MaxAmount = filter.DefaultMaxAmount
	}
	return &Service{
		corpus:   holder,
		catalog:  cat,
		store:    store,
		recorder: recorder,
		metrics:  m,
		settings: settings,
		clock:    time.Now,
	}
}

// ClientHash derives the cache key for a client identity such as an IP address or a chat ID.
func ClientHash(identity string) string {
	sum := sha256.Sum256([]byte(identity))
	return hex.EncodeToString(sum[:])
}

// GetJokes rejects the request with *filter.FilterErrors when any parameter is invalid.
func (s *Service) GetJokes(ctx context.Context, req Request) (*Result, error) {
	start := s.clock()

	f := s.buildFilter(req)
	lang := f.Language()

	if msgs := f.Errors(); len(msgs) > 0 {
		s.record(ctx, lang, 0, start, metrics.OutcomeInvalidFilter)
		return nil, &filter.FilterErrors{Messages: msgs}
	}

	jokes, err := f.Select(ctx, req.ClientHash)
	if err != nil {
		s.record(ctx, lang, 0, start, outcomeOf(err))
		return nil, err
	}

	ids := make([]int, 0, len(jokes))
	for _, j := range jokes {
		ids = append(ids, j.ID)
	}

	// Recording runs past a canceled request so a disconnecting client still has its history kept.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := s.recorder.RecordServed(recordCtx, req.ClientHash, lang, ids); err != nil {
		s.metrics.RecordCacheFallback(ctx)
		logger.Warn("Failed to record served jokes",
			logger.Err(err),
			logger.String("lang", lang),
			logger.Ints("joke_ids", ids),
		)
	}

	s.record(ctx, lang, len(jokes), start, metrics.OutcomeServed)
	return &Result{Jokes: jokes, Lang: lang}, nil
}

func (s *Service) buildFilter(req Request) *filter.FilteredJoke {
	f := filter.New(s.corpus.Get(), s.catalog, s.store, s.settings)

	// Language first: the ID range is checked against the requested language.
	if req.Lang != "" {
		f.SetLanguage(req.Lang)
	}
	if len(req.Categories) > 0 {
		f.SetAllowedCategories(req.Categories...)
	}
	if req.Type != "" {
		f.SetAllowedType(req.Type)
	}
	if req.Contains != "" {
		f.SetSearchString(req.Contains)
	}
	if req.IDRange != "" {
		start, end := SplitIDRange(req.IDRange)
		f.SetIDRange(start, end, "")
	}
	if len(req.BlacklistFlags) > 0 {
		f.SetBlacklistFlags(req.BlacklistFlags...)
	}
	f.SetSafeMode(req.SafeMode)
	if req.Amount != "" {
		f.SetAmount(s.clampAmount(req.Amount))
	}
	return f
}

// clampAmount lowers numeric amounts above the maximum. Other values are passed on for validation.
func (s *Service) clampAmount(raw string) string {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= s.settings.MaxAmount {
		return raw
	}
	return strconv.Itoa(s.settings.MaxAmount)
}

// SplitIDRange splits "start-end" into its bounds. A single number yields an empty end.
func SplitIDRange(raw string) (start, end string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ""
	}
	// A leading minus belongs to the start value.
	if i := strings.Index(raw[1:], "-"); i >= 0 {
		return raw[:i+1], raw[i+2:]
	}
	return raw, ""
}

func outcomeOf(err error) metrics.Outcome {
	var filterErrs *filter.FilterErrors
	switch {
	case errors.As(err, &filterErrs):
		return metrics.OutcomeInvalidFilter
	case errors.Is(err, filter.ErrNoMatchingJoke):
		return metrics.OutcomeNoMatch
	case errors.Is(err, search.ErrPatternTooComplex), errors.Is(err, search.ErrInvalidPattern):
		return metrics.OutcomeSearchRejected
	default:
		return metrics.OutcomeInternal
	}
}

func (s *Service) record(ctx context.Context, lang string, served int, start time.Time, outcome metrics.Outcome) {
	s.metrics.RecordSelection(ctx, metrics.Selection{
		Lang:     lang,
		Served:   served,
		Duration: s.clock().Sub(start),
		Outcome:  outcome,
	})
}

// ClearHistory forgets every joke served to the client.
func (s *Service) ClearHistory(ctx context.Context, clientHash string) (int64, error) {
	deleted, err := s.store.ClearEntries(ctx, clientHash)
	if err != nil {
		return 0, fmt.Errorf("failed to clear joke history: %w", err)
	}
	s.metrics.RecordCacheCleared(ctx, deleted)
	return deleted, nil
}

type Info struct {
	Jokes      corpus.Stats `json:"jokes"`
	Categories []string     `json:"categories"`
	Flags      []string     `json:"flags"`
	Types      []string     `json:"types"`
	Languages  []string     `json:"languages"`
	MaxAmount  int          `json:"maxAmount"`
}

func (s *Service) Info() Info {
	return Info{
		Jokes:      s.corpus.Get().Stats(),
		Categories: append([]string{catalog.AnyCategory}, s.catalog.Categories...),
		Flags:      append([]string(nil), s.catalog.Flags...),
		Types:      append([]string(nil), s.catalog.Types...),
		Languages:  s.corpus.Get().Languages(),
		MaxAmount:  s.settings.MaxAmount,
	}
}
