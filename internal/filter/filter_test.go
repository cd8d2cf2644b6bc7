package filter

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"jokeapi/internal/catalog"
	"jokeapi/internal/corpus"
	"jokeapi/internal/models"
	"jokeapi/internal/search"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var client = func() string {
	sum := sha256.Sum256([]byte("203.0.113.7"))
	return hex.EncodeToString(sum[:])
}()

func single(id int, category, text string, flags models.Flags, safe bool) models.Joke {
	return models.Joke{ID: id, Category: category, Body: models.SingleBody{Joke: text}, Flags: flags, Lang: "en", Safe: safe}
}

func twoPart(id int, category, setup, delivery string, flags models.Flags, safe bool) models.Joke {
	return models.Joke{ID: id, Category: category, Body: models.TwoPartBody{Setup: setup, Delivery: delivery}, Flags: flags, Lang: "en", Safe: safe}
}

func testCorpus() *corpus.Corpus {
	return corpus.New(map[string][]models.Joke{
		"en": {
			single(0, "Programming", "I've got a really good UDP joke to tell you but I don't know if you'll get it.", models.Flags{}, true),
			twoPart(1, "Misc", "Why did the chicken cross the road?", "To get to the other side.", models.Flags{}, true),
			single(2, "Dark", "Dark humor is like food, not everyone gets it.", models.Flags{}, false),
			twoPart(3, "Pun", "What do you call a fake noodle?", "An impasta.", models.Flags{Religious: true}, false),
			twoPart(4, "Programming", "Why do programmers prefer dark mode?", "Because light attracts bugs.", models.Flags{}, true),
			single(5, "Spooky", "What room does a ghost not need? A living room.", models.Flags{Political: true}, false),
		},
		"de": {
			{ID: 0, Category: "Misc", Body: models.SingleBody{Joke: "Ein Witz."}, Lang: "de", Safe: true},
		},
	})
}

type fakeCache struct {
	ids      []int
	err      error
	block    bool
	calls    atomic.Int32
	lastHash string
	lastLang string
}

func (c *fakeCache) ListEntries(ctx context.Context, clientHash, lang string) ([]int, error) {
	c.calls.Add(1)
	c.lastHash, c.lastLang = clientHash, lang
	if c.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return c.ids, c.err
}

func newFilter(cache CacheReader) *FilteredJoke {
	return New(testCorpus(), catalog.Default(), cache, Settings{})
}

func ids(jokes []models.Joke) []int {
	out := make([]int, 0, len(jokes))
	for _, j := range jokes {
		out = append(out, j.ID)
	}
	return out
}

func TestNew_Defaults(t *testing.T) {
	f := newFilter(nil)

	assert.True(t, f.AllowsAnyCategory())
	assert.Equal(t, catalog.Default().Categories, f.Categories())
	assert.Equal(t, []models.JokeType{models.TypeSingle, models.TypeTwoPart}, f.Types())
	assert.Equal(t, "en", f.Language())
	assert.Equal(t, 1, f.Amount())
	assert.False(t, f.SafeMode())
	assert.Empty(t, f.BlacklistFlags())
	assert.Empty(t, f.Errors())

	_, _, modified := f.IDRange()
	assert.False(t, modified)
}

func TestSetAllowedCategories(t *testing.T) {
	tests := []struct {
		name    string
		input   []string
		want    []string
		wantAny bool
		wantErr bool
	}{
		{name: "canonical in other case", input: []string{"programming"}, want: []string{"Programming"}},
		{name: "alias", input: []string{"Coding", "pun"}, want: []string{"Programming", "Pun"}},
		{name: "duplicates collapse", input: []string{"Misc", "miscellaneous", "MISC"}, want: []string{"Misc"}},
		{name: "any wins", input: []string{"Misc", "any"}, want: catalog.Default().Categories, wantAny: true},
		{name: "unknown", input: []string{"Misc", "Knock-Knock"}, want: catalog.Default().Categories, wantAny: true, wantErr: true},
		{name: "empty", input: nil, want: catalog.Default().Categories, wantAny: true, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFilter(nil)
			err := f.SetAllowedCategories(tt.input...)

			if tt.wantErr {
				var vErr *ValidationError
				require.True(t, errors.As(err, &vErr))
				assert.Equal(t, "category", vErr.Param)
				assert.Len(t, f.Errors(), 1)
			} else {
				require.NoError(t, err)
				assert.Empty(t, f.Errors())
			}
			assert.Equal(t, tt.want, f.Categories())
			assert.Equal(t, tt.wantAny, f.AllowsAnyCategory())
		})
	}
}

func TestSetters_AreIdempotent(t *testing.T) {
	f := newFilter(nil)

	for i := 0; i < 2; i++ {
		require.NoError(t, f.SetAllowedCategories("Coding", "Pun"))
		require.NoError(t, f.SetAllowedType("twopart"))
		require.NoError(t, f.SetBlacklistFlags("nsfw", "racist"))
		require.NoError(t, f.SetLanguage("de"))
		require.NoError(t, f.SetAmount("4"))
	}

	assert.Equal(t, []string{"Programming", "Pun"}, f.Categories())
	assert.Equal(t, []models.JokeType{models.TypeTwoPart}, f.Types())
	assert.Equal(t, []models.Flag{models.FlagNSFW, models.FlagRacist}, f.BlacklistFlags())
	assert.Equal(t, "de", f.Language())
	assert.Equal(t, 4, f.Amount())
}

func TestSetAllowedType(t *testing.T) {
	f := newFilter(nil)

	require.NoError(t, f.SetAllowedType("TwoPart"))
	assert.Equal(t, []models.JokeType{models.TypeTwoPart}, f.Types())

	err := f.SetAllowedType("limerick")
	assert.Error(t, err)
	assert.Equal(t, []models.JokeType{models.TypeTwoPart}, f.Types(), "failed call keeps the previous value")
}

func TestSetIDRange(t *testing.T) {
	tests := []struct {
		name     string
		start    string
		end      string
		lang     string
		wantFrom int
		wantTo   int
		wantErr  bool
	}{
		{name: "range", start: "1", end: "3", wantFrom: 1, wantTo: 3},
		{name: "single id", start: "2", end: "", wantFrom: 2, wantTo: 2},
		{name: "full range", start: "0", end: "5", wantFrom: 0, wantTo: 5},
		{name: "explicit language", start: "0", end: "0", lang: "de", wantFrom: 0, wantTo: 0},
		{name: "negative start", start: "-1", end: "2", wantErr: true},
		{name: "end before start", start: "3", end: "1", wantErr: true},
		{name: "end past last id", start: "0", end: "6", wantErr: true},
		{name: "end past last id of language", start: "0", end: "1", lang: "de", wantErr: true},
		{name: "language without jokes", start: "0", end: "0", lang: "fr", wantErr: true},
		{name: "unknown language", start: "0", end: "0", lang: "xx", wantErr: true},
		{name: "not a number", start: "one", end: "2", wantErr: true},
		{name: "end not a number", start: "0", end: "two", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFilter(nil)
			err := f.SetIDRange(tt.start, tt.end, tt.lang)

			from, to, modified := f.IDRange()
			if tt.wantErr {
				assert.Error(t, err)
				assert.False(t, modified)
				assert.Len(t, f.Errors(), 1)
				return
			}
			require.NoError(t, err)
			assert.True(t, modified)
			assert.Equal(t, tt.wantFrom, from)
			assert.Equal(t, tt.wantTo, to)
		})
	}
}

func TestSetBlacklistFlags_AllOrNothing(t *testing.T) {
	f := newFilter(nil)

	require.NoError(t, f.SetBlacklistFlags("NSFW", "religious", "nsfw"))
	assert.Equal(t, []models.Flag{models.FlagNSFW, models.FlagReligious}, f.BlacklistFlags())

	err := f.SetBlacklistFlags("political", "offensive")
	assert.Error(t, err)
	assert.Equal(t, []models.Flag{models.FlagNSFW, models.FlagReligious}, f.BlacklistFlags())

	require.NoError(t, f.SetBlacklistFlags())
	assert.Empty(t, f.BlacklistFlags())
}

func TestSetLanguage(t *testing.T) {
	f := newFilter(nil)

	require.NoError(t, f.SetLanguage(" DE "))
	assert.Equal(t, "de", f.Language())

	assert.Error(t, f.SetLanguage("xx"))
	assert.Equal(t, "de", f.Language())
}

func TestSetSafeMode(t *testing.T) {
	tests := []struct {
		input any
		want  bool
	}{
		{true, true},
		{false, false},
		{"true", false},
		{1, false},
		{nil, false},
	}

	for _, tt := range tests {
		f := newFilter(nil)
		require.NoError(t, f.SetSafeMode(tt.input))
		if got := f.SafeMode(); got != tt.want {
			t.Errorf("SetSafeMode(%#v) -> SafeMode() = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestSetAmount(t *testing.T) {
	tests := []struct {
		input   string
		want    int
		wantErr bool
	}{
		{"3", 3, false},
		{"10", 10, false},
		{"0", 1, true},
		{"11", 1, true},
		{"-2", 1, true},
		{"many", 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			f := newFilter(nil)
			err := f.SetAmount(tt.input)
			assert.Equal(t, tt.wantErr, err != nil)
			assert.Equal(t, tt.want, f.Amount())
		})
	}

	f := New(testCorpus(), catalog.Default(), nil, Settings{MaxAmount: 3})
	assert.Error(t, f.SetAmountInt(4))
	assert.NoError(t, f.SetAmountInt(3))
}

func TestSelect_Predicates(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *FilteredJoke)
		want  []int
	}{
		{name: "no criteria", setup: func(f *FilteredJoke) {}, want: []int{0, 1, 2, 3, 4, 5}},
		{name: "safe mode", setup: func(f *FilteredJoke) { f.SetSafeMode(true) }, want: []int{0, 1, 4}},
		{name: "category", setup: func(f *FilteredJoke) { f.SetAllowedCategories("programming") }, want: []int{0, 4}},
		{name: "type", setup: func(f *FilteredJoke) { f.SetAllowedType("twopart") }, want: []int{1, 3, 4}},
		{name: "blacklist", setup: func(f *FilteredJoke) { f.SetBlacklistFlags("religious", "political") }, want: []int{0, 1, 2, 4}},
		{name: "substring search", setup: func(f *FilteredJoke) { f.SetSearchString("chicken") }, want: []int{1}},
		{name: "search is case insensitive", setup: func(f *FilteredJoke) { f.SetSearchString("CHICKEN") }, want: []int{1}},
		{name: "search spans setup and delivery", setup: func(f *FilteredJoke) { f.SetSearchString("mode? Because") }, want: []int{4}},
		{name: "encoded search", setup: func(f *FilteredJoke) { f.SetSearchString("chicken%20cross") }, want: []int{1}},
		{name: "wildcard search", setup: func(f *FilteredJoke) { f.SetSearchString("chick*road") }, want: []int{1}},
		{name: "alternation search", setup: func(f *FilteredJoke) { f.SetSearchString("noodle|ghost") }, want: []int{3, 5}},
		{name: "id range", setup: func(f *FilteredJoke) { f.SetIDRange("2", "4", "") }, want: []int{2, 3, 4}},
		{name: "language", setup: func(f *FilteredJoke) { f.SetLanguage("de") }, want: []int{0}},
		{
			name: "combined",
			setup: func(f *FilteredJoke) {
				f.SetSafeMode(true)
				f.SetAllowedType("twopart")
				f.SetAllowedCategories("Coding", "Dark")
			},
			want: []int{4},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFilter(nil)
			require.NoError(t, f.SetAmountInt(DefaultMaxAmount))
			tt.setup(f)

			jokes, err := f.Select(context.Background(), client)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(jokes))
		})
	}
}

func TestSelect_SafeModeExcludesUnsafeCategory(t *testing.T) {
	c := corpus.New(map[string][]models.Joke{
		"en": {
			{ID: 0, Category: "Dark", Body: models.SingleBody{Joke: "Marked safe but dark."}, Lang: "en", Safe: true},
			{ID: 1, Category: "Misc", Body: models.SingleBody{Joke: "Harmless."}, Lang: "en", Safe: true},
		},
	})
	f := New(c, catalog.Default(), nil, Settings{})
	f.SetSafeMode(true)
	require.NoError(t, f.SetAmountInt(2))

	jokes, err := f.Select(context.Background(), client)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, ids(jokes))
}

func TestSelect_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("invalid client hash", func(t *testing.T) {
		_, err := newFilter(nil).Select(ctx, "127.0.0.1")
		assert.ErrorIs(t, err, ErrInvalidClientHash)
	})

	t.Run("no match", func(t *testing.T) {
		f := newFilter(nil)
		f.SetSearchString("this text appears nowhere")
		_, err := f.Select(ctx, client)
		assert.ErrorIs(t, err, ErrNoMatchingJoke)
	})

	t.Run("no match after failed setter", func(t *testing.T) {
		f := newFilter(nil)
		f.SetLanguage("xx")
		f.SetSearchString("this text appears nowhere")

		_, err := f.Select(ctx, client)
		var fErr *FilterErrors
		require.True(t, errors.As(err, &fErr))
		require.Len(t, fErr.Messages, 1)
		assert.Contains(t, fErr.Messages[0], "xx")
	})

	t.Run("failed setter does not block a match", func(t *testing.T) {
		f := newFilter(nil)
		f.SetAmount("50")
		jokes, err := f.Select(ctx, client)
		require.NoError(t, err)
		assert.Len(t, jokes, 1)
	})

	t.Run("canceled context", func(t *testing.T) {
		canceled, cancel := context.WithCancel(ctx)
		cancel()
		_, err := newFilter(nil).Select(canceled, client)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestSelect_RejectsPathologicalSearch(t *testing.T) {
	f := newFilter(nil)
	f.SetSearchString(strings.Repeat("a*", 40) + "b")

	start := time.Now()
	_, err := f.Select(context.Background(), client)

	assert.ErrorIs(t, err, search.ErrPatternTooComplex)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestSelect_CacheExclusion(t *testing.T) {
	ctx := context.Background()

	t.Run("served jokes are skipped", func(t *testing.T) {
		cache := &fakeCache{ids: []int{0, 1, 2, 3, 4}}
		f := newFilter(cache)

		jokes, err := f.Select(ctx, client)
		require.NoError(t, err)
		assert.Equal(t, []int{5}, ids(jokes))
		assert.Equal(t, client, cache.lastHash)
		assert.Equal(t, "en", cache.lastLang)
	})

	t.Run("everything served", func(t *testing.T) {
		f := newFilter(&fakeCache{ids: []int{0, 1, 2, 3, 4, 5}})
		_, err := f.Select(ctx, client)
		assert.ErrorIs(t, err, ErrNoMatchingJoke)
	})

	t.Run("id range bypasses the cache", func(t *testing.T) {
		cache := &fakeCache{ids: []int{0, 1, 2, 3, 4, 5}}
		f := newFilter(cache)
		require.NoError(t, f.SetIDRange("1", "2", ""))
		require.NoError(t, f.SetAmountInt(5))

		jokes, err := f.Select(ctx, client)
		require.NoError(t, err)
		assert.Equal(t, []int{1, 2}, ids(jokes))
		assert.Zero(t, cache.calls.Load())
	})

	t.Run("cache failure means no exclusions", func(t *testing.T) {
		f := newFilter(&fakeCache{err: errors.New("connection refused")})
		require.NoError(t, f.SetAmountInt(10))

		jokes, err := f.Select(ctx, client)
		require.NoError(t, err)
		assert.Len(t, jokes, 6)
	})

	t.Run("slow cache times out", func(t *testing.T) {
		f := New(testCorpus(), catalog.Default(), &fakeCache{block: true}, Settings{CacheTimeout: 20 * time.Millisecond})
		require.NoError(t, f.SetAmountInt(10))

		jokes, err := f.Select(ctx, client)
		require.NoError(t, err)
		assert.Len(t, jokes, 6)
	})
}

func TestSelect_SamplesWithoutReplacement(t *testing.T) {
	f := newFilter(nil)
	require.NoError(t, f.SetAmountInt(4))

	for i := 0; i < 50; i++ {
		jokes, err := f.Select(context.Background(), client)
		require.NoError(t, err)
		require.Len(t, jokes, 4)

		seen := make(map[int]bool)
		for _, j := range jokes {
			assert.False(t, seen[j.ID], "joke %d picked twice", j.ID)
			seen[j.ID] = true
		}
	}
}

func TestSelect_UsesPermutation(t *testing.T) {
	f := newFilter(nil)
	f.perm = func(n int) []int {
		out := make([]int, n)
		for i := range out {
			out[i] = n - 1 - i
		}
		return out
	}
	require.NoError(t, f.SetAmountInt(3))

	jokes, err := f.Select(context.Background(), client)
	require.NoError(t, err)
	assert.Equal(t, []int{5, 4, 3}, ids(jokes))
}

func TestSelect_AmountLargerThanPool(t *testing.T) {
	f := newFilter(nil)
	require.NoError(t, f.SetAllowedCategories("Programming"))
	require.NoError(t, f.SetAmountInt(10))

	jokes, err := f.Select(context.Background(), client)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 4}, ids(jokes))
}

// A typical request: two categories, safe mode, a blacklist and an amount, served twice to the
// same client through a cache that remembers the first response.
func TestSelect_RepeatedRequestsFromOneClient(t *testing.T) {
	ctx := context.Background()
	cache := &fakeCache{}

	build := func() *FilteredJoke {
		f := newFilter(cache)
		require.NoError(t, f.SetAllowedCategories("Programming", "Misc"))
		require.NoError(t, f.SetSafeMode(true))
		require.NoError(t, f.SetBlacklistFlags("nsfw", "racist", "sexist"))
		require.NoError(t, f.SetAmount("2"))
		return f
	}

	first, err := build().Select(ctx, client)
	require.NoError(t, err)
	require.Len(t, first, 2)
	for _, j := range first {
		assert.True(t, j.Safe)
		assert.Contains(t, []string{"Programming", "Misc"}, j.Category)
		cache.ids = append(cache.ids, j.ID)
	}

	second, err := build().Select(ctx, client)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.NotContains(t, cache.ids, second[0].ID)

	cache.ids = append(cache.ids, second[0].ID)
	_, err = build().Select(ctx, client)
	assert.ErrorIs(t, err, ErrNoMatchingJoke)
}
