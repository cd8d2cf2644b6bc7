package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrUnknownJokeType = errors.New("unknown joke type")
	ErrEmptyJokeText   = errors.New("joke text is empty")
)

type JokeType string

const (
	TypeSingle  JokeType = "single"
	TypeTwoPart JokeType = "twopart"
)

type Flag string

const (
	FlagNSFW      Flag = "nsfw"
	FlagReligious Flag = "religious"
	FlagPolitical Flag = "political"
	FlagRacist    Flag = "racist"
	FlagSexist    Flag = "sexist"
	FlagExplicit  Flag = "explicit"
)

// AllFlags lists the flags every joke must carry, in output order.
var AllFlags = []Flag{FlagNSFW, FlagReligious, FlagPolitical, FlagRacist, FlagSexist, FlagExplicit}

type Flags struct {
	NSFW      bool `json:"nsfw"`
	Religious bool `json:"religious"`
	Political bool `json:"political"`
	Racist    bool `json:"racist"`
	Sexist    bool `json:"sexist"`
	Explicit  bool `json:"explicit"`
}

// Has reports whether the named flag is set. Unknown names are never set.
func (f Flags) Has(flag Flag) bool {
	switch flag {
	case FlagNSFW:
		return f.NSFW
	case FlagReligious:
		return f.Religious
	case FlagPolitical:
		return f.Political
	case FlagRacist:
		return f.Racist
	case FlagSexist:
		return f.Sexist
	case FlagExplicit:
		return f.Explicit
	default:
		return false
	}
}

// UnmarshalJSON requires every flag to be present as a boolean.
func (f *Flags) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("flags: %w", err)
	}

	values := make(map[Flag]bool, len(AllFlags))
	for _, flag := range AllFlags {
		v, ok := raw[string(flag)]
		if !ok {
			return fmt.Errorf("flags: missing %q", flag)
		}
		b, ok := v.(bool)
		if !ok {
			return fmt.Errorf("flags: %q is not a boolean", flag)
		}
		values[flag] = b
	}

	*f = Flags{
		NSFW:      values[FlagNSFW],
		Religious: values[FlagReligious],
		Political: values[FlagPolitical],
		Racist:    values[FlagRacist],
		Sexist:    values[FlagSexist],
		Explicit:  values[FlagExplicit],
	}
	return nil
}

func (f Flags) Any() bool {
	for _, flag := range AllFlags {
		if f.Has(flag) {
			return true
		}
	}
	return false
}

// Body is the type-specific part of a joke. It is implemented by SingleBody and TwoPartBody only.
type Body interface {
	Type() JokeType
	isBody()
}

type SingleBody struct {
	Joke string `json:"joke"`
}

func (SingleBody) Type() JokeType { return TypeSingle }
func (SingleBody) isBody()        {}

type TwoPartBody struct {
	Setup    string `json:"setup"`
	Delivery string `json:"delivery"`
}

func (TwoPartBody) Type() JokeType { return TypeTwoPart }
func (TwoPartBody) isBody()        {}

type Joke struct {
	ID       int
	Category string
	Body     Body
	Flags    Flags
	Lang     string
	Safe     bool
}

func (j Joke) Type() JokeType {
	if j.Body == nil {
		return ""
	}
	return j.Body.Type()
}

// SearchText returns the text the search predicate runs against.
func (j Joke) SearchText() (string, error) {
	switch b := j.Body.(type) {
	case SingleBody:
		return b.Joke, nil
	case TwoPartBody:
		return b.Setup + " " + b.Delivery, nil
	default:
		return "", fmt.Errorf("joke %d: %w", j.ID, ErrUnknownJokeType)
	}
}

// Validate checks the body variant is known and carries text.
func (j Joke) Validate() error {
	switch b := j.Body.(type) {
	case SingleBody:
		if b.Joke == "" {
			return ErrEmptyJokeText
		}
	case TwoPartBody:
		if b.Setup == "" || b.Delivery == "" {
			return ErrEmptyJokeText
		}
	default:
		return ErrUnknownJokeType
	}
	return nil
}

// wireJoke is the flat JSON shape used by both the data files and API responses.
type wireJoke struct {
	Category string   `json:"category"`
	Type     JokeType `json:"type"`
	Joke     *string  `json:"joke,omitempty"`
	Setup    *string  `json:"setup,omitempty"`
	Delivery *string  `json:"delivery,omitempty"`
	Flags    *Flags   `json:"flags"`
	ID       int      `json:"id"`
	Safe     bool     `json:"safe"`
	Lang     string   `json:"lang"`
}

func (j Joke) MarshalJSON() ([]byte, error) {
	w := wireJoke{
		Category: j.Category,
		Flags:    &j.Flags,
		ID:       j.ID,
		Safe:     j.Safe,
		Lang:     j.Lang,
	}
	switch b := j.Body.(type) {
	case SingleBody:
		w.Type = TypeSingle
		w.Joke = &b.Joke
	case TwoPartBody:
		w.Type = TypeTwoPart
		w.Setup = &b.Setup
		w.Delivery = &b.Delivery
	default:
		return nil, fmt.Errorf("joke %d: %w", j.ID, ErrUnknownJokeType)
	}
	return json.Marshal(w)
}

func (j *Joke) UnmarshalJSON(data []byte) error {
	var w wireJoke
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.Flags == nil {
		return fmt.Errorf("joke %d: missing flags", w.ID)
	}

	switch w.Type {
	case TypeSingle:
		if w.Joke == nil {
			return fmt.Errorf("joke %d: single joke without \"joke\" field", w.ID)
		}
		j.Body = SingleBody{Joke: *w.Joke}
	case TypeTwoPart:
		if w.Setup == nil || w.Delivery == nil {
			return fmt.Errorf("joke %d: twopart joke without \"setup\"/\"delivery\" fields", w.ID)
		}
		j.Body = TwoPartBody{Setup: *w.Setup, Delivery: *w.Delivery}
	default:
		return fmt.Errorf("joke %d: %w %q", w.ID, ErrUnknownJokeType, w.Type)
	}

	j.ID = w.ID
	j.Category = w.Category
	j.Flags = *w.Flags
	j.Lang = w.Lang
	j.Safe = w.Safe
	return nil
}

// CacheEntry records that a joke was served to a client.
type CacheEntry struct {
	ClientHash string    `json:"client_hash"`
	JokeID     int       `json:"joke_id"`
	Lang       string    `json:"lang"`
	InsertedAt time.Time `json:"inserted_at"`
}
