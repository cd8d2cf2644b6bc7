package bot

import (
	"context"
	"errors"
	"strings"
	"testing"

	"jokeapi/internal/cache"
	"jokeapi/internal/config"
	"jokeapi/internal/corpus"
	"jokeapi/internal/filter"
	"jokeapi/internal/models"
	"jokeapi/internal/service"
)

type fakeService struct {
	lastReq service.Request
	result  *service.Result
	err     error
	cleared string
}

func (s *fakeService) GetJokes(_ context.Context, req service.Request) (*service.Result, error) {
	s.lastReq = req
	return s.result, s.err
}

func (s *fakeService) ClearHistory(_ context.Context, clientHash string) (int64, error) {
	s.cleared = clientHash
	return 3, nil
}

func (s *fakeService) Info() service.Info {
	return service.Info{
		Jokes:      corpus.Stats{TotalCount: 42},
		Languages:  []string{"de", "en"},
		Categories: []string{"Any", "Misc"},
		Flags:      []string{"nsfw"},
	}
}

func TestNewBot(t *testing.T) {
	_, err := New(config.BotConfig{Token: "test-token"}, &fakeService{})
	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
}

func TestNewBotNoToken(t *testing.T) {
	_, err := New(config.BotConfig{}, &fakeService{})
	if !errors.Is(err, ErrEmptyToken) {
		t.Errorf("New() error = %v, want %v", err, ErrEmptyToken)
	}
}

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name       string
		args       []string
		categories []string
		safe       bool
	}{
		{name: "no args", args: nil},
		{name: "categories", args: []string{"Programming", "pun"}, categories: []string{"Programming", "pun"}},
		{name: "safe only", args: []string{"SAFE"}, safe: true},
		{name: "mixed", args: []string{"safe", "Misc"}, categories: []string{"Misc"}, safe: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := parseArgs(7, tt.args)
			if strings.Join(req.Categories, ",") != strings.Join(tt.categories, ",") {
				t.Errorf("Categories = %v, want %v", req.Categories, tt.categories)
			}
			if req.SafeMode != tt.safe {
				t.Errorf("SafeMode = %v, want %v", req.SafeMode, tt.safe)
			}
			if !cache.ValidClientHash(req.ClientHash) {
				t.Errorf("ClientHash = %q is not a valid hash", req.ClientHash)
			}
		})
	}
}

func TestClientHashPerUser(t *testing.T) {
	if clientHash(1) == clientHash(2) {
		t.Error("Different users must not share a client hash")
	}
	if clientHash(1) != clientHash(1) {
		t.Error("Client hash must be stable")
	}
}

func TestJokeReply(t *testing.T) {
	svc := &fakeService{result: &service.Result{Jokes: []models.Joke{
		{ID: 1, Category: "Misc", Body: models.TwoPartBody{Setup: "Setup?", Delivery: "Delivery!"}},
		{ID: 2, Category: "Pun", Body: models.SingleBody{Joke: "A pun."}},
	}}}
	b, _ := New(config.BotConfig{Token: "t"}, svc)

	got := b.jokeReply(context.Background(), 99, []string{"Misc", "safe"})
	want := "[Misc]\nSetup?\n\nDelivery!\n\n[Pun]\nA pun."
	if got != want {
		t.Errorf("jokeReply() = %q, want %q", got, want)
	}
	if !svc.lastReq.SafeMode {
		t.Error("Expected safe mode to be requested")
	}
}

func TestJokeReplyErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "invalid", err: &filter.FilterErrors{Messages: []string{"Invalid category"}}, want: "Invalid category"},
		{name: "exhausted", err: filter.ErrNoMatchingJoke, want: "/clear"},
		{name: "internal", err: errors.New("boom"), want: "Try again later"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, _ := New(config.BotConfig{Token: "t"}, &fakeService{err: tt.err})
			if got := b.jokeReply(context.Background(), 1, nil); !strings.Contains(got, tt.want) {
				t.Errorf("jokeReply() = %q, want it to contain %q", got, tt.want)
			}
		})
	}
}

func TestClearAndInfoReply(t *testing.T) {
	svc := &fakeService{}
	b, _ := New(config.BotConfig{Token: "t"}, svc)

	if got := b.clearReply(context.Background(), 5); !strings.Contains(got, "3") {
		t.Errorf("clearReply() = %q, want the deleted count", got)
	}
	if svc.cleared != clientHash(5) {
		t.Errorf("cleared hash = %q, want %q", svc.cleared, clientHash(5))
	}

	if got := b.infoReply(); !strings.Contains(got, "Jokes: 42") || !strings.Contains(got, "de, en") {
		t.Errorf("infoReply() = %q", got)
	}
}

func TestSendWithoutConnection(t *testing.T) {
	b, _ := New(config.BotConfig{Token: "t"}, &fakeService{})
	if err := b.send(1, "hi"); !errors.Is(err, errNotConnected) {
		t.Errorf("send() = %v, want %v", err, errNotConnected)
	}
}
