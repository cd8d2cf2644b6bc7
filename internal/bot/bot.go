package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"jokeapi/internal/config"
	"jokeapi/internal/filter"
	"jokeapi/internal/models"
	"jokeapi/internal/search"
	"jokeapi/internal/service"
	"jokeapi/pkg/logger"

	"gopkg.in/telebot.v4"
)

var (
	ErrRateLimited  = errors.New("telegram rate limited")
	ErrEmptyToken   = errors.New("telegram bot token is required")
	errNotConnected = errors.New("bot is not connected to telegram")
)

const safeArg = "safe"

// JokeService is the part of *service.Service the bot uses.
type JokeService interface {
	GetJokes(ctx context.Context, req service.Request) (*service.Result, error)
	ClearHistory(ctx context.Context, clientHash string) (int64, error)
	Info() service.Info
}

type Bot struct {
	settings telebot.Settings
	svc      JokeService
	tbot     *telebot.Bot
	cfg      config.BotConfig
}

func New(cfg config.BotConfig, svc JokeService) (*Bot, error) {
	if cfg.Token == "" {
		return nil, ErrEmptyToken
	}

	return &Bot{
		cfg: cfg,
		svc: svc,
		settings: telebot.Settings{
			Token:  cfg.Token,
			Poller: &telebot.LongPoller{Timeout: 10 * time.Second},
		},
	}, nil
}

// Run polls Telegram until ctx is done.
func (b *Bot) Run(ctx context.Context) error {
	tbot, err := telebot.NewBot(b.settings)
	if err != nil {
		return fmt.Errorf("failed to create bot: %w", err)
	}

	b.tbot = tbot
	b.setupHandlers(tbot)

	go tbot.Start()
	logger.Info("Telegram bot started", logger.String("username", tbot.Me.Username))

	<-ctx.Done()
	tbot.Stop()
	logger.Info("Telegram bot stopped")
	return ctx.Err()
}

func (b *Bot) setupHandlers(bot *telebot.Bot) {
	bot.Handle(telebot.OnText, func(c telebot.Context) error {
		logger.Debug("Incoming text message",
			logger.Int64("user_id", c.Sender().ID),
			logger.String("username", c.Sender().Username),
		)
		return b.send(c.Chat().ID, "Use /joke to get a joke!")
	})

	bot.Handle("/start", func(c telebot.Context) error {
		return b.send(c.Chat().ID, welcomeText)
	})
	bot.Handle("/help", func(c telebot.Context) error {
		return b.send(c.Chat().ID, helpText)
	})
	bot.Handle("/joke", func(c telebot.Context) error {
		return b.send(c.Chat().ID, b.jokeReply(context.Background(), c.Sender().ID, c.Args()))
	})
	bot.Handle("/clear", func(c telebot.Context) error {
		return b.send(c.Chat().ID, b.clearReply(context.Background(), c.Sender().ID))
	})
	bot.Handle("/info", func(c telebot.Context) error {
		return b.send(c.Chat().ID, b.infoReply())
	})
}

// clientHash keys the served-joke cache by Telegram user.
func clientHash(userID int64) string {
	return service.ClientHash("telegram:" + strconv.FormatInt(userID, 10))
}

// parseArgs turns "/joke [category...] [safe]" arguments into a request.
func parseArgs(userID int64, args []string) service.Request {
	req := service.Request{ClientHash: clientHash(userID)}
	for _, arg := range args {
		if strings.EqualFold(arg, safeArg) {
			req.SafeMode = true
			continue
		}
		req.Categories = append(req.Categories, arg)
	}
	return req
}

func (b *Bot) jokeReply(ctx context.Context, userID int64, args []string) string {
	res, err := b.svc.GetJokes(ctx, parseArgs(userID, args))
	if err != nil {
		var filterErrs *filter.FilterErrors
		switch {
		case errors.As(err, &filterErrs):
			return "I couldn't understand that:\n" + strings.Join(filterErrs.Messages, "\n")
		case errors.Is(err, filter.ErrNoMatchingJoke):
			return "You've seen every joke that matches. Use /clear to start over."
		case errors.Is(err, search.ErrPatternTooComplex):
			return "That search is too complex."
		default:
			logger.Error("Failed to get joke", logger.Err(err), logger.Int64("user_id", userID))
			return "Sorry, no jokes available right now. Try again later!"
		}
	}

	parts := make([]string, 0, len(res.Jokes))
	for _, j := range res.Jokes {
		parts = append(parts, formatJoke(j))
	}
	return strings.Join(parts, "\n\n")
}

func formatJoke(j models.Joke) string {
	switch body := j.Body.(type) {
	case models.SingleBody:
		return fmt.Sprintf("[%s]\n%s", j.Category, body.Joke)
	case models.TwoPartBody:
		return fmt.Sprintf("[%s]\n%s\n\n%s", j.Category, body.Setup, body.Delivery)
	default:
		return fmt.Sprintf("[%s] joke #%d", j.Category, j.ID)
	}
}

func (b *Bot) clearReply(ctx context.Context, userID int64) string {
	deleted, err := b.svc.ClearHistory(ctx, clientHash(userID))
	if err != nil {
		logger.Error("Failed to clear history", logger.Err(err), logger.Int64("user_id", userID))
		return "Failed to clear your history"
	}
	return fmt.Sprintf("Forgot %d joke(s). Everything is new again.", deleted)
}

func (b *Bot) infoReply() string {
	info := b.svc.Info()
	return fmt.Sprintf(
		"Jokes: %d\nLanguages: %s\nCategories: %s\nFlags: %s",
		info.Jokes.TotalCount,
		strings.Join(info.Languages, ", "),
		strings.Join(info.Categories, ", "),
		strings.Join(info.Flags, ", "),
	)
}

func (b *Bot) send(chatID int64, text string) error {
	if b.tbot == nil {
		return errNotConnected
	}
	return b.sendMessageWithRetry(chatID, text)
}

func (b *Bot) sendMessageWithRetry(chatID int64, text string) error {
	maxRetries := 3
	retryDelay := time.Second

	for i := 0; i < maxRetries; i++ {
		_, err := b.tbot.Send(&telebot.Chat{ID: chatID}, text)
		if err != nil {
			errStr := err.Error()
			if strings.Contains(errStr, "Too Many Requests") || strings.Contains(errStr, "retry after") {
				logger.Warn("Rate limited, retrying...",
					logger.Int("retry", i+1),
					logger.Int("max_retries", maxRetries),
				)
				time.Sleep(retryDelay)
				retryDelay *= 2
				continue
			}
			return fmt.Errorf("failed to send message: %w", err)
		}
		return nil
	}

	return ErrRateLimited
}

const welcomeText = "Welcome to JokeAPI!\n\n" +
	"I send you jokes you haven't seen yet.\n\n" + helpText

const helpText = "Commands:\n" +
	"- /joke - Get a random joke\n" +
	"- /joke Programming Pun - Only these categories\n" +
	"- /joke safe - Only jokes suitable for everyone\n" +
	"- /clear - Forget which jokes you've seen\n" +
	"- /info - Joke statistics\n" +
	"- /help - Show this help message"
