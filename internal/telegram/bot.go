// Package telegram sends run summaries to Telegram chats and accepts a few
// commands to start and inspect runs.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mtzanidakis/juror/internal/config"
	"github.com/mtzanidakis/juror/internal/runner"
	"github.com/mtzanidakis/juror/internal/store"
	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"
	tu "github.com/mymmrac/telego/telegoutil"
)

const recentRuns = 5

type Bot struct {
	bot     *telego.Bot
	handler *th.BotHandler
	store   *store.Store
	cfg     config.TelegramConfig
	cancel  context.CancelFunc
}

func NewBot(cfg config.TelegramConfig, s *store.Store) (*Bot, error) {
	if len(cfg.ChatIDs) == 0 {
		return nil, errors.New("telegram needs at least one chat id")
	}
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	return &Bot{
		bot:   bot,
		store: s,
		cfg:   cfg,
	}, nil
}

// NotifyRun sends the summary of a finished run to every configured chat.
func (b *Bot) NotifyRun(ctx context.Context, sum runner.Summary) error {
	text := FormatSummary(sum)
	var errs []error
	for _, id := range b.cfg.ChatIDs {
		if err := b.SendMessage(ctx, id, text); err != nil {
			errs = append(errs, fmt.Errorf("chat %d: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// Start polls for commands until ctx is done. Commands are only accepted
// from the configured chats.
func (b *Bot) Start(ctx context.Context, r *runner.Runner) error {
	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel

	updates, err := b.bot.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	handler, err := th.NewBotHandler(b.bot, updates)
	if err != nil {
		cancel()
		return fmt.Errorf("create handler: %w", err)
	}
	b.handler = handler

	handler.HandleMessage(func(hctx *th.Context, message telego.Message) error {
		b.handleMessage(ctx, r, message)
		return nil
	})

	go handler.Start()

	<-ctx.Done()
	_ = handler.Stop()
	return nil
}

func (b *Bot) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
	if b.handler != nil {
		_ = b.handler.Stop()
	}
}

func (b *Bot) allowed(chatID int64) bool {
	for _, id := range b.cfg.ChatIDs {
		if id == chatID {
			return true
		}
	}
	return false
}

func (b *Bot) handleMessage(ctx context.Context, r *runner.Runner, msg telego.Message) {
	chatID := msg.Chat.ID
	if !b.allowed(chatID) {
		slog.Warn("unauthorized telegram chat", "chat_id", chatID)
		return
	}

	cmd, arg, ok := parseCommand(msg.Text)
	if !ok {
		return
	}

	reply, err := b.execute(r, cmd, arg)
	if err != nil {
		slog.Error("telegram command failed", "command", cmd, "error", err)
		reply = "Error: " + err.Error()
	}
	if err := b.SendMessage(ctx, chatID, reply); err != nil {
		slog.Error("failed to send telegram message", "chat", chatID, "error", err)
	}
}

func (b *Bot) execute(r *runner.Runner, cmd, arg string) (string, error) {
	switch cmd {
	case "run":
		id, err := r.Start(runner.Request{Trigger: runner.TriggerTelegram, Input: arg})
		if err != nil {
			return "", err
		}
		return "Started run " + id, nil
	case "cancel":
		if arg == "" {
			return "Usage: /cancel <run id>", nil
		}
		id := resolveActive(r.Active(), arg)
		if id == "" || !r.Cancel(id) {
			return "Run " + arg + " is not active", nil
		}
		return "Cancelling run " + id, nil
	case "runs":
		runs, err := b.store.ListRuns(recentRuns)
		if err != nil {
			return "", err
		}
		return FormatRuns(runs), nil
	default:
		return helpText, nil
	}
}

func (b *Bot) SendMessage(ctx context.Context, chatID int64, text string) error {
	chunks := chunkMessage(text, 4096)
	for _, chunk := range chunks {
		msg := tu.Message(tu.ID(chatID), chunk)
		_, err := b.bot.SendMessage(ctx, msg)
		if err != nil {
			return fmt.Errorf("send message: %w", err)
		}
	}
	return nil
}

const helpText = `/run [input] start an evaluation run
/runs list recent runs
/cancel <id> cancel an active run`

// resolveActive returns the active run id that equals or uniquely starts
// with prefix.
func resolveActive(active []string, prefix string) string {
	match := ""
	for _, id := range active {
		if id == prefix {
			return id
		}
		if strings.HasPrefix(id, prefix) {
			if match != "" {
				return ""
			}
			match = id
		}
	}
	return match
}

// parseCommand splits "/cmd@bot arg" into its command and argument.
func parseCommand(text string) (cmd, arg string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	head, rest, _ := strings.Cut(text[1:], " ")
	head, _, _ = strings.Cut(head, "@")
	return strings.ToLower(head), strings.TrimSpace(rest), head != ""
}
