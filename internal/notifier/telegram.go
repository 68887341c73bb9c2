package notifier

import (
	"context"
	"fmt"

	"github.com/go-telegram/bot"
	tgModels "github.com/go-telegram/bot/models"

	"github.com/subtally/subtally/internal/models"
	"github.com/subtally/subtally/pkg/logger"
)

// TelegramNotifier delivers reminders over a Telegram bot. Users link
// their chat by messaging /start to the bot with the username stored in
// their notification profile.
type TelegramNotifier struct {
	logger *logger.Logger
	bot    *bot.Bot

	repo models.Repository
}

func NewTelegramNotifier(token string, repo models.Repository, logger *logger.Logger) (*TelegramNotifier, error) {
	notifier := &TelegramNotifier{
		logger: logger,
		repo:   repo,
	}
	opts := []bot.Option{
		bot.WithDefaultHandler(notifier.handler),
	}

	b, err := bot.New(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %s", err)
	}
	go b.Start(context.Background())
	notifier.bot = b

	return notifier, nil
}

func (t *TelegramNotifier) SendNotification(chatID, message string) error {
	params := &bot.SendMessageParams{
		ChatID: chatID,
		Text:   message,
	}
	if _, err := t.bot.SendMessage(context.Background(), params); err != nil {
		return fmt.Errorf("failed to send telegram message: %s", err)
	}
	return nil
}

func (t *TelegramNotifier) handler(ctx context.Context, b *bot.Bot, update *tgModels.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}
	user := update.Message.From
	t.logger.Debug("Telegram update: ", user.Username, " ", update.Message.Text)

	if update.Message.Text != "/start" {
		return
	}

	profile, err := t.repo.GetProfileByTelegramUsername(user.Username)
	if err != nil {
		t.logger.Error("Failed to get profile by telegram username: ", err, " username: ", user.Username)
		return
	}
	if err := t.repo.SetTelegramChatID(user.Username, fmt.Sprint(update.Message.Chat.ID)); err != nil {
		t.logger.Error("Failed to set telegram chat ID: ", err)
		return
	}
	t.logger.Info("Telegram chat linked ", "owner ", profile.OwnerID)
	if err := t.SendNotification(fmt.Sprint(update.Message.Chat.ID), "You will now receive renewal reminders here."); err != nil {
		t.logger.Error("Failed to confirm telegram link: ", err)
	}
}
