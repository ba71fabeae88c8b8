package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const silenceVerb = "SIL"

// botAPI is the subset of *tgbot.BotAPI used here.
type botAPI interface {
	Send(c tgbot.Chattable) (tgbot.Message, error)
	Request(c tgbot.Chattable) (*tgbot.APIResponse, error)
	GetUpdatesChan(config tgbot.UpdateConfig) tgbot.UpdatesChannel
	StopReceivingUpdates()
}

// Telegram sends order alerts to a chat with an inline button that silences the alarm.
type Telegram struct {
	bot    botAPI
	chatID int64
	log    *zap.Logger

	mu        sync.Mutex
	pendings  map[string]int // notification id -> message id
	onDismiss func()
}

// NewTelegram connects to the bot API with token.
func NewTelegram(token string, chatID int64, log *zap.Logger) (*Telegram, error) {
	b, err := tgbot.NewBotAPI(token)
	if err != nil {
		return nil, errors.Wrap(err, "connect telegram bot")
	}
	return newTelegram(b, chatID, log), nil
}

func newTelegram(bot botAPI, chatID int64, log *zap.Logger) *Telegram {
	return &Telegram{
		bot:      bot,
		chatID:   chatID,
		log:      log.Named("telegram"),
		pendings: make(map[string]int),
	}
}

// OnDismiss registers the action run when a rider taps the silence button.
func (t *Telegram) OnDismiss(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onDismiss = fn
}

func (t *Telegram) Notify(_ context.Context, n Notification) error {
	if t == nil || t.bot == nil || t.chatID == 0 {
		return nil
	}

	text := fmt.Sprintf("🔔 %s\n%s\nOrder: %s", n.Title, n.Body, n.OrderID)
	msg := tgbot.NewMessage(t.chatID, text)
	msg.ReplyMarkup = tgbot.NewInlineKeyboardMarkup(tgbot.NewInlineKeyboardRow(
		tgbot.NewInlineKeyboardButtonData("🔕 Silence", silenceVerb+"::"+n.ID),
	))

	sent, err := t.bot.Send(msg)
	if err != nil {
		return errors.Wrap(err, "send telegram alert")
	}

	// Only the newest alert keeps a live button.
	t.mu.Lock()
	stale := t.pendings
	t.pendings = map[string]int{n.ID: sent.MessageID}
	t.mu.Unlock()

	for _, msgID := range stale {
		t.removeKeyboard(msgID)
	}
	return nil
}

func (t *Telegram) removeKeyboard(msgID int) {
	rm := tgbot.NewEditMessageReplyMarkup(t.chatID, msgID, tgbot.InlineKeyboardMarkup{InlineKeyboard: [][]tgbot.InlineKeyboardButton{}})
	_, _ = t.bot.Request(rm)
}

// Start consumes bot updates until ctx is done.
func (t *Telegram) Start(ctx context.Context) {
	u := tgbot.NewUpdate(0)
	u.Timeout = 30
	u.AllowedUpdates = []string{"callback_query"}

	updates := t.bot.GetUpdatesChan(u)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case upd, ok := <-updates:
				if !ok {
					return
				}
				if upd.CallbackQuery != nil {
					t.HandleCallback(upd.CallbackQuery)
				}
			}
		}
	}()
}

// Stop ends long polling.
func (t *Telegram) Stop() {
	t.bot.StopReceivingUpdates()
}

// HandleCallback reacts to a tap on the silence button. Data has the form SIL::<notification id>.
func (t *Telegram) HandleCallback(cb *tgbot.CallbackQuery) {
	if cb == nil {
		return
	}
	_, _ = t.bot.Request(tgbot.NewCallback(cb.ID, "Alarm silenced"))

	verb, id, ok := strings.Cut(cb.Data, "::")
	if !ok || verb != silenceVerb || id == "" {
		return
	}
	if cb.Message != nil && cb.Message.Chat != nil && cb.Message.Chat.ID != t.chatID {
		return
	}

	t.mu.Lock()
	msgID, known := t.pendings[id]
	delete(t.pendings, id)
	dismiss := t.onDismiss
	t.mu.Unlock()

	if dismiss != nil {
		dismiss()
	}
	t.log.Info("alarm silenced from telegram", zap.String("notification_id", id))

	if known {
		t.removeKeyboard(msgID)
	}
}
