package gateway

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rahul/toolflow/internal/agent"
)

type TelegramGateway struct {
	Bot   *tgbotapi.BotAPI
	Agent agent.Agent

	wg sync.WaitGroup
}

func NewTelegramGateway(token string, a agent.Agent) (*TelegramGateway, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}

	log.Printf("Authorized on account %s", bot.Self.UserName)

	return &TelegramGateway{Bot: bot, Agent: a}, nil
}

// Start handles each chat's messages in its own goroutine. Every workflow
// emission becomes a separate Telegram message.
func (tg *TelegramGateway) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := tg.Bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			tg.wg.Wait()
			return nil
		case update, ok := <-updates:
			if !ok {
				tg.wg.Wait()
				return nil
			}
			if update.Message == nil || update.Message.Text == "" {
				continue
			}
			if update.Message.From != nil {
				log.Printf("[%s] %s", update.Message.From.UserName, update.Message.Text)
			}

			tg.wg.Add(1)
			go func(msg *tgbotapi.Message) {
				defer tg.wg.Done()
				tg.handle(ctx, msg)
			}(update.Message)
		}
	}
}

func (tg *TelegramGateway) handle(ctx context.Context, msg *tgbotapi.Message) {
	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	emit := func(_ context.Context, text string) error {
		_, err := tg.Bot.Send(tgbotapi.NewMessage(msg.Chat.ID, text))
		return err
	}
	if err := tg.Agent.Handle(ctx, chatID, msg.Text, emit); err != nil {
		log.Printf("Error handling message from %s: %v", chatID, err)
		_ = emit(ctx, troubleReply)
	}
}

func (tg *TelegramGateway) Send(chatID string, text string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil || id == 0 {
		return fmt.Errorf("invalid chat ID: %s", chatID)
	}

	msg := tgbotapi.NewMessage(id, text)
	msg.ParseMode = "Markdown"
	_, err = tg.Bot.Send(msg)
	return err
}

func (tg *TelegramGateway) Stop() error {
	tg.Bot.StopReceivingUpdates()
	return nil
}
