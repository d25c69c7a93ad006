package telegram

import (
	"context"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"gastos/internal/log"
	"gastos/internal/services"
)

const (
	maxBackoff = 30 * time.Second

	// maxHandleAttempts bounds retries of an update whose handling failed
	// before the offset moves past it anyway.
	maxHandleAttempts = 3
)

// API is the part of the Bot API the poller uses.
type API interface {
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]tgbotapi.Update, error)
	SendMessage(ctx context.Context, chatID int64, text string) error
	GetWebhookInfo(ctx context.Context) (tgbotapi.WebhookInfo, error)
}

type Handler interface {
	Handle(ctx context.Context, u services.Update) (services.Reply, error)
}

// OffsetStore persists the next update id to request.
type OffsetStore interface {
	Load() (int64, bool, error)
	Save(offset int64) error
}

// Poller feeds updates to a Handler strictly in order and records the offset
// after each one, so a restart resumes at the first unprocessed update. An
// update whose handling fails is retried a bounded number of times before
// the offset moves past it.
type Poller struct {
	api     API
	handler Handler
	offsets OffsetStore
	timeout time.Duration
	logger  *log.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

func NewPoller(api API, handler Handler, offsets OffsetStore, timeout time.Duration, logger *log.Logger) *Poller {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &Poller{
		api:     api,
		handler: handler,
		offsets: offsets,
		timeout: timeout,
		logger:  logger.WithComponent(log.ComponentTelegram),
		sleep:   sleepContext,
	}
}

// Run polls until ctx is cancelled. Transport errors are retried with
// exponential backoff and never end the loop.
func (p *Poller) Run(ctx context.Context) error {
	offset, ok, err := p.offsets.Load()
	if err != nil {
		p.logger.WarnContext(ctx, "Could not read saved offset, starting from pending updates",
			log.FieldError, err)
	} else if ok {
		p.logger.InfoContext(ctx, "Recovered offset", log.FieldOffset, offset)
	}

	p.warnOnWebhook(ctx)
	p.logger.InfoContext(ctx, "Listening for messages (long polling)")

	attempt := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		updates, err := p.api.GetUpdates(ctx, offset, p.timeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			wait := backoff(attempt)
			attempt++
			p.logger.WarnContext(ctx, "Polling failed, retrying",
				log.FieldError, err,
				"retry_in", wait)
			if err := p.sleep(ctx, wait); err != nil {
				return err
			}
			continue
		}
		attempt = 0

		for _, u := range updates {
			if err := p.process(ctx, u); err != nil {
				return err
			}
			offset = int64(u.UpdateID) + 1
			if err := p.offsets.Save(offset); err != nil {
				p.logger.ErrorContext(ctx, "Failed to save offset",
					log.FieldOffset, offset,
					log.FieldError, err)
			}
		}
	}
}

// process handles one update and sends its reply. It returns an error only
// when ctx ends during a retry wait, leaving the offset unsaved.
func (p *Poller) process(ctx context.Context, u tgbotapi.Update) error {
	update, ok := toServiceUpdate(u)
	if !ok {
		return nil
	}

	var (
		reply services.Reply
		err   error
	)
	for attempt := 0; attempt < maxHandleAttempts; attempt++ {
		if attempt > 0 {
			if err := p.sleep(ctx, backoff(attempt-1)); err != nil {
				return err
			}
		}
		reply, err = p.handler.Handle(ctx, update)
		if err == nil {
			break
		}
		p.logger.ErrorContext(ctx, "Update handling failed",
			log.FieldUpdateID, update.UpdateID,
			"attempt", attempt+1,
			log.FieldError, err)
	}

	if !reply.Send {
		return nil
	}
	if update.ChatID == 0 {
		p.logger.WarnContext(ctx, "Cannot reply because chat id is missing", log.FieldUpdateID, update.UpdateID)
		return nil
	}
	if err := p.api.SendMessage(ctx, update.ChatID, reply.Text); err != nil {
		p.logger.ErrorContext(ctx, "Failed to send reply",
			log.FieldUpdateID, update.UpdateID,
			log.FieldChatID, update.ChatID,
			log.FieldError, err)
	}
	return nil
}

// toServiceUpdate maps a Bot API update to the message service's input.
// Updates that carry no message are ignored.
func toServiceUpdate(u tgbotapi.Update) (services.Update, bool) {
	msg := u.Message
	if msg == nil {
		return services.Update{}, false
	}
	update := services.Update{
		UpdateID: int64(u.UpdateID),
		Sender:   senderName(msg),
		Text:     msg.Text,
		HasText:  msg.Text != "",
	}
	if msg.Chat != nil {
		update.ChatID = msg.Chat.ID
	}
	return update, true
}

func (p *Poller) warnOnWebhook(ctx context.Context) {
	info, err := p.api.GetWebhookInfo(ctx)
	if err != nil {
		p.logger.WarnContext(ctx, "Could not check webhook status", log.FieldError, err)
		return
	}
	if info.URL != "" {
		p.logger.WarnContext(ctx, "A webhook is configured; long polling will not receive updates until it is removed",
			"webhook_url", info.URL,
			"pending", info.PendingUpdateCount)
	}
}

// backoff returns 1s doubling per attempt, capped at 30s.
func backoff(attempt int) time.Duration {
	if attempt >= 5 {
		return maxBackoff
	}
	return min(time.Second<<max(attempt, 0), maxBackoff)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
