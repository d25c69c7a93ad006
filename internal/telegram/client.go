// Package telegram receives chat updates through Bot API long polling and
// sends replies.
package telegram

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"gastos/internal/core"
)

const (
	DefaultBaseURL = "https://api.telegram.org"

	serviceName = "telegram"
)

// Client calls the Bot API for one bot token. Every call runs under the
// caller's context.
type Client struct {
	bot  *tgbotapi.BotAPI
	http *http.Client
}

// NewClient builds a client whose HTTP timeout outlasts pollTimeout and
// verifies the token with getMe.
func NewClient(ctx context.Context, token, baseURL string, pollTimeout time.Duration) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := &http.Client{Timeout: pollTimeout + 10*time.Second}
	endpoint := strings.TrimRight(baseURL, "/") + "/bot%s/%s"

	bot, err := tgbotapi.NewBotAPIWithClient(token, endpoint, contextDoer{ctx: ctx, next: httpClient})
	if err != nil {
		return nil, wrapError("getMe", err)
	}
	return &Client{bot: bot, http: httpClient}, nil
}

// Username is the bot's own username as reported by getMe.
func (c *Client) Username() string {
	return c.bot.Self.UserName
}

// GetUpdates long-polls for updates starting at offset. A zero offset asks
// for every pending update.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]tgbotapi.Update, error) {
	cfg := tgbotapi.NewUpdate(int(offset))
	cfg.Timeout = int(timeout / time.Second)

	updates, err := c.with(ctx).GetUpdates(cfg)
	if err != nil {
		return nil, wrapError("getUpdates", err)
	}
	return updates, nil
}

// SendMessage posts text to chatID.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	if _, err := c.with(ctx).Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		return wrapError("sendMessage", err)
	}
	return nil
}

// GetWebhookInfo reports the configured webhook. Long polling does not
// receive updates while one is set.
func (c *Client) GetWebhookInfo(ctx context.Context) (tgbotapi.WebhookInfo, error) {
	info, err := c.with(ctx).GetWebhookInfo()
	if err != nil {
		return tgbotapi.WebhookInfo{}, wrapError("getWebhookInfo", err)
	}
	return info, nil
}

// with returns a shallow copy of the bot whose requests carry ctx.
func (c *Client) with(ctx context.Context) *tgbotapi.BotAPI {
	bot := *c.bot
	bot.Client = contextDoer{ctx: ctx, next: c.http}
	return &bot
}

// contextDoer attaches ctx to each request and strips the request URL from
// transport errors, since the URL embeds the bot token.
type contextDoer struct {
	ctx  context.Context
	next *http.Client
}

func (d contextDoer) Do(req *http.Request) (*http.Response, error) {
	resp, err := d.next.Do(req.WithContext(d.ctx))
	if err != nil {
		var ue *url.Error
		if errors.As(err, &ue) {
			return nil, ue.Err
		}
		return nil, err
	}
	return resp, nil
}

func wrapError(op string, err error) error {
	se := &core.ServiceError{Service: serviceName, Op: op, Err: err}
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		se.StatusCode = apiErr.Code
	}
	return se
}

// senderName picks the username, then the first name, then the numeric id.
func senderName(m *tgbotapi.Message) string {
	if m.From == nil {
		return "unknown"
	}
	if m.From.UserName != "" {
		return m.From.UserName
	}
	if m.From.FirstName != "" {
		return m.From.FirstName
	}
	return strconv.FormatInt(m.From.ID, 10)
}
