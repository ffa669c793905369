// Package chat implements core.Chat against the Telegram Bot API.
package chat

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Client sends messages to Telegram chats on behalf of the bot.
type Client struct {
	bot *tgbotapi.BotAPI
}

// New creates a Client. If baseURL is empty it talks to the standard
// Telegram Bot API endpoint; a non-empty baseURL overrides it (used in
// tests against a fake server).
func New(token, baseURL string) (*Client, error) {
	var bot *tgbotapi.BotAPI
	var err error
	if baseURL != "" {
		bot, err = tgbotapi.NewBotAPIWithAPIEndpoint(token, baseURL+"/bot%s/%s")
	} else {
		bot, err = tgbotapi.NewBotAPI(token)
	}
	if err != nil {
		return nil, fmt.Errorf("chat: init bot api: %w", err)
	}
	return &Client{bot: bot}, nil
}

func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, buttonText, buttonURL string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	if markup := linkButton(buttonText, buttonURL); markup != nil {
		msg.ReplyMarkup = markup
	}
	_, err := c.bot.Request(msg)
	return classify(err)
}

func (c *Client) SendPhoto(ctx context.Context, chatID int64, url string, caption string, buttonText, buttonURL string) error {
	msg := tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(url))
	msg.Caption = caption
	if markup := linkButton(buttonText, buttonURL); markup != nil {
		msg.ReplyMarkup = markup
	}
	_, err := c.bot.Request(msg)
	return classify(err)
}

func (c *Client) SendDocument(ctx context.Context, chatID int64, url string, caption string, buttonText, buttonURL string) error {
	msg := tgbotapi.NewDocument(chatID, tgbotapi.FileURL(url))
	msg.Caption = caption
	if markup := linkButton(buttonText, buttonURL); markup != nil {
		msg.ReplyMarkup = markup
	}
	_, err := c.bot.Request(msg)
	return classify(err)
}

func (c *Client) SendVideo(ctx context.Context, chatID int64, url string, caption string, buttonText, buttonURL string) error {
	msg := tgbotapi.NewVideo(chatID, tgbotapi.FileURL(url))
	msg.Caption = caption
	if markup := linkButton(buttonText, buttonURL); markup != nil {
		msg.ReplyMarkup = markup
	}
	_, err := c.bot.Request(msg)
	return classify(err)
}

func (c *Client) SendAnimation(ctx context.Context, chatID int64, url string, caption string, buttonText, buttonURL string) error {
	msg := tgbotapi.NewAnimation(chatID, tgbotapi.FileURL(url))
	msg.Caption = caption
	if markup := linkButton(buttonText, buttonURL); markup != nil {
		msg.ReplyMarkup = markup
	}
	_, err := c.bot.Request(msg)
	return classify(err)
}

// linkButton returns a one-button inline keyboard, or nil when either half
// of the button is unset.
func linkButton(text, url string) *tgbotapi.InlineKeyboardMarkup {
	if text == "" || url == "" {
		return nil
	}
	markup := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL(text, url)),
	)
	return &markup
}

func (c *Client) EditMessageText(ctx context.Context, chatID int64, messageID int64, text string) error {
	_, err := c.bot.Request(tgbotapi.NewEditMessageText(chatID, int(messageID), text))
	return classify(err)
}

func (c *Client) DeleteMessage(ctx context.Context, chatID int64, messageID int64) error {
	_, err := c.bot.Request(tgbotapi.NewDeleteMessage(chatID, int(messageID)))
	return classify(err)
}

// SendInvoice issues a Telegram payment invoice. Not part of core.Chat
// (the generation/broadcast core never sends one); used by the payments
// surface, which sits outside this core's scope.
func (c *Client) SendInvoice(ctx context.Context, chatID int64, title, description, payload, providerToken, currency string, prices []tgbotapi.LabeledPrice) error {
	invoice := tgbotapi.NewInvoice(chatID, title, description, payload, providerToken, "start", currency, prices)
	_, err := c.bot.Request(invoice)
	return classify(err)
}
