package notify

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/ai-gateway-go/internal/models"
	"github.com/ai-gateway-go/pkg/markdown"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
)

// Sender is the slice of the bot API the notifier needs
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier forwards gateway events to a Telegram chat
type TelegramNotifier struct {
	bot    Sender
	chatID int64
	logger *logrus.Logger
}

// NewTelegramNotifier authorizes the bot and returns a notifier for chatID
func NewTelegramNotifier(token string, chatID int64, logger *logrus.Logger) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	logger.WithField("username", bot.Self.UserName).Info("Telegram notifier authorized")
	return NewTelegramNotifierWithSender(bot, chatID, logger), nil
}

// NewTelegramNotifierWithSender wraps an existing sender
func NewTelegramNotifierWithSender(bot Sender, chatID int64, logger *logrus.Logger) *TelegramNotifier {
	return &TelegramNotifier{bot: bot, chatID: chatID, logger: logger}
}

func (n *TelegramNotifier) Notify(ctx context.Context, targetID, event string, payload interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(n.chatID, formatEvent(targetID, event, payload))
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true

	if _, err := n.bot.Send(msg); err != nil {
		return fmt.Errorf("failed to send telegram notification: %w", err)
	}
	n.logger.WithFields(logrus.Fields{
		"target": targetID,
		"event":  event,
	}).Debug("Telegram notification sent")
	return nil
}

func formatEvent(targetID, event string, payload interface{}) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>%s</b> · <code>%s</code>\n", html.EscapeString(event), html.EscapeString(targetID))

	switch p := payload.(type) {
	case *models.NormalizedResult:
		fmt.Fprintf(&b, "<i>%s · %d tokens</i>\n\n", html.EscapeString(p.Model), p.Usage.TotalTokens)
		b.WriteString(markdown.ToTelegramHTML(p.Content))
	case string:
		b.WriteString(markdown.ToTelegramHTML(p))
	case nil:
	default:
		b.WriteString(html.EscapeString(fmt.Sprintf("%v", p)))
	}

	out := b.String()
	if len([]rune(out)) > markdown.TelegramMaxLength {
		// a cut through HTML could leave tags open, so fall back to plain text
		out = truncateEscaped(html.EscapeString(event+" · "+targetID+"\n\n"+plainContent(payload)), markdown.TelegramMaxLength)
	}
	return out
}

// truncateEscaped cuts escaped text without splitting an entity such as &amp;
func truncateEscaped(s string, max int) string {
	out := markdown.Truncate(s, max)
	if out == s {
		return s
	}
	body := strings.TrimSuffix(out, "…")
	if amp := strings.LastIndex(body, "&"); amp > strings.LastIndex(body, ";") {
		body = body[:amp]
	}
	return body + "…"
}

func plainContent(payload interface{}) string {
	switch p := payload.(type) {
	case *models.NormalizedResult:
		return p.Content
	case string:
		return p
	default:
		return ""
	}
}
