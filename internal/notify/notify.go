// Package notify sends human readable library notices to a Telegram chat.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"biblio/internal/models"
)

// Notifier delivers a text notice
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Sender is the part of tgbotapi.BotAPI used for sending
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram posts notices to a single chat
type Telegram struct {
	sender Sender
	chatID int64
}

// NewTelegram creates a Telegram notifier from a bot token
func NewTelegram(token string, chatID int64, logger *zap.Logger) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	logger.Info("Telegram notifier ready", zap.String("bot_username", api.Self.UserName), zap.Int64("chat_id", chatID))
	return NewTelegramWithSender(api, chatID), nil
}

// NewTelegramWithSender allows injecting a test sender
func NewTelegramWithSender(sender Sender, chatID int64) *Telegram {
	return &Telegram{sender: sender, chatID: chatID}
}

// Notify sends text to the configured chat
func (t *Telegram) Notify(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := t.sender.Send(msg); err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	return nil
}

// Nop drops every notice
type Nop struct{}

// Notify does nothing
func (Nop) Notify(context.Context, string) error { return nil }

// EventNotifier turns loan events into notices, so a Notifier can sit in the
// journal fan-out
type EventNotifier struct {
	notifier Notifier
}

// NewEventNotifier wraps n
func NewEventNotifier(n Notifier) *EventNotifier {
	return &EventNotifier{notifier: n}
}

// Record sends a notice for event
func (e *EventNotifier) Record(ctx context.Context, event models.LoanEvent) error {
	return e.notifier.Notify(ctx, FormatEvent(event))
}

// FormatEvent renders a loan event as a one line notice
func FormatEvent(event models.LoanEvent) string {
	title := event.BookTitle
	if title == "" {
		title = fmt.Sprintf("book #%d", event.BookID)
	}

	switch event.Kind {
	case models.EventIssued:
		return fmt.Sprintf("📕 Loan #%d: %q lent to member #%d", event.LoanID, title, event.MemberID)
	case models.EventReturned:
		return fmt.Sprintf("📗 Loan #%d: %q returned by member #%d", event.LoanID, title, event.MemberID)
	case models.EventDeleted:
		return fmt.Sprintf("🗑 Loan #%d for %q deleted", event.LoanID, title)
	default:
		return fmt.Sprintf("Loan #%d: %s", event.LoanID, event.Kind)
	}
}

// FormatOverdueDigest renders the overdue loans as a multi line notice
func FormatOverdueDigest(loans []models.LoanView, total int, now time.Time) string {
	if total == 0 {
		return "✅ No overdue loans"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "⏰ %d overdue loan(s) as of %s\n", total, now.UTC().Format("2006-01-02"))
	for _, l := range loans {
		fmt.Fprintf(&b, "\n• #%d %s (%s), due %s, %d day(s) late",
			l.ID, deref(l.BookTitle, "unknown book"), memberName(l), l.DueDate.UTC().Format("2006-01-02"), l.DaysLate)
	}
	if rest := total - len(loans); rest > 0 {
		fmt.Fprintf(&b, "\n…and %d more", rest)
	}
	return b.String()
}

func memberName(l models.LoanView) string {
	name := strings.TrimSpace(deref(l.MemberFirstName, "") + " " + deref(l.MemberLastName, ""))
	if name == "" {
		return fmt.Sprintf("member #%d", l.MemberID)
	}
	return name
}

func deref(s *string, fallback string) string {
	if s == nil {
		return fallback
	}
	return *s
}
