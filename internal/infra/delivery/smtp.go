// internal/infra/delivery/smtp.go
package delivery

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"net/textproto"
	"strings"

	"event_digest_service/internal/domain/delivery"
	idb "event_digest_service/internal/infra/database"
)

// SMTPSender implements delivery.Sender over a plain SMTP relay. The relay
// handles queueing and bounces; this binding only needs to hand the message
// off and classify rejections.
type SMTPSender struct {
	addr      string // host:port of the relay
	from      string
	directory delivery.Directory
	send      func(addr, from string, to []string, msg []byte) error
}

func NewSMTPSender(addr, from string, directory delivery.Directory) *SMTPSender {
	return &SMTPSender{
		addr:      addr,
		from:      from,
		directory: directory,
		send: func(addr, from string, to []string, msg []byte) error {
			return smtp.SendMail(addr, nil, from, to, msg)
		},
	}
}

func (s *SMTPSender) SendDigest(ctx context.Context, userID int64, items []delivery.Item) error {
	email, err := s.directory.EmailForUser(ctx, userID)
	if err != nil {
		if errors.Is(err, idb.ErrUserNotFound) {
			return delivery.Permanent(err)
		}
		return err
	}

	msg := buildMessage(s.from, email, items)
	if err := s.send(s.addr, s.from, []string{email}, msg); err != nil {
		if isPermanentSMTPError(err) {
			return delivery.Permanent(err)
		}
		return err
	}
	return nil
}

// isPermanentSMTPError treats 5xx relay replies as non-retryable; anything
// else (connection refused, 4xx greylisting) is transient.
func isPermanentSMTPError(err error) bool {
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		return protoErr.Code >= 500
	}
	return false
}

func buildMessage(from, to string, items []delivery.Item) []byte {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("From: %s\r\n", from))
	b.WriteString(fmt.Sprintf("To: %s\r\n", to))
	b.WriteString("Subject: Your upcoming events\r\n")
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	for i, it := range items {
		e := it.Event
		price := "free"
		if !e.IsFree() {
			price = fmt.Sprintf("$%.2f", float64(e.PriceCents)/100)
		}
		b.WriteString(fmt.Sprintf("%d. %s — %s, %s (%s)\r\n", i+1, e.Title, e.StartsAt.Format("Mon Jan 2 15:04"), e.VenueCity, price))
	}
	return []byte(b.String())
}
