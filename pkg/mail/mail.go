package mail

import (
	"context"
	"fmt"
	"io"
	"strings"

	"gopkg.in/gomail.v2"
)

// Transport names, also used as the metrics label.
const (
	TransportSMTP = "smtp"
	TransportSES  = "ses"
	TransportLog  = "log"
)

// Address is a mailbox with an optional display name.
type Address struct {
	Name    string
	Address string
}

func (a Address) String() string {
	if a.Name == "" {
		return a.Address
	}
	return fmt.Sprintf("%q <%s>", a.Name, a.Address)
}

// Attachment is a file sent along with a message.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Message is a single outgoing mail.
type Message struct {
	// ID correlates the message with the submission in logs.
	ID          string
	From        Address
	To          []string
	Subject     string
	HTML        string
	Attachments []Attachment
}

// Sender delivers messages over one transport.
type Sender interface {
	Send(ctx context.Context, msg *Message) error
	// Transport returns the transport name for logs and metrics.
	Transport() string
}

func (m *Message) validate() error {
	if m == nil {
		return fmt.Errorf("nil message")
	}
	if m.From.Address == "" {
		return fmt.Errorf("message %s has no sender address", m.ID)
	}
	if len(m.To) == 0 {
		return fmt.Errorf("message %s has no receivers", m.ID)
	}
	for _, to := range m.To {
		if strings.TrimSpace(to) == "" {
			return fmt.Errorf("message %s has an empty receiver", m.ID)
		}
	}
	return nil
}

// toGomail converts the message into its MIME representation.
func (m *Message) toGomail() *gomail.Message {
	msg := gomail.NewMessage(gomail.SetCharset("UTF-8"))
	msg.SetAddressHeader("From", m.From.Address, m.From.Name)
	msg.SetHeader("To", m.To...)
	msg.SetHeader("Subject", m.Subject)
	if m.ID != "" {
		msg.SetHeader("X-Submission-Id", m.ID)
	}
	msg.SetBody("text/html", m.HTML)

	for _, a := range m.Attachments {
		data := a.Data
		settings := []gomail.FileSetting{
			gomail.SetCopyFunc(func(w io.Writer) error {
				_, err := w.Write(data)
				return err
			}),
		}
		// Without an explicit type gomail derives it from the file extension.
		if a.ContentType != "" {
			settings = append(settings, gomail.SetHeader(map[string][]string{
				"Content-Type": {fmt.Sprintf("%s; name=%q", a.ContentType, a.Filename)},
			}))
		}
		msg.Attach(a.Filename, settings...)
	}
	return msg
}
