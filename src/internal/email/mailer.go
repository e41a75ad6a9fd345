package email

import (
	"crypto/tls"
	"fmt"

	"github.com/spf13/viper"
	"gopkg.in/gomail.v2"
)

// Message is a single outbound email
type Message struct {
	ToEmail  string
	ToName   string
	Subject  string
	BodyText string
	BodyHTML string
}

// Mailer handles sending emails
type Mailer struct {
	cfg    *viper.Viper
	dialer *gomail.Dialer
}

// NewMailer creates a new mailer instance
func NewMailer(cfg *viper.Viper) *Mailer {
	var dialer *gomail.Dialer

	if cfg.GetBool("email.enabled") {
		host := cfg.GetString("email.smtp.host")
		dialer = gomail.NewDialer(
			host,
			cfg.GetInt("email.smtp.port"),
			cfg.GetString("email.smtp.username"),
			cfg.GetString("email.smtp.password"),
		)
		if cfg.GetBool("email.smtp.use_tls") {
			dialer.TLSConfig = &tls.Config{
				ServerName:         host,
				InsecureSkipVerify: cfg.GetBool("email.smtp.skip_verify"),
			}
		}
	}

	return &Mailer{
		cfg:    cfg,
		dialer: dialer,
	}
}

// Send sends an email message
func (m *Mailer) Send(msg *Message) error {
	if !m.cfg.GetBool("email.enabled") {
		return fmt.Errorf("email sending is disabled")
	}
	if m.dialer == nil {
		return fmt.Errorf("email dialer not configured")
	}

	message := gomail.NewMessage()
	message.SetHeader("From", m.formatAddress(
		m.cfg.GetString("email.from.address"),
		m.cfg.GetString("email.from.name"),
	))
	message.SetHeader("To", m.formatAddress(msg.ToEmail, msg.ToName))
	message.SetHeader("Subject", msg.Subject)

	if msg.BodyHTML != "" {
		message.SetBody("text/html", msg.BodyHTML)
		if msg.BodyText != "" {
			message.AddAlternative("text/plain", msg.BodyText)
		}
	} else if msg.BodyText != "" {
		message.SetBody("text/plain", msg.BodyText)
	} else {
		return fmt.Errorf("email body is empty")
	}

	if err := m.dialer.DialAndSend(message); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

// TestConnection tests the SMTP connection
func (m *Mailer) TestConnection() error {
	if !m.cfg.GetBool("email.enabled") {
		return fmt.Errorf("email is disabled")
	}
	if m.dialer == nil {
		return fmt.Errorf("email dialer not configured")
	}

	closer, err := m.dialer.Dial()
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer closer.Close()
	return nil
}

func (m *Mailer) formatAddress(email, name string) string {
	if name == "" {
		return email
	}
	return fmt.Sprintf("%s <%s>", name, email)
}
