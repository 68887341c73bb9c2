package notifier

import (
	"fmt"
	"net/smtp"

	"github.com/subtally/subtally/pkg/logger"
)

// EmailNotifier delivers reminders over SMTP.
type EmailNotifier struct {
	logger *logger.Logger

	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	SMTPSender   string

	SMTPAuth smtp.Auth
}

func NewEmailNotifier(host string, port int, user, password, sender string, logger *logger.Logger) *EmailNotifier {
	auth := smtp.PlainAuth(
		"",
		user,
		password,
		host,
	)

	return &EmailNotifier{
		logger:       logger,
		SMTPAuth:     auth,
		SMTPHost:     host,
		SMTPPort:     port,
		SMTPUser:     user,
		SMTPPassword: password,
		SMTPSender:   sender,
	}
}

func (e *EmailNotifier) SendNotification(to, message string) error {
	addr := fmt.Sprintf("%s:%d", e.SMTPHost, e.SMTPPort)
	msg := fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s",
		e.SMTPSender,
		to,
		"Subscription renewal reminder",
		message,
	)
	if err := smtp.SendMail(addr, e.SMTPAuth, e.SMTPSender, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("failed to send reminder email: %s", err)
	}
	return nil
}
