package email

import (
	"fmt"
	"net/smtp"
	"time"

	"github.com/brickvest/estate-finance/internal/config"
	"github.com/jordan-wright/email"
	"github.com/sirupsen/logrus"
)

// Sender handles sending emails via SMTP
type Sender struct {
	cfg    *config.Config
	logger *logrus.Logger
}

// NewSender creates a new email sender
func NewSender(cfg *config.Config, logger *logrus.Logger) *Sender {
	return &Sender{
		cfg:    cfg,
		logger: logger,
	}
}

// SendPaymentReminder notifies a borrower about an upcoming or overdue installment
func (s *Sender) SendPaymentReminder(to, username string, dueDate time.Time, amount, penalty float64, overdue bool) error {
	e := email.NewEmail()
	e.From = s.cfg.SenderEmail
	e.To = []string{to}
	if overdue {
		e.Subject = "Overdue Installment Notice"
	} else {
		e.Subject = "Upcoming Installment Reminder"
	}

	body := fmt.Sprintf("Dear %s,\n\n", username)
	if overdue {
		body += fmt.Sprintf(
			"Your installment of %.2f USD was due on %s and is now overdue.\n",
			amount, dueDate.Format("2006-01-02"),
		)
		if penalty > 0 {
			body += fmt.Sprintf("A late penalty of %.2f USD has been applied.\n", penalty)
		}
		body += "Please settle the installment as soon as possible to avoid further penalties.\n"
	} else {
		body += fmt.Sprintf(
			"This is a reminder that your installment of %.2f USD is due on %s.\n",
			amount, dueDate.Format("2006-01-02"),
		)
	}
	body += "\nBest regards,\nEstate Finance"
	e.Text = []byte(body)

	if err := s.send(e); err != nil {
		s.logger.Errorf("Failed to send reminder to %s: %v", to, err)
		return fmt.Errorf("failed to send reminder: %w", err)
	}
	s.logger.Infof("Email sent to %s: %s", to, e.Subject)
	return nil
}

// SendFinancingConfirmation confirms a newly issued financing contract
func (s *Sender) SendFinancingConfirmation(to, username, reference string, principal, periodPayment float64, totalPayments int) error {
	e := email.NewEmail()
	e.From = s.cfg.SenderEmail
	e.To = []string{to}
	e.Subject = fmt.Sprintf("Financing Confirmed: %s", reference)

	body := fmt.Sprintf(
		"Dear %s,\n\n"+
			"Your property financing %s has been set up.\n"+
			"Amount financed: %.2f USD\n"+
			"Installment: %.2f USD over %d payments\n"+
			"\nYou can review the full repayment schedule in your dashboard.\n"+
			"\nBest regards,\nEstate Finance",
		username, reference, principal, periodPayment, totalPayments,
	)
	e.Text = []byte(body)

	if err := s.send(e); err != nil {
		s.logger.Errorf("Failed to send confirmation to %s: %v", to, err)
		return fmt.Errorf("failed to send confirmation: %w", err)
	}
	s.logger.Infof("Email sent to %s: %s", to, e.Subject)
	return nil
}

func (s *Sender) send(e *email.Email) error {
	addr := fmt.Sprintf("%s:%s", s.cfg.SMTPHost, s.cfg.SMTPPort)
	auth := smtp.PlainAuth("", s.cfg.SMTPUsername, s.cfg.SMTPPassword, s.cfg.SMTPHost)
	return e.Send(addr, auth)
}
