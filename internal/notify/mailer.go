package notify

import (
	"context"
	"fmt"
	"log"

	"github.com/wneessen/go-mail"

	"cedra_fulfillment/internal/config"
	"cedra_fulfillment/internal/models"
)

type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SMTPMailer envoie par go-mail ; le contenu reste un simple texte, la mise en forme est hors de ce service
type SMTPMailer struct {
	cfg config.SMTPConfig
}

func NewSMTPMailer(cfg config.SMTPConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg}
}

func (m *SMTPMailer) Send(ctx context.Context, to, subject, body string) error {
	msg := mail.NewMsg()
	if err := msg.From(m.cfg.From); err != nil {
		return err
	}
	if err := msg.To(to); err != nil {
		return err
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)

	client, err := mail.NewClient(m.cfg.Host,
		mail.WithPort(m.cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthLogin),
		mail.WithUsername(m.cfg.Username),
		mail.WithPassword(m.cfg.Password),
		mail.WithTLSPolicy(mail.TLSMandatory),
	)
	if err != nil {
		return err
	}

	log.Println("📤 Envoi de l'e-mail à", to)
	return client.DialAndSendWithContext(ctx, msg)
}

func statusSubject(status models.OrderStatus) string {
	switch status {
	case models.StatusPaid:
		return "✅ Paiement confirmé - Cedra"
	case models.StatusFailed:
		return "⚠️ Paiement refusé - Cedra"
	case models.StatusCancelled:
		return "❌ Commande annulée - Cedra"
	case models.StatusRefunded:
		return "💰 Remboursement effectué - Cedra"
	default:
		return "📋 Mise à jour de votre commande - Cedra"
	}
}

func statusBody(o *models.Order) string {
	return fmt.Sprintf("Bonjour,\n\nVotre commande %s est désormais : %s.\nMontant : %s %s\n\nL'équipe Cedra\n",
		o.OrderID, o.Status, o.Amounts.Total.StringFixed(2), o.Currency)
}

// emailWorthy : seuls les statuts terminaux déclenchent un e-mail
func emailWorthy(status models.OrderStatus) bool {
	switch status {
	case models.StatusPaid, models.StatusFailed, models.StatusCancelled, models.StatusRefunded:
		return true
	}
	return false
}
