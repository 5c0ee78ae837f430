package notify

import (
	"strings"

	"github.com/KDK-Alli/RecordManager/internal/config"
)

// SMTPConfig configures the email channel.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
	TLS      bool
}

// WebhookConfig configures the webhook channel.
type WebhookConfig struct {
	Enabled bool
	URL     string
	Secret  string
}

func smtpConfigFrom(n config.Notifications) (*SMTPConfig, error) {
	if n.SMTPHost == "" || n.SMTPFrom == "" || n.SMTPTo == "" {
		return nil, ErrNotConfigured
	}
	var to []string
	for _, addr := range strings.Split(n.SMTPTo, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			to = append(to, addr)
		}
	}
	return &SMTPConfig{
		Host:     n.SMTPHost,
		Port:     n.SMTPPort,
		Username: n.SMTPUsername,
		Password: n.SMTPPassword,
		From:     n.SMTPFrom,
		To:       to,
		TLS:      n.SMTPTLS,
	}, nil
}

func webhookConfigFrom(n config.Notifications) (*WebhookConfig, error) {
	if n.WebhookURL == "" {
		return nil, ErrNotConfigured
	}
	return &WebhookConfig{
		Enabled: n.WebhookEnabled,
		URL:     n.WebhookURL,
		Secret:  n.WebhookSecret,
	}, nil
}
