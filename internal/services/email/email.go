// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package email dispatches the recovery emails over SMTP.
package email

import (
	"context"
	"fmt"
	"time"

	"github.com/lunahealth/recovery/internal/config"
	"github.com/lunahealth/recovery/internal/i18n"
	"github.com/wneessen/go-mail"
)

// Mailer is the outbound email dependency of the recovery flow.
type Mailer interface {
	SendOTPCode(ctx context.Context, to, code string, ttl time.Duration) error
	SendResetLink(ctx context.Context, to, link string, ttl time.Duration) error
}

// Service sends recovery emails via SMTP using go-mail.
type Service struct {
	cfg *config.SMTPConfig
}

// NewService creates a new email service.
func NewService(cfg *config.SMTPConfig) (*Service, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("SMTP host is required")
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("SMTP from address is required")
	}

	return &Service{cfg: cfg}, nil
}

// SendOTPCode emails a one-time code. The code appears only in the email
// body, never in logs.
func (s *Service) SendOTPCode(ctx context.Context, to, code string, ttl time.Duration) error {
	subject := i18n.T(ctx, "otp_email_subject")
	body := OTPBody(ctx, code, ttl)
	return s.send(ctx, to, subject, body)
}

// SendResetLink emails a password reset link.
func (s *Service) SendResetLink(ctx context.Context, to, link string, ttl time.Duration) error {
	subject := i18n.T(ctx, "link_email_subject")
	body := ResetLinkBody(ctx, link, ttl)
	return s.send(ctx, to, subject, body)
}

// send sends an HTML email via SMTP.
func (s *Service) send(ctx context.Context, to, subject, body string) error {
	msg := mail.NewMsg()

	if s.cfg.FromName != "" {
		if err := msg.FromFormat(s.cfg.FromName, s.cfg.From); err != nil {
			return fmt.Errorf("setting from address: %w", err)
		}
	} else {
		if err := msg.From(s.cfg.From); err != nil {
			return fmt.Errorf("setting from address: %w", err)
		}
	}

	if err := msg.To(to); err != nil {
		return fmt.Errorf("setting to address: %w", err)
	}

	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextHTML, body)

	opts := []mail.Option{
		mail.WithPort(s.cfg.Port),
	}

	if s.cfg.TLS {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
		// Use implicit TLS (SSL) for port 465, STARTTLS for others
		if s.cfg.Port == 465 {
			opts = append(opts, mail.WithSSL())
		}
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	}

	if s.cfg.Username != "" && s.cfg.Password != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.cfg.Username),
			mail.WithPassword(s.cfg.Password),
		)
	}

	client, err := mail.NewClient(s.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("creating mail client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("sending email: %w", err)
	}

	return nil
}
