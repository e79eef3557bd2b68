// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package email

import (
	"context"
	"fmt"
	"html"
	"time"

	"github.com/lunahealth/recovery/internal/i18n"
)

// OTPBody renders the HTML body of the one-time code email.
func OTPBody(ctx context.Context, code string, ttl time.Duration) string {
	minutes := int(ttl.Minutes())
	return fmt.Sprintf(`<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px;">
  <h2 style="color: #333; text-align: center;">Password Reset Request</h2>
  <p style="color: #666; font-size: 16px;">%s</p>
  <div style="background-color: #f5f5f5; border-radius: 8px; padding: 20px; text-align: center; margin: 20px 0;">
    <span style="font-size: 32px; font-weight: bold; letter-spacing: 8px; color: #333;">%s</span>
  </div>
  <p style="color: #666; font-size: 14px;">%s</p>
  <p style="color: #999; font-size: 12px;">%s</p>
</div>`,
		html.EscapeString(i18n.T(ctx, "otp_email_intro")),
		html.EscapeString(code),
		i18n.TData(ctx, "otp_email_expiry", map[string]any{"Minutes": minutes}),
		html.EscapeString(i18n.T(ctx, "otp_email_footer")),
	)
}

// ResetLinkBody renders the HTML body of the reset link email.
func ResetLinkBody(ctx context.Context, link string, ttl time.Duration) string {
	minutes := int(ttl.Minutes())
	escapedLink := html.EscapeString(link)
	return fmt.Sprintf(`<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px; background-color: #ffffff;">
  <h2 style="color: #333; text-align: center; margin-bottom: 30px;">Password Reset Request</h2>
  <p style="color: #666; font-size: 16px; line-height: 1.6;">%s</p>
  <div style="text-align: center; margin: 30px 0;">
    <a href="%s" style="display: inline-block; background-color: #8B5CF6; color: #ffffff; text-decoration: none; padding: 14px 32px; border-radius: 8px; font-size: 16px; font-weight: bold;">%s</a>
  </div>
  <p style="color: #666; font-size: 14px; line-height: 1.6;">%s</p>
  <p style="color: #8B5CF6; font-size: 14px; word-break: break-all; background-color: #f5f5f5; padding: 12px; border-radius: 4px;">%s</p>
  <p style="color: #666; font-size: 14px; margin-top: 20px;">%s</p>
  <hr style="border: none; border-top: 1px solid #eee; margin: 30px 0;" />
  <p style="color: #999; font-size: 12px; text-align: center;">%s</p>
</div>`,
		html.EscapeString(i18n.T(ctx, "link_email_intro")),
		escapedLink,
		html.EscapeString(i18n.T(ctx, "link_email_button")),
		html.EscapeString(i18n.T(ctx, "link_email_copy")),
		escapedLink,
		i18n.TData(ctx, "link_email_expiry", map[string]any{"Minutes": minutes}),
		html.EscapeString(i18n.T(ctx, "link_email_footer")),
	)
}
