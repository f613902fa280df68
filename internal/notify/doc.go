// Package notify delivers password reset codes.
//
// LinkPulse does not speak SMTP. Reset e-mails are queued as JSON on the
// MQTT mail outbox topic (linkpulse/mail/outbox) and a separate delivery
// worker sends them. When MQTT is disabled the LogMailer records that a
// code was issued without writing the code itself, so development setups
// still work.
//
// Outbox message:
//
//	{
//	  "from": "no-reply@linkpulse.local",
//	  "to": "ada@example.com",
//	  "subject": "Your LinkPulse password reset code",
//	  "body": "Your password reset code is 123456. It expires at 12:10 UTC.",
//	  "template": "password_reset",
//	  "code": "123456",
//	  "expiresAt": "2026-03-01T12:10:00Z"
//	}
package notify
