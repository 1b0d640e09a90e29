package mailer

import (
	"bytes"
	"fmt"
	"html/template"
	"net/url"
	"strings"
)

var (
	verificationHTML = template.Must(template.New("verification").Parse(
		`<p>Your {{if .Resent}}new {{end}}verification code is: <b>{{.Code}}</b></p>` +
			`{{if .Resent}}<p><small>This code expires in 15 minutes.</small></p>{{end}}`))

	resetHTML = template.Must(template.New("reset").Parse(
		`<p>You requested a password reset.</p>` +
			`<p><a href="{{.Link}}">Click here to reset your password</a></p>` +
			`<p>This link expires in 1 hour.</p>` +
			`<p>If you didn't request this, please ignore this email.</p>`))
)

// VerificationMessage builds the email carrying a registration code
func VerificationMessage(to, code string, resent bool) (Message, error) {
	var html bytes.Buffer
	if err := verificationHTML.Execute(&html, struct {
		Code   string
		Resent bool
	}{code, resent}); err != nil {
		return Message{}, fmt.Errorf("render verification mail: %w", err)
	}

	msg := Message{
		To:      to,
		Subject: "Verify your email",
		Text:    "Your verification code is: " + code,
		HTML:    html.String(),
	}
	if resent {
		msg.Subject = "Verify your email - Resent"
		msg.Text = "Your new verification code is: " + code
	}

	return msg, nil
}

// ResetLink returns <frontendURL>/reset-password?token=<token>
func ResetLink(frontendURL, token string) string {
	return strings.TrimRight(frontendURL, "/") + "/reset-password?token=" + url.QueryEscape(token)
}

// PasswordResetMessage builds the email with the reset link
func PasswordResetMessage(to, link string) (Message, error) {
	var html bytes.Buffer
	if err := resetHTML.Execute(&html, struct{ Link string }{link}); err != nil {
		return Message{}, fmt.Errorf("render reset mail: %w", err)
	}

	return Message{
		To:      to,
		Subject: "Password Reset Request",
		Text: "You requested a password reset. Click this link to reset your password: " + link +
			"\n\nThis link expires in 1 hour.\n\nIf you didn't request this, please ignore this email.",
		HTML: html.String(),
	}, nil
}
