package filter

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/mail"
	"os"
	"strings"
	"time"

	"github.com/emersion/go-smtp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mailpilot/triage-engine/internal/config"
	"github.com/mailpilot/triage-engine/internal/core"
	"github.com/mailpilot/triage-engine/internal/triage"
)

// SMTPFilter is an SMTP content filter that triages incoming support mail
// and injects the verdict as message headers before relaying.
type SMTPFilter struct {
	service *triage.Service
	logger  *zap.Logger
	cfg     config.ServerConfig
	server  *smtp.Server
}

// NewSMTPFilter creates a new SMTP triage filter
func NewSMTPFilter(service *triage.Service, logger *zap.Logger, cfg config.ServerConfig) *SMTPFilter {
	if cfg.SubjectPrefix == "" && cfg.ModifySubject {
		cfg.SubjectPrefix = "[ESCALATE] "
	}

	return &SMTPFilter{
		service: service,
		logger:  logger,
		cfg:     cfg,
	}
}

// Start starts the SMTP filter service
func (f *SMTPFilter) Start() error {
	f.server = smtp.NewServer(&smtpBackend{filter: f})

	f.server.Addr = f.cfg.ListenAddress
	f.server.Domain = "localhost"
	f.server.ReadTimeout = 30 * time.Second
	f.server.WriteTimeout = 30 * time.Second
	f.server.MaxMessageBytes = 30 * 1024 * 1024 // 30MB
	f.server.MaxRecipients = 50
	f.server.AllowInsecureAuth = true

	f.logger.Info("SMTP triage filter starting", zap.String("address", f.cfg.ListenAddress))

	go func() {
		if err := f.server.ListenAndServe(); err != nil {
			if err != smtp.ErrServerClosed {
				f.logger.Error("SMTP server error", zap.Error(err))
			}
		}
	}()

	return nil
}

// Stop stops the SMTP filter service
func (f *SMTPFilter) Stop() error {
	if f.server != nil {
		return f.server.Close()
	}
	return nil
}

// ProcessEmail triages an email directly, bypassing the SMTP transport.
func (f *SMTPFilter) ProcessEmail(ctx context.Context, email *core.EmailContent, conv *core.Conversation) *core.TriageResult {
	return f.service.Triage(ctx, email, conv)
}

// relay sends the annotated email onward to the configured next hop.
func (f *SMTPFilter) relay(sender string, recipients []string, emailData []byte) error {
	relayAddr := fmt.Sprintf("%s:%d", f.cfg.RelayAddress, f.cfg.RelayPort)

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}

	conn, err := net.DialTimeout("tcp", relayAddr, 10*time.Second)
	if err != nil {
		return fmt.Errorf("failed to connect to relay: %w", err)
	}

	if err := conn.SetDeadline(time.Now().Add(30 * time.Second)); err != nil {
		conn.Close()
		return fmt.Errorf("failed to set connection deadline: %w", err)
	}

	c := smtp.NewClient(conn)
	defer c.Close()

	if err := c.Hello(hostname); err != nil {
		return fmt.Errorf("EHLO failed: %w", err)
	}

	if err := c.Mail(sender, nil); err != nil {
		return fmt.Errorf("MAIL FROM failed: %w", err)
	}

	recipientOK := false
	for _, recipient := range recipients {
		if err := c.Rcpt(recipient, nil); err != nil {
			f.logger.Warn("RCPT TO failed for recipient",
				zap.String("recipient", recipient),
				zap.Error(err))
		} else {
			recipientOK = true
		}
	}
	if !recipientOK {
		return fmt.Errorf("all recipients were rejected")
	}

	wc, err := c.Data()
	if err != nil {
		return fmt.Errorf("DATA command failed: %w", err)
	}
	if _, err := wc.Write(emailData); err != nil {
		wc.Close()
		return fmt.Errorf("failed to send email data: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("failed to close data writer: %w", err)
	}

	if err := c.Quit(); err != nil {
		f.logger.Warn("QUIT command failed", zap.Error(err))
	}
	return nil
}

// smtpBackend implements the go-smtp Backend interface
type smtpBackend struct {
	filter *SMTPFilter
}

// NewSession creates a new SMTP session
func (b *smtpBackend) NewSession(c *smtp.Conn) (smtp.Session, error) {
	return &smtpSession{
		filter:     b.filter,
		recipients: make([]string, 0),
	}, nil
}

// smtpSession implements the go-smtp Session interface
type smtpSession struct {
	filter     *SMTPFilter
	sender     string
	recipients []string
}

// Reset resets the session state
func (s *smtpSession) Reset() {
	s.sender = ""
	s.recipients = make([]string, 0)
}

// AuthPlain handles PLAIN authentication (not needed for the filter)
func (s *smtpSession) AuthPlain(_ []byte) error {
	return smtp.ErrAuthUnsupported
}

// Mail sets the sender address
func (s *smtpSession) Mail(from string, _ *smtp.MailOptions) error {
	s.sender = from
	return nil
}

// Rcpt adds a recipient
func (s *smtpSession) Rcpt(to string, _ *smtp.RcptOptions) error {
	s.recipients = append(s.recipients, to)
	return nil
}

// Data triages the message and relays it with verdict headers attached
func (s *smtpSession) Data(r io.Reader) error {
	rawData, err := io.ReadAll(r)
	if err != nil {
		s.filter.logger.Error("Failed to read message data", zap.Error(err))
		return err
	}

	msg, err := mail.ReadMessage(bytes.NewReader(rawData))
	if err != nil {
		s.filter.logger.Error("Failed to parse email message", zap.Error(err))
		return err
	}

	email, conv := s.buildPass(msg)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	result := s.filter.service.Triage(ctx, email, conv)
	cls := &result.Classification

	var annotated bytes.Buffer

	// Verdict headers go first so downstream rules can match on them
	fmt.Fprintf(&annotated, "%s: %s\r\n", s.filter.cfg.TagHeader, cls.AutomationTag)
	fmt.Fprintf(&annotated, "%s: %s\r\n", s.filter.cfg.PriorityHeader, result.Priority.Band)
	fmt.Fprintf(&annotated, "%s: %.2f\r\n", s.filter.cfg.ScoreHeader, result.Priority.Score)
	fmt.Fprintf(&annotated, "%s: %s\r\n", s.filter.cfg.ReasonHeader, cls.AutomationReason)
	if cls.UsedFallback {
		fmt.Fprintf(&annotated, "X-Triage-Error: semantic classifier unavailable, rule result used\r\n")
	}

	escalated := cls.AutomationTag == core.TagEscalate
	prefixSubject := escalated && s.filter.cfg.ModifySubject && s.filter.cfg.SubjectPrefix != ""

	for key, values := range msg.Header {
		if prefixSubject && strings.EqualFold(key, "Subject") {
			continue
		}
		for _, value := range values {
			fmt.Fprintf(&annotated, "%s: %s\r\n", key, value)
		}
	}

	if prefixSubject {
		subject := msg.Header.Get("Subject")
		if decoded, derr := decodeEncodedHeader(subject); derr == nil {
			subject = decoded
		}
		if !strings.HasPrefix(subject, s.filter.cfg.SubjectPrefix) {
			subject = s.filter.cfg.SubjectPrefix + subject
		}
		fmt.Fprintf(&annotated, "Subject: %s\r\n", subject)
	}

	fmt.Fprintf(&annotated, "\r\n")
	annotated.Write(rawBody(rawData))

	if s.filter.cfg.RelayEnabled {
		if err := s.filter.relay(s.sender, s.recipients, annotated.Bytes()); err != nil {
			s.filter.logger.Error("Failed to relay email",
				zap.Error(err),
				zap.String("sender", s.sender))
			return err
		}
	}

	s.filter.logger.Info("Triaged email",
		zap.String("from", email.FromAddress),
		zap.String("tag", string(cls.AutomationTag)),
		zap.String("band", string(result.Priority.Band)),
		zap.Float64("score", result.Priority.Score),
		zap.Duration("elapsed", result.Elapsed))

	return nil
}

// Logout handles SMTP logout
func (s *smtpSession) Logout() error {
	return nil
}

// buildPass converts a parsed message into the triage input shapes. A bare
// SMTP delivery carries no thread history, so the conversation is a single
// unread message.
func (s *smtpSession) buildPass(msg *mail.Message) (*core.EmailContent, *core.Conversation) {
	subject := msg.Header.Get("Subject")
	if decoded, err := decodeEncodedHeader(subject); err == nil {
		subject = decoded
	}

	body, err := extractTextFromMessage(msg)
	if err != nil {
		s.filter.logger.Warn("Failed to extract text content", zap.Error(err))
		body = ""
	}

	receivedAt := time.Now()
	if date, err := msg.Header.Date(); err == nil {
		receivedAt = date
	}

	fromName := ""
	fromAddr := s.sender
	if addr, err := mail.ParseAddress(msg.Header.Get("From")); err == nil {
		fromName = addr.Name
		if fromAddr == "" {
			fromAddr = addr.Address
		}
	}

	email := &core.EmailContent{
		Subject:        subject,
		Body:           body,
		FromAddress:    fromAddr,
		FromName:       fromName,
		ToAddresses:    s.recipients,
		ReceivedTime:   receivedAt,
		HasAttachments: hasAttachments(msg.Header.Get("Content-Type")),
		HighImportance: highImportance(msg),
	}

	convID := strings.Trim(msg.Header.Get("Message-Id"), "<>")
	if convID == "" {
		convID = uuid.New().String()
	}

	conv := &core.Conversation{
		ID:             convID,
		Subject:        subject,
		MessageCount:   1,
		UnreadCount:    1,
		FirstMessageAt: receivedAt,
		LastMessageAt:  receivedAt,
		Messages: []core.MessagePreview{{
			Subject: subject,
			Preview: body,
			From:    fromAddr,
			SentAt:  receivedAt,
		}},
	}

	return email, conv
}

func highImportance(msg *mail.Message) bool {
	if strings.EqualFold(msg.Header.Get("Importance"), "high") {
		return true
	}
	switch strings.TrimSpace(msg.Header.Get("X-Priority")) {
	case "1", "2":
		return true
	}
	return false
}

// rawBody returns the body bytes of a raw message, preserving MIME parts
// and attachments exactly as received.
func rawBody(rawData []byte) []byte {
	if i := bytes.Index(rawData, []byte("\r\n\r\n")); i != -1 {
		return rawData[i+4:]
	}
	if i := bytes.Index(rawData, []byte("\n\n")); i != -1 {
		return rawData[i+2:]
	}
	return nil
}
