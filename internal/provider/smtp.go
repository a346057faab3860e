package provider

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/google/uuid"

	"github.com/foxzi/campaignd/internal/email"
)

// TLS modes of the relay connection
const (
	TLSStartTLS = "starttls"
	TLSImplicit = "tls"
	TLSNone     = "none"
)

// SMTPConfig contains relay settings
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Hostname string // EHLO name
	Timeout  time.Duration

	// TLS is one of TLSStartTLS, TLSImplicit or TLSNone. Empty means
	// implicit TLS on port 465 and STARTTLS elsewhere.
	TLS string
	// TLSConfig is cloned for every connection; ServerName defaults to Host
	TLSConfig *tls.Config
}

// SMTPSender delivers email through an authenticated relay
type SMTPSender struct {
	cfg    SMTPConfig
	signer *DKIMSigner
	logger *slog.Logger
}

// NewSMTPSender creates a relay sender. signer may be nil.
func NewSMTPSender(cfg SMTPConfig, signer *DKIMSigner, logger *slog.Logger) *SMTPSender {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Hostname == "" {
		cfg.Hostname = "localhost"
	}
	if cfg.TLS == "" {
		cfg.TLS = TLSStartTLS
		if cfg.Port == 465 {
			cfg.TLS = TLSImplicit
		}
	}
	return &SMTPSender{
		cfg:    cfg,
		signer: signer,
		logger: logger.With("component", "smtp"),
	}
}

func (s *SMTPSender) SendEmail(ctx context.Context, msg *EmailMessage) (*SendResult, error) {
	from := msg.From
	if from == "" {
		from = s.cfg.From
	}
	if !email.Valid(msg.To) {
		return nil, &DeliveryError{Temporary: false, Message: fmt.Sprintf("invalid recipient %q", msg.To)}
	}

	messageID := msg.IdempotencyKey
	if messageID == "" {
		messageID = uuid.New().String()
	}
	data, err := buildMessage(messageID, from, msg)
	if err != nil {
		return nil, fmt.Errorf("failed to build message: %w", err)
	}
	if s.signer != nil {
		if data, err = s.signer.Sign(data); err != nil {
			return nil, err
		}
	}

	if err := s.deliver(ctx, from, msg.To, data); err != nil {
		return nil, err
	}

	s.logger.Debug("email relayed", "company_id", msg.CompanyID, "message_id", messageID)
	return &SendResult{MessageID: messageID, Provider: "smtp"}, nil
}

func (s *SMTPSender) deliver(ctx context.Context, from, to string, data []byte) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))

	dialer := &net.Dialer{Timeout: s.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return &DeliveryError{Temporary: true, Message: fmt.Sprintf("connection failed to %s: %v", addr, err)}
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(s.cfg.Timeout))
	}

	c, err := s.newClient(conn)
	if err != nil {
		conn.Close()
		return err
	}
	defer c.Close()

	if s.cfg.Username != "" {
		if err := c.Auth(sasl.NewPlainClient("", s.cfg.Username, s.cfg.Password)); err != nil {
			return classifySMTPError("AUTH", err)
		}
	}
	if err := c.SendMail(from, []string{to}, bytes.NewReader(data)); err != nil {
		return classifySMTPError("send", err)
	}
	return c.Quit()
}

// newClient sets up the session on conn according to the TLS mode.
// STARTTLS sessions greet with the library's default EHLO name.
func (s *SMTPSender) newClient(conn net.Conn) (*smtp.Client, error) {
	switch s.cfg.TLS {
	case TLSStartTLS:
		c, err := smtp.NewClientStartTLS(conn, s.tlsConfig())
		if err != nil {
			return nil, classifySMTPError("STARTTLS", err)
		}
		return c, nil
	case TLSImplicit:
		c := smtp.NewClient(tls.Client(conn, s.tlsConfig()))
		if err := c.Hello(s.cfg.Hostname); err != nil {
			c.Close()
			return nil, classifySMTPError("EHLO", err)
		}
		return c, nil
	case TLSNone:
		c := smtp.NewClient(conn)
		if err := c.Hello(s.cfg.Hostname); err != nil {
			c.Close()
			return nil, classifySMTPError("EHLO", err)
		}
		return c, nil
	}
	return nil, &DeliveryError{Temporary: false, Message: fmt.Sprintf("unknown smtp tls mode %q", s.cfg.TLS)}
}

func (s *SMTPSender) tlsConfig() *tls.Config {
	cfg := &tls.Config{}
	if s.cfg.TLSConfig != nil {
		cfg = s.cfg.TLSConfig.Clone()
	}
	if cfg.ServerName == "" {
		cfg.ServerName = s.cfg.Host
	}
	if cfg.MinVersion == 0 {
		cfg.MinVersion = tls.VersionTLS12
	}
	return cfg
}

func classifySMTPError(stage string, err error) error {
	var se *smtp.SMTPError
	if errors.As(err, &se) {
		return &DeliveryError{
			Temporary: se.Code < 500,
			Message:   fmt.Sprintf("%s failed: %d %s", stage, se.Code, se.Message),
		}
	}
	return &DeliveryError{Temporary: true, Message: fmt.Sprintf("%s failed: %v", stage, err)}
}

// buildMessage renders an RFC 5322 message, multipart/alternative when both
// text and HTML bodies are present
func buildMessage(messageID, from string, msg *EmailMessage) ([]byte, error) {
	var buf bytes.Buffer

	fromHeader := from
	if msg.FromName != "" {
		fromHeader = mime.QEncoding.Encode("utf-8", msg.FromName) + " <" + from + ">"
	}
	domain := email.ExtractDomain(from)
	if domain == "" {
		domain = "localhost"
	}

	fmt.Fprintf(&buf, "From: %s\r\n", fromHeader)
	fmt.Fprintf(&buf, "To: %s\r\n", msg.To)
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	fmt.Fprintf(&buf, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	fmt.Fprintf(&buf, "Message-ID: <%s@%s>\r\n", messageID, domain)
	buf.WriteString("MIME-Version: 1.0\r\n")

	switch {
	case msg.HTML != "" && msg.Text != "":
		mw := multipart.NewWriter(&buf)
		fmt.Fprintf(&buf, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", mw.Boundary())
		for _, part := range []struct{ ctype, body string }{
			{"text/plain", msg.Text},
			{"text/html", msg.HTML},
		} {
			w, err := mw.CreatePart(textproto.MIMEHeader{
				"Content-Type":              {part.ctype + "; charset=utf-8"},
				"Content-Transfer-Encoding": {"quoted-printable"},
			})
			if err != nil {
				return nil, err
			}
			if err := writeQP(w, part.body); err != nil {
				return nil, err
			}
		}
		if err := mw.Close(); err != nil {
			return nil, err
		}
	default:
		ctype, body := "text/plain", msg.Text
		if msg.HTML != "" {
			ctype, body = "text/html", msg.HTML
		}
		fmt.Fprintf(&buf, "Content-Type: %s; charset=utf-8\r\n", ctype)
		buf.WriteString("Content-Transfer-Encoding: quoted-printable\r\n\r\n")
		if err := writeQP(&buf, body); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

func writeQP(w interface{ Write([]byte) (int, error) }, body string) error {
	qp := quotedprintable.NewWriter(w)
	body = strings.ReplaceAll(strings.ReplaceAll(body, "\r\n", "\n"), "\n", "\r\n")
	if _, err := qp.Write([]byte(body)); err != nil {
		return err
	}
	return qp.Close()
}
