package provider

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"io"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

// relay is an in-process SMTP server capturing delivered messages
type relay struct {
	mu       sync.Mutex
	users    map[string]string
	from     string
	to       []string
	data     []byte
	rejectTo string

	tlsConfig *tls.Config // advertises STARTTLS when set
	secure    bool        // last MAIL FROM arrived over TLS
}

func (r *relay) NewSession(c *smtp.Conn) (smtp.Session, error) {
	return &relaySession{relay: r, conn: c}, nil
}

type relaySession struct {
	relay *relay
	conn  *smtp.Conn
	user  string
}

func (s *relaySession) AuthMechanisms() []string {
	return []string{sasl.Plain}
}

func (s *relaySession) Auth(mech string) (sasl.Server, error) {
	return sasl.NewPlainServer(func(identity, username, password string) error {
		if s.relay.users[username] != password {
			return smtp.ErrAuthFailed
		}
		s.user = username
		return nil
	}), nil
}

func (s *relaySession) Mail(from string, opts *smtp.MailOptions) error {
	if len(s.relay.users) > 0 && s.user == "" {
		return &smtp.SMTPError{Code: 530, Message: "Authentication required"}
	}
	_, secure := s.conn.TLSConnectionState()
	s.relay.mu.Lock()
	s.relay.from = from
	s.relay.secure = secure
	s.relay.mu.Unlock()
	return nil
}

func (s *relaySession) Rcpt(to string, opts *smtp.RcptOptions) error {
	if to == s.relay.rejectTo {
		return &smtp.SMTPError{Code: 550, Message: "No such user"}
	}
	s.relay.mu.Lock()
	s.relay.to = append(s.relay.to, to)
	s.relay.mu.Unlock()
	return nil
}

func (s *relaySession) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.relay.mu.Lock()
	s.relay.data = data
	s.relay.mu.Unlock()
	return nil
}

func (s *relaySession) Reset() {}
func (s *relaySession) Logout() error { return nil }

func startRelay(t *testing.T, r *relay) (string, int) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	srv := smtp.NewServer(r)
	srv.Domain = "localhost"
	srv.AllowInsecureAuth = true
	srv.ReadTimeout = 5 * time.Second
	srv.WriteTimeout = 5 * time.Second
	srv.TLSConfig = r.tlsConfig
	go srv.Serve(l)
	t.Cleanup(func() { srv.Close() })

	addr := l.Addr().(*net.TCPAddr)
	return "127.0.0.1", addr.Port
}

func TestSMTPSender_SendEmail(t *testing.T) {
	r := &relay{users: map[string]string{"campaigns": "secret"}}
	host, port := startRelay(t, r)

	s := NewSMTPSender(SMTPConfig{
		Host:     host,
		Port:     port,
		Username: "campaigns",
		Password: "secret",
		From:     "noreply@example.com",
		Timeout:  5 * time.Second,
		TLS:      TLSNone,
	}, nil, testLogger())

	res, err := s.SendEmail(context.Background(), &EmailMessage{
		CompanyID: "co-1",
		FromName:  "Acme Pest",
		To:        "jane@example.com",
		Subject:   "Your quote",
		Text:      "Hello Jane",
		HTML:      "<p>Hello Jane</p>",
	})
	if err != nil {
		t.Fatalf("SendEmail() error: %v", err)
	}
	if res.Provider != "smtp" || res.MessageID == "" {
		t.Errorf("SendEmail() = %+v", res)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.from != "noreply@example.com" {
		t.Errorf("MAIL FROM = %q", r.from)
	}
	if len(r.to) != 1 || r.to[0] != "jane@example.com" {
		t.Errorf("RCPT TO = %v", r.to)
	}
	msg := string(r.data)
	for _, want := range []string{"Subject: Your quote", "multipart/alternative", "text/plain", "text/html", "Hello Jane"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q", want)
		}
	}
}

// selfSignedTLS returns a server config for 127.0.0.1 and a pool trusting it
func selfSignedTLS(t *testing.T) (*tls.Config, *x509.CertPool) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "relay.test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("failed to create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("failed to parse certificate: %v", err)
	}
	pool := x509.NewCertPool()
	pool.AddCert(cert)
	return &tls.Config{Certificates: []tls.Certificate{{Certificate: [][]byte{der}, PrivateKey: key}}}, pool
}

func TestSMTPSender_StartTLS(t *testing.T) {
	serverTLS, roots := selfSignedTLS(t)
	r := &relay{users: map[string]string{"campaigns": "secret"}, tlsConfig: serverTLS}
	host, port := startRelay(t, r)

	s := NewSMTPSender(SMTPConfig{
		Host:      host,
		Port:      port,
		Username:  "campaigns",
		Password:  "secret",
		From:      "noreply@example.com",
		Timeout:   5 * time.Second,
		TLSConfig: &tls.Config{RootCAs: roots},
	}, nil, testLogger())

	if _, err := s.SendEmail(context.Background(), &EmailMessage{To: "jane@example.com", Subject: "Hi", Text: "Body"}); err != nil {
		t.Fatalf("SendEmail() error: %v", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.secure {
		t.Error("message should be relayed over TLS")
	}
	if len(r.to) != 1 || r.to[0] != "jane@example.com" {
		t.Errorf("RCPT TO = %v", r.to)
	}
}

func TestSMTPSender_StartTLSUnsupported(t *testing.T) {
	r := &relay{}
	host, port := startRelay(t, r)

	s := NewSMTPSender(SMTPConfig{Host: host, Port: port, From: "a@example.com", Timeout: 5 * time.Second}, nil, testLogger())
	if _, err := s.SendEmail(context.Background(), &EmailMessage{To: "jane@example.com", Text: "x"}); err == nil {
		t.Error("SendEmail() should fail when the relay does not offer STARTTLS")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.to) != 0 {
		t.Errorf("relay received RCPT TO %v without TLS", r.to)
	}
}

func TestSMTPSender_Errors(t *testing.T) {
	r := &relay{users: map[string]string{"campaigns": "secret"}, rejectTo: "gone@example.com"}
	host, port := startRelay(t, r)
	ctx := context.Background()

	t.Run("rejected recipient is permanent", func(t *testing.T) {
		s := NewSMTPSender(SMTPConfig{Host: host, Port: port, Username: "campaigns", Password: "secret", From: "a@example.com", TLS: TLSNone}, nil, testLogger())
		_, err := s.SendEmail(ctx, &EmailMessage{To: "gone@example.com", Text: "x"})
		var de *DeliveryError
		if !errors.As(err, &de) || de.Temporary {
			t.Errorf("error = %v, want permanent DeliveryError", err)
		}
	})

	t.Run("bad credentials", func(t *testing.T) {
		s := NewSMTPSender(SMTPConfig{Host: host, Port: port, Username: "campaigns", Password: "wrong", From: "a@example.com", TLS: TLSNone}, nil, testLogger())
		if _, err := s.SendEmail(ctx, &EmailMessage{To: "jane@example.com", Text: "x"}); err == nil {
			t.Error("SendEmail() should fail with bad credentials")
		}
	})

	t.Run("invalid recipient", func(t *testing.T) {
		s := NewSMTPSender(SMTPConfig{Host: host, Port: port, From: "a@example.com", TLS: TLSNone}, nil, testLogger())
		_, err := s.SendEmail(ctx, &EmailMessage{To: "not-an-address", Text: "x"})
		if err == nil || IsTemporary(err) {
			t.Errorf("error = %v, want permanent error", err)
		}
	})

	t.Run("unreachable relay", func(t *testing.T) {
		s := NewSMTPSender(SMTPConfig{Host: "127.0.0.1", Port: 1, From: "a@example.com", Timeout: time.Second}, nil, testLogger())
		_, err := s.SendEmail(ctx, &EmailMessage{To: "jane@example.com", Text: "x"})
		if !IsTemporary(err) {
			t.Errorf("error = %v, want temporary error", err)
		}
	})
}

func TestSMTPSender_DKIM(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	keyFile := filepath.Join(t.TempDir(), "dkim.pem")
	pemData := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	if err := os.WriteFile(keyFile, pemData, 0600); err != nil {
		t.Fatalf("failed to write key: %v", err)
	}

	signer, err := NewDKIMSignerFromFile(keyFile, "example.com", "mail")
	if err != nil {
		t.Fatalf("NewDKIMSignerFromFile() error: %v", err)
	}

	r := &relay{}
	host, port := startRelay(t, r)
	s := NewSMTPSender(SMTPConfig{Host: host, Port: port, From: "noreply@example.com", TLS: TLSNone}, signer, testLogger())

	if _, err := s.SendEmail(context.Background(), &EmailMessage{To: "jane@example.com", Subject: "Hi", Text: "Body"}); err != nil {
		t.Fatalf("SendEmail() error: %v", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !bytes.HasPrefix(r.data, []byte("DKIM-Signature:")) {
		t.Error("message should start with a DKIM-Signature header")
	}
	if !bytes.Contains(r.data, []byte("d=example.com")) || !bytes.Contains(r.data, []byte("s=mail")) {
		t.Error("DKIM signature should name the domain and selector")
	}
}

func TestNewDKIMSignerFromFile_Errors(t *testing.T) {
	dir := t.TempDir()
	garbage := filepath.Join(dir, "garbage.pem")
	os.WriteFile(garbage, []byte("not a key"), 0600)

	for _, path := range []string{filepath.Join(dir, "missing.pem"), garbage} {
		if _, err := NewDKIMSignerFromFile(path, "example.com", "mail"); err == nil {
			t.Errorf("NewDKIMSignerFromFile(%s) should fail", path)
		}
	}
}

func TestGenerateDKIMSigner(t *testing.T) {
	signer, err := GenerateDKIMSigner("example.com", "campaignd")
	if err != nil {
		t.Fatalf("GenerateDKIMSigner() error: %v", err)
	}
	if got := signer.DNSName(); got != "campaignd._domainkey.example.com" {
		t.Errorf("DNSName() = %q", got)
	}

	path := filepath.Join(t.TempDir(), "keys", "example.com.key")
	if err := signer.SavePrivateKey(path); err != nil {
		t.Fatalf("SavePrivateKey() error: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("key file not written: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("key file mode = %v, want 0600", info.Mode().Perm())
	}

	loaded, err := NewDKIMSignerFromFile(path, "example.com", "campaignd")
	if err != nil {
		t.Fatalf("NewDKIMSignerFromFile() error: %v", err)
	}
	want, _ := signer.DNSRecord()
	got, err := loaded.DNSRecord()
	if err != nil {
		t.Fatalf("DNSRecord() error: %v", err)
	}
	if got != want || !strings.HasPrefix(got, "v=DKIM1; k=rsa; p=") {
		t.Errorf("DNSRecord() = %q, want %q", got, want)
	}
}
