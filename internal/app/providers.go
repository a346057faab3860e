package app

import (
	"crypto/tls"
	"fmt"
	"log/slog"

	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/campaignd/internal/config"
	"github.com/foxzi/campaignd/internal/provider"
)

// senders are the communication channels handed to the step processors
type senders struct {
	email   provider.EmailSender
	sms     provider.SMSSender
	dialer  provider.VoiceDialer
	sandbox *provider.Sandbox
}

// newSenders builds the providers of the configured mode. In smtp mode
// email goes through the relay and SMS and calls through the HTTP gateway.
func newSenders(cfg *config.Config, boltDB *bolt.DB, logger *slog.Logger) (*senders, error) {
	pc := cfg.Providers

	switch pc.Mode {
	case "sandbox":
		sb, err := provider.NewSandbox(boltDB, pc.Sandbox.FailureRate, logger.With("component", "sandbox"))
		if err != nil {
			return nil, fmt.Errorf("failed to create sandbox provider: %w", err)
		}
		logger.Warn("sandbox provider enabled, nothing is delivered", "failure_rate", pc.Sandbox.FailureRate)
		return &senders{email: sb, sms: sb, dialer: sb, sandbox: sb}, nil

	case "http":
		gw := newGateway(pc.HTTP)
		logger.Info("http provider enabled", "base_url", pc.HTTP.BaseURL)
		return &senders{email: gw, sms: gw, dialer: gw}, nil

	case "smtp":
		var signer *provider.DKIMSigner
		if pc.SMTP.DKIM.Enabled {
			var err error
			signer, err = provider.NewDKIMSignerFromFile(pc.SMTP.DKIM.KeyFile, pc.SMTP.DKIM.Domain, pc.SMTP.DKIM.Selector)
			if err != nil {
				return nil, fmt.Errorf("failed to load DKIM key: %w", err)
			}
			logger.Info("DKIM signing enabled", "domain", pc.SMTP.DKIM.Domain, "selector", pc.SMTP.DKIM.Selector)
		}
		relay := provider.NewSMTPSender(provider.SMTPConfig{
			Host:      pc.SMTP.Host,
			Port:      pc.SMTP.Port,
			Username:  pc.SMTP.Username,
			Password:  pc.SMTP.Password,
			From:      pc.SMTP.From,
			Hostname:  cfg.Server.Hostname,
			Timeout:   pc.SMTP.Timeout,
			TLS:       pc.SMTP.TLS,
			TLSConfig: &tls.Config{InsecureSkipVerify: pc.SMTP.TLSSkipVerify},
		}, signer, logger.With("component", "smtp_sender"))
		gw := newGateway(pc.HTTP)
		logger.Info("smtp provider enabled", "host", pc.SMTP.Host, "port", pc.SMTP.Port, "tls", pc.SMTP.TLS)
		return &senders{email: relay, sms: gw, dialer: gw}, nil
	}

	return nil, fmt.Errorf("unknown provider mode: %s", pc.Mode)
}

func newGateway(c config.HTTPProvider) *provider.HTTPClient {
	return provider.NewHTTPClient(provider.HTTPConfig{
		BaseURL:           c.BaseURL,
		APIKey:            c.APIKey,
		Timeout:           c.Timeout,
		RequestsPerSecond: c.RequestsPerSecond,
		Burst:             c.Burst,
	})
}
