package provider

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"github.com/emersion/go-msgauth/dkim"
)

// DKIMSigner signs outgoing messages
type DKIMSigner struct {
	privateKey *rsa.PrivateKey
	domain     string
	selector   string
}

// NewDKIMSigner creates a signer from an RSA key
func NewDKIMSigner(privateKey *rsa.PrivateKey, domain, selector string) *DKIMSigner {
	return &DKIMSigner{
		privateKey: privateKey,
		domain:     domain,
		selector:   selector,
	}
}

// GenerateDKIMSigner creates a signer with a new RSA 2048-bit key
func GenerateDKIMSigner(domain, selector string) (*DKIMSigner, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key: %w", err)
	}
	return NewDKIMSigner(key, domain, selector), nil
}

// NewDKIMSignerFromFile loads a PEM key (PKCS#1 or PKCS#8)
func NewDKIMSignerFromFile(keyFile, domain, selector string) (*DKIMSigner, error) {
	data, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read DKIM key: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("failed to decode DKIM key PEM block")
	}

	var key *rsa.PrivateKey
	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err = x509.ParsePKCS1PrivateKey(block.Bytes)
	case "PRIVATE KEY":
		var parsed any
		parsed, err = x509.ParsePKCS8PrivateKey(block.Bytes)
		if err == nil {
			var ok bool
			if key, ok = parsed.(*rsa.PrivateKey); !ok {
				err = fmt.Errorf("key is not RSA")
			}
		}
	default:
		err = fmt.Errorf("unsupported key type: %s", block.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load DKIM key: %w", err)
	}

	return NewDKIMSigner(key, domain, selector), nil
}

// Sign returns the message with a DKIM-Signature header prepended
func (s *DKIMSigner) Sign(message []byte) ([]byte, error) {
	options := &dkim.SignOptions{
		Domain:                 s.domain,
		Selector:               s.selector,
		Signer:                 s.privateKey,
		Hash:                   crypto.SHA256,
		HeaderCanonicalization: dkim.CanonicalizationRelaxed,
		BodyCanonicalization:   dkim.CanonicalizationRelaxed,
	}

	var signed bytes.Buffer
	if err := dkim.Sign(&signed, bytes.NewReader(message), options); err != nil {
		return nil, fmt.Errorf("failed to sign message: %w", err)
	}
	return signed.Bytes(), nil
}

// SavePrivateKey writes the key as a PKCS#1 PEM file readable by the owner only
func (s *DKIMSigner) SavePrivateKey(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create key file: %w", err)
	}
	defer file.Close()

	block := &pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(s.privateKey),
	}
	if err := pem.Encode(file, block); err != nil {
		return fmt.Errorf("failed to encode private key: %w", err)
	}
	return nil
}

// DNSName returns the name of the DKIM TXT record
func (s *DKIMSigner) DNSName() string {
	return fmt.Sprintf("%s._domainkey.%s", s.selector, s.domain)
}

// DNSRecord returns the content of the DKIM TXT record
func (s *DKIMSigner) DNSRecord() (string, error) {
	pub, err := x509.MarshalPKIXPublicKey(&s.privateKey.PublicKey)
	if err != nil {
		return "", fmt.Errorf("failed to marshal public key: %w", err)
	}
	return "v=DKIM1; k=rsa; p=" + base64.StdEncoding.EncodeToString(pub), nil
}
