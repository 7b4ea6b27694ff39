// Package quic carries space frames over a single bidirectional QUIC stream
// per client, framed with a length prefix.
package quic

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"time"

	"github.com/quic-go/quic-go"
)

const (
	// NextProto is the ALPN identifier negotiated by relay and clients.
	NextProto = "spacesync-quic"

	transportName = "quic"

	// DefaultIdleTimeout is the default connection idle timeout
	DefaultIdleTimeout = 30 * time.Second

	// DefaultKeepAlive is the default keep-alive interval
	DefaultKeepAlive = 10 * time.Second
)

// Config holds QUIC link settings.
type Config struct {
	IdleTimeout    time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	KeepAlive      time.Duration `yaml:"keep_alive" env:"KEEP_ALIVE"`
	WriteTimeout   time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	MaxMessageSize int           `yaml:"max_message_size" env:"MAX_MESSAGE_SIZE"`
	// InsecureSkipVerify lets clients accept the relay's self-signed certificate.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify" env:"INSECURE_SKIP_VERIFY"`
}

func DefaultConfig() Config {
	return Config{
		IdleTimeout:    DefaultIdleTimeout,
		KeepAlive:      DefaultKeepAlive,
		WriteTimeout:   5 * time.Second,
		MaxMessageSize: 1024 * 1024,
	}
}

func (c Config) quicConfig() *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:  c.IdleTimeout,
		KeepAlivePeriod: c.KeepAlive,
	}
}

// ClientTLS returns the TLS configuration used when dialing a relay.
func (c Config) ClientTLS() *tls.Config {
	return &tls.Config{
		InsecureSkipVerify: c.InsecureSkipVerify, //nolint:gosec // development relays use self-signed certificates
		NextProtos:         []string{NextProto},
		MinVersion:         tls.VersionTLS13,
	}
}

// GenerateSelfSignedTLS generates a self-signed TLS certificate for development
func GenerateSelfSignedTLS() (*tls.Config, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}

	template := x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		Subject:               pkix.Name{Organization: []string{"SpaceSync"}},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
		DNSNames:              []string{"localhost"},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		Certificates: []tls.Certificate{{Certificate: [][]byte{certDER}, PrivateKey: privateKey}},
		NextProtos:   []string{NextProto},
		MinVersion:   tls.VersionTLS13,
	}, nil
}
