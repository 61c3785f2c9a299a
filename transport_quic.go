package mqttv3

import (
	"context"
	"crypto/tls"
	"errors"
	"net"

	"github.com/quic-go/quic-go"
)

// QUICProtocol is the ALPN identifier offered on QUIC connections.
const QUICProtocol = "mqtt"

// QUICConn carries the MQTT byte stream on one bidirectional QUIC stream.
// Read, Write and the deadline methods come from the stream.
type QUICConn struct {
	*quic.Stream
	session *quic.Conn
}

// Close closes the stream and then the QUIC connection.
func (c *QUICConn) Close() error {
	return errors.Join(c.Stream.Close(), c.session.CloseWithError(0, ""))
}

func (c *QUICConn) LocalAddr() net.Addr  { return c.session.LocalAddr() }
func (c *QUICConn) RemoteAddr() net.Addr { return c.session.RemoteAddr() }

// QUICDialer connects to brokers over QUIC. Address is host:port.
type QUICDialer struct {
	TLSConfig  *tls.Config
	QUICConfig *quic.Config
}

// NewQUICDialer returns a QUIC dialer using tlsConfig, which may be nil.
func NewQUICDialer(tlsConfig *tls.Config) *QUICDialer {
	return &QUICDialer{TLSConfig: tlsConfig}
}

func (d *QUICDialer) tlsConfig(address string) *tls.Config {
	cfg := d.TLSConfig
	if cfg == nil {
		cfg = &tls.Config{}
	}
	cfg = cfg.Clone()
	cfg.MinVersion = tls.VersionTLS13
	if len(cfg.NextProtos) == 0 {
		cfg.NextProtos = []string{QUICProtocol}
	}
	if cfg.ServerName == "" {
		if host, _, err := net.SplitHostPort(address); err == nil {
			cfg.ServerName = host
		}
	}
	return cfg
}

// Dial opens a QUIC connection and its single stream.
func (d *QUICDialer) Dial(ctx context.Context, address string) (net.Conn, error) {
	session, err := quic.DialAddr(ctx, address, d.tlsConfig(address), d.QUICConfig)
	if err != nil {
		return nil, err
	}

	stream, err := session.OpenStreamSync(ctx)
	if err != nil {
		session.CloseWithError(0, "open stream")
		return nil, err
	}

	return &QUICConn{Stream: stream, session: session}, nil
}
