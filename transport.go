package mqttv3

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/url"
)

// ErrUnsupportedScheme is returned for a server URI whose scheme has no dialer.
var ErrUnsupportedScheme = errors.New("unsupported scheme")

// transportKind groups URI schemes that share a dialer.
type transportKind int

const (
	transportTCP transportKind = iota + 1
	transportTLS
	transportWS
	transportUnix
	transportQUIC
)

// schemes maps every accepted server URI scheme to its transport and the
// port used when the URI has none.
var schemes = map[string]struct {
	kind transportKind
	port string
}{
	"tcp":   {transportTCP, "1883"},
	"mqtt":  {transportTCP, "1883"},
	"ssl":   {transportTLS, "8883"},
	"tls":   {transportTLS, "8883"},
	"mqtts": {transportTLS, "8883"},
	"ws":    {transportWS, "80"},
	"wss":   {transportWS, "443"},
	"unix":  {transportUnix, ""},
	"quic":  {transportQUIC, "8883"},
}

// Dialer opens a byte stream to a broker address.
type Dialer interface {
	Dial(ctx context.Context, address string) (net.Conn, error)
}

var (
	_ Dialer = (*TCPDialer)(nil)
	_ Dialer = (*TLSDialer)(nil)
	_ Dialer = (*WSDialer)(nil)
	_ Dialer = (*UnixDialer)(nil)
	_ Dialer = (*QUICDialer)(nil)
)

// TCPDialer connects to brokers over plain TCP. Address is host:port.
type TCPDialer struct {
	net.Dialer
}

// Dial connects to address.
func (d *TCPDialer) Dial(ctx context.Context, address string) (net.Conn, error) {
	return d.DialContext(ctx, "tcp", address)
}

// TLSDialer connects to brokers over TLS. Address is host:port.
type TLSDialer struct {
	Config *tls.Config
}

// Dial connects to address and completes the handshake.
func (d *TLSDialer) Dial(ctx context.Context, address string) (net.Conn, error) {
	dialer := &tls.Dialer{Config: d.Config}
	return dialer.DialContext(ctx, "tcp", address)
}

// serverAddress is a parsed server URI.
type serverAddress struct {
	raw  string
	url  *url.URL
	kind transportKind
	host string
}

func parseServerAddress(raw string) (*serverAddress, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid address: %w", err)
	}

	scheme, ok := schemes[u.Scheme]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}

	host := u.Host
	if scheme.port != "" && u.Port() == "" {
		host = net.JoinHostPort(u.Hostname(), scheme.port)
	}

	return &serverAddress{raw: raw, url: u, kind: scheme.kind, host: host}, nil
}

// socketPath returns the filesystem path of a unix:// address. Both
// unix:///run/mqtt.sock and unix://localhost/run/mqtt.sock are accepted.
func (a *serverAddress) socketPath() string {
	if a.url.Host == "" || a.url.Host == "localhost" {
		return a.url.Path
	}
	return a.url.Host + a.url.Path
}

// tlsConfig returns the TLS settings for a, naming the server when the
// configuration does not.
func (a *serverAddress) tlsConfig(base *tls.Config) *tls.Config {
	cfg := base
	if cfg == nil {
		cfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if cfg.ServerName == "" {
		cfg = cfg.Clone()
		cfg.ServerName = a.url.Hostname()
	}
	return cfg
}

// dialServer opens the transport named by a server URI.
func dialServer(ctx context.Context, raw string, opts *clientOptions) (net.Conn, error) {
	addr, err := parseServerAddress(raw)
	if err != nil {
		return nil, err
	}

	proxyDialer, err := resolveProxy(addr, opts)
	if err != nil {
		return nil, fmt.Errorf("proxy configuration error: %w", err)
	}

	conn, err := dialAddress(ctx, addr, opts, proxyDialer)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", raw, err)
	}
	return conn, nil
}

func dialAddress(ctx context.Context, addr *serverAddress, opts *clientOptions, proxyDialer *ProxyDialer) (net.Conn, error) {
	switch addr.kind {
	case transportTCP:
		if proxyDialer != nil {
			return proxyDialer.DialContext(ctx, "tcp", addr.host)
		}
		return (&TCPDialer{}).Dial(ctx, addr.host)

	case transportTLS:
		cfg := addr.tlsConfig(opts.tlsConfig)
		if proxyDialer == nil {
			return (&TLSDialer{Config: cfg}).Dial(ctx, addr.host)
		}
		raw, err := proxyDialer.DialContext(ctx, "tcp", addr.host)
		if err != nil {
			return nil, err
		}
		conn := tls.Client(raw, cfg)
		if err := conn.HandshakeContext(ctx); err != nil {
			raw.Close()
			return nil, fmt.Errorf("TLS handshake failed: %w", err)
		}
		return conn, nil

	case transportWS:
		d := NewWSDialer()
		if opts.tlsConfig != nil {
			d.Dialer.TLSClientConfig = opts.tlsConfig
		}
		if proxyDialer != nil {
			d.Dialer.NetDialContext = proxyDialer.DialContext
		}
		return d.Dial(ctx, addr.raw)

	case transportUnix:
		return NewUnixDialer().Dial(ctx, addr.socketPath())

	case transportQUIC:
		return NewQUICDialer(opts.tlsConfig).Dial(ctx, addr.host)
	}

	return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, addr.url.Scheme)
}

// resolveProxy returns the proxy for addr, or nil for a direct connection.
// Unix sockets and QUIC never use a proxy.
func resolveProxy(addr *serverAddress, opts *clientOptions) (*ProxyDialer, error) {
	if addr.kind == transportUnix || addr.kind == transportQUIC {
		return nil, nil
	}

	if opts.proxyConfig != nil {
		return NewProxyDialer(opts.proxyConfig.URL, opts.proxyConfig.Username, opts.proxyConfig.Password)
	}

	if opts.proxyFromEnv {
		proxyURL, err := ProxyFromEnvironment(addr.raw)
		if err != nil || proxyURL == nil {
			return nil, err
		}
		return NewProxyDialer(proxyURL.String(), "", "")
	}

	return nil, nil
}
