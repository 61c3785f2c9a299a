package mqttv3

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/http/httpproxy"
	"golang.org/x/net/proxy"
)

// ProxyConfig names the proxy client connections go through.
type ProxyConfig struct {
	// URL is http://host:port, https://host:port or socks5://host:port.
	URL string

	Username string
	Password string
}

// ProxyDialer tunnels broker connections through an HTTP CONNECT or SOCKS5
// proxy.
type ProxyDialer struct {
	proxyURL *url.URL
	auth     *proxy.Auth
	forward  net.Dialer
}

var proxyDefaultPorts = map[string]string{
	"http":    "8080",
	"https":   "443",
	"socks5":  "1080",
	"socks5h": "1080",
}

// NewProxyDialer parses proxyURL. Credentials embedded in the URL are used
// when username is empty.
func NewProxyDialer(proxyURL, username, password string) (*ProxyDialer, error) {
	u, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy URL: %w", err)
	}
	if _, ok := proxyDefaultPorts[u.Scheme]; !ok {
		return nil, fmt.Errorf("unsupported proxy scheme: %q", u.Scheme)
	}

	if username == "" && u.User != nil {
		username = u.User.Username()
		password, _ = u.User.Password()
	}

	d := &ProxyDialer{proxyURL: u}
	if username != "" {
		d.auth = &proxy.Auth{User: username, Password: password}
	}
	return d, nil
}

func (d *ProxyDialer) proxyAddr() string {
	if d.proxyURL.Port() != "" {
		return d.proxyURL.Host
	}
	return net.JoinHostPort(d.proxyURL.Hostname(), proxyDefaultPorts[d.proxyURL.Scheme])
}

// DialContext opens a tunnel to addr.
func (d *ProxyDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	if d.proxyURL.Scheme == "socks5" || d.proxyURL.Scheme == "socks5h" {
		return d.dialSOCKS5(ctx, network, addr)
	}
	return d.dialConnect(ctx, addr)
}

func (d *ProxyDialer) dialSOCKS5(ctx context.Context, network, addr string) (net.Conn, error) {
	dialer, err := proxy.SOCKS5("tcp", d.proxyAddr(), d.auth, &d.forward)
	if err != nil {
		return nil, fmt.Errorf("socks5 proxy: %w", err)
	}

	conn, err := dialer.(proxy.ContextDialer).DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("socks5 proxy: %w", err)
	}
	return conn, nil
}

func (d *ProxyDialer) dialConnect(ctx context.Context, addr string) (net.Conn, error) {
	conn, err := d.forward.DialContext(ctx, "tcp", d.proxyAddr())
	if err != nil {
		return nil, fmt.Errorf("connect to proxy: %w", err)
	}

	if err := d.handshake(ctx, conn, addr); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// handshake sends CONNECT addr on conn and waits for a 2xx answer.
func (d *ProxyDialer) handshake(ctx context.Context, conn net.Conn, addr string) error {
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
		defer conn.SetDeadline(time.Time{})
	}

	req := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: addr},
		Host:   addr,
		Header: make(http.Header),
	}
	if d.auth != nil {
		creds := base64.StdEncoding.EncodeToString([]byte(d.auth.User + ":" + d.auth.Password))
		req.Header.Set("Proxy-Authorization", "Basic "+creds)
	}

	if err := req.Write(conn); err != nil {
		return fmt.Errorf("proxy CONNECT: %w", err)
	}

	// The broker says nothing until it sees our CONNECT packet, so the
	// reader cannot swallow tunnel bytes past the response.
	resp, err := http.ReadResponse(bufio.NewReader(conn), req)
	if err != nil {
		return fmt.Errorf("proxy CONNECT: %w", err)
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("proxy CONNECT: %s", resp.Status)
	}
	return nil
}

// ProxyFromEnvironment returns the proxy for a broker URI as configured by
// HTTP_PROXY, HTTPS_PROXY and NO_PROXY (or their lowercase forms). TLS
// schemes follow HTTPS_PROXY; the rest follow HTTP_PROXY. A nil URL means
// connect directly.
func ProxyFromEnvironment(serverURI string) (*url.URL, error) {
	u, err := url.Parse(serverURI)
	if err != nil {
		return nil, fmt.Errorf("invalid address: %w", err)
	}

	target := &url.URL{Scheme: "http", Host: u.Host}
	if s, ok := schemes[u.Scheme]; ok && (s.kind == transportTLS || u.Scheme == "wss") {
		target.Scheme = "https"
	}

	return httpproxy.FromEnvironment().ProxyFunc()(target)
}
