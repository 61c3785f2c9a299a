package mqttv3

import (
	"context"
	"net"
)

// UnixDialer connects to brokers listening on a Unix domain socket. Address
// is the socket path.
type UnixDialer struct {
	net.Dialer
}

func NewUnixDialer() *UnixDialer {
	return &UnixDialer{}
}

// Dial connects to the socket at address.
func (d *UnixDialer) Dial(ctx context.Context, address string) (net.Conn, error) {
	return d.DialContext(ctx, "unix", address)
}
