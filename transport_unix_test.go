package mqttv3

import (
	"context"
	"net"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnixDialer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mqtt.sock")

	l, err := net.Listen("unix", path)
	require.NoError(t, err)
	defer l.Close()

	t.Run("dial path", func(t *testing.T) {
		echoOnce(t, l)

		conn, err := NewUnixDialer().Dial(context.Background(), path)
		require.NoError(t, err)
		defer conn.Close()

		assertEcho(t, conn)
	})

	t.Run("through dialServer", func(t *testing.T) {
		echoOnce(t, l)

		conn, err := dialServer(context.Background(), "unix://"+path, newClientOptions())
		require.NoError(t, err)
		defer conn.Close()

		assert.Equal(t, "unix", conn.RemoteAddr().Network())
		assertEcho(t, conn)
	})

	t.Run("missing socket", func(t *testing.T) {
		_, err := NewUnixDialer().Dial(context.Background(), filepath.Join(t.TempDir(), "none.sock"))
		assert.Error(t, err)
	})
}
