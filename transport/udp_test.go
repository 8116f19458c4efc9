package transport

import (
	"NoteDetClient/payload"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listen(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestUDPSender_SendsOneDatagram(t *testing.T) {
	rx := listen(t)
	port := rx.LocalAddr().(*net.UDPAddr).Port

	s, err := NewUDPSender("127.0.0.1", port)
	require.NoError(t, err)
	defer s.Close()

	msg := []byte("xmin,ymin,xmax,ymax,confidence,class,name\n10.0,10.0,50.0,50.0,0.9,0,note\n")
	require.NoError(t, s.Send(msg))

	buf := make([]byte, payload.MaxDatagramSize)
	require.NoError(t, rx.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, _, err := rx.ReadFromUDP(buf)
	require.NoError(t, err)
	assert.Equal(t, msg, buf[:n])
}

func TestUDPSender_OversizedIsRefused(t *testing.T) {
	rx := listen(t)
	port := rx.LocalAddr().(*net.UDPAddr).Port

	s, err := NewUDPSender("127.0.0.1", port)
	require.NoError(t, err)
	defer s.Close()

	err = s.Send(make([]byte, payload.MaxDatagramSize+1))
	assert.ErrorIs(t, err, payload.ErrPayloadTooLarge)

	buf := make([]byte, 16)
	require.NoError(t, rx.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err = rx.ReadFromUDP(buf)
	var nerr net.Error
	require.ErrorAs(t, err, &nerr)
	assert.True(t, nerr.Timeout())
}

func TestNewUDPSender_InvalidDestination(t *testing.T) {
	_, err := NewUDPSender("not-an-ip", 5806)
	assert.Error(t, err)
	_, err = NewUDPSender("10.0.0.2", 0)
	assert.Error(t, err)
	_, err = NewUDPSender("10.0.0.2", 70000)
	assert.Error(t, err)
}

func TestUDPSender_SendAfterClose(t *testing.T) {
	s, err := NewUDPSender("127.0.0.1", 5806)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.NoError(t, s.Close())
	assert.ErrorIs(t, s.Send([]byte("x")), ErrClosed)
	assert.Equal(t, "127.0.0.1:5806", s.Destination())
}
