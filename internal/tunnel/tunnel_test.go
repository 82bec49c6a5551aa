package tunnel

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ssrtun/internal/config"
	"ssrtun/internal/serverenv"
)

func testEnv(t *testing.T) *serverenv.Environment {
	t.Helper()
	env, err := serverenv.New("hunter2", "aes-128-cfb", "origin", "", "plain", "")
	require.NoError(t, err)
	return env
}

func testCfg(remoteAddr string) *config.RemoteConfig {
	host, portStr, _ := net.SplitHostPort(remoteAddr)
	port, _ := strconv.Atoi(portStr)
	return &config.RemoteConfig{
		Host:        host,
		Port:        port,
		Password:    "hunter2",
		Method:      "aes-128-cfb",
		Protocol:    "origin",
		Obfs:        "plain",
		IdleTimeout: config.Duration{Duration: 2 * time.Second},
	}
}

// S1
func TestHandshakeNoAuthReply(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	env := testEnv(t)
	logger := zap.NewNop()
	tun := New(server, env, testCfg("127.0.0.1:1"), logger)
	go tun.Run()

	client.Write([]byte{0x05, 0x01, 0x00})
	reply := make([]byte, 2)
	client.SetReadDeadline(time.Now().Add(time.Second))
	n, err := client.Read(reply)
	require.NoError(t, err)
	require.Equal(t, []byte{0x05, 0x00}, reply[:n])
}

// S2
func TestHandshakeUnsupportedAuthReply(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	env := testEnv(t)
	logger := zap.NewNop()
	tun := New(server, env, testCfg("127.0.0.1:1"), logger)
	go tun.Run()

	client.Write([]byte{0x05, 0x01, 0x02})
	reply := make([]byte, 2)
	client.SetReadDeadline(time.Now().Add(time.Second))
	n, err := client.Read(reply)
	require.NoError(t, err)
	require.Equal(t, []byte{0x05, 0xFF}, reply[:n])
}

// S7
func TestResolveFailureReply(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	env := testEnv(t)
	logger := zap.NewNop()
	cfg := testCfg("127.0.0.1:1")
	cfg.Host = "no.such.host.invalid"
	tun := New(server, env, cfg, logger)
	go tun.Run()

	client.Write([]byte{0x05, 0x01, 0x00})
	authReply := make([]byte, 2)
	client.SetReadDeadline(time.Now().Add(time.Second))
	client.Read(authReply)

	client.Write([]byte{0x05, 0x01, 0x00, 0x01, 1, 2, 3, 4, 0x1F, 0x90})
	reply := make([]byte, 10)
	client.SetReadDeadline(time.Now().Add(5 * time.Second))
	n, err := client.Read(reply)
	require.NoError(t, err)
	require.Equal(t, []byte{0x05, 0x04, 0x00, 0x01, 0, 0, 0, 0, 0, 0}, reply[:n])
}

func TestRefCountReachesZeroOnceOnEarlyFailure(t *testing.T) {
	client, server := net.Pipe()

	env := testEnv(t)
	logger := zap.NewNop()
	tun := New(server, env, testCfg("127.0.0.1:1"), logger)
	require.Equal(t, 1, env.Registry().Len())

	client.Close()
	server.Close()
	tun.Run()

	require.Equal(t, int32(0), tun.refCount.Load())
	require.Equal(t, StateDead, State(tun.state.Load()))
	require.Equal(t, 0, env.Registry().Len())

	// release() past zero must not panic or tear the tunnel down a second
	// time; the count itself simply drops to -1.
	tun.release()
	require.Equal(t, int32(-1), tun.refCount.Load())
}

func TestUDPAssociateRepliesThenWaitsForEOF(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	env := testEnv(t)
	logger := zap.NewNop()
	cfg := testCfg("127.0.0.1:1")
	cfg.UDP = true
	tun := New(server, env, cfg, logger)
	go tun.Run()

	client.Write([]byte{0x05, 0x01, 0x00})
	authReply := make([]byte, 2)
	client.SetReadDeadline(time.Now().Add(time.Second))
	client.Read(authReply)

	client.Write([]byte{0x05, 0x03, 0x00, 0x01, 0, 0, 0, 0, 0, 0})
	reply := make([]byte, 10)
	client.SetReadDeadline(time.Now().Add(time.Second))
	n, err := client.Read(reply)
	require.NoError(t, err)
	require.Equal(t, byte(0x05), reply[0])
	require.Equal(t, byte(0x00), reply[1])
}
