package rpctransport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/test/bufconn"
)

func echoHandler(_ context.Context, _ string, request []byte) ([]byte, error) {
	return request, nil
}

func TestDialRejectsUnknownNetwork(t *testing.T) {
	_, err := Dial(context.Background(), Target{Network: "quic", Address: "x"}, nil, nil)
	assert.Error(t, err)
}

func TestDialRejectsBufconnWithoutDialer(t *testing.T) {
	_, err := Dial(context.Background(), Target{Network: "bufconn", Address: "bufnet"}, nil, nil)
	assert.Error(t, err)
}

func TestNewServerListenRejectsUnknownNetwork(t *testing.T) {
	s := NewServer(Target{Network: "quic", Address: "x"}, nil, echoHandler)
	err := s.Listen(nil)
	assert.Error(t, err)
}

func TestServerListenRejectsBufconnWithoutDialer(t *testing.T) {
	s := NewServer(Target{Network: "bufconn", Address: "bufnet"}, nil, echoHandler)
	err := s.Listen(nil)
	assert.Error(t, err)
}

func TestServerServeRequiresListen(t *testing.T) {
	s := NewServer(Target{Network: "bufconn", Address: "bufnet"}, nil, echoHandler)
	err := s.Serve()
	assert.Error(t, err)
}

func TestBufconnRoundTrip(t *testing.T) {
	dialer := bufconn.Listen(1024 * 1024)
	t.Cleanup(func() { _ = dialer.Close() })

	target := Target{Network: "bufconn", Address: "bufnet"}
	srv := NewServer(target, nil, echoHandler)
	require.NoError(t, srv.Listen(dialer))
	go func() { _ = srv.Serve() }()
	t.Cleanup(srv.Stop)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := Dial(ctx, target, nil, dialer)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	var reply []byte
	err = Invoke(ctx, conn, "/test.Echo/Ping", []byte("hello"), &reply)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), reply)
}

func TestServerAddrNilBeforeListen(t *testing.T) {
	s := NewServer(Target{Network: "bufconn", Address: "bufnet"}, nil, echoHandler)
	assert.Nil(t, s.Addr())
}
