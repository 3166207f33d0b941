package rpcrt

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openrpcrt/rpcrt/internal/rpctransport"
)

func newTestClient(t *testing.T) *RpcClient {
	t.Helper()
	c, err := NewRpcClient(ProtocolSequenceTCP, "", "host.example.com", "49152", AuthenticationLevelNone, ClientOptions{
		RetryPolicy: NewRetryPolicy(3, 10, 10, 100),
	})
	require.NoError(t, err)
	return c
}

func TestNewRpcClientRequiresRetryPolicy(t *testing.T) {
	_, err := NewRpcClient(ProtocolSequenceTCP, "", "host", "49152", AuthenticationLevelNone, ClientOptions{})
	require.Error(t, err)
	var rpcErr *Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, ConfigurationError, rpcErr.Kind)
}

func TestNewRpcClientRejectsInvalidObjectUUID(t *testing.T) {
	_, err := NewRpcClient(ProtocolSequenceTCP, "not-a-uuid", "host", "49152", AuthenticationLevelNone, ClientOptions{
		RetryPolicy: NewRetryPolicy(1, 10, 10, 100),
	})
	require.Error(t, err)
}

func TestResolveAddressWithEndpointTCP(t *testing.T) {
	c := newTestClient(t)
	addr, err := c.resolveAddress()
	require.NoError(t, err)
	assert.Equal(t, "host.example.com:49152", addr)
}

func TestResolveAddressWithEndpointLocal(t *testing.T) {
	c, err := NewRpcClient(ProtocolSequenceLocal, "", "unused-host", "/var/run/rpcrtd.sock", AuthenticationLevelNone, ClientOptions{
		RetryPolicy: NewRetryPolicy(1, 10, 10, 100),
	})
	require.NoError(t, err)
	addr, err := c.resolveAddress()
	require.NoError(t, err)
	assert.Equal(t, "/var/run/rpcrtd.sock", addr)
}

func TestResolveAddressNoEndpointNoResolverFails(t *testing.T) {
	c, err := NewRpcClient(ProtocolSequenceTCP, "", "host.example.com", "", AuthenticationLevelNone, ClientOptions{
		RetryPolicy: NewRetryPolicy(1, 10, 10, 100),
	})
	require.NoError(t, err)

	_, err = c.resolveAddress()
	require.Error(t, err)
	var rpcErr *Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, BindingError, rpcErr.Kind)
}

type stubResolver struct {
	address string
	ok      bool
	err     error
}

func (r stubResolver) Resolve(_ uuid.UUID, _ ProtocolSequence) (string, bool, error) {
	return r.address, r.ok, r.err
}

func TestResolveAddressViaResolver(t *testing.T) {
	c, err := NewRpcClient(ProtocolSequenceTCP, "", "host.example.com", "", AuthenticationLevelNone, ClientOptions{
		RetryPolicy: NewRetryPolicy(1, 10, 10, 100),
		Resolver:    stubResolver{address: "10.0.0.5:49152", ok: true},
	})
	require.NoError(t, err)

	addr, err := c.resolveAddress()
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5:49152", addr)
}

func TestResolveAddressViaResolverNotFound(t *testing.T) {
	c, err := NewRpcClient(ProtocolSequenceTCP, "", "host.example.com", "", AuthenticationLevelNone, ClientOptions{
		RetryPolicy: NewRetryPolicy(1, 10, 10, 100),
		Resolver:    stubResolver{ok: false},
	})
	require.NoError(t, err)

	_, err = c.resolveAddress()
	require.Error(t, err)
	var rpcErr *Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, ConnectionLost, rpcErr.Kind)
}

func TestResetBindingsClearsEndpoint(t *testing.T) {
	c := newTestClient(t)
	c.ResetBindings()
	_, err := c.resolveAddress()
	require.Error(t, err)
}

func TestFinalErrorClassifiesReconnectAsConnectionLost(t *testing.T) {
	c := newTestClient(t)
	err := c.finalError(StatusCommFailure, nil, "Ping")
	require.Error(t, err)
	var rpcErr *Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, ConnectionLost, rpcErr.Kind)
	assert.Equal(t, "Ping", rpcErr.CallerTag)
}

func TestFinalErrorOKIsNil(t *testing.T) {
	c := newTestClient(t)
	assert.NoError(t, c.finalError(StatusOK, nil, "Ping"))
}

// capturingLogger records every message written to it, for assertions that a
// log line was written exactly once.
type capturingLogger struct {
	mu       sync.Mutex
	messages []string
}

func (l *capturingLogger) Write(message string, _ Priority, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, message)
}

func (l *capturingLogger) count(substr string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, m := range l.messages {
		if strings.Contains(m, substr) {
			n++
		}
	}
	return n
}

// TestWrapWithRetriesExhaustsAfterConfiguredAttempts pins down S5: with
// MaxCallRetries=2, a call that always returns a retry-backoff status must be
// attempted exactly 3 times (the initial attempt plus two retries), not 2.
func TestWrapWithRetriesExhaustsAfterConfiguredAttempts(t *testing.T) {
	s, _, dialer := newTestServer(t)
	obj := echoObject()
	require.NoError(t, s.Start([]RpcSrvObject{obj}))
	defer func() {
		_ = s.Stop()
		s.Finalize()
	}()

	attempts := 0
	client, err := NewRpcClient(ProtocolSequenceTCP, "", "bufnet", "bufnet", AuthenticationLevelNone, ClientOptions{
		RetryPolicy: NewRetryPolicy(2, 1, 1, 10),
		BufDialer:   dialer,
	})
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	status, err := client.wrapWithRetries(context.Background(), "Busy", func(ctx context.Context, conn *rpctransport.Conn) (Status, error) {
		attempts++
		return StatusServerTooBusy, nil
	})
	require.Error(t, err)
	assert.Equal(t, StatusServerTooBusy, status)
	assert.Equal(t, 3, attempts)
}

// TestWrapWithRetriesSingleRetryBudget pins down the MaxCallRetries=1 edge
// case: exactly one retry (2 total attempts), never zero.
func TestWrapWithRetriesSingleRetryBudget(t *testing.T) {
	s, _, dialer := newTestServer(t)
	obj := echoObject()
	require.NoError(t, s.Start([]RpcSrvObject{obj}))
	defer func() {
		_ = s.Stop()
		s.Finalize()
	}()

	attempts := 0
	client, err := NewRpcClient(ProtocolSequenceTCP, "", "bufnet", "bufnet", AuthenticationLevelNone, ClientOptions{
		RetryPolicy: NewRetryPolicy(1, 1, 1, 10),
		BufDialer:   dialer,
	})
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	_, err = client.wrapWithRetries(context.Background(), "Busy", func(ctx context.Context, conn *rpctransport.Conn) (Status, error) {
		attempts++
		return StatusCallCancelled, nil
	})
	require.Error(t, err)
	assert.Equal(t, 2, attempts)
}

// TestCallReconnectsAndLogsExactlyOnce pins down S4: a connection lost
// mid-sequence of calls must drive exactly one "connection lost" line and
// exactly one "reconnected" line, no matter how many reconnect attempts it
// took, and the call must eventually succeed once the transport recovers.
func TestCallReconnectsAndLogsExactlyOnce(t *testing.T) {
	s, _, dialer := newTestServer(t)
	obj := echoObject()
	require.NoError(t, s.Start([]RpcSrvObject{obj}))
	defer func() {
		_ = s.Stop()
		s.Finalize()
	}()

	logger := &capturingLogger{}
	client, err := NewRpcClient(ProtocolSequenceTCP, "", "bufnet", "bufnet", AuthenticationLevelNone, ClientOptions{
		RetryPolicy:       NewRetryPolicy(0, 1, 1, 10),
		ConnectMaxRetries: 5,
		ConnectRetrySleep: 0,
		BufDialer:         dialer,
		Logger:            logger,
	})
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	closureCalls := 0
	err = client.Call(context.Background(), "Flaky", func(ctx context.Context, conn *rpctransport.Conn) (Status, error) {
		closureCalls++
		if closureCalls <= 2 {
			return StatusCommFailure, nil
		}
		return StatusOK, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, closureCalls)
	assert.Equal(t, 1, logger.count("connection lost"))
	assert.Equal(t, 1, logger.count("reconnected"))
}

// TestCallReconnectExhaustionSurfacesConnectionLost pins down the other half
// of S4: when the transport never recovers within ConnectMaxRetries, Call
// must surface a ConnectionLost error rather than retrying forever.
func TestCallReconnectExhaustionSurfacesConnectionLost(t *testing.T) {
	s, _, dialer := newTestServer(t)
	obj := echoObject()
	require.NoError(t, s.Start([]RpcSrvObject{obj}))
	defer func() {
		_ = s.Stop()
		s.Finalize()
	}()

	logger := &capturingLogger{}
	client, err := NewRpcClient(ProtocolSequenceTCP, "", "bufnet", "bufnet", AuthenticationLevelNone, ClientOptions{
		RetryPolicy:       NewRetryPolicy(0, 1, 1, 10),
		ConnectMaxRetries: 2,
		ConnectRetrySleep: 0,
		BufDialer:         dialer,
		Logger:            logger,
	})
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	err = client.Call(context.Background(), "Flaky", func(ctx context.Context, conn *rpctransport.Conn) (Status, error) {
		return StatusCommFailure, nil
	})
	require.Error(t, err)
	var rpcErr *Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, ConnectionLost, rpcErr.Kind)
	assert.Equal(t, 1, logger.count("connection lost"))
	assert.Equal(t, 0, logger.count("reconnected"))
}
