package rpcrt

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc/test/bufconn"

	"github.com/openrpcrt/rpcrt/internal/endpointmap"
	"github.com/openrpcrt/rpcrt/internal/rpctransport"
)

// ServerMetrics is the narrow interface dispatch reports through; rpcmetrics
// implements it against a caller-supplied Prometheus registry. Nil is
// tolerated everywhere it is consulted, so a server with no ServerOptions.
// Metrics set simply records nothing.
type ServerMetrics interface {
	ObserveServerCall(interfaceUUID string, err error, d time.Duration)
	SetListening(service string, listening bool)
}

// ServerState is the server's lifecycle state machine. Transitions only
// ever move one step at a time; Start/Stop/Resume/Finalize enforce the
// chain below and roll back to the state preceding a failed transition.
//
//	NotInitialized -> BindingsAcquired -> IntfRegRuntime -> IntfRegLocalEndptMap <-> Listening
type ServerState int

const (
	ServerStateNotInitialized ServerState = iota
	ServerStateBindingsAcquired
	ServerStateIntfRegRuntime
	ServerStateIntfRegLocalEndptMap
	ServerStateListening
)

func (s ServerState) String() string {
	switch s {
	case ServerStateNotInitialized:
		return "NotInitialized"
	case ServerStateBindingsAcquired:
		return "BindingsAcquired"
	case ServerStateIntfRegRuntime:
		return "IntfRegRuntime"
	case ServerStateIntfRegLocalEndptMap:
		return "IntfRegLocalEndptMap"
	case ServerStateListening:
		return "Listening"
	default:
		return fmt.Sprintf("ServerState(%d)", int(s))
	}
}

// RpcSrvObject is one implementation of an RPC interface hosted by the
// server: an externally advertised object UUID, the interface UUID it
// belongs to (objects sharing an InterfaceUUID share one dispatch Handler,
// the Go analogue of an EPV), and the Handler itself.
type RpcSrvObject struct {
	ObjectUUID    string
	InterfaceUUID uuid.UUID
	Handler       rpctransport.Handler
}

// CallAuthInfo is the narrow, per-call surface the authorization callback
// queries: the caller's identity (for ImpersonationScope, via the embedded
// BindingHandle) and the effective authentication level the transport
// negotiated for this call. A concrete binding (TLS peer certificate,
// RPCSEC_GSS context) attaches one to the call's context before dispatch.
type CallAuthInfo interface {
	BindingHandle
	EffectiveAuthLevel() AuthenticationLevel
}

type callAuthInfoContextKey struct{}

// WithCallAuthInfo attaches info to ctx, retrievable via
// CallAuthInfoFromContext by the server's authorization callback.
func WithCallAuthInfo(ctx context.Context, info CallAuthInfo) context.Context {
	return context.WithValue(ctx, callAuthInfoContextKey{}, info)
}

// CallAuthInfoFromContext retrieves the CallAuthInfo attached by
// WithCallAuthInfo, if any.
func CallAuthInfoFromContext(ctx context.Context) (CallAuthInfo, bool) {
	info, ok := ctx.Value(callAuthInfoContextKey{}).(CallAuthInfo)
	return info, ok
}

// ServerOptions bundles the knobs shared by both NewRpcServer and
// NewRpcServerSecureChannel.
type ServerOptions struct {
	ListenAddress      string
	FQDNHost           string
	DirectoryAvailable bool
	EndpointStore      *endpointmap.Store
	Logger             Logger
	Metrics            ServerMetrics
	// BufDialer, when set, routes the server over an in-process bufconn
	// listener instead of a real socket. Tests only.
	BufDialer *bufconn.Listener
}

// RpcServer is a single server instance. Package-level Initialize/Start/
// Stop/Resume/Wait/Finalize wrap a process-wide singleton instance of this
// type, mirroring the original's static-class-over-singleton-impl shape;
// tests that want an isolated instance can call NewRpcServer directly.
type RpcServer struct {
	mu sync.Mutex

	protoSeq      ProtocolSequence
	serviceName   string
	authnLevel    AuthenticationLevel
	authnSecurity AuthenticationSecurity
	spn           string
	state         ServerState

	target    rpctransport.Target
	tlsConfig *tls.Config
	bufDialer *bufconn.Listener

	endpointStore        *endpointmap.Store
	objsByInterface      map[uuid.UUID]*UuidVector
	handlersByInterface  map[uuid.UUID]rpctransport.Handler
	registeredInterfaces []uuid.UUID

	transportServer *rpctransport.Server
	doneCh          chan struct{}

	logger  Logger
	metrics ServerMetrics
}

type nopServerMetrics struct{}

func (nopServerMetrics) ObserveServerCall(string, error, time.Duration) {}
func (nopServerMetrics) SetListening(string, bool)                     {}

// NewRpcServer builds a server instance, acquiring bindings and — unless
// authnLevel is None — negotiating and registering a security package
// (NTLM, or Negotiate with a DNS-derived SPN when a directory service is
// available). Initialize fails atomically: on error the returned instance
// is nil and nothing further needs to be rolled back, since nothing past
// BindingsAcquired is ever reached without succeeding.
func NewRpcServer(protoSeq ProtocolSequence, serviceName string, authnLevel AuthenticationLevel, opts ServerOptions) (*RpcServer, error) {
	logger := opts.Logger
	if logger == nil {
		logger = NopLogger{}
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = nopServerMetrics{}
	}

	network := "tcp"
	if protoSeq == ProtocolSequenceLocal {
		network = "unix"
	}
	if opts.BufDialer != nil {
		network = "bufconn"
	}

	s := &RpcServer{
		protoSeq:            protoSeq,
		serviceName:         serviceName,
		authnLevel:          authnLevel,
		state:               ServerStateNotInitialized,
		target:              rpctransport.Target{Network: network, Address: opts.ListenAddress},
		bufDialer:           opts.BufDialer,
		endpointStore:       opts.EndpointStore,
		handlersByInterface: map[uuid.UUID]rpctransport.Handler{},
		objsByInterface:     map[uuid.UUID]*UuidVector{},
		logger:              logger,
		metrics:             metrics,
	}

	s.logger.Write(fmt.Sprintf("RPC server '%s' will use protocol sequence '%s'", serviceName, protoSeq), PriorityNotice)
	s.state = ServerStateBindingsAcquired

	if authnLevel == AuthenticationLevelNone {
		return s, nil
	}

	qos := (SecurityNegotiator{}).NegotiateServer(opts.DirectoryAvailable)
	s.authnSecurity = qos.EffectiveService

	if qos.SPNRequired {
		fqdn := opts.FQDNHost
		if fqdn == "" {
			if h, err := os.Hostname(); err == nil {
				fqdn = h
			}
		}
		s.spn = ComposeSPN(serviceName, fqdn)
		s.logger.Write(fmt.Sprintf(
			"RPC server '%s' has been registered with Negotiate SSP [SPN = %s]", serviceName, s.spn,
		), PriorityNotice)
	} else {
		s.logger.Write(fmt.Sprintf("RPC server '%s' has been registered with NTLM SSP", serviceName), PriorityNotice)
	}

	return s, nil
}

// NewRpcServerSecureChannel builds a TLS-secured server from a previously
// constructed server ChannelCredentials. Only compatible with TCP.
func NewRpcServerSecureChannel(protoSeq ProtocolSequence, serviceName string, creds *ChannelCredentials, opts ServerOptions) (*RpcServer, error) {
	if protoSeq != ProtocolSequenceTCP {
		return nil, &Error{Kind: ConfigurationError, Message: "SecureChannel is only compatible with the TCP protocol sequence"}
	}
	if creds == nil {
		return nil, &Error{Kind: SecurityError, Message: "no channel credentials supplied"}
	}
	s, err := NewRpcServer(protoSeq, serviceName, AuthenticationLevelPrivacy, opts)
	if err != nil {
		return nil, err
	}
	s.authnSecurity = AuthenticationSecuritySecureChannel
	s.tlsConfig = creds.TLSConfig()
	return s, nil
}

// RequiredAuthnLevel returns the authentication level clients must meet,
// as fixed at construction time.
func (s *RpcServer) RequiredAuthnLevel() AuthenticationLevel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authnLevel
}

// State returns the server's current lifecycle state.
func (s *RpcServer) State() ServerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start registers objects' interfaces, completes dynamic endpoint binding
// in the local endpoint-map database, and begins listening. A failure at
// any point rolls back exactly the transitions that succeeded so far.
func (s *RpcServer) Start(objects []RpcSrvObject) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == ServerStateListening {
		return &Error{Kind: ConfigurationError, Message: "RPC server is already listening"}
	}
	if s.state != ServerStateBindingsAcquired {
		return &Error{Kind: ConfigurationError, Message: fmt.Sprintf("cannot start RPC server from state %s", s.state)}
	}

	s.logger.Write("Starting RPC server...", PriorityNotice)

	objsByInterface := map[uuid.UUID]*UuidVector{}
	handlersByInterface := map[uuid.UUID]rpctransport.Handler{}

	for _, obj := range objects {
		s.logger.Write(fmt.Sprintf("registering RPC server object %s", obj.ObjectUUID), PriorityInformation)

		objUUID, err := parseObjUUID(obj.ObjectUUID)
		if err != nil {
			s.rollbackStart()
			return err
		}
		if obj.Handler == nil {
			s.rollbackStart()
			return &Error{Kind: RegistrationError, Message: "RPC server object has no handler", Detail: obj.ObjectUUID}
		}

		vec, ok := objsByInterface[obj.InterfaceUUID]
		if !ok {
			vec = NewUuidVector()
			objsByInterface[obj.InterfaceUUID] = vec
			handlersByInterface[obj.InterfaceUUID] = obj.Handler
		}
		if err := vec.Add(objUUID); err != nil {
			s.rollbackStart()
			return err
		}
	}

	s.handlersByInterface = handlersByInterface
	s.state = ServerStateIntfRegRuntime

	annotation := truncateAnnotation(s.serviceName, 63)
	registered := make([]uuid.UUID, 0, len(objsByInterface))

	for interfaceUUID := range objsByInterface {
		s.logger.Write(fmt.Sprintf("registering RPC interface %s", interfaceUUID), PriorityInformation)

		key := endpointmap.Key{InterfaceUUID: interfaceUUID, Protocol: int(s.protoSeq)}
		entry := endpointmap.Entry{Address: s.target.Address, Annotation: annotation}
		if err := s.endpointStore.Set(key, entry); err != nil {
			s.unregisterEndpoints(registered)
			s.rollbackStart()
			return &Error{Kind: RegistrationError, Message: "could not complete binding of dynamic endpoints for RPC server interface", Cause: err}
		}
		registered = append(registered, interfaceUUID)
	}

	s.objsByInterface = objsByInterface
	s.registeredInterfaces = registered
	s.state = ServerStateIntfRegLocalEndptMap

	if err := s.listen(); err != nil {
		s.unregisterEndpoints(registered)
		s.rollbackStart()
		return err
	}

	s.state = ServerStateListening
	s.logger.Write("RPC server is listening", PriorityNotice)
	return nil
}

// rollbackStart undoes the IntfRegRuntime/IntfRegLocalEndptMap transitions,
// walking the chain back to BindingsAcquired, logging as it goes. Endpoint
// unregistration is handled by the caller (unregisterEndpoints) before this
// runs, since it needs the list of interfaces that actually got registered.
func (s *RpcServer) rollbackStart() {
	s.logger.Write("RPC server will rollback its state to after initialization", PriorityInformation)
	s.handlersByInterface = map[uuid.UUID]rpctransport.Handler{}
	s.objsByInterface = map[uuid.UUID]*UuidVector{}
	s.registeredInterfaces = nil
	s.state = ServerStateBindingsAcquired
}

func (s *RpcServer) unregisterEndpoints(interfaceUUIDs []uuid.UUID) {
	if s.endpointStore == nil {
		return
	}
	for _, id := range interfaceUUIDs {
		key := endpointmap.Key{InterfaceUUID: id, Protocol: int(s.protoSeq)}
		if err := s.endpointStore.Unset(key); err != nil {
			s.logger.Write(
				"RPC server start request suffered a secondary failure upon rollback of state: could not unregister interface from local endpoint-map database",
				PriorityCritical, "interface", id.String(), "error", err,
			)
		}
	}
}

func (s *RpcServer) listen() error {
	s.transportServer = rpctransport.NewServer(s.target, s.tlsConfig, s.dispatch())
	if err := s.transportServer.Listen(s.bufDialer); err != nil {
		return &Error{Kind: ConnectionLost, Message: "could not start RPC server listeners", Cause: err}
	}

	s.metrics.SetListening(s.serviceName, true)
	s.doneCh = make(chan struct{})
	go func() {
		defer close(s.doneCh)
		if err := s.transportServer.Serve(); err != nil {
			s.logger.Write("RPC server listener stopped", PriorityCritical, "error", err)
		}
	}()
	return nil
}

// dispatch builds the single rpctransport.Handler the transport server
// invokes for every incoming call: it resolves which registered interface
// the call targets, runs the authorization callback, then forwards to that
// interface's Handler (EPV).
func (s *RpcServer) dispatch() rpctransport.Handler {
	return func(ctx context.Context, fullMethod string, request []byte) ([]byte, error) {
		interfaceUUID, err := interfaceFromFullMethod(fullMethod)
		if err != nil {
			return nil, err
		}

		handler, ok := s.handlersByInterface[interfaceUUID]
		if !ok {
			return nil, &Error{Kind: BindingError, Message: fmt.Sprintf("no object registered for interface %s", interfaceUUID)}
		}

		if s.authnLevel != AuthenticationLevelNone {
			info, err := s.resolveCallAuthInfo(ctx)
			if err != nil {
				return nil, err
			}
			ctx = WithCallAuthInfo(ctx, info)
		}

		if err := s.authorize(ctx); err != nil {
			return nil, err
		}

		start := time.Now()
		resp, err := handler(ctx, fullMethod, request)
		s.metrics.ObserveServerCall(interfaceUUID.String(), err, time.Since(start))
		return resp, err
	}
}

// authorize is the server's authorization callback: invoked on every call
// once authentication is enabled, it inquires the call's attributes and
// rejects the call if its authentication level falls below what the server
// requires. Any error while inquiring attributes denies the call.
func (s *RpcServer) authorize(ctx context.Context) error {
	if s.authnLevel == AuthenticationLevelNone {
		return nil
	}

	info, ok := CallAuthInfoFromContext(ctx)
	if !ok {
		return &Error{Kind: SecurityError, Message: "failed to inquire RPC attributes during authorization"}
	}
	if info.EffectiveAuthLevel().Less(s.authnLevel) {
		return &Error{Kind: SecurityError, Message: "access denied: authentication level below server requirement"}
	}
	return nil
}

func interfaceFromFullMethod(fullMethod string) (uuid.UUID, error) {
	trimmed := strings.TrimPrefix(fullMethod, "/")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) == 0 || parts[0] == "" {
		return uuid.Nil, &Error{Kind: BindingError, Message: "malformed RPC method name", Detail: fullMethod}
	}
	id, err := uuid.Parse(parts[0])
	if err != nil {
		return uuid.Nil, &Error{Kind: BindingError, Message: "RPC method name does not carry a valid interface UUID", Cause: err}
	}
	return id, nil
}

func truncateAnnotation(name string, max int) string {
	b := []byte(name)
	if len(b) <= max {
		return name
	}
	return string(b[:max])
}

// Stop transitions Listening -> IntfRegLocalEndptMap, requesting listener
// shutdown and awaiting completion. Idempotent and tolerant of "not
// listening".
func (s *RpcServer) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != ServerStateListening {
		return nil
	}

	s.logger.Write("Stopping RPC server...", PriorityNotice)
	s.transportServer.Stop()
	<-s.doneCh
	s.metrics.SetListening(s.serviceName, false)
	s.state = ServerStateIntfRegLocalEndptMap
	s.logger.Write("RPC server stopped", PriorityInformation)
	return nil
}

// Resume transitions IntfRegLocalEndptMap -> Listening by restarting the
// listener. Rejects calls from any other state except Listening itself,
// which is a no-op success.
func (s *RpcServer) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case ServerStateListening:
		return nil
	case ServerStateIntfRegLocalEndptMap:
		if err := s.listen(); err != nil {
			return err
		}
		s.state = ServerStateListening
		s.logger.Write("RPC server is listening", PriorityNotice)
		return nil
	default:
		return &Error{Kind: ConfigurationError, Message: fmt.Sprintf("cannot resume RPC server from state %s", s.state)}
	}
}

// Wait blocks until the server stops listening (Stop called, or the
// listener fails).
func (s *RpcServer) Wait() error {
	s.mu.Lock()
	if s.state != ServerStateListening {
		s.mu.Unlock()
		return &Error{Kind: ConfigurationError, Message: "RPC server is not listening"}
	}
	done := s.doneCh
	s.mu.Unlock()
	<-done
	return nil
}

// Finalize walks the full chain back to NotInitialized, logging each
// unregister/release failure at critical priority but continuing so that no
// resource leaks. Safe to call more than once.
func (s *RpcServer) Finalize() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == ServerStateNotInitialized {
		return
	}

	s.logger.Write("Shutting down RPC server...", PriorityNotice)

	switch s.state {
	case ServerStateListening:
		s.transportServer.Stop()
		<-s.doneCh
		s.metrics.SetListening(s.serviceName, false)
		fallthrough
	case ServerStateIntfRegLocalEndptMap:
		s.unregisterEndpoints(s.registeredInterfaces)
		fallthrough
	case ServerStateIntfRegRuntime:
		s.handlersByInterface = map[uuid.UUID]rpctransport.Handler{}
		s.objsByInterface = map[uuid.UUID]*UuidVector{}
	}

	s.state = ServerStateNotInitialized
	s.logger.Write("RPC server was successfully shut down", PriorityNotice)
}

// Package-level singleton, mirroring the original's static RpcServer class
// wrapping a single RpcServerImpl instance under a mutex.
var (
	singletonMu sync.Mutex
	singleton   *RpcServer
)

// Initialize constructs the process-wide server singleton. Fails if one is
// already initialized; call Finalize first to reinitialize.
func Initialize(protoSeq ProtocolSequence, serviceName string, authnLevel AuthenticationLevel, opts ServerOptions) error {
	singletonMu.Lock()
	defer singletonMu.Unlock()
	if singleton != nil {
		return &Error{Kind: ConfigurationError, Message: "RPC server is already initialized"}
	}
	s, err := NewRpcServer(protoSeq, serviceName, authnLevel, opts)
	if err != nil {
		return err
	}
	singleton = s
	return nil
}

// InitializeSecureChannel is InitializeSecureChannel's singleton-backed
// counterpart to NewRpcServerSecureChannel.
func InitializeSecureChannel(protoSeq ProtocolSequence, serviceName string, creds *ChannelCredentials, opts ServerOptions) error {
	singletonMu.Lock()
	defer singletonMu.Unlock()
	if singleton != nil {
		return &Error{Kind: ConfigurationError, Message: "RPC server is already initialized"}
	}
	s, err := NewRpcServerSecureChannel(protoSeq, serviceName, creds, opts)
	if err != nil {
		return err
	}
	singleton = s
	return nil
}

func withSingleton(fn func(*RpcServer) error) error {
	singletonMu.Lock()
	s := singleton
	singletonMu.Unlock()
	if s == nil {
		return &Error{Kind: ConfigurationError, Message: "RPC server is not initialized"}
	}
	return fn(s)
}

// Start registers objects and begins listening on the singleton server.
func Start(objects []RpcSrvObject) error { return withSingleton(func(s *RpcServer) error { return s.Start(objects) }) }

// Stop stops the singleton server's listeners.
func Stop() error { return withSingleton((*RpcServer).Stop) }

// Resume restarts the singleton server's listeners.
func Resume() error { return withSingleton((*RpcServer).Resume) }

// Wait blocks until the singleton server stops listening.
func Wait() error { return withSingleton((*RpcServer).Wait) }

// Finalize tears down the singleton server and clears it, so Initialize may
// be called again.
func Finalize() {
	singletonMu.Lock()
	defer singletonMu.Unlock()
	if singleton == nil {
		return
	}
	singleton.Finalize()
	singleton = nil
}
