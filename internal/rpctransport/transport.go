package rpctransport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

// Target fully describes where a client dials or a server listens.
type Target struct {
	// Network is "unix" (ProtocolSequence::Local), "tcp" (ProtocolSequence::TCP),
	// or "bufconn" (in-process test transport).
	Network string
	// Address is a filesystem path for unix, host:port for tcp, or the
	// bufconn listener's registered name.
	Address string
}

// Conn wraps a dialed *grpc.ClientConn, bound to one Target for the
// lifetime of an RpcClient binding handle.
type Conn struct {
	*grpc.ClientConn
	Target Target
}

// Dial establishes a client connection per Target, optionally over TLS.
func Dial(ctx context.Context, target Target, tlsConfig *tls.Config, bufDialer *bufconn.Listener) (*Conn, error) {
	var opts []grpc.DialOption
	opts = append(opts, grpc.WithDefaultCallOptions(grpc.ForceCodec(rawCodec{})))

	if tlsConfig != nil {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(tlsConfig)))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	dialAddr := target.Address
	switch target.Network {
	case "unix":
		dialAddr = "unix:" + target.Address
	case "bufconn":
		if bufDialer == nil {
			return nil, fmt.Errorf("rpctransport: bufconn target requires a bufconn.Listener")
		}
		opts = append(opts, grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return bufDialer.DialContext(ctx)
		}))
		dialAddr = "passthrough:bufconn"
	case "tcp":
		// dialAddr already host:port
	default:
		return nil, fmt.Errorf("rpctransport: unknown network %q", target.Network)
	}

	conn, err := grpc.NewClient(dialAddr, opts...)
	if err != nil {
		return nil, fmt.Errorf("rpctransport: dial %s: %w", dialAddr, err)
	}
	return &Conn{ClientConn: conn, Target: target}, nil
}

// Invoke performs one RPC against method, sending request and decoding the
// raw response bytes into reply. The stub closure owns the shape of
// request/reply beyond "these are bytes"; this call never inspects them.
func Invoke(ctx context.Context, conn *Conn, method string, request []byte, reply *[]byte) error {
	return conn.Invoke(ctx, method, request, reply, grpc.ForceCodec(rawCodec{}))
}

// Handler processes one raw-bytes call for a given fully-qualified method
// name, returning the raw reply bytes or an error.
type Handler func(ctx context.Context, fullMethod string, request []byte) ([]byte, error)

// Server wraps a *grpc.Server configured to dispatch every incoming method
// through a single Handler via UnknownServiceHandler, since the interfaces
// being served are defined by IDL external to this transport, not by
// generated gRPC service stubs.
type Server struct {
	GRPC     *grpc.Server
	listener net.Listener
	target   Target
}

// NewServer builds a Server bound to target (not yet listening).
func NewServer(target Target, tlsConfig *tls.Config, handler Handler) *Server {
	var opts []grpc.ServerOption
	if tlsConfig != nil {
		opts = append(opts, grpc.Creds(credentials.NewTLS(tlsConfig)))
	}
	opts = append(opts, grpc.UnknownServiceHandler(streamHandler(handler)))

	return &Server{GRPC: grpc.NewServer(opts...), target: target}
}

// Listen opens the network listener for target. bufDialer is used when
// target.Network == "bufconn".
func (s *Server) Listen(bufDialer *bufconn.Listener) error {
	switch s.target.Network {
	case "unix":
		l, err := net.Listen("unix", s.target.Address)
		if err != nil {
			return fmt.Errorf("rpctransport: listen unix %s: %w", s.target.Address, err)
		}
		s.listener = l
	case "tcp":
		l, err := net.Listen("tcp", s.target.Address)
		if err != nil {
			return fmt.Errorf("rpctransport: listen tcp %s: %w", s.target.Address, err)
		}
		s.listener = l
	case "bufconn":
		if bufDialer == nil {
			return fmt.Errorf("rpctransport: bufconn target requires a bufconn.Listener")
		}
		s.listener = bufDialer
	default:
		return fmt.Errorf("rpctransport: unknown network %q", s.target.Network)
	}
	return nil
}

// Addr returns the bound address, valid only after Listen succeeds.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve blocks, accepting connections until GracefulStop/Stop is called.
func (s *Server) Serve() error {
	if s.listener == nil {
		return fmt.Errorf("rpctransport: Listen must succeed before Serve")
	}
	return s.GRPC.Serve(s.listener)
}

// Stop gracefully stops the server.
func (s *Server) Stop() { s.GRPC.GracefulStop() }
