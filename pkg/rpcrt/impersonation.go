package rpcrt

import (
	"context"
	"runtime"
	"sync"

	"github.com/openrpcrt/rpcrt/pkg/auth/sid"
)

// Identity is the caller identity an ImpersonationScope acquires: a logical
// principal plus, where the platform allows it, the OS-level credential
// (UID/GID) to assume for the scope's lifetime. This is deliberately a
// logical value rather than an opaque OS token: Go has no portable
// equivalent of RpcImpersonateClient/RpcRevertToSelf, so the scope carries
// Identity into the dispatched call's context.Context and, on platforms
// where privilege-drop is meaningful, narrows the OS thread's effective
// UID/GID for the scope's lifetime (see impersonation_linux.go).
type Identity struct {
	Principal string
	UID       uint32
	GID       uint32

	// SID is the caller's Windows security identifier in "S-1-5-..." form,
	// populated when the effective security package is NTLM or Kerberos.
	// Empty when the call carried no SID (e.g. SecureChannel/TLS auth).
	SID string
}

// ResolveSID parses identity's SID field. Returns (nil, nil) if SID is
// empty.
func (id Identity) ResolveSID() (*sid.SID, error) {
	if id.SID == "" {
		return nil, nil
	}
	return sid.ParseSIDString(id.SID)
}

type identityContextKey struct{}

// WithIdentity returns a context carrying identity, retrievable via
// IdentityFromContext. Used by the dispatched call to read "who is this
// call running as" without depending on ImpersonationScope directly.
func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, identity)
}

// IdentityFromContext retrieves the identity set by WithIdentity, if any.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(Identity)
	return id, ok
}

// BindingHandle is the narrow surface ImpersonationScope needs from a
// per-call binding handle: the caller's resolved identity and an optional
// OS-level privilege acquire/revert pair. RpcServer's per-call binding
// handle implements this.
type BindingHandle interface {
	CallerIdentity() (Identity, error)
}

// osImpersonator is the optional platform hook for narrowing the OS
// thread's effective credential. nil on platforms without a meaningful
// implementation (ImpersonationScope still works: the identity is still
// carried in context, just not enforced at the OS level).
var osImpersonator func(Identity) (revert func(), err error)

// ImpersonationScope is constructed from a per-call binding handle: it
// invokes impersonate and raises on failure. On Close, it reverts
// impersonation and logs (never raises) on failure. It must live entirely
// on the dispatched call's goroutine/OS thread and must not be copied or
// moved across threads — enforced here by locking the OS thread for the
// scope's lifetime, matching the strict LIFO, thread-local discipline the
// original RAII type relies on.
type ImpersonationScope struct {
	mu       sync.Mutex
	identity Identity
	revert   func()
	logger   Logger
	closed   bool
	ctx      context.Context
}

// NewImpersonationScope acquires the caller's identity from handle and
// impersonates it. On any failure it returns an error and does not lock the
// OS thread or mutate any state.
func NewImpersonationScope(ctx context.Context, handle BindingHandle, logger Logger) (*ImpersonationScope, error) {
	if logger == nil {
		logger = NopLogger{}
	}
	identity, err := handle.CallerIdentity()
	if err != nil {
		return nil, &Error{Kind: SecurityError, Message: "impersonation failed", Cause: err}
	}

	runtime.LockOSThread()
	var revert func()
	if osImpersonator != nil {
		revert, err = osImpersonator(identity)
		if err != nil {
			runtime.UnlockOSThread()
			return nil, &Error{Kind: SecurityError, Message: "impersonation failed", Cause: err}
		}
	}

	scope := &ImpersonationScope{
		identity: identity,
		revert:   revert,
		logger:   logger,
		ctx:      WithIdentity(ctx, identity),
	}
	return scope, nil
}

// Impersonate is the opt-in hook a dispatched handler calls to run fn under
// the call's resolved caller identity. It reads the CallAuthInfo dispatch
// attached to ctx (see WithCallAuthInfo), acquires an ImpersonationScope from
// it, and guarantees the scope is closed before returning, regardless of
// whether fn itself fails. A handler that never calls Impersonate runs
// entirely outside any impersonated identity, exactly as before.
func Impersonate(ctx context.Context, logger Logger, fn func(context.Context) ([]byte, error)) ([]byte, error) {
	info, ok := CallAuthInfoFromContext(ctx)
	if !ok {
		return nil, &Error{Kind: SecurityError, Message: "impersonation requested but call carries no CallAuthInfo"}
	}
	scope, err := NewImpersonationScope(ctx, info, logger)
	if err != nil {
		return nil, err
	}
	defer scope.Close()
	return fn(scope.Context())
}

// Context returns a context carrying the impersonated identity, for the
// dispatched procedure to use.
func (s *ImpersonationScope) Context() context.Context { return s.ctx }

// Identity returns the impersonated identity.
func (s *ImpersonationScope) Identity() Identity { return s.identity }

// Close reverts impersonation. It never returns an error or panics: any
// revert failure is only logged, at Critical priority, because a failed
// revert in a dispatched call handler must never mask the handler's own
// result. Safe to call more than once.
func (s *ImpersonationScope) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	defer runtime.UnlockOSThread()

	if s.revert == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Write("panic reverting impersonation", PriorityCritical, "identity", s.identity.Principal, "recovered", r)
		}
	}()
	s.revert()
}
