// Package kerberos wraps gokrb5 keytab and krb5.conf state behind a Provider
// used by the TryKerberos / RequireMutualAuthn security packages.
//
// Provider loads the keytab and krb5.conf at startup and exposes ReloadKeytab
// for rotation without a server restart, driven by internal/rpcconfig's
// fsnotify-based Watcher rather than its own polling loop. It also detects
// SPNEGO/raw Kerberos AP-REQ tokens so a binding handle can tell which
// security package an incoming call is using before full token validation.
//
// This package does not implement the RPCSEC_GSS wire protocol or the GSS
// context state machine; it only manages the credential material and
// principal-to-identity mapping those layers consume.
package kerberos
