// Package ssh runs host commands on a remote Proxmox node over SSH.
//
// A Client owns one SSH connection. Runner adapts a Client to
// runner.Runner so the lifecycle adapters and the health probe can drive
// qm, pct and mount on the node exactly as they would locally:
//
//	cfg, _ := ssh.ParseTarget("root@pve1")
//	client, _ := ssh.NewClient(cfg, logger)
//	if err := client.Connect(ctx); err != nil { ... }
//	defer client.Close()
//	proxmox := adapters.NewProxmox(ssh.NewRunner(client, logger), logger)
package ssh

import "time"

// ConnectionInfo contains details about an active SSH connection.
type ConnectionInfo struct {
	// Host is the remote hostname or IP address
	Host string

	// Port is the SSH port number
	Port int

	// User is the SSH username
	User string

	// ConnectedAt is when the connection was established
	ConnectedAt time.Time

	// LastActivity is when the connection was last used
	LastActivity time.Time
}

// TransportError represents an error from the transport layer.
type TransportError struct {
	// Op is the operation that failed (e.g., "connect", "exec")
	Op string

	// Err is the underlying error
	Err error

	// IsTemporary indicates if the error is temporary and can be retried
	IsTemporary bool

	// IsAuthError indicates if the error is related to authentication
	IsAuthError bool
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Temporary reports whether retrying the operation may succeed. Rejected
// credentials are never temporary.
func (e *TransportError) Temporary() bool {
	return e.IsTemporary && !e.IsAuthError
}
