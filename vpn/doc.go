// Package vpn turns a connection request into a running OpenVPN client.
//
// The pipeline has four steps:
//
//   - Resolver: picks one logical server for a Request (fastest, random,
//     country, Secure-Core, P2P, Tor or a named server)
//   - Render: produces the OpenVPN client config for that server
//   - StageCredentials: writes the auth-user-pass file, owned by a
//     CredentialFile that deletes it on Close
//   - Supervisor: writes the config, stages credentials and spawns openvpn
//
// # Connection Flow
//
// A typical connection flow:
//
//  1. The CLI builds a Request from the user's command
//  2. Resolver.Resolve picks a server from the catalog
//  3. Supervisor.Connect writes the config and spawns openvpn
//  4. Handle.WaitReady tails the OpenVPN log until the tunnel is up
//  5. The CLI records a Session and waits for the process or a signal
//
// Nothing here retries. Every failure is returned to the caller wrapped
// around one of the sentinels in the common package.
//
// # Thread Safety
//
// Resolver and Supervisor are meant for one attempt per invocation. A
// Handle may be queried from any goroutine.
package vpn
