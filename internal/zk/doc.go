// Package zk drives ZK-compatible biometric terminals over TCP.
//
// The package is split into three layers:
//
//   - Link is the primitive vendor contract: one physical connection to one
//     terminal, exposing blocking calls (read next user record, write user
//     record, enable/disable interaction, ...) plus a push channel for
//     realtime transaction events. TCPLink is the production implementation.
//
//   - The enumeration layer turns the terminal's iterator-style retrieval
//     protocol (prime, then "get next" until exhaustion) into fully
//     materialised typed collections, with a finite iteration bound for
//     firmwares that never signal termination and with the card-number
//     buffer discipline handled internally.
//
//   - Session owns the connect/disconnect lifecycle and serialises every
//     device conversation through one mutex. Mutating and enumerating
//     operations suspend user-facing interaction on the terminal for their
//     duration and guarantee it is re-enabled on every exit path.
//
// # Card number buffer
//
// The terminal reports a user's card number only through a single shared
// "last fetched" buffer, populated as a side effect of fetching that user's
// record. Reading user A's record and then user B's record before reading
// the buffer yields B's card for both. Everything that touches the buffer
// lives behind the enumeration layer and Session; no other component reads
// it directly.
//
// # Thread safety
//
// A Session is safe for concurrent use; calls queue on its internal mutex.
// Two Sessions never share a Link.
package zk
