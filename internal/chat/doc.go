// Package chat implements the process-local fan-out core for marketplace
// conversations: a registry of live endpoints grouped by thread room, with
// per-endpoint heartbeat loops, presence notifications, and best-effort
// broadcast dispatch. The core holds no persistent state; message storage and
// identity verification happen upstream.
package chat
