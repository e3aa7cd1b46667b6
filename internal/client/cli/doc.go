// Package cli provides the interactive entrysync command-line client.
//
// It wires configuration, the local replica, the sync session and an
// interactive REPL that keeps working offline. Typical flow: log in (online
// with offline fallback), which opens a session that syncs in the
// background, then browse and edit the entry tree.
//
// Key features:
//   - Register / Login / Logout
//   - List, show, create, rename, share and delete entries
//   - Post messages with @mentions and mark entries seen or opened
//   - Radar of unseen and mentioned entries
//   - Inspect and retry permanently failed transactions
//   - Sync on demand
//
// The REPL is started via App.Run(ctx), which blocks until the user exits.
package cli
