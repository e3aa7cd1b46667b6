// Package entries provides the client-side persistence layer for the local
// replica of the entry tree.
//
// Each row keeps the encoded CRDT state next to its JSON projection, the
// local and server versions, and a tombstone flag. Deleted entries stay in
// the table until dependent rows are purged, so Get returns tombstones while
// List and Children skip them.
//
// SQLiteRepository is bound to a dbx.DBTX and therefore works both on a
// *sql.DB and inside a transaction opened with dbx.WithTx. Times are stored
// as unix milliseconds.
package entries
