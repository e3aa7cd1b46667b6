// Package models defines server-side rows persisted in PostgreSQL. Replicated
// rows wrap the shared domain types and add the server bookkeeping columns.
package models

import "time"

type User struct {
	ID           string
	UserName     string
	PasswordHash string
	CreatedAt    time.Time
}
