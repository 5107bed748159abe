package core

import "time"

// User is an authenticated identity known to the session gateway.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}
