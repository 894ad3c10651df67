package models

import "time"

// User is an identity record. Immutable after creation in this service;
// deletion is an administrative action that cascades to refresh sessions.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}
