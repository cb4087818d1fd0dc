package domain

import "time"

// Agent models a human support agent who handles escalated tickets.
type Agent struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
