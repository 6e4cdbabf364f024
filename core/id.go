package core

import "github.com/google/uuid"

// NewID returns a random identifier for runs, loops and messages.
func NewID() string { return uuid.NewString() }
