package generator

import (
	"context"
	"time"
)

// FinishedSubject is the subject generation results are published on.
const FinishedSubject = "wilbrand.generations.finished"

// Event summarises one finished generation.
type Event struct {
	ID         string    `json:"id"`
	Root       string    `json:"root"`
	Outcome    string    `json:"outcome"`
	Error      string    `json:"error,omitempty"`
	Location   string    `json:"location,omitempty"`
	Duration   float64   `json:"duration_seconds"`
	FinishedAt time.Time `json:"finished_at"`
}

// Publisher sends events to a message bus. *bus.Bus satisfies it.
type Publisher interface {
	Publish(ctx context.Context, subject string, v any) error
}
