package models

import "time"

// DeliveryState is the terminal/non-terminal state of a Delivery Item.
type DeliveryState string

const (
	DeliveryPending   DeliveryState = "pending"
	DeliveryDelivered DeliveryState = "delivered"
	DeliveryDead      DeliveryState = "dead"
)

// DeliveryItem is a unit of outbound delivery work. Rows for the same
// (ActivityID, Target) are coalesced to one on enqueue.
type DeliveryItem struct {
	ID            string        `json:"id"`
	ActivityID    string        `json:"activity_id"`
	ActivityBytes []byte        `json:"-"`
	Target        string        `json:"target"`
	Attempt       int           `json:"attempt"`
	NextVisibleAt time.Time     `json:"next_visible_at"`
	State         DeliveryState `json:"state"`
	LastError     string        `json:"last_error,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
}

// TransportResult is the outcome of a single TransportLadder step.
type TransportResult int

const (
	TransportFailed TransportResult = iota
	TransportSent
	TransportQueued
)

func (r TransportResult) String() string {
	switch r {
	case TransportSent:
		return "sent"
	case TransportQueued:
		return "queued"
	default:
		return "failed"
	}
}

// ObjectFetchItem is a pending dereference in the Object Fetch Worker queue.
type ObjectFetchItem struct {
	ID            string    `json:"id"`
	URL           string    `json:"url"`
	Attempt       int       `json:"attempt"`
	NextVisibleAt time.Time `json:"next_visible_at"`
	LastError     string    `json:"last_error,omitempty"`
}
