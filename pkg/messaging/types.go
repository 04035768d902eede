// Package messaging carries episode progress events from runners to
// whoever is watching a batch: the CLI progress log, tests, or a future
// dashboard.
package messaging

import (
	"time"
)

type EventType string

const (
	EpisodeStarted  EventType = "episode.started"
	TurnRecorded    EventType = "turn"
	EpisodeFinished EventType = "episode.finished"
)

// Event describes one step of an episode's progress.
type Event struct {
	Type      EventType
	EpisodeID string
	TaskID    int
	// Turn is the index of the recorded turn, for TurnRecorded.
	Turn int
	Role string
	// Status, Success and Reward are set on EpisodeFinished.
	Status    string
	Success   bool
	Reward    float64
	Content   any
	Timestamp time.Time
}

// Publisher emits events. Runners accept a nil Publisher.
type Publisher interface {
	Publish(ev Event) error
}

// Broker fans events out to subscribers.
type Broker interface {
	Publisher
	// Subscribe registers a consumer under a unique ID.
	Subscribe(id string, ch chan<- Event) error
	// Unsubscribe removes a consumer.
	Unsubscribe(id string) error
}
