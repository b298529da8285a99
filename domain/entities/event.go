package entities

import "time"

// ProfileEventType names a change made to the profile store.
type ProfileEventType string

const (
	ProfileEventCreated ProfileEventType = "created"
	ProfileEventRenamed ProfileEventType = "renamed"
	ProfileEventMerged  ProfileEventType = "merged"
	ProfileEventDeleted ProfileEventType = "deleted"
	ProfileEventTrained ProfileEventType = "trained"
)

// ProfileEvent describes a committed profile change for subscribers such as
// manual correction UIs.
type ProfileEvent struct {
	Type      ProfileEventType `json:"event"`
	ProfileID string           `json:"profile_id"`
	Profile   *SpeakerProfile  `json:"profile,omitempty"`
	// MergedFrom is the removed secondary ID of a merge.
	MergedFrom string    `json:"merged_from,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
