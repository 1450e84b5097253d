package media

// EventKind is the fixed vocabulary of connection events
type EventKind string

const (
	ParticipantJoined EventKind = "participant_joined"
	ParticipantLeft   EventKind = "participant_left"
	TrackAdded        EventKind = "track_added"
	TrackRemoved      EventKind = "track_removed"
)

// TrackKind names an outbound or remote media track
type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

// Event is delivered through a handle's single dispatch function
type Event struct {
	Kind        EventKind `json:"kind"`
	RoomID      string    `json:"room_id"`
	Participant string    `json:"participant"`
	Track       TrackKind `json:"track,omitempty"`
}

// Dispatch receives connection events in arrival order
type Dispatch func(Event)
