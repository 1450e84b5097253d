package signaling

// Message types exchanged on the /rtc socket
const (
	TypeRoster            = "roster"
	TypeParticipantJoined = "participant_joined"
	TypeParticipantLeft   = "participant_left"
	TypeTrackAdded        = "track_added"
	TypeTrackRemoved      = "track_removed"
	TypeTrack             = "track"
	TypeLeave             = "leave"
	TypeError             = "error"
)

// Message is the single frame shape of the signaling protocol
type Message struct {
	Type         string   `json:"type"`
	RoomID       string   `json:"room_id,omitempty"`
	Participant  string   `json:"participant,omitempty"`
	Participants []string `json:"participants,omitempty"`
	Track        string   `json:"track,omitempty"`
	Enabled      *bool    `json:"enabled,omitempty"`
	Error        string   `json:"error,omitempty"`
}
