package conference

import (
	"sort"
	"time"

	"github.com/gendialogue/dialogue-backend/internal/media"
)

// MainRoomKey is the rooms key of the main room
const MainRoomKey = "main"

const (
	MinScore = 1
	MaxScore = 5
)

// RoomKind distinguishes the main room from breakouts
type RoomKind string

const (
	RoomMain     RoomKind = "main"
	RoomBreakout RoomKind = "breakout"
)

// ErrorInfo is the error currently shown to the user
type ErrorInfo struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	RoomID  string    `json:"room_id,omitempty"`
	At      time.Time `json:"at"`
}

// Participant is a remote roster entry with its published tracks
type Participant struct {
	Identity string `json:"identity"`
	Audio    bool   `json:"audio"`
	Video    bool   `json:"video"`
}

// RoomView is a read-only copy of one room
type RoomView struct {
	ID                  string        `json:"id"`
	MediaRoomID         string        `json:"media_room_id"`
	Kind                RoomKind      `json:"kind"`
	Connected           bool          `json:"connected"`
	Participants        []Participant `json:"participants"`
	RawTranscript       string        `json:"raw_transcript"`
	FormattedTranscript string        `json:"formatted_transcript"`
	Summary             string        `json:"summary"`
	SatisfactionScores  []int         `json:"satisfaction_scores"`
	AverageSatisfaction float64       `json:"average_satisfaction"`
	AudioEnabled        bool          `json:"audio_enabled"`
	VideoEnabled        bool          `json:"video_enabled"`
}

// View is a read-only copy of the whole session. Version increases with
// every change so consumers can drop stale copies.
type View struct {
	Version             uint64     `json:"version"`
	DialogueID          string     `json:"dialogue_id"`
	MainRoomID          string     `json:"main_room_id"`
	ActiveRoomID        string     `json:"active_room_id"`
	Rooms               []RoomView `json:"rooms"`
	Listening           bool       `json:"listening"`
	Initialized         bool       `json:"initialized"`
	Ended               bool       `json:"ended"`
	LastError           *ErrorInfo `json:"last_error,omitempty"`
	OverallSatisfaction float64    `json:"overall_satisfaction"`
}

// Room returns the view of id
func (v View) Room(id string) (RoomView, bool) {
	for _, r := range v.Rooms {
		if r.ID == id {
			return r, true
		}
	}
	return RoomView{}, false
}

type roomState struct {
	id           string
	mediaRoomID  string
	kind         RoomKind
	handle       *media.Handle
	participants map[string]*Participant
	raw          string
	formatted    string
	summary      string
	scores       []int
	// generation changes on reset so late enrichment results are dropped.
	generation uint64
	createdAt  time.Time
}

func newRoomState(id, mediaRoomID string, kind RoomKind, h *media.Handle, now time.Time) *roomState {
	return &roomState{
		id:           id,
		mediaRoomID:  mediaRoomID,
		kind:         kind,
		handle:       h,
		participants: make(map[string]*Participant),
		createdAt:    now,
	}
}

func (r *roomState) apply(ev media.Event) {
	switch ev.Kind {
	case media.ParticipantJoined:
		if _, ok := r.participants[ev.Participant]; !ok {
			r.participants[ev.Participant] = &Participant{Identity: ev.Participant}
		}
	case media.ParticipantLeft:
		delete(r.participants, ev.Participant)
	case media.TrackAdded, media.TrackRemoved:
		p, ok := r.participants[ev.Participant]
		if !ok {
			return
		}
		on := ev.Kind == media.TrackAdded
		switch ev.Track {
		case media.TrackAudio:
			p.Audio = on
		case media.TrackVideo:
			p.Video = on
		}
	}
}

func (r *roomState) view() RoomView {
	v := RoomView{
		ID:                  r.id,
		MediaRoomID:         r.mediaRoomID,
		Kind:                r.kind,
		Connected:           r.handle != nil,
		Participants:        make([]Participant, 0, len(r.participants)),
		RawTranscript:       r.raw,
		FormattedTranscript: r.formatted,
		Summary:             r.summary,
		SatisfactionScores:  append([]int(nil), r.scores...),
		AverageSatisfaction: average(r.scores),
	}
	for _, p := range r.participants {
		v.Participants = append(v.Participants, *p)
	}
	sort.Slice(v.Participants, func(i, j int) bool {
		return v.Participants[i].Identity < v.Participants[j].Identity
	})
	if r.handle != nil {
		v.AudioEnabled = r.handle.AudioEnabled()
		v.VideoEnabled = r.handle.VideoEnabled()
	}
	return v
}

func average(scores []int) float64 {
	if len(scores) == 0 {
		return 0
	}
	sum := 0
	for _, s := range scores {
		sum += s
	}
	return float64(sum) / float64(len(scores))
}
