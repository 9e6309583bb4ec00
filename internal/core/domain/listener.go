package domain

type ListenerStatus string

const (
	ListenerStatusIdle       ListenerStatus = "idle"
	ListenerStatusConnecting ListenerStatus = "connecting"
	ListenerStatusStreaming  ListenerStatus = "streaming"
	ListenerStatusError      ListenerStatus = "error"
)

// ListenerAudioState is the listener-side local state owned by the playback
// manager and mutated only through its operations.
type ListenerAudioState struct {
	IsListening bool           `json:"is_listening"`
	Muted       bool           `json:"muted"`
	Volume      float64        `json:"volume"`
	Status      ListenerStatus `json:"status"`
}
