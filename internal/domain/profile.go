package domain

// Profile is the locally persisted identity that keeps a participant's
// id stable across sessions.
type Profile struct {
	ID          ParticipantID `json:"id"`
	DisplayName string        `json:"displayName"`
	ColorTag    string        `json:"colorTag"`
}
