package model

// Snapshot is a read-only view of a session handed to render collaborators.
type Snapshot struct {
	Messages []Message
	Pending  bool
	Draft    string
	Version  uint64
}

func (s Snapshot) LastMessage() (Message, bool) {
	if len(s.Messages) == 0 {
		return Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}
