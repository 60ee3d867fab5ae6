// Copyright 2024-2026 Aiku AI

package botsession

// File is a document attached to a message.
type File struct {
	ID   string
	Name string
	Size int64
}

// Button is an interactive action attached to a message.
type Button struct {
	ID      string
	Label   string
	Payload string
	Cookie  string
}

// Message is a post in the conversation with a bot.
type Message struct {
	ID string
	// Seq orders messages within a conversation. It is the post creation
	// time in milliseconds.
	Seq      int64
	SenderID string
	// FromSelf is set for posts made by the relay account itself.
	FromSelf bool
	// Text is the plain text of the post and its attachments.
	Text    string
	Files   []File
	Buttons []Button
}

// HasDocument reports whether the message carries a named file.
func (m *Message) HasDocument() bool {
	return m.FileName() != ""
}

// FileName returns the name of the first attached file, or "" if none.
func (m *Message) FileName() string {
	if m == nil {
		return ""
	}
	for _, f := range m.Files {
		if f.Name != "" {
			return f.Name
		}
	}
	return ""
}

// FindButton returns the button whose payload equals payload.
func (m *Message) FindButton(payload string) (Button, bool) {
	for _, btn := range m.Buttons {
		if btn.Payload == payload {
			return btn, true
		}
	}
	return Button{}, false
}

// MaxSeq returns the highest Seq in msgs, or floor if msgs is empty or older.
func MaxSeq(msgs []*Message, floor int64) int64 {
	for _, msg := range msgs {
		if msg.Seq > floor {
			floor = msg.Seq
		}
	}
	return floor
}
