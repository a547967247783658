package chat

import "time"

// Session describes an interactive conversation bound to one remote thread.
type Session struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"threadId"`
	CreatedAt time.Time `json:"createdAt"`
}
