package models

import "time"

// Role identifies the author of a chat turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatTurn is one append-only entry in a document's conversation log.
// Seq is assigned by the registry and orders turns within a document.
type ChatTurn struct {
	ID         string    `json:"id" firestore:"id"`
	DocumentID string    `json:"documentId" firestore:"documentId"`
	Seq        int64     `json:"seq" firestore:"seq"`
	Role       Role      `json:"role" firestore:"role"`
	Content    string    `json:"content" firestore:"content"`
	CreatedAt  time.Time `json:"createdAt" firestore:"createdAt"`
}
