package models

import "time"

// Message is a stored message row. Content holds the encrypted token while the
// row is at rest; it is decrypted before leaving any read path.
type Message struct {
	ID          int       `db:"id" json:"id"`
	SenderID    int       `db:"sender_id" json:"sender_id"`
	RecipientID int       `db:"recipient_id" json:"recipient_id"`
	ListingID   *int      `db:"listing_id" json:"listing_id,omitempty"`
	Content     string    `db:"content" json:"content"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// UserRef is the display view of a message participant.
type UserRef struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// MessageView is the API view of a message: decrypted content plus populated
// sender/recipient display fields.
type MessageView struct {
	ID        int       `json:"id"`
	Sender    UserRef   `json:"sender"`
	Recipient UserRef   `json:"recipient"`
	ListingID *int      `json:"listing_id,omitempty"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}
