package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"

	"messaging-service/internal/models"
)

// MessageRepository defines the append-only message store. Content is stored
// as the cipher token; this layer never sees plaintext.
type MessageRepository interface {
	Create(ctx context.Context, senderID, recipientID int, listingID *int, content string) (models.Message, error)
	Conversation(ctx context.Context, userA, userB int, listingID *int) ([]models.Message, error)
	ListingInbox(ctx context.Context, userID, listingID int) ([]models.Message, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// Create appends a message and returns the stored row with its assigned id
// and timestamp.
func (r *MessageRepo) Create(ctx context.Context, senderID, recipientID int, listingID *int, content string) (models.Message, error) {
	var msg models.Message
	err := r.db.QueryRowxContext(ctx, `INSERT INTO messages (sender_id, recipient_id, listing_id, content)
        VALUES ($1, $2, $3, $4)
        RETURNING id, sender_id, recipient_id, listing_id, content, created_at`,
		senderID, recipientID, listingID, content).
		Scan(&msg.ID, &msg.SenderID, &msg.RecipientID, &msg.ListingID, &msg.Content, &msg.CreatedAt)
	return msg, err
}

// Conversation returns all messages between the two users in ascending
// timestamp order, optionally narrowed to one listing.
func (r *MessageRepo) Conversation(ctx context.Context, userA, userB int, listingID *int) ([]models.Message, error) {
	query := `SELECT id, sender_id, recipient_id, listing_id, content, created_at
        FROM messages
        WHERE ((sender_id=$1 AND recipient_id=$2) OR (sender_id=$2 AND recipient_id=$1))
        AND ($3::int IS NULL OR listing_id=$3)
        ORDER BY created_at ASC`
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, query, userA, userB, listingID)
	return msgs, err
}

// ListingInbox returns all messages on a listing where the user is sender or
// recipient, in ascending timestamp order.
func (r *MessageRepo) ListingInbox(ctx context.Context, userID, listingID int) ([]models.Message, error) {
	query := `SELECT id, sender_id, recipient_id, listing_id, content, created_at
        FROM messages
        WHERE listing_id=$2 AND (sender_id=$1 OR recipient_id=$1)
        ORDER BY created_at ASC`
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, query, userID, listingID)
	return msgs, err
}
