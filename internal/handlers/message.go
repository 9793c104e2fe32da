package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"messaging-service/internal/crypto"
	"messaging-service/internal/models"
	"messaging-service/internal/observability"
	"messaging-service/internal/policy"
	"messaging-service/internal/repositories"
	"messaging-service/internal/telemetry"
)

// MessageHandler exposes the request/response ingestion and retrieval path.
type MessageHandler struct {
	messages repositories.MessageRepository
	listings repositories.ListingRepository
	users    repositories.UserRepository
	cipher   *crypto.Cipher
	audit    *telemetry.AuditEmitter
}

// NewMessageHandler builds a MessageHandler.
func NewMessageHandler(messages repositories.MessageRepository, listings repositories.ListingRepository, users repositories.UserRepository, cipher *crypto.Cipher, audit *telemetry.AuditEmitter) *MessageHandler {
	return &MessageHandler{
		messages: messages,
		listings: listings,
		users:    users,
		cipher:   cipher,
		audit:    audit,
	}
}

// SendMessage stores an encrypted message in a listing-scoped conversation.
// The response echoes the plaintext content, never the stored token.
func (h *MessageHandler) SendMessage(c *gin.Context) {
	var req struct {
		Recipient int    `json:"recipient" binding:"required"`
		Content   string `json:"content" binding:"required"`
		Listing   int    `json:"listing" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "recipient, content and listing are required"})
		return
	}

	userID := c.GetInt("userID")
	listing, err := h.listings.GetListing(c.Request.Context(), req.Listing)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrListingNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "listing not found"})
		return
	}

	if !policy.CanParticipate(listing, userID, req.Recipient) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not authorized to send message"})
		return
	}

	token, err := h.cipher.Encrypt(req.Content)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store message"})
		return
	}

	msg, err := h.messages.Create(c.Request.Context(), userID, req.Recipient, &req.Listing, token)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store message"})
		return
	}
	observability.IncMessageStored("rest")

	refs, err := h.userRefs(c.Request.Context(), []int{msg.SenderID, msg.RecipientID})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load participants"})
		return
	}

	h.audit.Emit(c.Request.Context(), "INFO",
		fmt.Sprintf("message %d sent on listing %d", msg.ID, req.Listing),
		requestIDFromContext(c), userIDFromContext(c))

	c.JSON(http.StatusCreated, models.MessageView{
		ID:        msg.ID,
		Sender:    refs[msg.SenderID],
		Recipient: refs[msg.RecipientID],
		ListingID: msg.ListingID,
		Content:   req.Content,
		CreatedAt: msg.CreatedAt,
	})
}

// GetConversation returns the full pairwise conversation with another user,
// decrypted, ascending by creation time.
func (h *MessageHandler) GetConversation(c *gin.Context) {
	otherID, err := strconv.Atoi(c.Param("user_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	userID := c.GetInt("userID")
	msgs, err := h.messages.Conversation(c.Request.Context(), userID, otherID, nil)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}

	h.respondWithMessages(c, msgs)
}

// GetListingMessages returns the caller's messages on a listing. The query is
// scoped to rows where the caller is sender or recipient, so no ownership
// check is needed.
func (h *MessageHandler) GetListingMessages(c *gin.Context) {
	listingID, err := strconv.Atoi(c.Param("listing_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid listing id"})
		return
	}

	if _, err := h.listings.GetListing(c.Request.Context(), listingID); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrListingNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "listing not found"})
		return
	}

	userID := c.GetInt("userID")
	msgs, err := h.messages.ListingInbox(c.Request.Context(), userID, listingID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}

	h.respondWithMessages(c, msgs)
}

// GetOwnerConversations returns the owner inbox for a listing, optionally
// narrowed to one guest via the guest_id query parameter. Owner only.
func (h *MessageHandler) GetOwnerConversations(c *gin.Context) {
	listingID, err := strconv.Atoi(c.Param("listing_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid listing id"})
		return
	}

	listing, err := h.listings.GetListing(c.Request.Context(), listingID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrListingNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "listing not found"})
		return
	}

	userID := c.GetInt("userID")
	if !policy.IsOwner(listing, userID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not authorized"})
		return
	}

	var msgs []models.Message
	if guestParam := c.Query("guest_id"); guestParam != "" {
		guestID, err := strconv.Atoi(guestParam)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid guest id"})
			return
		}
		msgs, err = h.messages.Conversation(c.Request.Context(), userID, guestID, &listingID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
			return
		}
	} else {
		msgs, err = h.messages.ListingInbox(c.Request.Context(), userID, listingID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
			return
		}
	}

	h.respondWithMessages(c, msgs)
}

// respondWithMessages decrypts and populates every row. One unreadable record
// fails the whole request; no partial results.
func (h *MessageHandler) respondWithMessages(c *gin.Context, msgs []models.Message) {
	participantIDs := make([]int, 0, len(msgs)*2)
	seen := map[int]struct{}{}
	for _, m := range msgs {
		for _, id := range []int{m.SenderID, m.RecipientID} {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				participantIDs = append(participantIDs, id)
			}
		}
	}

	refs, err := h.userRefs(c.Request.Context(), participantIDs)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load participants"})
		return
	}

	views := make([]models.MessageView, 0, len(msgs))
	for _, m := range msgs {
		plaintext, err := h.cipher.Decrypt(m.Content)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
			return
		}
		views = append(views, models.MessageView{
			ID:        m.ID,
			Sender:    refs[m.SenderID],
			Recipient: refs[m.RecipientID],
			ListingID: m.ListingID,
			Content:   plaintext,
			CreatedAt: m.CreatedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{"messages": views})
}

func (h *MessageHandler) userRefs(ctx context.Context, ids []int) (map[int]models.UserRef, error) {
	users, err := h.users.BulkUsers(ctx, ids)
	if err != nil {
		return nil, err
	}
	refs := make(map[int]models.UserRef, len(users))
	for _, u := range users {
		refs[u.ID] = u.Ref()
	}
	// Participants missing from the users table still get an id-only ref.
	for _, id := range ids {
		if _, ok := refs[id]; !ok {
			refs[id] = models.UserRef{ID: id}
		}
	}
	return refs, nil
}
