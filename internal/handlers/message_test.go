package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"messaging-service/internal/crypto"
	"messaging-service/internal/mocks"
	"messaging-service/internal/models"
	"messaging-service/internal/repositories"
)

type messageFixture struct {
	messages *mocks.MessageRepositoryMock
	listings *mocks.ListingRepositoryMock
	users    *mocks.UserRepositoryMock
	cipher   *crypto.Cipher
	router   *gin.Engine
}

func setupMessageRouter(t *testing.T, userID int) *messageFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cipher, err := crypto.New("handler-test-secret", "salt", 1024)
	require.NoError(t, err)

	f := &messageFixture{
		messages: new(mocks.MessageRepositoryMock),
		listings: new(mocks.ListingRepositoryMock),
		users:    new(mocks.UserRepositoryMock),
		cipher:   cipher,
	}
	handler := NewMessageHandler(f.messages, f.listings, f.users, cipher, nil)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userID", userID)
		c.Next()
	})
	r.POST("/messages", handler.SendMessage)
	r.GET("/messages/conversation/:user_id", handler.GetConversation)
	r.GET("/messages/listing/:listing_id", handler.GetListingMessages)
	r.GET("/messages/listing/:listing_id/owner", handler.GetOwnerConversations)
	f.router = r
	return f
}

func (f *messageFixture) encrypt(t *testing.T, plaintext string) string {
	t.Helper()
	token, err := f.cipher.Encrypt(plaintext)
	require.NoError(t, err)
	return token
}

func listingPtr(id int) interface{} {
	return mock.MatchedBy(func(l *int) bool { return l != nil && *l == id })
}

func TestSendMessageSuccess(t *testing.T) {
	f := setupMessageRouter(t, 2) // guest messaging the owner
	listingID := 5

	f.listings.On("GetListing", mock.Anything, 5).Return(models.Listing{ID: 5, OwnerID: 1}, nil).Once()
	f.messages.On("Create", mock.Anything, 2, 1, listingPtr(5), mock.AnythingOfType("string")).
		Return(models.Message{ID: 7, SenderID: 2, RecipientID: 1, ListingID: &listingID, Content: "sealed", CreatedAt: time.Now()}, nil).Once()
	f.users.On("BulkUsers", mock.Anything, []int{2, 1}).
		Return([]models.User{{ID: 2, Name: "guest"}, {ID: 1, Name: "owner", Avatar: "o.png"}}, nil).Once()

	body := bytes.NewBufferString(`{"recipient":1,"content":"Is this available?","listing":5}`)
	req := httptest.NewRequest(http.MethodPost, "/messages", body)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp models.MessageView
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))

	assert.Equal(t, 7, resp.ID)
	assert.Equal(t, "Is this available?", resp.Content, "response carries plaintext, not the stored token")
	assert.Equal(t, "guest", resp.Sender.Name)
	assert.Equal(t, "owner", resp.Recipient.Name)

	f.listings.AssertExpectations(t)
	f.messages.AssertExpectations(t)
	f.users.AssertExpectations(t)
}

func TestSendMessageEncryptsBeforeStore(t *testing.T) {
	f := setupMessageRouter(t, 1)
	listingID := 5

	var stored string
	f.listings.On("GetListing", mock.Anything, 5).Return(models.Listing{ID: 5, OwnerID: 1}, nil).Once()
	f.messages.On("Create", mock.Anything, 1, 2, listingPtr(5), mock.AnythingOfType("string")).
		Run(func(args mock.Arguments) { stored = args.String(4) }).
		Return(models.Message{ID: 8, SenderID: 1, RecipientID: 2, ListingID: &listingID}, nil).Once()
	f.users.On("BulkUsers", mock.Anything, mock.Anything).Return([]models.User{}, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/messages", bytes.NewBufferString(`{"recipient":2,"content":"secret plans","listing":5}`))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.NotEqual(t, "secret plans", stored)

	plaintext, err := f.cipher.Decrypt(stored)
	require.NoError(t, err)
	assert.Equal(t, "secret plans", plaintext)
}

func TestSendMessageListingNotFound(t *testing.T) {
	f := setupMessageRouter(t, 1)

	f.listings.On("GetListing", mock.Anything, 99).Return(models.Listing{}, repositories.ErrListingNotFound).Once()

	req := httptest.NewRequest(http.MethodPost, "/messages", bytes.NewBufferString(`{"recipient":2,"content":"hi","listing":99}`))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	f.messages.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSendMessageBetweenGuestsForbidden(t *testing.T) {
	f := setupMessageRouter(t, 2) // guest, listing owned by 1

	f.listings.On("GetListing", mock.Anything, 5).Return(models.Listing{ID: 5, OwnerID: 1}, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/messages", bytes.NewBufferString(`{"recipient":3,"content":"hi","listing":5}`))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	f.messages.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSendMessageMissingFields(t *testing.T) {
	f := setupMessageRouter(t, 1)

	for _, body := range []string{
		`{}`,
		`{"recipient":2,"listing":5}`,
		`{"recipient":2,"content":"hi"}`,
		`{"content":"hi","listing":5}`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/messages", bytes.NewBufferString(body))
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "body %s", body)
	}
}

func TestGetConversationDecryptsInOrder(t *testing.T) {
	f := setupMessageRouter(t, 1)

	base := time.Now().Add(-time.Hour)
	rows := []models.Message{
		{ID: 1, SenderID: 1, RecipientID: 2, Content: f.encrypt(t, "first"), CreatedAt: base},
		{ID: 2, SenderID: 2, RecipientID: 1, Content: f.encrypt(t, "second"), CreatedAt: base.Add(time.Minute)},
	}
	f.messages.On("Conversation", mock.Anything, 1, 2, (*int)(nil)).Return(rows, nil).Once()
	f.users.On("BulkUsers", mock.Anything, []int{1, 2}).
		Return([]models.User{{ID: 1, Name: "me"}, {ID: 2, Name: "them"}}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/messages/conversation/2", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Messages []models.MessageView `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Messages, 2)
	assert.Equal(t, "first", resp.Messages[0].Content)
	assert.Equal(t, "second", resp.Messages[1].Content)
	assert.Equal(t, "them", resp.Messages[1].Sender.Name)
}

func TestGetConversationCorruptRowFailsWholeRequest(t *testing.T) {
	f := setupMessageRouter(t, 1)

	rows := []models.Message{
		{ID: 1, SenderID: 1, RecipientID: 2, Content: f.encrypt(t, "fine")},
		{ID: 2, SenderID: 2, RecipientID: 1, Content: "aa:bb:cc"},
	}
	f.messages.On("Conversation", mock.Anything, 1, 2, (*int)(nil)).Return(rows, nil).Once()
	f.users.On("BulkUsers", mock.Anything, mock.Anything).Return([]models.User{}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/messages/conversation/2", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestGetListingMessagesScopedToCaller(t *testing.T) {
	f := setupMessageRouter(t, 2)

	f.listings.On("GetListing", mock.Anything, 5).Return(models.Listing{ID: 5, OwnerID: 1}, nil).Once()
	f.messages.On("ListingInbox", mock.Anything, 2, 5).Return([]models.Message{}, nil).Once()
	f.users.On("BulkUsers", mock.Anything, mock.Anything).Return([]models.User{}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/messages/listing/5", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	f.messages.AssertExpectations(t)
}

func TestGetListingMessagesListingNotFound(t *testing.T) {
	f := setupMessageRouter(t, 2)

	f.listings.On("GetListing", mock.Anything, 99).Return(models.Listing{}, repositories.ErrListingNotFound).Once()

	req := httptest.NewRequest(http.MethodGet, "/messages/listing/99", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetOwnerConversationsRequiresOwner(t *testing.T) {
	f := setupMessageRouter(t, 2) // not the owner

	f.listings.On("GetListing", mock.Anything, 5).Return(models.Listing{ID: 5, OwnerID: 1}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/messages/listing/5/owner", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	f.messages.AssertNotCalled(t, "ListingInbox", mock.Anything, mock.Anything, mock.Anything)
}

func TestGetOwnerConversationsFullInbox(t *testing.T) {
	f := setupMessageRouter(t, 1)
	listingID := 5

	rows := []models.Message{
		{ID: 1, SenderID: 2, RecipientID: 1, ListingID: &listingID, Content: f.encrypt(t, "from guest one")},
		{ID: 2, SenderID: 3, RecipientID: 1, ListingID: &listingID, Content: f.encrypt(t, "from guest two")},
	}
	f.listings.On("GetListing", mock.Anything, 5).Return(models.Listing{ID: 5, OwnerID: 1}, nil).Once()
	f.messages.On("ListingInbox", mock.Anything, 1, 5).Return(rows, nil).Once()
	f.users.On("BulkUsers", mock.Anything, []int{2, 1, 3}).
		Return([]models.User{{ID: 1, Name: "owner"}, {ID: 2, Name: "g1"}, {ID: 3, Name: "g2"}}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/messages/listing/5/owner", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Messages []models.MessageView `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Messages, 2)
	assert.Equal(t, "from guest one", resp.Messages[0].Content)
	assert.Equal(t, "from guest two", resp.Messages[1].Content)
}

func TestGetOwnerConversationsGuestFilter(t *testing.T) {
	f := setupMessageRouter(t, 1)

	f.listings.On("GetListing", mock.Anything, 5).Return(models.Listing{ID: 5, OwnerID: 1}, nil).Once()
	f.messages.On("Conversation", mock.Anything, 1, 3, listingPtr(5)).Return([]models.Message{}, nil).Once()
	f.users.On("BulkUsers", mock.Anything, mock.Anything).Return([]models.User{}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/messages/listing/5/owner?guest_id=3", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	f.messages.AssertExpectations(t)
}
