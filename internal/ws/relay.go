package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"messaging-service/internal/auth"
	"messaging-service/internal/crypto"
	"messaging-service/internal/observability"
	"messaging-service/internal/repositories"
)

const wsEventsRoutingKey = "ws_events.messages"

// RelayHandler turns inbound websocket frames into persisted, delivered
// message state. Connections start unauthenticated; an auth frame binds the
// connection to its user in the registry, and every send frame carries its
// own token regardless of that binding.
type RelayHandler struct {
	registry *Registry
	verifier auth.TokenVerifier
	users    repositories.UserRepository
	messages repositories.MessageRepository
	cipher   *crypto.Cipher
}

// NewRelayHandler constructs a RelayHandler.
func NewRelayHandler(registry *Registry, verifier auth.TokenVerifier, users repositories.UserRepository, messages repositories.MessageRepository, cipher *crypto.Cipher) *RelayHandler {
	return &RelayHandler{
		registry: registry,
		verifier: verifier,
		users:    users,
		messages: messages,
		cipher:   cipher,
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// frame is the tagged union of the two inbound shapes, decoded once per
// message and dispatched by field presence.
type frame struct {
	Type      string `json:"type"`
	Token     string `json:"token"`
	Recipient int    `json:"recipient"`
	Content   string `json:"content"`
	Listing   *int   `json:"listing"`
}

func (f frame) isAuth() bool {
	return f.Type == "auth" && f.Token != ""
}

func (f frame) isSend() bool {
	return f.Type == "" && f.Token != "" && f.Recipient != 0 && f.Content != ""
}

// deliveryFrame is pushed to sender and recipient after a stored send. Content
// carries the plaintext, never the stored token.
type deliveryFrame struct {
	ID        int       `json:"id"`
	Sender    int       `json:"sender"`
	Recipient int       `json:"recipient"`
	Listing   *int      `json:"listing,omitempty"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Handle upgrades the connection and drives its read loop. Per-frame failures
// drop the frame and keep the connection alive; clients get no error frames.
func (h *RelayHandler) Handle(c *gin.Context) {
	_, span := otel.Tracer("messaging-service/ws").Start(c.Request.Context(), "ws.handshake",
		trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	connID := newConnID()
	connectedAt := time.Now()
	ip := observability.IPFromRequest(c.Request)
	requestID := observability.RequestIDFromRequest(c.Request)
	traceID := span.SpanContext().TraceID().String()
	headers := observability.BuildHeaders(requestID, traceID)

	observability.IncWSActive()
	observability.IncWSEvent("ws_connect")
	_ = observability.PublishEvent(context.Background(), wsEventsRoutingKey, observability.EventEnvelope{
		EventType: "ws_events",
		EventName: "ws_connect",
		Payload:   observability.WSEventPayload{ConnID: connID, IP: ip},
	}, headers)

	// The connection outlives the handshake request, so frame handling runs
	// on a fresh context rather than the request's.
	go func() {
		ctx := context.Background()
		var closeReason string
		defer func() {
			h.registry.UnregisterByHandle(conn)
			conn.Close()
			observability.DecWSActive()
			observability.IncWSEvent("ws_disconnect")
			_ = observability.PublishEvent(ctx, wsEventsRoutingKey, observability.EventEnvelope{
				EventType: "ws_events",
				EventName: "ws_disconnect",
				Payload: observability.WSEventPayload{
					ConnID:     connID,
					IP:         ip,
					DurationMS: time.Since(connectedAt).Milliseconds(),
					Reason:     closeReason,
				},
			}, headers)
		}()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				closeReason = err.Error()
				return
			}

			var f frame
			if err := json.Unmarshal(data, &f); err != nil {
				observability.IncWSEvent("frame_dropped")
				continue
			}

			switch {
			case f.isAuth():
				h.handleAuth(f, conn)
			case f.isSend():
				h.handleSend(ctx, f)
			default:
				observability.IncWSEvent("frame_dropped")
			}
		}
	}()
}

func (h *RelayHandler) handleAuth(f frame, conn *websocket.Conn) {
	userID, err := h.verifier.Verify(f.Token)
	if err != nil {
		observability.IncWSEvent("auth_rejected")
		return
	}
	h.registry.Register(userID, conn)
	observability.IncWSEvent("ws_auth")
}

func (h *RelayHandler) handleSend(ctx context.Context, f frame) {
	// Every send frame is authenticated on its own; the registry binding is
	// only used for delivery.
	senderID, err := h.verifier.Verify(f.Token)
	if err != nil {
		observability.IncWSEvent("frame_dropped")
		return
	}

	sender, err := h.users.GetUser(ctx, senderID)
	if err != nil {
		observability.IncWSEvent("frame_dropped")
		return
	}

	token, err := h.cipher.Encrypt(f.Content)
	if err != nil {
		observability.IncWSEvent("frame_dropped")
		return
	}

	msg, err := h.messages.Create(ctx, sender.ID, f.Recipient, f.Listing, token)
	if err != nil {
		observability.IncWSEvent("frame_dropped")
		return
	}
	observability.IncMessageStored("ws")

	payload, err := json.Marshal(deliveryFrame{
		ID:        msg.ID,
		Sender:    msg.SenderID,
		Recipient: msg.RecipientID,
		Listing:   msg.ListingID,
		Content:   f.Content,
		CreatedAt: msg.CreatedAt,
	})
	if err != nil {
		return
	}

	for _, userID := range []int{msg.SenderID, msg.RecipientID} {
		h.deliver(userID, payload)
	}
}

func (h *RelayHandler) deliver(userID int, payload []byte) {
	conn, ok := h.registry.Lookup(userID)
	if !ok {
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		log.Printf("websocket write error: %v", err)
		conn.Close()
		h.registry.UnregisterByHandle(conn)
		observability.IncWSEvent("ws_error")
	}
}
