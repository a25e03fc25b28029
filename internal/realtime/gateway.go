package realtime

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Authenticator verifies a handshake token and resolves the user behind it.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (userID string, err error)
}

// Gateway upgrades HTTP requests to websocket connections. Credentials are
// checked before the upgrade: a connection that fails authentication is
// rejected with 401 and never reaches the hub.
type Gateway struct {
	hub     *Hub
	auth    Authenticator
	timeout time.Duration

	upgrader ws.HTTPUpgrader
}

func NewGateway(hub *Hub, auth Authenticator, handshakeTimeout time.Duration) *Gateway {
	return &Gateway{
		hub:      hub,
		auth:     auth,
		timeout:  handshakeTimeout,
		upgrader: ws.HTTPUpgrader{Timeout: handshakeTimeout},
	}
}

// clientMessage is the only shape clients send over the socket. Everything
// else (mutations) goes over HTTP.
type clientMessage struct {
	Event   string `json:"event"`
	BoardID string `json:"boardId"`
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := handshakeToken(r)
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	// The whole handshake fails fast, not just the upgrade: a stalled
	// credential lookup must not hold the connection open.
	authCtx := r.Context()
	if g.timeout > 0 {
		var cancel context.CancelFunc
		authCtx, cancel = context.WithTimeout(authCtx, g.timeout)
		defer cancel()
	}
	userID, err := g.auth.Authenticate(authCtx, token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	nc, _, _, err := g.upgrader.Upgrade(r, w)
	if err != nil {
		log.Printf("realtime: upgrade failed for %s: %v", userID, err)
		return
	}

	// Clear any handshake deadline inherited from the HTTP server; the
	// connection is long-lived from here on.
	_ = nc.SetDeadline(time.Time{})

	c := g.hub.Attach(userID, nc)
	go g.readLoop(c)
}

// handshakeToken accepts the credential as a query parameter (browser
// WebSocket API cannot set headers) or as a bearer header.
func handshakeToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}

func (g *Gateway) readLoop(c *Conn) {
	defer g.hub.Detach(c)
	for {
		data, err := wsutil.ReadClientText(c.nc)
		if err != nil {
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("realtime: bad message from %s: %v", c.ID, err)
			continue
		}
		switch msg.Event {
		case "joinBoard":
			if msg.BoardID != "" {
				g.hub.JoinBoard(c, msg.BoardID)
			}
		case "leaveBoard":
			if msg.BoardID != "" {
				g.hub.LeaveBoard(c, msg.BoardID)
			}
		default:
			// Unknown events are ignored rather than fatal so older
			// clients keep working across releases.
		}
	}
}
