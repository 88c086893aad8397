package api

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/thebowwman/delisim/internals/hub"
)

// handleWS subscribes the caller to the delivery's location topic. The
// connection is receive-only; client messages are read and dropped.
func (s *Server) handleWS(c *gin.Context) {
	// Accept JWT from Authorization header OR from `?token=` for browser clients
	claims, err := s.issuer.ParseTokenFromRequest(c.Request)
	if err != nil {
		if tok := c.Query("token"); tok != "" {
			claims, err = s.issuer.ParseToken(tok)
		}
	}
	if err != nil {
		c.String(401, "unauthorized")
		return
	}

	deliveryID := strings.TrimPrefix(c.Param("deliveryID"), "/")
	if deliveryID == "" || deliveryID != claims.DeliveryID {
		c.String(403, "delivery mismatch")
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{InsecureSkipVerify: true}) // TODO: use OriginPatterns in prod
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")
	conn.SetReadLimit(1 << 16)

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	h := s.hubs.GetOrCreate(deliveryID)
	client := hub.NewWSClient(conn)

	// Late joiners get the last update, which carries the full route.
	if last := h.Last(); last != nil {
		client.Send(last)
	}
	h.AddClient(client)
	defer h.RemoveClient(client)
	log.Printf("delivery_id=%s ws subscribed role=%s topic=%s", deliveryID, claims.Role, h.Topic)

	go func() {
		client.WriteLoop(ctx)
		cancel()
	}()

	go func() {
		t := time.NewTicker(30 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				pctx, pcancel := context.WithTimeout(ctx, 5*time.Second)
				_ = conn.Ping(pctx)
				pcancel()
			}
		}
	}()

	for {
		if _, _, err := conn.Read(ctx); err != nil {
			break
		}
	}
	log.Printf("delivery_id=%s ws unsubscribed role=%s", deliveryID, claims.Role)
}
