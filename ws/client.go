package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
)

const (
	authTimeout  = 5 * time.Second
	pingInterval = 30 * time.Second
	sendBufSize  = 256
)

// Client is one websocket connection. A user may hold several at once
// (multi-device); each gets its own ConnID.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc

	ConnID string
	UserID string
}

func (c *Client) readPump() {
	defer func() {
		if c.UserID != "" {
			c.hub.onDisconnected(c)
		}
		c.Close()
	}()

	userID, err := c.authenticate()
	if err != nil {
		log.Printf("ws auth failed: %v", err)
		return
	}
	c.UserID = userID
	c.ConnID = uuid.NewString()

	if err := c.sendReady(); err != nil {
		log.Printf("ws send ready: %v", err)
		return
	}

	c.hub.onConnected(c)

	const rateLimit = 30
	const rateWindow = time.Second
	msgCount := 0
	windowStart := time.Now()

	for {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			return
		}

		now := time.Now()
		if now.Sub(windowStart) >= rateWindow {
			msgCount = 0
			windowStart = now
		}
		msgCount++
		if msgCount > rateLimit {
			log.Printf("ws rate limit exceeded: user %s", c.UserID)
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		c.hub.HandleMessage(c, &msg)
	}
}

func (c *Client) authenticate() (string, error) {
	authCtx, authCancel := context.WithTimeout(c.ctx, authTimeout)
	defer authCancel()

	_, data, err := c.conn.Read(authCtx)
	if err != nil {
		c.conn.Close(websocket.StatusPolicyViolation, "auth timeout")
		return "", err
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.conn.Close(websocket.StatusPolicyViolation, "invalid message")
		return "", err
	}
	if msg.Op != "authenticate" {
		c.conn.Close(websocket.StatusPolicyViolation, "expected authenticate")
		return "", fmt.Errorf("expected authenticate, got %q", msg.Op)
	}

	var authData AuthenticateData
	if err := json.Unmarshal(msg.Data, &authData); err != nil {
		c.conn.Close(websocket.StatusPolicyViolation, "invalid auth data")
		return "", err
	}

	userID, err := c.hub.Identity.Authenticate(authCtx, authData.Token)
	if err != nil {
		c.conn.Close(websocket.StatusPolicyViolation, "invalid token")
		return "", err
	}
	return userID, nil
}

func (c *Client) sendReady() error {
	user, err := c.hub.DB.GetUserByID(c.UserID)
	if err != nil {
		return err
	}

	communities, err := c.hub.DB.GetCommunitiesForUser(c.UserID)
	if err != nil {
		return err
	}

	views := make([]CommunityView, 0, len(communities))
	for _, com := range communities {
		channels, err := c.hub.DB.GetChannelsByCommunity(com.ID)
		if err != nil {
			return err
		}
		chPayloads := make([]ChannelPayload, len(channels))
		for i, ch := range channels {
			chPayloads[i] = ChannelPayload{
				ID:          ch.ID,
				CommunityID: ch.CommunityID,
				Name:        ch.Name,
				Type:        ch.Type,
				Position:    ch.Position,
			}
		}
		role, err := c.hub.DB.GetMemberRole(com.ID, c.UserID)
		if err != nil {
			return err
		}
		views = append(views, CommunityView{
			ID:       com.ID,
			Name:     com.Name,
			OwnerID:  com.OwnerID,
			Role:     role,
			Channels: chPayloads,
		})
	}

	msg, err := NewMessage("ready", ReadyData{
		User:        UserPayload{ID: user.ID, Username: user.Username},
		Communities: views,
		ServerTime:  nowUnix(),
	})
	if err != nil {
		return err
	}
	return c.conn.Write(c.ctx, websocket.MessageText, msg)
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.Write(c.ctx, websocket.MessageText, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.Ping(c.ctx); err != nil {
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Client) Send(msg []byte) {
	select {
	case c.send <- msg:
	default:
		c.Close()
	}
}

func (c *Client) Close() {
	c.cancel()
	c.conn.Close(websocket.StatusNormalClosure, "")
}

func nowUnix() float64 {
	return float64(time.Now().UnixMilli()) / 1000.0
}
