// Package eventsub receives channel point redemptions and cheers from the
// Twitch EventSub websocket.
package eventsub

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/you/streamrig/internal/core"
	"github.com/you/streamrig/internal/wsclient"
)

const DefaultURL = "wss://eventsub.wss.twitch.tv/ws"

const (
	TypeRedemption = "channel.channel_points_custom_reward_redemption.add"
	TypeCheer      = "channel.cheer"
)

// Subscriber registers subscriptions for a websocket session.
type Subscriber interface {
	CreateEventSubSubscription(ctx context.Context, sessionID, typ, version string) error
}

type Handler interface {
	OnRedemption(ctx context.Context, r core.Redemption)
	OnCheer(ctx context.Context, c core.Cheer)
}

type Client struct {
	ws      *wsclient.Client
	sub     Subscriber
	handler Handler
	ctx     context.Context
}

type envelope struct {
	Metadata struct {
		MessageID        string    `json:"message_id"`
		MessageType      string    `json:"message_type"`
		MessageTimestamp time.Time `json:"message_timestamp"`
	} `json:"metadata"`
	Payload struct {
		Session *struct {
			ID           string `json:"id"`
			ReconnectURL string `json:"reconnect_url"`
		} `json:"session"`
		Subscription *struct {
			Type string `json:"type"`
		} `json:"subscription"`
		Event json.RawMessage `json:"event"`
	} `json:"payload"`
}

type redemptionEvent struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	UserLogin  string    `json:"user_login"`
	UserName   string    `json:"user_name"`
	UserInput  string    `json:"user_input"`
	RedeemedAt time.Time `json:"redeemed_at"`
	Reward     struct {
		ID string `json:"id"`
	} `json:"reward"`
}

type cheerEvent struct {
	IsAnonymous bool   `json:"is_anonymous"`
	UserID      string `json:"user_id"`
	UserLogin   string `json:"user_login"`
	UserName    string `json:"user_name"`
	Message     string `json:"message"`
	Bits        int    `json:"bits"`
}

// New returns a client for url (DefaultURL when empty).
func New(url string, sub Subscriber, handler Handler) *Client {
	if url == "" {
		url = DefaultURL
	}
	c := &Client{sub: sub, handler: handler, ctx: context.Background()}
	c.ws = wsclient.New(wsclient.Config{
		Name:      "eventsub",
		URL:       url,
		OnMessage: c.onMessage,
	})
	return c
}

func (c *Client) Run(ctx context.Context) error {
	c.ctx = ctx
	return c.ws.Run(ctx)
}

func (c *Client) onMessage(raw json.RawMessage) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Printf("eventsub: bad message: %v", err)
		return
	}
	switch env.Metadata.MessageType {
	case "session_welcome":
		if env.Payload.Session == nil || env.Payload.Session.ID == "" {
			log.Printf("eventsub: welcome without session id")
			return
		}
		go c.subscribe(env.Payload.Session.ID)
	case "session_keepalive":
	case "session_reconnect":
		log.Printf("eventsub: server asked to reconnect; waiting for it to close the session")
	case "revocation":
		if env.Payload.Subscription != nil {
			log.Printf("eventsub: subscription %s revoked", env.Payload.Subscription.Type)
		}
	case "notification":
		if env.Payload.Subscription == nil {
			return
		}
		c.dispatch(env.Payload.Subscription.Type, env.Metadata.MessageTimestamp, env.Payload.Event)
	}
}

func (c *Client) subscribe(sessionID string) {
	if c.sub == nil {
		return
	}
	for _, typ := range []string{TypeRedemption, TypeCheer} {
		if err := c.sub.CreateEventSubSubscription(c.ctx, sessionID, typ, "1"); err != nil {
			log.Printf("eventsub: subscribe %s: %v", typ, err)
			continue
		}
		log.Printf("eventsub: subscribed to %s", typ)
	}
}

func (c *Client) dispatch(typ string, ts time.Time, raw json.RawMessage) {
	if c.handler == nil {
		return
	}
	switch typ {
	case TypeRedemption:
		var ev redemptionEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			log.Printf("eventsub: bad redemption: %v", err)
			return
		}
		redeemed := ev.RedeemedAt
		if redeemed.IsZero() {
			redeemed = ts
		}
		c.handler.OnRedemption(c.ctx, core.Redemption{
			ID:        ev.ID,
			RewardID:  ev.Reward.ID,
			UserID:    ev.UserID,
			UserLogin: ev.UserLogin,
			UserName:  ev.UserName,
			UserInput: ev.UserInput,
			Ts:        redeemed,
		})
	case TypeCheer:
		var ev cheerEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			log.Printf("eventsub: bad cheer: %v", err)
			return
		}
		c.handler.OnCheer(c.ctx, core.Cheer{
			UserID:      ev.UserID,
			UserLogin:   ev.UserLogin,
			UserName:    ev.UserName,
			Message:     ev.Message,
			Bits:        ev.Bits,
			IsAnonymous: ev.IsAnonymous,
			Ts:          ts,
		})
	default:
		log.Printf("eventsub: ignoring %s", typ)
	}
}
