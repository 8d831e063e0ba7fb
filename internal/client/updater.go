package client

import (
	"fmt"
	"time"

	"dialback-chat/internal/protocol"
)

// StartUpdater launches the background poller maintaining the visible-chat
// list. It stops on the first transport failure or when the client closes.
func (c *Client) StartUpdater() {
	go func() {
		ticker := time.NewTicker(updateInterval)
		defer ticker.Stop()

		for {
			if err := c.updateChats(); err != nil {
				c.logger.Infof("updater stopped: %v", err)
				return
			}

			select {
			case <-c.done:
				return
			case <-ticker.C:
			}
		}
	}()
}

// updateChats performs one poll. The watermark advances to the
// server-reported time on every reply, empty or not, so a chat is reported
// exactly once.
func (c *Client) updateChats() error {
	reply, err := c.roundTrip(protocol.Envelope{
		Kind:    protocol.KindUpdateChats,
		Payload: protocol.Payload{Time: c.watermark, Name: c.username},
	})
	if err != nil {
		return err
	}
	if reply.Kind != protocol.KindUpdateChats {
		return fmt.Errorf("unexpected reply kind %d", reply.Kind)
	}

	c.chatsMu.Lock()
	c.chats = append(c.chats, reply.Payload.StringList...)
	c.chatsMu.Unlock()

	c.watermark = reply.Payload.Time

	return nil
}

// Chats returns a snapshot of the chat names currently visible to the user.
func (c *Client) Chats() []string {
	c.chatsMu.Lock()
	defer c.chatsMu.Unlock()

	return append([]string(nil), c.chats...)
}
