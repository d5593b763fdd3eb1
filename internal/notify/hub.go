package notify

import (
	"github.com/match-escrow/internal/domain"
	"github.com/match-escrow/internal/websocket"
)

// HubNotifier pushes events to connected WebSocket subscribers
type HubNotifier struct {
	hub *websocket.Hub
}

// NewHubNotifier wraps a WebSocket hub as a Notifier
func NewHubNotifier(hub *websocket.Hub) HubNotifier {
	return HubNotifier{hub: hub}
}

// Publish implements Notifier
func (n HubNotifier) Publish(event domain.Event) {
	n.hub.BroadcastEvent(event)
}
