// Package events relays bot events to RabbitMQ and consumes bot commands from it.
package events

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/saltfish/tradebot-dash/go-backend/internal/realtime"
)

// Routing keys.
const (
	// RoutingKeyBotPrefix prefixes every relayed bot event, e.g. bot.stats_update.
	RoutingKeyBotPrefix = "bot."
	RoutingKeyBotAll    = "bot.#"

	// Command keys consumed by the command subscriber.
	RoutingKeyCommandBotStart   = "command.bot.start"
	RoutingKeyCommandBotStop    = "command.bot.stop"
	RoutingKeyCommandStatsReset = "command.stats.reset"
)

// CommandRoutingKeys lists every command the subscriber binds.
var CommandRoutingKeys = []string{
	RoutingKeyCommandBotStart,
	RoutingKeyCommandBotStop,
	RoutingKeyCommandStatsReset,
}

// Event types.
const (
	EventTypeBotEvent = "bot.event"
)

// BaseEvent contains common fields for all events.
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source,omitempty"`
}

// NewBaseEvent creates a new BaseEvent with auto-generated event_id.
func NewBaseEvent(eventType string) BaseEvent {
	return BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
		Source:    "tradebot-dash",
	}
}

// RelayEvent wraps one bot envelope for the message bus.
type RelayEvent struct {
	BaseEvent
	Event        string          `json:"event"`
	Data         json.RawMessage `json:"data"`
	BotTimestamp string          `json:"bot_timestamp,omitempty"`
}

// NewRelayEvent creates a RelayEvent from a decoded envelope.
func NewRelayEvent(env realtime.Envelope) *RelayEvent {
	return &RelayEvent{
		BaseEvent:    NewBaseEvent(EventTypeBotEvent),
		Event:        env.Event,
		Data:         env.Data,
		BotTimestamp: env.Timestamp,
	}
}

// RoutingKeyForEvent maps a bot event name to its routing key. Characters
// with meaning in topic patterns are replaced so a name never widens a binding.
func RoutingKeyForEvent(event string) string {
	if event == "" {
		event = realtime.DefaultEvent
	}
	r := strings.NewReplacer("*", "_", "#", "_", " ", "_")
	return RoutingKeyBotPrefix + r.Replace(event)
}

// CommandEvent is an optional body for command messages.
type CommandEvent struct {
	BaseEvent
	RequestedBy string `json:"requested_by,omitempty"`
	Reason      string `json:"reason,omitempty"`
}
