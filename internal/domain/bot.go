package domain

import "time"

// Event names pushed by the bot.
const (
	EventStatusUpdate = "status_update"
	EventStatsUpdate  = "stats_update"
	EventLog          = "log"
	EventTrade        = "trade"
	EventMessage      = "message"
)

// BotStatus is the bot-state snapshot returned by /api/bot/status and
// pushed as status_update.
type BotStatus struct {
	State             BotState `json:"state"`
	IsRunning         bool     `json:"isRunning"`
	Uptime            int64    `json:"uptime"`
	ConsecutiveLosses int      `json:"consecutiveLosses"`
}

// UptimeDuration returns the uptime, reported by the bot in milliseconds.
func (s BotStatus) UptimeDuration() time.Duration {
	return time.Duration(s.Uptime) * time.Millisecond
}

// CommandResult is the response to start, stop, reset and config update calls.
type CommandResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}
