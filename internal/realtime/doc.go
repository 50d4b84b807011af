// Package realtime implements the push-event channel to the trading bot.
//
// A Channel:
//   - Keeps one WebSocket connection to the bot's /ws endpoint
//   - Reconnects on any transport failure (fixed 5s interval by default)
//   - Keeps subscriptions independent of the connection, so they survive reconnects
//   - Decodes {event, data, timestamp} envelopes and fans them out to handlers
//
// Handlers run on the channel's read goroutine, one frame at a time.
package realtime
