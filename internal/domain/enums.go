// Package domain contains the payload models exchanged with the trading bot.
package domain

// BotState represents the lifecycle state reported by the bot.
type BotState string

const (
	BotStateIdle     BotState = "idle"
	BotStateRunning  BotState = "running"
	BotStateStopping BotState = "stopping"
	BotStateError    BotState = "error"
)

// IsValid returns true if the state is a valid BotState.
func (s BotState) IsValid() bool {
	switch s {
	case BotStateIdle, BotStateRunning, BotStateStopping, BotStateError:
		return true
	default:
		return false
	}
}

// String returns the string representation of the state.
func (s BotState) String() string {
	return string(s)
}

// BotStateFromString converts a string to BotState.
func BotStateFromString(s string) BotState {
	state := BotState(s)
	if state.IsValid() {
		return state
	}
	return BotStateError
}

// TradeSide is the direction of a position.
type TradeSide string

const (
	TradeSideLong  TradeSide = "LONG"
	TradeSideShort TradeSide = "SHORT"
)

// IsValid returns true if the side is a valid TradeSide.
func (s TradeSide) IsValid() bool {
	return s == TradeSideLong || s == TradeSideShort
}

// String returns the string representation of the side.
func (s TradeSide) String() string {
	return string(s)
}

// DirectionPreference restricts which sides the strategy may open.
type DirectionPreference string

const (
	DirectionLong  DirectionPreference = "LONG"
	DirectionShort DirectionPreference = "SHORT"
	DirectionBoth  DirectionPreference = "BOTH"
)

// IsValid returns true if the preference is valid.
func (d DirectionPreference) IsValid() bool {
	switch d {
	case DirectionLong, DirectionShort, DirectionBoth:
		return true
	default:
		return false
	}
}

// MarginType is the futures margin mode.
type MarginType string

const (
	MarginIsolated MarginType = "ISOLATED"
	MarginCrossed  MarginType = "CROSSED"
)

// IsValid returns true if the margin type is valid.
func (m MarginType) IsValid() bool {
	return m == MarginIsolated || m == MarginCrossed
}

// LogLevel is the severity of a bot log entry.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// IsValid returns true if the level is valid.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return true
	default:
		return false
	}
}
