package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/saltfish/tradebot-dash/go-backend/internal/domain"
)

// BotCommander is the subset of the bot client that commands drive.
type BotCommander interface {
	StartBot(ctx context.Context) (*domain.CommandResult, error)
	StopBot(ctx context.Context) (*domain.CommandResult, error)
	ResetStats(ctx context.Context) (*domain.CommandResult, error)
}

// ErrUnknownCommand is returned for routing keys with no command mapping.
var ErrUnknownCommand = errors.New("unknown command")

// CommandHandler executes bus commands against the bot.
type CommandHandler struct {
	bot     BotCommander
	timeout time.Duration
	logger  *zap.Logger
}

// NewCommandHandler creates a new CommandHandler.
func NewCommandHandler(bot BotCommander, logger *zap.Logger) *CommandHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CommandHandler{
		bot:     bot,
		timeout: 15 * time.Second,
		logger:  logger.Named("commands"),
	}
}

// Handle matches the EventHandler signature. The body is informational only.
func (h *CommandHandler) Handle(routingKey string, body []byte) error {
	var call func(context.Context) (*domain.CommandResult, error)
	switch routingKey {
	case RoutingKeyCommandBotStart:
		call = h.bot.StartBot
	case RoutingKeyCommandBotStop:
		call = h.bot.StopBot
	case RoutingKeyCommandStatsReset:
		call = h.bot.ResetStats
	default:
		return fmt.Errorf("%w: %s", ErrUnknownCommand, routingKey)
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	res, err := call(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", routingKey, err)
	}

	h.logger.Info("Executed bot command",
		zap.String("command", routingKey),
		zap.Bool("success", res.Success),
		zap.String("message", res.Message),
	)
	if !res.Success {
		return fmt.Errorf("%s: %w: %s", routingKey, domain.ErrBotRejected, res.Message)
	}
	return nil
}
