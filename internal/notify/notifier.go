package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/kapu/dama-arena/internal/obslog"
)

// LogNotifier records pushes in the service log. Real delivery
// transports (chat bots, mobile push) plug in behind the same
// interface on the registry.
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier { return &LogNotifier{} }

func (n *LogNotifier) Push(ctx context.Context, userID, text string) error {
	obslog.L().Info("notify_push", zap.String("user_id", userID), zap.String("text", text))
	return nil
}
