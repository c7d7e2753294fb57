package settle

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kapu/dama-arena/internal/obslog"
)

// Reconciler periodically sweeps unsettled sessions until their
// settlement completes. Settlement failures are never dropped inline;
// this is the retry path.
type Reconciler struct {
	settler  *Settler
	interval time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func NewReconciler(s *Settler, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Reconciler{
		settler:  s,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

func (r *Reconciler) Start() {
	go r.loop()
}

func (r *Reconciler) loop() {
	defer close(r.doneCh)
	backoff := r.interval
	t := time.NewTimer(backoff)
	defer t.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-t.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		n, err := r.settler.Sweep(ctx)
		cancel()
		switch {
		case err != nil:
			// transient store trouble: back off up to 8x
			if backoff < 8*r.interval {
				backoff *= 2
			}
			obslog.L().Warn("settle_sweep_error", zap.Error(err), zap.Duration("backoff", backoff))
		default:
			if n > 0 {
				obslog.L().Info("settle_sweep", zap.Int("settled", n))
			}
			backoff = r.interval
		}
		t.Reset(backoff)
	}
}

// Stop halts the sweep loop, waiting for an in-flight sweep to finish.
func (r *Reconciler) Stop(ctx context.Context) error {
	r.stopOnce.Do(func() { close(r.stopCh) })
	select {
	case <-r.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
