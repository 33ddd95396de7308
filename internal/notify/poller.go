package notify

import (
	"context"
	"sync"
	"time"

	"ojeval/internal/judge/model"
	"ojeval/pkg/utils/logger"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
)

// Snapshot is the observable state of a submission run.
type Snapshot struct {
	SubmissionID  string                 `json:"submissionId"`
	Status        model.SubmissionStatus `json:"status"`
	Generation    int64                  `json:"generation"`
	Score         int                    `json:"score"`
	StatusMessage string                 `json:"statusMessage"`
}

// Fetcher reads the current snapshot of a submission.
type Fetcher interface {
	FetchStatus(ctx context.Context, submissionID string) (Snapshot, error)
}

// PollerConfig bounds the foreground and background loops.
type PollerConfig struct {
	Interval              time.Duration `yaml:"interval"`
	MaxAttempts           int           `yaml:"maxAttempts"`
	BackgroundInterval    time.Duration `yaml:"backgroundInterval"`
	BackgroundMaxAttempts int           `yaml:"backgroundMaxAttempts"`
}

func (c *PollerConfig) setDefaults() {
	if c.Interval <= 0 {
		c.Interval = time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 30
	}
	if c.BackgroundInterval <= 0 {
		c.BackgroundInterval = 5 * time.Second
	}
	if c.BackgroundMaxAttempts <= 0 {
		c.BackgroundMaxAttempts = 120
	}
}

type backgroundPoll struct {
	generation int64
	cancel     context.CancelFunc
}

// Poller waits for a submission to finish: first a bounded foreground loop,
// then an optional background loop keyed by submission id and generation.
// A background loop never outlives a newer generation of its submission.
type Poller struct {
	fetcher    Fetcher
	cfg        PollerConfig
	background *xsync.MapOf[string, *backgroundPoll]
	last       *xsync.MapOf[string, Snapshot]
	wg         sync.WaitGroup
}

func NewPoller(fetcher Fetcher, cfg PollerConfig) *Poller {
	cfg.setDefaults()
	return &Poller{
		fetcher:    fetcher,
		cfg:        cfg,
		background: xsync.NewMapOf[string, *backgroundPoll](),
		last:       xsync.NewMapOf[string, Snapshot](),
	}
}

// Wait polls until the run of generation reaches a terminal state or the
// attempt budget runs out. done is false when the budget ran out. A
// snapshot of an older generation is never terminal for this run.
func (p *Poller) Wait(ctx context.Context, submissionID string, generation int64) (Snapshot, bool, error) {
	var snap Snapshot
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	for attempt := 0; attempt < p.cfg.MaxAttempts; attempt++ {
		var err error
		snap, err = p.fetcher.FetchStatus(ctx, submissionID)
		if err != nil {
			return snap, false, err
		}
		p.last.Store(submissionID, snap)
		if snap.Generation > generation {
			return snap, true, nil
		}
		if snap.Generation == generation && snap.Status.Terminal() {
			return snap, true, nil
		}
		select {
		case <-ctx.Done():
			return snap, false, ctx.Err()
		case <-ticker.C:
		}
	}
	return snap, false, nil
}

// Continue starts a background poll for the given generation, replacing any
// earlier one for the same submission. onDone fires once, only if the same
// generation reaches a terminal state.
func (p *Poller) Continue(submissionID string, generation int64, onDone func(Snapshot)) {
	ctx, cancel := context.WithCancel(context.Background())
	bg := &backgroundPoll{generation: generation, cancel: cancel}

	var previous *backgroundPoll
	p.background.Compute(submissionID, func(old *backgroundPoll, loaded bool) (*backgroundPoll, bool) {
		if loaded {
			previous = old
		}
		return bg, false
	})
	if previous != nil {
		previous.cancel()
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer cancel()
		defer p.background.Compute(submissionID, func(cur *backgroundPoll, loaded bool) (*backgroundPoll, bool) {
			// Only remove our own entry.
			return cur, !loaded || cur == bg
		})
		p.runBackground(ctx, submissionID, generation, onDone)
	}()
}

func (p *Poller) runBackground(ctx context.Context, submissionID string, generation int64, onDone func(Snapshot)) {
	ticker := time.NewTicker(p.cfg.BackgroundInterval)
	defer ticker.Stop()
	for attempt := 0; attempt < p.cfg.BackgroundMaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		snap, err := p.fetcher.FetchStatus(ctx, submissionID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Debug(ctx, "background poll failed", zap.String("submission_id", submissionID), zap.Error(err))
			continue
		}
		if snap.Generation > generation || ctx.Err() != nil {
			return
		}
		p.last.Store(submissionID, snap)
		if snap.Generation == generation && snap.Status.Terminal() {
			if onDone != nil {
				onDone(snap)
			}
			return
		}
	}
}

// Watch runs Wait and hands off to a background poll when the foreground
// budget runs out while the run is still going.
func (p *Poller) Watch(ctx context.Context, submissionID string, generation int64, onDone func(Snapshot)) (Snapshot, bool, error) {
	snap, done, err := p.Wait(ctx, submissionID, generation)
	if err != nil || done {
		return snap, done, err
	}
	p.Continue(submissionID, generation, onDone)
	return snap, false, nil
}

// Supersede cancels the background poll of submissionID if it belongs to a
// generation older than generation. Call it when a rerun starts.
func (p *Poller) Supersede(submissionID string, generation int64) {
	var stale *backgroundPoll
	p.background.Compute(submissionID, func(cur *backgroundPoll, loaded bool) (*backgroundPoll, bool) {
		if loaded && cur.generation < generation {
			stale = cur
			return nil, true
		}
		return cur, !loaded
	})
	if stale != nil {
		stale.cancel()
	}
}

// Cancel stops any background poll for submissionID.
func (p *Poller) Cancel(submissionID string) {
	if bg, ok := p.background.LoadAndDelete(submissionID); ok {
		bg.cancel()
	}
}

// Last returns the most recent snapshot seen for submissionID.
func (p *Poller) Last(submissionID string) (Snapshot, bool) {
	return p.last.Load(submissionID)
}

// Active reports the number of running background polls.
func (p *Poller) Active() int {
	return p.background.Size()
}

// Close cancels every background poll and waits for them to exit.
func (p *Poller) Close() {
	p.background.Range(func(id string, bg *backgroundPoll) bool {
		bg.cancel()
		return true
	})
	p.wg.Wait()
}
