package supervisor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/carlosprados/keeper/internal/metrics"
	"github.com/carlosprados/keeper/internal/sampler"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const samplers = 4

func (o *Orchestrator) sampleLoop(ctx context.Context) {
	t := time.NewTicker(o.opts.MetricsInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			o.sampleTick(ctx)
		}
	}
}

// sampleTick starts a sampling pass unless the previous one is still in
// flight. It reports whether a pass was started.
func (o *Orchestrator) sampleTick(ctx context.Context) bool {
	if !o.sampling.CompareAndSwap(false, true) {
		log.Debug().Msg("sampling pass still in flight, tick skipped")
		return false
	}
	go func() {
		defer o.sampling.Store(false)
		o.samplePass(ctx)
	}()
	return true
}

type sampleTarget struct {
	id  string
	pid int
	run string
}

// samplePass reads the running pids from the loop, samples them off the loop
// and posts the snapshots back.
func (o *Orchestrator) samplePass(ctx context.Context) {
	var targets []sampleTarget
	if err := o.do(ctx, func() {
		for id, sv := range o.servers {
			if sv.state == StateRunning && sv.proc != nil {
				targets = append(targets, sampleTarget{id: id, pid: sv.proc.PID(), run: sv.proc.RunID()})
			}
		}
	}); err != nil || len(targets) == 0 {
		return
	}

	var mu sync.Mutex
	snaps := make(map[string]sampler.Snapshot, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(samplers)
	for _, t := range targets {
		g.Go(func() error {
			snap, err := o.opts.Sampler.Sample(gctx, t.pid)
			if err != nil {
				if !errors.Is(err, sampler.ErrInvalidPID) {
					log.Debug().Str("server", t.id).Int("pid", t.pid).Err(err).Msg("sample failed")
				}
				return nil
			}
			mu.Lock()
			snaps[t.id] = snap
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	o.post(func() {
		for _, t := range targets {
			snap, ok := snaps[t.id]
			if !ok {
				continue
			}
			sv, ok := o.servers[t.id]
			if !ok || sv.proc == nil || sv.proc.RunID() != t.run {
				continue
			}
			sv.metrics = &snap
			metrics.ObserveProcess(t.id, snap.CPUPercent, snap.RSSBytes, snap.Threads)
			o.publishInfo(sv)
		}
	})
}
