package services

import (
	"sync"
	"time"

	"liveclass/internal/core/domain"
	"liveclass/internal/core/ports"
	apperrors "liveclass/pkg/errors"

	"go.uber.org/zap"
)

// firstSampleLoad is the load assumed for a worker that has never been
// sampled, so a newly-observed worker is not masked as perfectly idle.
const firstSampleLoad = 0.05

type cpuSample struct {
	cpuTime time.Duration
	at      time.Time
}

type affinityEntry struct {
	worker domain.WorkerID
	kind   domain.SessionKind
}

// WorkerPool tracks the fixed set of media workers and places new
// sessions on them. CPU-delta load is a best-effort heuristic; the
// fewest-hosted-sessions signal is the primary one for placement since
// it is stable under bursty sampling.
type WorkerPool struct {
	workers []ports.Worker
	log     *zap.SugaredLogger

	mu       sync.Mutex
	samples  map[domain.WorkerID]cpuSample
	affinity map[domain.SessionID]affinityEntry
}

// NewWorkerPool builds a pool over the given workers. An empty pool is
// a fatal configuration error.
func NewWorkerPool(workers []ports.Worker, log *zap.Logger) (*WorkerPool, error) {
	if len(workers) == 0 {
		return nil, apperrors.Fatal("media worker pool is empty")
	}
	return &WorkerPool{
		workers:  workers,
		log:      log.Sugar(),
		samples:  make(map[domain.WorkerID]cpuSample),
		affinity: make(map[domain.SessionID]affinityEntry),
	}, nil
}

// PickWorker returns the worker with the lowest CPU-time delta per
// elapsed second since the previous sample, ties broken by pool order.
func (p *WorkerPool) PickWorker() ports.Worker {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pickByLoadLocked(p.workers)
}

// PickWorkerForNewSession restricts candidates to workers hosting zero
// sessions of the given kind; among those it picks by sampled load. If
// every worker already hosts at least one, it falls back to the worker
// with the fewest hosted sessions of that kind, which avoids placement
// thrash when load is already balanced.
func (p *WorkerPool) PickWorkerForNewSession(kind domain.SessionKind) ports.Worker {
	p.mu.Lock()
	defer p.mu.Unlock()

	counts := make(map[domain.WorkerID]int, len(p.workers))
	for _, entry := range p.affinity {
		if entry.kind == kind {
			counts[entry.worker]++
		}
	}

	var idle []ports.Worker
	for _, w := range p.workers {
		if counts[w.ID()] == 0 {
			idle = append(idle, w)
		}
	}
	if len(idle) > 0 {
		return p.pickByLoadLocked(idle)
	}

	best := p.workers[0]
	for _, w := range p.workers[1:] {
		if counts[w.ID()] < counts[best.ID()] {
			best = w
		}
	}
	return best
}

// BindSession records which worker hosts a session, for placement only.
func (p *WorkerPool) BindSession(sessionID domain.SessionID, kind domain.SessionKind, workerID domain.WorkerID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.affinity[sessionID] = affinityEntry{worker: workerID, kind: kind}
}

// ReleaseSession drops the affinity entry for an ended session.
func (p *WorkerPool) ReleaseSession(sessionID domain.SessionID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.affinity, sessionID)
}

// SessionCount reports how many sessions a worker currently hosts.
func (p *WorkerPool) SessionCount(workerID domain.WorkerID, kind domain.SessionKind) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for _, entry := range p.affinity {
		if entry.worker == workerID && entry.kind == kind {
			n++
		}
	}
	return n
}

// Workers exposes the pool members for lifecycle management.
func (p *WorkerPool) Workers() []ports.Worker {
	return p.workers
}

func (p *WorkerPool) pickByLoadLocked(candidates []ports.Worker) ports.Worker {
	now := time.Now()
	best := candidates[0]
	bestLoad := p.sampleLoadLocked(candidates[0], now)

	for _, w := range candidates[1:] {
		load := p.sampleLoadLocked(w, now)
		if load < bestLoad {
			best = w
			bestLoad = load
		}
	}
	return best
}

// sampleLoadLocked computes CPU-time delta per elapsed wall-clock
// second since the last sample, updating the stored sample.
func (p *WorkerPool) sampleLoadLocked(w ports.Worker, now time.Time) float64 {
	cpu, err := w.CPUTime()
	if err != nil {
		p.log.Warnw("failed to sample worker cpu time", "worker_id", w.ID(), "error", err)
		return firstSampleLoad
	}

	prev, seen := p.samples[w.ID()]
	p.samples[w.ID()] = cpuSample{cpuTime: cpu, at: now}

	if !seen {
		return firstSampleLoad
	}
	elapsed := now.Sub(prev.at).Seconds()
	if elapsed <= 0 {
		return firstSampleLoad
	}
	load := (cpu - prev.cpuTime).Seconds() / elapsed
	if load < 0 {
		load = 0
	}
	return load
}
