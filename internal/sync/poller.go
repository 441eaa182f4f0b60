// Package sync runs the polling loop that moves Mailchain messages into
// the IMAP mailbox.
package sync

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	gosync "sync"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/mailchain-connector-imap/internal/convert"
	"github.com/nhle/mailchain-connector-imap/internal/delivery"
	"github.com/nhle/mailchain-connector-imap/internal/model"
	"github.com/nhle/mailchain-connector-imap/internal/source"
)

// State is the current phase of the loop.
type State int

const (
	Idle State = iota
	Polling
	Sleeping
)

func (s State) String() string {
	switch s {
	case Polling:
		return "polling"
	case Sleeping:
		return "sleeping"
	default:
		return "idle"
	}
}

// Deliverer is the IMAP side of a tick.
type Deliverer interface {
	// Ping checks that an authenticated IMAP session is usable.
	Ping(ctx context.Context) error

	Deliver(ctx context.Context, target model.Target, email *convert.Email, messageID string) (delivery.Result, error)
}

// TickStats summarizes one pass over every address.
type TickStats struct {
	ID       string
	Started  time.Time
	Finished time.Time

	Addresses int
	Messages  int
	Appended  int

	// Duplicates were already in the ledger or in the folder.
	Duplicates int

	// Discarded had a status other than "ok".
	Discarded int

	// Failed counts addresses and messages whose processing errored.
	Failed int

	// Err is set when the tick was skipped as a whole.
	Err error
}

// Status is a snapshot of the loop.
type Status struct {
	State    State
	Last     *TickStats
	NextTick time.Time
}

// Poller runs ticks one after another, sleeping in between. Ticks never
// overlap and all IMAP work of a tick goes through one Deliverer.
type Poller struct {
	source    source.Source
	deliverer Deliverer
	interval  time.Duration
	logger    *slog.Logger

	// sleep waits between ticks. It returns early on trigger and fails
	// when ctx is done.
	sleep func(ctx context.Context, d time.Duration) error

	triggerCh chan struct{}
	resultCh  chan TickStats

	mu            gosync.Mutex
	status        Status
	apiConnected  bool
	imapConnected bool
}

// New creates a Poller. Intervals below model.MinPollInterval are raised
// to it.
func New(src source.Source, d Deliverer, interval time.Duration, logger *slog.Logger) *Poller {
	if interval < model.MinPollInterval {
		interval = model.MinPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Poller{
		source:    src,
		deliverer: d,
		interval:  interval,
		logger:    logger,
		triggerCh: make(chan struct{}, 1),
		resultCh:  make(chan TickStats, 16),
	}
	p.sleep = p.wait
	return p
}

// Interval returns the effective sleep between ticks.
func (p *Poller) Interval() time.Duration {
	return p.interval
}

// Run ticks until ctx is done. A tick that fails, or panics, is logged and
// the loop carries on with the next sleep.
func (p *Poller) Run(ctx context.Context) error {
	for {
		p.safeTick(ctx)

		p.setState(Sleeping, time.Now().Add(p.interval))
		if err := p.sleep(ctx, p.interval); err != nil {
			p.setState(Idle, time.Time{})
			return err
		}
	}
}

// Trigger cuts the current sleep short. It never blocks.
func (p *Poller) Trigger() {
	select {
	case p.triggerCh <- struct{}{}:
	default:
	}
}

// Results delivers the stats of every finished tick. Results are dropped
// when nobody reads them.
func (p *Poller) Results() <-chan TickStats {
	return p.resultCh
}

// Status returns a snapshot of the loop.
func (p *Poller) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *Poller) wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	case <-p.triggerCh:
		return nil
	}
}

func (p *Poller) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("tick panicked", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
		}
	}()
	p.Tick(ctx)
}

// Tick runs a single pass: connectivity check, then every protocol,
// network and address. An error for one address or message is logged and
// the pass continues with the next one.
func (p *Poller) Tick(ctx context.Context) (stats TickStats) {
	stats = TickStats{ID: uuid.NewString(), Started: time.Now()}
	log := p.logger.With("tick", stats.ID)

	p.setState(Polling, time.Time{})
	defer func() {
		stats.Finished = time.Now()
		p.finish(stats)
	}()

	log.Info("Checking messages")

	if err := p.checkConnectivity(ctx, log); err != nil {
		stats.Err = err
		return stats
	}

	pairs, err := p.source.Protocols(ctx)
	if err != nil {
		log.Error("listing protocols", "kind", model.KindOf(err).String(), "err", err)
		stats.Err = err
		return stats
	}

	for _, pn := range pairs {
		if ctx.Err() != nil {
			break
		}
		plog := log.With("protocol", pn.Protocol, "network", pn.Network)

		addresses, err := p.source.Addresses(ctx, pn)
		if err != nil {
			plog.Error("listing addresses", "kind", model.KindOf(err).String(), "err", err)
			stats.Failed++
			continue
		}

		for _, address := range addresses {
			if ctx.Err() != nil {
				break
			}
			target := model.Target{Protocol: pn.Protocol, Network: pn.Network, Address: address}
			stats.Addresses++
			p.syncAddress(ctx, plog.With("address", address), target, &stats)
		}
	}

	log.Info("Done",
		"addresses", stats.Addresses,
		"messages", stats.Messages,
		"appended", stats.Appended,
		"duplicates", stats.Duplicates,
		"discarded", stats.Discarded,
		"failed", stats.Failed,
	)
	return stats
}

func (p *Poller) checkConnectivity(ctx context.Context, log *slog.Logger) error {
	version, err := p.source.Version(ctx)
	if err != nil {
		log.Warn("Mailchain client unreachable, skipping tick", "kind", model.KindOf(err).String(), "err", err)
		p.setConnected(&p.apiConnected, false)
		return fmt.Errorf("checking Mailchain client: %w", err)
	}
	if p.setConnected(&p.apiConnected, true) {
		log.Info("Connected to Mailchain client", "version", version)
	}

	if err := p.deliverer.Ping(ctx); err != nil {
		log.Warn("IMAP server unreachable, skipping tick", "kind", model.KindOf(err).String(), "err", err)
		p.setConnected(&p.imapConnected, false)
		return fmt.Errorf("checking IMAP server: %w", err)
	}
	if p.setConnected(&p.imapConnected, true) {
		log.Info("Connected to IMAP")
	}
	return nil
}

// setConnected records a connectivity result and reports whether it
// turned from down to up.
func (p *Poller) setConnected(flag *bool, up bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	changed := up && !*flag
	*flag = up
	return changed
}

func (p *Poller) syncAddress(ctx context.Context, log *slog.Logger, target model.Target, stats *TickStats) {
	msgs, err := p.source.Messages(ctx, target)
	if err != nil {
		log.Error("fetching messages", "kind", model.KindOf(err).String(), "err", err)
		stats.Failed++
		return
	}

	for _, msg := range msgs {
		if ctx.Err() != nil {
			return
		}
		stats.Messages++

		id := msg.Headers.MessageID
		if !msg.OK() {
			log.Debug("discarding message", "message_id", id, "status", msg.Status)
			stats.Discarded++
			continue
		}

		result, err := p.deliverer.Deliver(ctx, target, convert.Convert(msg), id)
		if err != nil {
			log.Error("delivering message", "message_id", id, "kind", model.KindOf(err).String(), "err", err)
			stats.Failed++
			continue
		}

		switch result {
		case delivery.Appended:
			log.Debug("message appended", "message_id", id)
			stats.Appended++
		default:
			stats.Duplicates++
		}
	}
}

func (p *Poller) setState(s State, next time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status.State = s
	p.status.NextTick = next
}

func (p *Poller) finish(stats TickStats) {
	p.mu.Lock()
	last := stats
	p.status.Last = &last
	p.status.State = Idle
	p.mu.Unlock()

	select {
	case p.resultCh <- stats:
	default:
		// Nobody is listening.
	}
}
