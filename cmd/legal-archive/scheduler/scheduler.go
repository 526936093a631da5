package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gorhill/cronexpr"

	"github.com/superdesk/legalarchive/cmd/legal-archive/service"
	"github.com/superdesk/legalarchive/common/logger"
)

type entry struct {
	cmd      service.Command
	schedule string
	expr     *cronexpr.Expression
	next     time.Time
}

// Scheduler triggers registered commands on cron schedules. A tick whose
// command is still running elsewhere is absorbed by the command's lock.
type Scheduler struct {
	mu      sync.Mutex
	entries []*entry
	log     *logger.Logger
	now     func() time.Time
}

// New creates an empty scheduler
func New(log *logger.Logger) *Scheduler {
	return &Scheduler{log: log, now: time.Now}
}

// Add schedules cmd with a crontab expression such as "*/5 * * * *"
func (s *Scheduler) Add(cmd service.Command, schedule string) error {
	expr, err := cronexpr.Parse(schedule)
	if err != nil {
		return fmt.Errorf("invalid schedule %q for %s: %w", schedule, cmd.Name(), err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.entries {
		if e.cmd.Name() == cmd.Name() {
			return fmt.Errorf("command already scheduled: %s", cmd.Name())
		}
	}

	next := expr.Next(s.now())
	if next.IsZero() {
		return fmt.Errorf("schedule %q for %s never fires", schedule, cmd.Name())
	}
	s.entries = append(s.entries, &entry{cmd: cmd, schedule: schedule, expr: expr, next: next})
	s.log.Info("command scheduled", "command", cmd.Name(), "schedule", schedule, "next", next)
	return nil
}

// NextRun returns when the earliest entry fires next, and false when
// nothing is scheduled
func (s *Scheduler) NextRun() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var earliest time.Time
	for _, e := range s.entries {
		if earliest.IsZero() || e.next.Before(earliest) {
			earliest = e.next
		}
	}
	return earliest, !earliest.IsZero()
}

// due returns the commands whose time has come and moves each to its next
// firing after now. Missed firings collapse into one.
func (s *Scheduler) due(now time.Time) []service.Command {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cmds []service.Command
	for _, e := range s.entries {
		if e.next.After(now) {
			continue
		}
		cmds = append(cmds, e.cmd)
		e.next = e.expr.Next(now)
	}
	sort.Slice(cmds, func(i, j int) bool { return cmds[i].Name() < cmds[j].Name() })
	return cmds
}

// Run fires commands on schedule until ctx is cancelled, then waits for
// the runs it started
func (s *Scheduler) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		next, ok := s.NextRun()
		if !ok {
			s.log.Info("nothing scheduled, scheduler idle")
			<-ctx.Done()
			return nil
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			s.log.Info("scheduler stopping")
			return nil
		case <-timer.C:
		}

		for _, cmd := range s.due(s.now()) {
			wg.Add(1)
			go func(cmd service.Command) {
				defer wg.Done()
				s.trigger(ctx, cmd)
			}(cmd)
		}
	}
}

func (s *Scheduler) trigger(ctx context.Context, cmd service.Command) {
	log := s.log.WithCommand(cmd.Name())
	log.Debug("scheduled run starting")

	summary, err := cmd.Run(ctx, service.RunOptions{})
	if err != nil {
		// The command has already logged and published the failure.
		log.Warn("scheduled run failed", "error", err)
		return
	}
	if summary.Skipped {
		log.Debug("scheduled run skipped, previous run still active")
	}
}
