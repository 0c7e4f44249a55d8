package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/tickreplay/internal/domain"
)

// archivePageSize bounds each session listing during a sweep.
const archivePageSize = 100

// Archiver exports the chunk history of finished sessions to cold storage.
type Archiver struct {
	blob     domain.ChunkArchiver
	sessions domain.SessionStore
	chunks   domain.ChunkStore
	logger   *slog.Logger

	mu       sync.Mutex
	lastRun  time.Time
	archived map[string]string // session id -> object key
}

// NewArchiver creates a new Archiver.
func NewArchiver(blob domain.ChunkArchiver, sessions domain.SessionStore, chunks domain.ChunkStore, logger *slog.Logger) *Archiver {
	return &Archiver{
		blob:     blob,
		sessions: sessions,
		chunks:   chunks,
		logger:   logger.With(slog.String("component", "archiver")),
		archived: make(map[string]string),
	}
}

// ArchiveSession uploads the stored chunks of one session and returns the
// object key. A session that was already archived by this process is skipped.
func (a *Archiver) ArchiveSession(ctx context.Context, sessionID string) (string, error) {
	a.mu.Lock()
	key, done := a.archived[sessionID]
	a.mu.Unlock()
	if done {
		return key, nil
	}

	chunks, err := a.chunks.ListBySession(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("listing chunks of session %s: %w", sessionID, err)
	}
	if len(chunks) == 0 {
		return "", nil
	}

	key, err = a.blob.ArchiveChunks(ctx, sessionID, chunks)
	if err != nil {
		return "", fmt.Errorf("archiving chunks of session %s: %w", sessionID, err)
	}

	a.mu.Lock()
	a.archived[sessionID] = key
	a.mu.Unlock()

	a.logger.Info("session archived",
		slog.String("session_id", sessionID),
		slog.Int("chunks", len(chunks)),
		slog.String("key", key),
	)
	return key, nil
}

// Run archives every session that finished since the previous run.
func (a *Archiver) Run(ctx context.Context) error {
	a.mu.Lock()
	cutoff := a.lastRun
	a.mu.Unlock()
	started := time.Now().UTC()

	a.logger.Info("starting archive run", slog.Time("since", cutoff))

	var (
		archived int
		errs     []error
	)
	for offset := 0; ; offset += archivePageSize {
		recs, err := a.sessions.List(ctx, domain.ListOpts{Limit: archivePageSize, Offset: offset})
		if err != nil {
			return fmt.Errorf("listing sessions: %w", err)
		}
		for _, rec := range recs {
			if rec.FinishedAt == nil || rec.FinishedAt.Before(cutoff) {
				continue
			}
			key, err := a.ArchiveSession(ctx, rec.ID)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if key != "" {
				archived++
			}
		}
		if len(recs) < archivePageSize {
			break
		}
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	a.mu.Lock()
	a.lastRun = started
	a.mu.Unlock()

	a.logger.Info("archive run complete", slog.Int("sessions_archived", archived))
	return nil
}

// RunCron runs the archiver on a cron schedule until the context is cancelled.
// It supports standard 5-field expressions:
// "minute hour day-of-month month day-of-week", e.g. "*/15 * * * *".
func (a *Archiver) RunCron(ctx context.Context, cronExpr string) error {
	sched, err := parseCron(cronExpr)
	if err != nil {
		return fmt.Errorf("parsing cron expression %q: %w", cronExpr, err)
	}
	a.logger.Info("archiver cron started", slog.String("cron", cronExpr))

	for {
		next, err := sched.next(time.Now().UTC())
		if err != nil {
			return err
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			a.logger.Info("archiver cron stopped")
			return ctx.Err()
		case <-timer.C:
			if err := a.Run(ctx); err != nil {
				a.logger.Error("archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}

// cronField matches one field of a cron expression.
type cronField struct {
	wildcard bool
	step     int
	values   []int
}

func (f cronField) matches(val int) bool {
	if f.wildcard {
		return f.step <= 1 || val%f.step == 0
	}
	for _, v := range f.values {
		if v == val {
			return true
		}
	}
	return false
}

// parseCronField parses "*", "*/n" or a comma list such as "0,30".
func parseCronField(field string) (cronField, error) {
	if field == "*" {
		return cronField{wildcard: true}, nil
	}
	if rest, ok := strings.CutPrefix(field, "*/"); ok {
		step, err := strconv.Atoi(rest)
		if err != nil || step <= 0 {
			return cronField{}, fmt.Errorf("invalid cron step %q", field)
		}
		return cronField{wildcard: true, step: step}, nil
	}

	parts := strings.Split(field, ",")
	values := make([]int, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return cronField{}, fmt.Errorf("invalid cron field value %q: %w", p, err)
		}
		values = append(values, v)
	}
	return cronField{values: values}, nil
}

type cronSchedule [5]cronField

func parseCron(expr string) (cronSchedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return cronSchedule{}, fmt.Errorf("cron expression must have 5 fields, got %d", len(fields))
	}
	var s cronSchedule
	for i, f := range fields {
		cf, err := parseCronField(f)
		if err != nil {
			return cronSchedule{}, fmt.Errorf("field %d: %w", i+1, err)
		}
		s[i] = cf
	}
	return s, nil
}

func (s cronSchedule) matches(t time.Time) bool {
	return s[0].matches(t.Minute()) &&
		s[1].matches(t.Hour()) &&
		s[2].matches(t.Day()) &&
		s[3].matches(int(t.Month())) &&
		s[4].matches(int(t.Weekday()))
}

// next returns the first minute strictly after 'after' that matches,
// searching at most one year ahead.
func (s cronSchedule) next(after time.Time) (time.Time, error) {
	candidate := after.Truncate(time.Minute).Add(time.Minute)
	limit := after.Add(366 * 24 * time.Hour)
	for candidate.Before(limit) {
		if s.matches(candidate) {
			return candidate, nil
		}
		candidate = candidate.Add(time.Minute)
	}
	return time.Time{}, errors.New("no matching cron time within one year")
}
