// Package dispatch orchestrates one notification run: per user it detects
// which local-time slots the current tick falls into, classifies obligations,
// resolves the rotating template, gates on the per-scope day lock, and hands
// the message to delivery.
package dispatch

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"recibod/internal/delivery"
	"recibod/internal/domain"
	"recibod/internal/lock"
	"recibod/internal/store"
	"recibod/pkg/logx"
)

type Service struct {
	cfg    Config
	store  store.Store
	sender delivery.Sender
	locks  *lock.Manager
	rules  domain.DueRules
	log    logx.Logger

	// now is swappable for tests.
	now func() time.Time

	// backfills run off the critical path; Tick drains them before returning.
	wg sync.WaitGroup
}

func New(cfg Config, st store.Store, sender delivery.Sender, locks *lock.Manager, rules domain.DueRules, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:    cfg.withDefaults(),
		store:  st,
		sender: sender,
		locks:  locks,
		rules:  rules,
		log:    log,
		now:    time.Now,
	}
}

// modules returns the configured modules in stable order.
func (s *Service) modules() []domain.Module {
	out := make([]domain.Module, 0, len(s.cfg.ModuleSlots))
	for mod := range s.cfg.ModuleSlots {
		out = append(out, mod)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Tick runs one dispatcher invocation over all users. Users are processed by
// a small worker pool; no two workers ever touch the same user. A failure for
// one user never aborts the others.
func (s *Service) Tick(ctx context.Context) (TickReport, error) {
	started := s.now()
	report := TickReport{RunID: uuid.NewString()[:8]}

	users, err := s.store.ListUsers(ctx)
	if err != nil {
		s.log.Error("tick: listing users failed", logx.String("run", report.RunID), logx.Err(err))
		return report, err
	}
	report.Users = len(users)

	jobs := make(chan domain.User)
	resCh := make(chan []SlotResult)

	var workers sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			for u := range jobs {
				resCh <- s.runUser(ctx, u, started)
			}
		}()
	}
	go func() {
		defer close(jobs)
		for _, u := range users {
			select {
			case <-ctx.Done():
				return
			case jobs <- u:
			}
		}
	}()
	go func() {
		workers.Wait()
		close(resCh)
	}()

	for results := range resCh {
		for _, r := range results {
			report.Sent += r.Sent
			report.Failed += r.Failed
			report.Results = append(report.Results, r)
			if r.Reason == ReasonError {
				s.log.Warn("slot evaluation failed",
					logx.String("run", report.RunID),
					logx.String("uid", r.UID),
					logx.String("scope", r.Scope),
					logx.String("err", r.Error))
			}
		}
	}

	// Let opportunistic back-fills finish inside the tick.
	s.wg.Wait()

	report.Duration = time.Since(started)
	s.log.Info("tick done",
		logx.String("run", report.RunID),
		logx.Int("users", report.Users),
		logx.Int("slots", len(report.Results)),
		logx.Int("sent", report.Sent),
		logx.Int("failed", report.Failed),
		logx.Duration("dur", report.Duration))
	return report, nil
}

// RunSlot executes the per-user logic for a single user and slot label,
// bypassing the slot-window check. With dry set, delivery, lock writes, and
// due-date back-fills are all suppressed.
func (s *Service) RunSlot(ctx context.Context, uid, label string, dry bool) (SlotResult, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return SlotResult{}, err
	}
	var user *domain.User
	for i := range users {
		if users[i].UID == uid {
			user = &users[i]
			break
		}
	}
	if user == nil {
		return SlotResult{}, ErrUnknownUser
	}

	now := s.now()
	opt := runOpts{Dry: dry}

	var res SlotResult
	if label == domain.DailyScope {
		res = s.runDailySlot(ctx, *user, now, opt)
	} else {
		mod := domain.Module(label)
		slot, ok := s.cfg.ModuleSlots[mod]
		if !ok {
			return SlotResult{}, ErrUnknownSlot
		}
		res = s.runModuleSlot(ctx, *user, mod, slot, now, opt)
	}
	s.wg.Wait()
	return res, nil
}
