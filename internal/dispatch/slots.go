package dispatch

import (
	"context"
	"fmt"
	"time"

	"recibod/internal/clock"
	"recibod/internal/delivery"
	"recibod/internal/domain"
	"recibod/pkg/logx"
)

type runOpts struct {
	// Dry suppresses delivery, lock writes, and due-date back-fills.
	Dry bool
}

// runUser evaluates every configured slot for one user at the current tick.
// Slots outside their window produce no result: once the window has passed,
// the slot is missed for that local day.
func (s *Service) runUser(ctx context.Context, u domain.User, now time.Time) []SlotResult {
	offset := u.Offset(s.cfg.DefaultOffsetMinutes)
	hhmm := clock.LocalClock(now, offset)

	var out []SlotResult
	for _, mod := range s.modules() {
		slot := s.cfg.ModuleSlots[mod]
		if !clock.WithinSlot(hhmm, slot, s.cfg.WindowMinutes) {
			continue
		}
		out = append(out, s.runModuleSlot(ctx, u, mod, slot, now, runOpts{}))
	}
	// The daily message runs under its own per-user lock, independent of
	// any due state.
	if clock.WithinSlot(hhmm, s.cfg.DailySlot, s.cfg.WindowMinutes) {
		out = append(out, s.runDailySlot(ctx, u, now, runOpts{}))
	}
	return out
}

func (s *Service) runModuleSlot(ctx context.Context, u domain.User, mod domain.Module, slot string, now time.Time, opt runOpts) SlotResult {
	res := SlotResult{UID: u.UID, Scope: string(mod), Slot: slot}

	offset := u.Offset(s.cfg.DefaultOffsetMinutes)
	refs := domain.DayRefs{
		Today:    clock.LocalDay(now, offset, 0),
		Tomorrow: clock.LocalDay(now, offset, 1),
		DayAfter: clock.LocalDay(now, offset, 2),
	}

	if !opt.Dry {
		held, err := s.locks.Held(ctx, u.UID, string(mod), refs.Today)
		if err != nil {
			return res.fail(err)
		}
		if held {
			res.Reason = ReasonLocked
			return res
		}
	}

	obs, err := s.store.Obligations(ctx, u.UID)
	if err != nil {
		return res.fail(err)
	}

	cat, missingDue := s.rules.Classify(mod, obs, offset, refs)
	if len(missingDue) > 0 && !opt.Dry {
		s.backfillDueDates(u.UID, missingDue, now, offset)
	}
	if cat == domain.None {
		res.Reason = ReasonNoDue
		return res
	}
	res.Category = cat.Key()

	set, err := s.store.TemplateSet(ctx, string(mod))
	if err != nil {
		return res.fail(err)
	}
	body := domain.PickTemplate(set[cat.Key()], refs.Today)
	if body == "" {
		res.Reason = ReasonNoTemplate
		return res
	}

	tokens := u.DedupedTokens()
	if len(tokens) == 0 {
		res.Reason = ReasonNoTokens
		return res
	}

	if opt.Dry {
		s.log.Info("dryrun: due slot would send",
			logx.String("uid", u.UID),
			logx.String("module", string(mod)),
			logx.String("category", res.Category),
			logx.Int("tokens", len(tokens)),
			logx.String("body", body))
		res.Reason = ReasonDryRun
		return res
	}

	payload := delivery.Payload{
		Title: s.cfg.Title,
		Body:  body,
		Data: map[string]string{
			"type":     "due",
			"module":   string(mod),
			"category": res.Category,
			"slot":     slot,
		},
	}
	return s.deliverAndLock(ctx, res, tokens, payload, string(mod), refs.Today, slot, "due:"+string(mod))
}

func (s *Service) runDailySlot(ctx context.Context, u domain.User, now time.Time, opt runOpts) SlotResult {
	slot := s.cfg.DailySlot
	res := SlotResult{UID: u.UID, Scope: domain.DailyScope, Slot: slot}

	offset := u.Offset(s.cfg.DefaultOffsetMinutes)
	today := clock.LocalDay(now, offset, 0)

	if !opt.Dry {
		held, err := s.locks.Held(ctx, u.UID, domain.DailyScope, today)
		if err != nil {
			return res.fail(err)
		}
		if held {
			res.Reason = ReasonLocked
			return res
		}
	}

	set, err := s.store.TemplateSet(ctx, domain.DailyScope)
	if err != nil {
		return res.fail(err)
	}
	body := domain.PickTemplate(set["messages"], today)
	if body == "" {
		res.Reason = ReasonNoTemplate
		return res
	}

	tokens := u.DedupedTokens()
	if len(tokens) == 0 {
		res.Reason = ReasonNoTokens
		return res
	}

	if opt.Dry {
		s.log.Info("dryrun: daily slot would send",
			logx.String("uid", u.UID),
			logx.Int("tokens", len(tokens)),
			logx.String("body", body))
		res.Reason = ReasonDryRun
		return res
	}

	payload := delivery.Payload{
		Title: s.cfg.Title,
		Body:  body,
		Data:  map[string]string{"type": "daily", "slot": slot},
	}
	return s.deliverAndLock(ctx, res, tokens, payload, domain.DailyScope, today, slot, domain.DailyScope)
}

// deliverAndLock sends the payload and, on at least one success, records the
// day lock. The lock write is intentionally after the send: a day with zero
// deliveries must stay retryable within the slot window.
func (s *Service) deliverAndLock(ctx context.Context, res SlotResult, tokens []string, p delivery.Payload, scope string, today int, slot, source string) SlotResult {
	sent, failed, err := s.sender.Send(ctx, tokens, p)
	res.Sent, res.Failed = sent, failed

	if sent == 0 {
		if err == nil {
			err = fmt.Errorf("no successful deliveries")
		}
		return res.fail(err)
	}

	if lockErr := s.locks.Acquire(ctx, res.UID, scope, today, slot, source); lockErr != nil {
		// Duplicate sends on the next tick are possible now; accepted.
		s.log.Warn("lock write failed after delivery",
			logx.String("uid", res.UID),
			logx.String("scope", scope),
			logx.Int("local_day", today),
			logx.Err(lockErr))
	}

	res.Reason = ReasonSent
	if err != nil {
		// Partial failure: some batches were rejected but the day counts
		// as sent.
		res.Error = err.Error()
	}
	return res
}

// backfillDueDates writes a default due date (two local days out) into
// obligations observed without any resolvable one. Runs off the critical
// path; failures are logged and never affect the slot outcome.
func (s *Service) backfillDueDates(uid string, ids []string, now time.Time, offset int) {
	if len(s.rules.DueFields) == 0 {
		return
	}
	field := s.rules.DueFields[0]
	day := clock.LocalDay(now, offset, 2)
	value := fmt.Sprintf("%04d-%02d-%02d", day/10000, day/100%100, day%100)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		for _, id := range ids {
			if err := s.store.SetDueDate(ctx, uid, id, field, value); err != nil {
				s.log.Warn("due-date backfill failed",
					logx.String("uid", uid),
					logx.String("obligation", id),
					logx.Err(err))
			}
		}
	}()
}
