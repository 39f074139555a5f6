package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"recibod/internal/delivery"
	"recibod/internal/domain"
	"recibod/internal/lock"
	"recibod/internal/store/storetest"
	"recibod/pkg/logx"
)

type sendCall struct {
	Tokens  []string
	Payload delivery.Payload
}

type fakeSender struct {
	mu    sync.Mutex
	calls []sendCall
	err   error
}

func (f *fakeSender) Send(ctx context.Context, tokens []string, p delivery.Payload) (int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, sendCall{Tokens: tokens, Payload: p})
	if f.err != nil {
		return 0, len(tokens), f.err
	}
	return len(tokens), 0, nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func testConfig() Config {
	return Config{
		WindowMinutes:        2,
		Workers:              2,
		DefaultOffsetMinutes: 0,
		Title:                "Mi Recibo",
		DailySlot:            "09:00",
		ModuleSlots: map[domain.Module]string{
			domain.ModuleLoans:    "08:00",
			domain.ModuleProducts: "08:05",
			domain.ModuleRentals:  "08:10",
		},
	}
}

func testService(st *storetest.Mem, snd delivery.Sender) *Service {
	rules := domain.DueRules{
		Classifier: domain.NewKeywordClassifier(map[string][]string{
			"loans":    {"prestamo"},
			"products": {"producto"},
			"rentals":  {"alquiler", "renta"},
		}),
		DueFields: []string{"fechaVencimiento", "dueDate"},
	}
	return New(testConfig(), st, snd, lock.NewManager(st, logx.Nop()), rules, logx.Nop())
}

func offsetPtr(v int) *int { return &v }

// 12:01 UTC is 08:01 local for a -240 offset user.
var tickInstant = time.Date(2025, time.January, 15, 12, 1, 0, 0, time.UTC)

func seedDueTodayUser(st *storetest.Mem) {
	st.Users = []domain.User{{
		UID:           "u1",
		Tokens:        []string{"tok1", "tok1", "tok2"},
		OffsetMinutes: offsetPtr(-240),
	}}
	st.Obs["u1"] = []domain.Obligation{{
		ID:               "ob1",
		Category:         "Prestamo personal",
		RemainingBalance: 150,
		Attrs:            map[string]any{"fechaVencimiento": "2025-01-15"},
	}}
	st.Docs["loans"] = map[string][]string{
		"dueToday": {"paga hoy A", "paga hoy B"},
	}
}

func TestTickDueTodayDeliversOnceAndLocks(t *testing.T) {
	t.Parallel()
	st := storetest.New()
	seedDueTodayUser(st)
	snd := &fakeSender{}
	svc := testService(st, snd)
	svc.now = func() time.Time { return tickInstant }

	report, err := svc.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(report.Results) != 1 {
		t.Fatalf("results = %+v, want exactly the loans slot", report.Results)
	}
	res := report.Results[0]
	if res.Scope != "loans" || res.Reason != ReasonSent || res.Category != "dueToday" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Sent != 2 {
		t.Fatalf("sent = %d, want 2 deduped tokens", res.Sent)
	}
	if snd.count() != 1 {
		t.Fatalf("deliveries = %d, want 1", snd.count())
	}
	// Rotation: 20250115 mod 2 = 1.
	if body := snd.calls[0].Payload.Body; body != "paga hoy B" {
		t.Fatalf("body = %q", body)
	}
	lk, ok := st.Lock("u1", "loans")
	if !ok || lk.LocalDay != 20250115 || lk.Slot != "08:00" || lk.Source != "due:loans" {
		t.Fatalf("lock = %+v ok=%v", lk, ok)
	}
}

func TestTickSecondRunWithinWindowIsLocked(t *testing.T) {
	t.Parallel()
	st := storetest.New()
	seedDueTodayUser(st)
	snd := &fakeSender{}
	svc := testService(st, snd)

	svc.now = func() time.Time { return tickInstant }
	if _, err := svc.Tick(context.Background()); err != nil {
		t.Fatalf("first Tick: %v", err)
	}

	// Still within the window, lock now present.
	svc.now = func() time.Time { return tickInstant.Add(time.Minute) }
	report, err := svc.Tick(context.Background())
	if err != nil {
		t.Fatalf("second Tick: %v", err)
	}
	if len(report.Results) != 1 || report.Results[0].Reason != ReasonLocked {
		t.Fatalf("results = %+v, want locked", report.Results)
	}
	if snd.count() != 1 {
		t.Fatalf("deliveries = %d, want exactly one across both ticks", snd.count())
	}
}

func TestTickEmptyTemplateArrayNoSendNoLock(t *testing.T) {
	t.Parallel()
	st := storetest.New()
	seedDueTodayUser(st)
	st.Docs["loans"] = map[string][]string{"dueToday": {}}
	snd := &fakeSender{}
	svc := testService(st, snd)
	svc.now = func() time.Time { return tickInstant }

	report, err := svc.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	res := report.Results[0]
	if res.Reason != ReasonNoTemplate || res.Category != "dueToday" {
		t.Fatalf("result = %+v, want no-template with resolved category", res)
	}
	if snd.count() != 0 {
		t.Fatal("no delivery attempt expected")
	}
	if _, ok := st.Lock("u1", "loans"); ok {
		t.Fatal("lock must not be written without a delivery")
	}
}

func TestTickNoTokens(t *testing.T) {
	t.Parallel()
	st := storetest.New()
	seedDueTodayUser(st)
	st.Users[0].Tokens = nil
	snd := &fakeSender{}
	svc := testService(st, snd)
	svc.now = func() time.Time { return tickInstant }

	report, _ := svc.Tick(context.Background())
	if report.Results[0].Reason != ReasonNoTokens {
		t.Fatalf("result = %+v, want no-tokens", report.Results[0])
	}
}

func TestDailySlotIndependentOfDueState(t *testing.T) {
	t.Parallel()
	st := storetest.New()
	seedDueTodayUser(st)
	st.Docs["daily"] = map[string][]string{"messages": {"hola"}}
	snd := &fakeSender{}
	svc := testService(st, snd)

	// 13:01 UTC is 09:01 local: only the daily slot is in window, and it
	// fires even though the user has a due-today obligation.
	svc.now = func() time.Time { return tickInstant.Add(time.Hour) }
	report, err := svc.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(report.Results) != 1 {
		t.Fatalf("results = %+v", report.Results)
	}
	res := report.Results[0]
	if res.Scope != "daily" || res.Reason != ReasonSent {
		t.Fatalf("result = %+v, want daily sent", res)
	}
	if snd.calls[0].Payload.Data["type"] != "daily" {
		t.Fatalf("payload data = %v", snd.calls[0].Payload.Data)
	}
	if lk, ok := st.Lock("u1", "daily"); !ok || lk.LocalDay != 20250115 {
		t.Fatalf("daily lock = %+v ok=%v", lk, ok)
	}
	if _, ok := st.Lock("u1", "loans"); ok {
		t.Fatal("loans lock must not be touched by the daily slot")
	}
}

func TestTickDeliveryFailureLeavesDayRetryable(t *testing.T) {
	t.Parallel()
	st := storetest.New()
	seedDueTodayUser(st)
	snd := &fakeSender{err: errors.New("gateway down")}
	svc := testService(st, snd)
	svc.now = func() time.Time { return tickInstant }

	report, _ := svc.Tick(context.Background())
	res := report.Results[0]
	if res.Reason != ReasonError || res.Failed != 2 {
		t.Fatalf("result = %+v, want delivery error", res)
	}
	if _, ok := st.Lock("u1", "loans"); ok {
		t.Fatal("failed delivery must not write the lock")
	}

	// Next tick inside the window retries.
	snd.err = nil
	svc.now = func() time.Time { return tickInstant.Add(time.Minute) }
	report, _ = svc.Tick(context.Background())
	if report.Results[0].Reason != ReasonSent {
		t.Fatalf("retry result = %+v", report.Results[0])
	}
}

func TestTickIsolatesPerUserFailures(t *testing.T) {
	t.Parallel()
	st := storetest.New()
	seedDueTodayUser(st)
	st.Users = append(st.Users, domain.User{UID: "u2", Tokens: []string{"x"}, OffsetMinutes: offsetPtr(-240)})
	st.Errs["Obligations"] = errors.New("store flaky")
	snd := &fakeSender{}
	svc := testService(st, snd)
	svc.now = func() time.Time { return tickInstant }

	report, err := svc.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick must not abort on per-user failures: %v", err)
	}
	if report.Users != 2 || len(report.Results) != 2 {
		t.Fatalf("report = %+v", report)
	}
	for _, r := range report.Results {
		if r.Reason != ReasonError {
			t.Fatalf("result = %+v, want error", r)
		}
	}
}

func TestTickBackfillsMissingDueDates(t *testing.T) {
	t.Parallel()
	st := storetest.New()
	seedDueTodayUser(st)
	st.Obs["u1"] = []domain.Obligation{{
		ID:               "nodate",
		Category:         "prestamo",
		RemainingBalance: 80,
	}}
	snd := &fakeSender{}
	svc := testService(st, snd)
	svc.now = func() time.Time { return tickInstant }

	report, _ := svc.Tick(context.Background())
	if report.Results[0].Reason != ReasonNoDue {
		t.Fatalf("result = %+v, want no-due", report.Results[0])
	}
	if st.DueWriteCount() != 1 {
		t.Fatalf("due writes = %d, want 1", st.DueWriteCount())
	}
	w := st.DueWrites[0]
	if w.ObligationID != "nodate" || w.Field != "fechaVencimiento" || w.Value != "2025-01-17" {
		t.Fatalf("backfill = %+v", w)
	}
}

func TestRunSlotManualAndDryRun(t *testing.T) {
	t.Parallel()
	st := storetest.New()
	seedDueTodayUser(st)
	snd := &fakeSender{}
	svc := testService(st, snd)
	// Far from any slot window; the manual path must not care.
	svc.now = func() time.Time { return tickInstant.Add(6 * time.Hour) }

	res, err := svc.RunSlot(context.Background(), "u1", "loans", true)
	if err != nil {
		t.Fatalf("RunSlot: %v", err)
	}
	if res.Reason != ReasonDryRun || res.Category != "dueToday" {
		t.Fatalf("result = %+v, want dryrun", res)
	}
	if snd.count() != 0 || st.PutCalls != 0 || st.DueWriteCount() != 0 {
		t.Fatal("dry run must have no side effects")
	}

	res, err = svc.RunSlot(context.Background(), "u1", "loans", false)
	if err != nil {
		t.Fatalf("RunSlot wet: %v", err)
	}
	if res.Reason != ReasonSent {
		t.Fatalf("result = %+v, want sent", res)
	}
	if _, ok := st.Lock("u1", "loans"); !ok {
		t.Fatal("wet manual run must write the lock")
	}
}

func TestRunSlotValidation(t *testing.T) {
	t.Parallel()
	st := storetest.New()
	seedDueTodayUser(st)
	svc := testService(st, &fakeSender{})

	if _, err := svc.RunSlot(context.Background(), "ghost", "loans", false); !errors.Is(err, ErrUnknownUser) {
		t.Fatalf("err = %v, want ErrUnknownUser", err)
	}
	if _, err := svc.RunSlot(context.Background(), "u1", "bitcoin", false); !errors.Is(err, ErrUnknownSlot) {
		t.Fatalf("err = %v, want ErrUnknownSlot", err)
	}
}
