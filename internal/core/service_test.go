package core

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestService(sub BatchSubmitter, cfg ServiceConfig) *Service {
	if sub == nil {
		sub = &fakeSubmitter{}
	}
	cfg.Batcher = fastRetry
	return NewService(sub, cfg, nil)
}

func waitReport(t *testing.T, svc *Service, id string) *ImportReport {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	report, err := svc.Report(ctx, id, true)
	if err != nil {
		t.Fatalf("Report(wait) error = %v", err)
	}
	return report
}

func TestService_ImportLifecycle(t *testing.T) {
	svc := newTestService(nil, ServiceConfig{})
	sess, err := svc.StartImport(context.Background(), "list.csv", strings.NewReader("E-mail,Surname\na@x.com,Lee\nb@x.com,Kim\n"), ParseOptions{})
	if err != nil {
		t.Fatalf("StartImport() error = %v", err)
	}

	got, err := svc.Get(sess.ID())
	if err != nil || got != sess {
		t.Fatalf("Get() = %v, %v", got, err)
	}
	if _, err := svc.Report(context.Background(), sess.ID(), false); !errors.Is(err, ErrImportRunning) {
		t.Errorf("Report before run = %v, want ErrImportRunning", err)
	}

	if err := svc.ConfirmMapping(context.Background(), sess.ID(), sess.Suggestion()); err != nil {
		t.Fatalf("ConfirmMapping() error = %v", err)
	}

	report := waitReport(t, svc, sess.ID())
	if report.Status != StatusCompleted || report.Succeeded != 2 {
		t.Errorf("report = %+v, want completed with 2 succeeded", report)
	}
	if report.FileName != "list.csv" {
		t.Errorf("FileName = %q, want list.csv", report.FileName)
	}

	if err := svc.WaitForSessions(context.Background()); err != nil {
		t.Errorf("WaitForSessions() = %v", err)
	}
	if got := svc.LimiterStatus().Active; got != 0 {
		t.Errorf("active slots after run = %d, want 0", got)
	}
}

func TestService_StartImportParseErrorKeepsSession(t *testing.T) {
	svc := newTestService(nil, ServiceConfig{})

	sess, err := svc.StartImport(context.Background(), "empty.csv", strings.NewReader(""), ParseOptions{})
	if !IsParseError(err, KindEmptyFile) {
		t.Fatalf("StartImport() error = %v, want EmptyFile", err)
	}
	report, err := svc.Report(context.Background(), sess.ID(), false)
	if err != nil {
		t.Fatalf("Report() error = %v", err)
	}
	if report.Status != StatusAborted {
		t.Errorf("Status = %s, want aborted", report.Status)
	}
}

func TestService_UnknownSession(t *testing.T) {
	svc := newTestService(nil, ServiceConfig{})

	calls := map[string]func() error{
		"Get":            func() error { _, err := svc.Get("nope"); return err },
		"Cancel":         func() error { return svc.Cancel("nope") },
		"Subscribe":      func() error { _, err := svc.Subscribe("nope"); return err },
		"Report":         func() error { _, err := svc.Report(context.Background(), "nope", false); return err },
		"ConfirmMapping": func() error { return svc.ConfirmMapping(context.Background(), "nope", Choices{}) },
	}
	for name, call := range calls {
		t.Run(name, func(t *testing.T) {
			if err := call(); !errors.Is(err, ErrSessionNotFound) {
				t.Errorf("got %v, want ErrSessionNotFound", err)
			}
		})
	}
}

func TestService_MappingErrorDoesNotStartRun(t *testing.T) {
	svc := newTestService(nil, ServiceConfig{})
	sess, err := svc.StartImport(context.Background(), "f.csv", strings.NewReader("a,b\nx@y.com,z\n"), ParseOptions{})
	if err != nil {
		t.Fatal(err)
	}

	err = svc.ConfirmMapping(context.Background(), sess.ID(), Choices{FieldEmail: 0, FieldTags: 0})
	if !IsMappingError(err, KindDuplicateColumnUse) {
		t.Fatalf("ConfirmMapping() = %v, want DuplicateColumnUse", err)
	}
	if sess.State() != StateMapping {
		t.Errorf("State() = %s, want mapping", sess.State())
	}
	if got := svc.LimiterStatus().Active; got != 0 {
		t.Errorf("active slots = %d, want 0", got)
	}
}

func TestService_BusyWhenNoSlot(t *testing.T) {
	block := make(chan struct{})
	sub := SubmitFunc(func(ctx context.Context, recs []Record) ([]RowOutcome, error) {
		<-block
		out := make([]RowOutcome, len(recs))
		for i, r := range recs {
			out[i] = RowOutcome{RowIndex: r.RowIndex, OK: true}
		}
		return out, nil
	})
	svc := newTestService(sub, ServiceConfig{MaxConcurrent: 1, MaxWait: 20 * time.Millisecond})

	first, _ := svc.StartImport(context.Background(), "a.csv", strings.NewReader("email\na@x.com\n"), ParseOptions{})
	second, _ := svc.StartImport(context.Background(), "b.csv", strings.NewReader("email\nb@x.com\n"), ParseOptions{})

	if err := svc.ConfirmMapping(context.Background(), first.ID(), Choices{FieldEmail: 0}); err != nil {
		t.Fatal(err)
	}
	if err := svc.ConfirmMapping(context.Background(), second.ID(), Choices{FieldEmail: 0}); !errors.Is(err, ErrTooManySessions) {
		t.Errorf("second ConfirmMapping() = %v, want ErrTooManySessions", err)
	}
	if second.State() != StateMapping {
		t.Errorf("second State() = %s, want mapping", second.State())
	}

	close(block)
	waitReport(t, svc, first.ID())
	if err := svc.WaitForSessions(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := svc.ConfirmMapping(context.Background(), second.ID(), Choices{FieldEmail: 0}); err != nil {
		t.Errorf("retry ConfirmMapping() = %v", err)
	}
	if r := waitReport(t, svc, second.ID()); r.Succeeded != 1 {
		t.Errorf("second report = %+v", r)
	}
}

func TestService_PanicInSubmitterAborts(t *testing.T) {
	sub := SubmitFunc(func(context.Context, []Record) ([]RowOutcome, error) {
		panic("backend exploded")
	})
	svc := newTestService(sub, ServiceConfig{})
	sess, _ := svc.StartImport(context.Background(), "p.csv", strings.NewReader("email\na@x.com\n"), ParseOptions{})

	if err := svc.ConfirmMapping(context.Background(), sess.ID(), Choices{FieldEmail: 0}); err != nil {
		t.Fatal(err)
	}

	report := waitReport(t, svc, sess.ID())
	if report.Status != StatusAborted {
		t.Errorf("Status = %s, want aborted", report.Status)
	}
	if sess.Err() == nil || !strings.Contains(sess.Err().Error(), "backend exploded") {
		t.Errorf("Err() = %v, want internal error", sess.Err())
	}
	if err := svc.WaitForSessions(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := svc.LimiterStatus().Active; got != 0 {
		t.Errorf("slot leaked: active = %d", got)
	}
}

func TestService_CancelAll(t *testing.T) {
	svc := newTestService(nil, ServiceConfig{})
	a, _ := svc.StartImport(context.Background(), "a.csv", strings.NewReader("email\na@x.com\n"), ParseOptions{})
	b, _ := svc.StartImport(context.Background(), "b.csv", strings.NewReader("email\nb@x.com\n"), ParseOptions{})

	svc.CancelAll()

	for _, sess := range []*Session{a, b} {
		if sess.State() != StateCancelled {
			t.Errorf("%s State() = %s, want cancelled", sess.ID(), sess.State())
		}
	}
}

func TestService_SessionsExpire(t *testing.T) {
	svc := newTestService(nil, ServiceConfig{SessionTTL: 20 * time.Millisecond})
	sess, _ := svc.StartImport(context.Background(), "a.csv", strings.NewReader("email\na@x.com\n"), ParseOptions{})

	deadline := time.Now().Add(time.Second)
	for svc.Len() > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if svc.Len() != 0 {
		t.Fatal("session was not expired")
	}
	if _, err := svc.Get(sess.ID()); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Get() = %v, want ErrSessionNotFound", err)
	}
	if sess.State() != StateCancelled {
		t.Errorf("expired idle session State() = %s, want cancelled", sess.State())
	}
}

func TestService_Subscribe(t *testing.T) {
	svc := newTestService(nil, ServiceConfig{})
	sess, _ := svc.StartImport(context.Background(), "a.csv", strings.NewReader("email\na@x.com\n"), ParseOptions{})

	ch, err := svc.Subscribe(sess.ID())
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.ConfirmMapping(context.Background(), sess.ID(), Choices{FieldEmail: 0}); err != nil {
		t.Fatal(err)
	}

	var last Progress
	timeout := time.After(2 * time.Second)
	for {
		select {
		case p, ok := <-ch:
			if !ok {
				if last.State != StateCompleted {
					t.Errorf("last state = %s, want completed", last.State)
				}
				return
			}
			last = p
		case <-timeout:
			t.Fatal("progress channel never closed")
		}
	}
}
