package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/freshmarket/api/internal/domain"
)

func TestNewDependencyHealthRepositoryValidation(t *testing.T) {
	if _, err := NewDependencyHealthRepository(nil); err == nil {
		t.Error("expected error for empty check set")
	}
	if _, err := NewDependencyHealthRepository([]DependencyCheck{{Check: func(context.Context) error { return nil }}}); err == nil {
		t.Error("expected error for unnamed check")
	}
	if _, err := NewDependencyHealthRepository([]DependencyCheck{{Name: "firestore"}}); err == nil {
		t.Error("expected error for check without probe function")
	}
}

func TestCollectReportsHealthy(t *testing.T) {
	repo, err := NewDependencyHealthRepository([]DependencyCheck{
		{Name: "firestore", Check: func(context.Context) error { return nil }},
		{Name: "pubsub", Check: func(context.Context) error { return nil }},
	})
	if err != nil {
		t.Fatalf("NewDependencyHealthRepository: %v", err)
	}

	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if report.Status != domain.HealthStatusOK {
		t.Errorf("Status = %q, want ok", report.Status)
	}
	if len(report.Checks) != 2 {
		t.Errorf("Checks = %d entries, want 2", len(report.Checks))
	}
}

func TestCollectDegradesOnFailure(t *testing.T) {
	repo, err := NewDependencyHealthRepository([]DependencyCheck{
		{Name: "firestore", Check: func(context.Context) error { return nil }},
		{Name: "pubsub", Check: func(context.Context) error { return errors.New("unreachable") }},
	})
	if err != nil {
		t.Fatalf("NewDependencyHealthRepository: %v", err)
	}

	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if report.Status != domain.HealthStatusDegraded {
		t.Errorf("Status = %q, want degraded", report.Status)
	}
	if got := report.Checks["pubsub"]; got.Status != domain.HealthStatusDegraded || got.Detail != "unreachable" {
		t.Errorf("pubsub check = %+v", got)
	}
}

func TestCollectMarksTimeoutAsError(t *testing.T) {
	repo, err := NewDependencyHealthRepository([]DependencyCheck{
		{
			Name:    "firestore",
			Timeout: 10 * time.Millisecond,
			Check: func(ctx context.Context) error {
				<-ctx.Done()
				return ctx.Err()
			},
		},
	})
	if err != nil {
		t.Fatalf("NewDependencyHealthRepository: %v", err)
	}

	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if report.Status != domain.HealthStatusError {
		t.Errorf("Status = %q, want error", report.Status)
	}
	if got := report.Checks["firestore"]; got.Detail != "timeout" {
		t.Errorf("firestore detail = %q, want timeout", got.Detail)
	}
}
