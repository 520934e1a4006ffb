package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/arklim/auth-core/internal/core/domain"
	"github.com/arklim/auth-core/internal/repository"
)

func strPtr(v string) *string { return &v }

func TestAccountRepositoryRejectsDuplicateContacts(t *testing.T) {
	repo := NewAccountRepository()
	if err := repo.Add(domain.Account{ID: "acc-1", Email: strPtr("User@Example.com")}); err != nil {
		t.Fatalf("Add returned error: %v", err)
	}
	err := repo.Add(domain.Account{ID: "acc-2", Email: strPtr("user@example.com")})
	if !errors.Is(err, repository.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	account, err := repo.GetByEmail(context.Background(), "USER@example.com")
	if err != nil || account.ID != "acc-1" {
		t.Fatalf("expected case-insensitive lookup to find acc-1, got %v err=%v", account, err)
	}
}

func TestAccountRepositoryRegisterFailure(t *testing.T) {
	repo := NewAccountRepository()
	_ = repo.Add(domain.Account{ID: "acc-1", Phone: strPtr("+989123456789")})
	ctx := context.Background()

	now := time.Date(2025, 10, 24, 10, 0, 0, 0, time.UTC)
	lockUntil := now.Add(30 * time.Minute)

	for i := 1; i < 3; i++ {
		state, err := repo.RegisterFailure(ctx, "acc-1", 3, now, lockUntil)
		if err != nil {
			t.Fatalf("RegisterFailure returned error: %v", err)
		}
		if state.Locked(now) {
			t.Fatalf("lock armed too early at attempt %d", i)
		}
	}

	state, _ := repo.RegisterFailure(ctx, "acc-1", 3, now, lockUntil)
	if !state.Locked(now) || !state.LockedUntil.Equal(lockUntil) {
		t.Fatalf("expected lock until %v, got %+v", lockUntil, state)
	}

	// A failure during the lock keeps the original deadline.
	later := now.Add(10 * time.Minute)
	state, _ = repo.RegisterFailure(ctx, "acc-1", 3, later, later.Add(30*time.Minute))
	if !state.LockedUntil.Equal(lockUntil) {
		t.Fatalf("expected lock deadline to stay at %v, got %v", lockUntil, state.LockedUntil)
	}

	// Once the lock elapsed the count restarts.
	afterLock := lockUntil.Add(time.Second)
	state, _ = repo.RegisterFailure(ctx, "acc-1", 3, afterLock, afterLock.Add(30*time.Minute))
	if state.FailedAttempts != 1 || state.LockedUntil != nil {
		t.Fatalf("expected fresh count after lock expiry, got %+v", state)
	}
}

func TestAccountRepositoryConcurrentFailuresCountExactly(t *testing.T) {
	repo := NewAccountRepository()
	_ = repo.Add(domain.Account{ID: "acc-1"})
	ctx := context.Background()
	now := time.Date(2025, 10, 24, 10, 0, 0, 0, time.UTC)

	const workers = 20
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_, _ = repo.RegisterFailure(ctx, "acc-1", 100, now, now.Add(time.Hour))
		}()
	}
	wg.Wait()

	account, _ := repo.GetByID(ctx, "acc-1")
	if account.FailedLoginAttempts != workers {
		t.Fatalf("expected %d failures, got %d", workers, account.FailedLoginAttempts)
	}
}

func TestAccountRepositoryClearExpiredLock(t *testing.T) {
	repo := NewAccountRepository()
	lockedUntil := time.Date(2025, 10, 24, 10, 30, 0, 0, time.UTC)
	_ = repo.Add(domain.Account{ID: "acc-1", FailedLoginAttempts: 5, LockedUntil: &lockedUntil})
	ctx := context.Background()

	if cleared, _ := repo.ClearExpiredLock(ctx, "acc-1", lockedUntil.Add(-time.Minute)); cleared {
		t.Fatalf("active lock must not be cleared")
	}
	if cleared, _ := repo.ClearExpiredLock(ctx, "acc-1", lockedUntil); !cleared {
		t.Fatalf("expected elapsed lock to be cleared")
	}
	account, _ := repo.GetByID(ctx, "acc-1")
	if account.FailedLoginAttempts != 0 || account.LockedUntil != nil {
		t.Fatalf("expected clean lock state, got %+v", account)
	}
}

func TestOtpRepositoryAttemptCeilingAndSingleUse(t *testing.T) {
	repo := NewOtpRepository()
	ctx := context.Background()
	createdAt := time.Date(2025, 10, 24, 10, 0, 0, 0, time.UTC)

	_ = repo.Create(ctx, domain.OtpChallenge{
		ID: "otp-1", ContactInfo: "+989123456789", Purpose: domain.OtpPurposeLogin,
		CreatedAt: createdAt, ExpiresAt: createdAt.Add(5 * time.Minute),
	})

	for want := 1; want <= 3; want++ {
		got, err := repo.IncrementAttempts(ctx, "otp-1", 3)
		if err != nil || got != want {
			t.Fatalf("expected attempt %d, got %d err=%v", want, got, err)
		}
	}
	if _, err := repo.IncrementAttempts(ctx, "otp-1", 3); !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("expected ErrConflict at ceiling, got %v", err)
	}

	if ok, _ := repo.MarkUsed(ctx, "otp-1"); !ok {
		t.Fatalf("expected first MarkUsed to win")
	}
	if ok, _ := repo.MarkUsed(ctx, "otp-1"); ok {
		t.Fatalf("expected second MarkUsed to lose")
	}
	if _, err := repo.LatestActive(ctx, "+989123456789", domain.OtpPurposeLogin); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected no active challenge, got %v", err)
	}
}

func TestOtpRepositorySupersedeAndPurge(t *testing.T) {
	repo := NewOtpRepository()
	ctx := context.Background()
	base := time.Date(2025, 10, 24, 10, 0, 0, 0, time.UTC)

	for i, id := range []string{"otp-1", "otp-2"} {
		created := base.Add(time.Duration(i) * time.Minute)
		_ = repo.Create(ctx, domain.OtpChallenge{
			ID: id, ContactInfo: "user@example.com", Purpose: domain.OtpPurposeEmailVerify,
			CreatedAt: created, ExpiresAt: created.Add(5 * time.Minute),
		})
	}

	latest, err := repo.LatestActive(ctx, "user@example.com", domain.OtpPurposeEmailVerify)
	if err != nil || latest.ID != "otp-2" {
		t.Fatalf("expected otp-2 to be latest, got %v err=%v", latest, err)
	}

	if n, _ := repo.SupersedeActive(ctx, "user@example.com", domain.OtpPurposeEmailVerify); n != 2 {
		t.Fatalf("expected 2 superseded, got %d", n)
	}

	deleted, _ := repo.DeleteExpiredBefore(ctx, base.Add(5*time.Minute+30*time.Second))
	if deleted != 1 {
		t.Fatalf("expected 1 purged challenge, got %d", deleted)
	}
	if _, err := repo.GetByID(ctx, "otp-1"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected otp-1 to be purged, got %v", err)
	}
}

func TestSessionRepositoryLifecycle(t *testing.T) {
	repo := NewSessionRepository()
	ctx := context.Background()
	base := time.Date(2025, 10, 24, 10, 0, 0, 0, time.UTC)

	for i, id := range []string{"sess-1", "sess-2", "sess-3"} {
		created := base.Add(time.Duration(i) * time.Minute)
		if err := repo.Create(ctx, domain.Session{
			ID: id, AccountID: "acc-1", SessionKey: "key-" + id,
			CreatedAt: created, LastActivity: created, IsActive: true,
		}); err != nil {
			t.Fatalf("Create returned error: %v", err)
		}
	}
	if err := repo.Create(ctx, domain.Session{ID: "sess-4", SessionKey: "key-sess-1"}); !errors.Is(err, repository.ErrDuplicate) {
		t.Fatalf("expected duplicate key rejection, got %v", err)
	}

	sessions, _ := repo.ListActiveByAccount(ctx, "acc-1")
	if len(sessions) != 3 || sessions[0].ID != "sess-3" {
		t.Fatalf("expected newest first, got %+v", sessions)
	}

	keep := "sess-3"
	if n, _ := repo.DeactivateAllForAccount(ctx, "acc-1", &keep); n != 2 {
		t.Fatalf("expected 2 revoked, got %d", n)
	}
	if ok, _ := repo.Deactivate(ctx, "sess-1"); ok {
		t.Fatalf("inactive session must not be deactivated twice")
	}
	if ok, _ := repo.Touch(ctx, "sess-1", base.Add(time.Hour)); ok {
		t.Fatalf("inactive session must not be touched")
	}
	if count, _ := repo.CountActiveByAccount(ctx, "acc-1"); count != 1 {
		t.Fatalf("expected 1 active session, got %d", count)
	}
}

func TestSecurityEventRepositoryCountsAndRetention(t *testing.T) {
	repo := NewSecurityEventRepository()
	ctx := context.Background()
	base := time.Date(2025, 10, 24, 10, 0, 0, 0, time.UTC)
	account := "acc-1"

	_ = repo.Append(ctx, domain.SecurityEvent{ID: "e1", AccountID: &account, EventType: domain.EventLoginFailed, Severity: domain.SeverityLow, CreatedAt: base.AddDate(0, 0, -100)})
	_ = repo.Append(ctx, domain.SecurityEvent{ID: "e2", AccountID: &account, EventType: domain.EventLoginFailed, Severity: domain.SeverityLow, CreatedAt: base})
	_ = repo.Append(ctx, domain.SecurityEvent{ID: "e3", AccountID: &account, EventType: domain.EventLoginFailed, Severity: domain.SeverityLow, CreatedAt: base})
	_ = repo.Append(ctx, domain.SecurityEvent{ID: "e4", EventType: domain.EventRateLimitExceeded, Severity: domain.SeverityMedium, CreatedAt: base})

	counts, _ := repo.CountByAccountSince(ctx, account, base.AddDate(0, 0, -30))
	if len(counts) != 1 || counts[0].Count != 2 {
		t.Fatalf("expected one bucket of 2, got %+v", counts)
	}

	deleted, _ := repo.DeleteOlderThan(ctx, base.AddDate(0, 0, -90))
	if deleted != 1 || len(repo.Events()) != 3 {
		t.Fatalf("expected retention to drop one event, deleted=%d remaining=%d", deleted, len(repo.Events()))
	}
}
