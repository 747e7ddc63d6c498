package market

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jonboulle/clockwork"
)

func newRetryTestService(clock clockwork.Clock) *Service {
	return &Service{
		log:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		clock:       clock,
		lockTimeout: time.Second,
	}
}

func TestWithTxRetryBacksOffThenGivesUp(t *testing.T) {
	fc := clockwork.NewFakeClock()
	s := newRetryTestService(fc)

	attempts := 0
	done := make(chan error, 1)
	go func() {
		_, err := s.withTxRetry(context.Background(), func(context.Context) (*ListedPlayerView, error) {
			attempts++
			return nil, &pgconn.PgError{Code: "40001"}
		})
		done <- err
	}()

	// Four sleeps between five attempts, doubling from 75ms.
	for _, d := range []time.Duration{
		75 * time.Millisecond,
		150 * time.Millisecond,
		300 * time.Millisecond,
		600 * time.Millisecond,
	} {
		fc.BlockUntil(1)
		fc.Advance(d)
	}

	err := <-done
	if !errors.Is(err, ErrTxConflict) {
		t.Fatalf("exhausted retries must surface ErrTxConflict, got %v", err)
	}
	if attempts != maxTxAttempts {
		t.Fatalf("got %d attempts, want %d", attempts, maxTxAttempts)
	}
}

func TestWithTxRetryStopsOnRejection(t *testing.T) {
	s := newRetryTestService(clockwork.NewFakeClock())

	attempts := 0
	_, err := s.withTxRetry(context.Background(), func(context.Context) (*ListedPlayerView, error) {
		attempts++
		return nil, ErrBelowFloorPrice
	})
	if !errors.Is(err, ErrBelowFloorPrice) {
		t.Fatalf("got %v, want ErrBelowFloorPrice", err)
	}
	if attempts != 1 {
		t.Fatalf("rejections must not be retried, got %d attempts", attempts)
	}
}

func TestWithTxRetryStopsOnNonRetryableError(t *testing.T) {
	s := newRetryTestService(clockwork.NewFakeClock())

	boom := errors.New("connection reset")
	attempts := 0
	_, err := s.withTxRetry(context.Background(), func(context.Context) (*ListedPlayerView, error) {
		attempts++
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want the underlying error", err)
	}
	if attempts != 1 {
		t.Fatalf("non-retryable errors must not be retried, got %d attempts", attempts)
	}
}

func TestWithTxRetrySucceedsAfterConflicts(t *testing.T) {
	fc := clockwork.NewFakeClock()
	s := newRetryTestService(fc)

	want := &ListedPlayerView{PlayerView: PlayerView{ID: 42}}
	attempts := 0
	done := make(chan struct{})
	var got *ListedPlayerView
	var err error
	go func() {
		defer close(done)
		got, err = s.withTxRetry(context.Background(), func(context.Context) (*ListedPlayerView, error) {
			attempts++
			if attempts < 3 {
				return nil, &pgconn.PgError{Code: "55P03"}
			}
			return want, nil
		})
	}()

	fc.BlockUntil(1)
	fc.Advance(75 * time.Millisecond)
	fc.BlockUntil(1)
	fc.Advance(150 * time.Millisecond)

	<-done
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Fatalf("got %+v, want the committed result", got)
	}
	if attempts != 3 {
		t.Fatalf("got %d attempts, want 3", attempts)
	}
}

func TestWithTxRetryHonorsContextCancel(t *testing.T) {
	fc := clockwork.NewFakeClock()
	s := newRetryTestService(fc)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := s.withTxRetry(ctx, func(context.Context) (*ListedPlayerView, error) {
			return nil, &pgconn.PgError{Code: "40P01"}
		})
		done <- err
	}()

	fc.BlockUntil(1)
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}

func TestIsRetryableTxError(t *testing.T) {
	for _, code := range []string{"40001", "40P01", "55P03"} {
		if !isRetryableTxError(&pgconn.PgError{Code: code}) {
			t.Fatalf("code %s must be retryable", code)
		}
	}
	if isRetryableTxError(&pgconn.PgError{Code: "23505"}) {
		t.Fatalf("unique violations are not retryable")
	}
	if isRetryableTxError(errors.New("plain error")) {
		t.Fatalf("non-pg errors are not retryable")
	}
}
