package location

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/londonpesquisas/fieldsync/internal/capture"
)

var testOptions = capture.LocationOptions{
	Timeout: 200 * time.Millisecond,
	MaxAge:  time.Minute,
}

func TestCurrentReturnsFreshFix(t *testing.T) {
	c := NewCache()
	c.Set(capture.Position{Lat: -23.55, Lng: -46.63, Accuracy: 8})

	pos, err := c.Current(context.Background(), testOptions)
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if pos.Lat != -23.55 || pos.Lng != -46.63 {
		t.Fatalf("pos = %+v", pos)
	}
	if pos.Timestamp.IsZero() {
		t.Fatal("Set did not stamp the fix")
	}
}

func TestCurrentIgnoresStaleFix(t *testing.T) {
	c := NewCache()
	c.Set(capture.Position{Lat: 1, Lng: 1, Timestamp: time.Now().UTC().Add(-2 * time.Minute)})

	_, err := c.Current(context.Background(), testOptions)
	if !errors.Is(err, ErrNoFix) {
		t.Fatalf("err = %v, want ErrNoFix", err)
	}
}

func TestCurrentWaitsForNextFix(t *testing.T) {
	c := NewCache()

	go func() {
		time.Sleep(20 * time.Millisecond)
		c.Set(capture.Position{Lat: 2, Lng: 3})
	}()

	pos, err := c.Current(context.Background(), testOptions)
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if pos.Lat != 2 || pos.Lng != 3 {
		t.Fatalf("pos = %+v", pos)
	}
}

func TestCurrentTimesOutWithoutFix(t *testing.T) {
	c := NewCache()

	start := time.Now()
	_, err := c.Current(context.Background(), testOptions)
	if !errors.Is(err, ErrNoFix) {
		t.Fatalf("err = %v, want ErrNoFix", err)
	}
	if time.Since(start) < testOptions.Timeout {
		t.Fatal("returned before the timeout elapsed")
	}
}

func TestCurrentHonorsContextCancel(t *testing.T) {
	c := NewCache()
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := c.Current(ctx, capture.LocationOptions{Timeout: 5 * time.Second, MaxAge: time.Minute})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestSetWakesMultipleWaiters(t *testing.T) {
	c := NewCache()

	results := make(chan error, 2)
	for range 2 {
		go func() {
			_, err := c.Current(context.Background(), capture.LocationOptions{Timeout: time.Second, MaxAge: time.Minute})
			results <- err
		}()
	}

	time.Sleep(20 * time.Millisecond)
	c.Set(capture.Position{Lat: 4, Lng: 5})

	for range 2 {
		if err := <-results; err != nil {
			t.Fatalf("waiter: %v", err)
		}
	}
}
