package ratelimit

import (
	"testing"
	"time"
)

func TestAllowConsumesBurst(t *testing.T) {
	l := New(time.Minute)
	defer l.Close()

	for i := 0; i < 3; i++ {
		ok, _ := l.Allow("key-a", 3)
		if !ok {
			t.Fatalf("request %d denied within burst", i+1)
		}
	}
	ok, wait := l.Allow("key-a", 3)
	if ok {
		t.Fatal("4th request allowed, want denied")
	}
	if wait < time.Second || wait > time.Minute {
		t.Errorf("retry hint = %v, want between 1s and 1m", wait)
	}
}

func TestKeysIsolated(t *testing.T) {
	l := New(time.Minute)
	defer l.Close()

	if ok, _ := l.Allow("key-a", 1); !ok {
		t.Fatal("first request for key-a denied")
	}
	if ok, _ := l.Allow("key-a", 1); ok {
		t.Fatal("key-a should be exhausted")
	}
	if ok, _ := l.Allow("key-b", 1); !ok {
		t.Error("key-b denied, buckets should be independent")
	}
}

func TestResetRestoresBurst(t *testing.T) {
	l := New(time.Minute)
	defer l.Close()

	l.Allow("key-a", 1)
	if ok, _ := l.Allow("key-a", 1); ok {
		t.Fatal("key-a should be exhausted")
	}
	l.Reset("key-a")
	if ok, _ := l.Allow("key-a", 1); !ok {
		t.Error("key-a still denied after Reset")
	}
}

func TestTokensRefill(t *testing.T) {
	l := New(100 * time.Millisecond)
	defer l.Close()

	l.Allow("key-a", 2)
	l.Allow("key-a", 2)
	if ok, _ := l.Allow("key-a", 2); ok {
		t.Fatal("bucket should be empty")
	}

	time.Sleep(150 * time.Millisecond)
	if ok, _ := l.Allow("key-a", 2); !ok {
		t.Error("bucket did not refill after a full window")
	}
}
