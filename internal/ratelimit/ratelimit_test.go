package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestWaitEnforcesMinInterval(t *testing.T) {
	l := New(100 * time.Millisecond)
	ctx := context.Background()

	if err := l.Wait(ctx, "datahub"); err != nil {
		t.Fatalf("first wait: %v", err)
	}

	start := time.Now()
	if err := l.Wait(ctx, "datahub"); err != nil {
		t.Fatalf("second wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("expected at least 100ms between calls, got %s", elapsed)
	}
}

func TestWaitKeysAreIndependent(t *testing.T) {
	l := New(time.Second)
	ctx := context.Background()

	if err := l.Wait(ctx, "datahub"); err != nil {
		t.Fatalf("wait datahub: %v", err)
	}

	start := time.Now()
	if err := l.Wait(ctx, "quicknet"); err != nil {
		t.Fatalf("wait quicknet: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("different key should not wait, took %s", elapsed)
	}
}

func TestCooldownExtendsWait(t *testing.T) {
	l := New(time.Millisecond)
	ctx := context.Background()

	l.Cooldown("datahub", 150*time.Millisecond)
	if !l.CoolingDown("datahub") {
		t.Fatal("expected datahub to be cooling down")
	}

	start := time.Now()
	if err := l.Wait(ctx, "datahub"); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Errorf("expected cooldown of at least 150ms, got %s", elapsed)
	}
	if l.CoolingDown("datahub") {
		t.Error("cooldown should be cleared after waiting it out")
	}
}

func TestWaitCancelled(t *testing.T) {
	l := New(time.Millisecond)
	l.Cooldown("datahub", time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := l.Wait(ctx, "datahub"); err == nil {
		t.Fatal("expected context error, got nil")
	}
}

func TestPrune(t *testing.T) {
	l := New(time.Millisecond)
	l.lastCall["old"] = time.Now().Add(-2 * time.Hour)
	l.lastCall["recent"] = time.Now()
	l.cooldown["expired"] = time.Now().Add(-time.Minute)
	l.cooldown["active"] = time.Now().Add(time.Minute)

	l.prune()

	if _, ok := l.lastCall["old"]; ok {
		t.Error("stale lastCall entry should be pruned")
	}
	if _, ok := l.lastCall["recent"]; !ok {
		t.Error("recent lastCall entry should survive")
	}
	if _, ok := l.cooldown["expired"]; ok {
		t.Error("expired cooldown should be pruned")
	}
	if _, ok := l.cooldown["active"]; !ok {
		t.Error("active cooldown should survive")
	}
}
