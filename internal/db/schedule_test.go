package db

import (
	"context"
	"testing"

	"github.com/hpungsan/tcap/internal/errors"
)

func TestScheduleStore_Policies(t *testing.T) {
	s := NewScheduleStore(setupDB(t))
	ctx := context.Background()

	if _, err := s.GetPolicy(ctx, "alice"); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}

	if err := s.PutPolicy(ctx, PolicyRow{OwnerID: "alice", Frequency: "daily", MaxCapsules: 3, AutoCleanup: true, UpdatedAt: 1}); err != nil {
		t.Fatal(err)
	}
	if err := s.PutPolicy(ctx, PolicyRow{OwnerID: "alice", Frequency: "weekly", MaxCapsules: 5, AutoCleanup: false, UpdatedAt: 2}); err != nil {
		t.Fatal(err)
	}
	if err := s.PutPolicy(ctx, PolicyRow{OwnerID: "bob", Frequency: "monthly", MaxCapsules: 1, AutoCleanup: true, UpdatedAt: 3}); err != nil {
		t.Fatal(err)
	}

	p, err := s.GetPolicy(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if p.Frequency != "weekly" || p.MaxCapsules != 5 || p.AutoCleanup {
		t.Errorf("policy = %+v", p)
	}

	all, err := s.ListPolicies(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[0].OwnerID != "alice" || all[1].OwnerID != "bob" {
		t.Errorf("policies = %+v", all)
	}

	if err := s.DeletePolicy(ctx, "bob"); err != nil {
		t.Fatal(err)
	}
	if err := s.DeletePolicy(ctx, "bob"); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
}

func TestScheduleStore_CompareAndSwapState(t *testing.T) {
	s := NewScheduleStore(setupDB(t))
	ctx := context.Background()

	st, err := s.GetState(ctx, "alice")
	if err != nil || st != nil {
		t.Fatalf("GetState on empty = %+v, %v", st, err)
	}

	first := StateRow{OwnerID: "alice", LastRunAt: 100, NextRunAt: 200, RunToken: 1, LastPeriod: "2026-01-01"}
	ok, err := s.CompareAndSwapState(ctx, first, 0)
	if err != nil || !ok {
		t.Fatalf("initial CAS = %v, %v", ok, err)
	}

	// A second writer that also saw no row loses.
	ok, err = s.CompareAndSwapState(ctx, StateRow{OwnerID: "alice", RunToken: 1, LastPeriod: "other"}, 0)
	if err != nil || ok {
		t.Errorf("duplicate initial CAS = %v, %v; want false", ok, err)
	}

	second := StateRow{OwnerID: "alice", LastRunAt: 200, NextRunAt: 300, RunToken: 2, LastPeriod: "2026-01-02"}
	ok, err = s.CompareAndSwapState(ctx, second, 1)
	if err != nil || !ok {
		t.Fatalf("CAS 1->2 = %v, %v", ok, err)
	}

	// Stale token loses.
	ok, err = s.CompareAndSwapState(ctx, StateRow{OwnerID: "alice", RunToken: 2}, 1)
	if err != nil || ok {
		t.Errorf("stale CAS = %v, %v; want false", ok, err)
	}

	st, err = s.GetState(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if *st != second {
		t.Errorf("state = %+v, want %+v", st, second)
	}
}
