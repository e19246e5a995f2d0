package ratelimit

import (
	"testing"
	"time"
)

func TestAllowEnforcesInterval(t *testing.T) {
	t.Parallel()
	r := New()
	r.Configure("water_the_plants", 3*time.Second)

	t0 := time.Unix(1000, 0)
	if !r.Allow("water_the_plants", t0) {
		t.Fatal("first admission should be immediate")
	}
	if r.Allow("water_the_plants", t0) {
		t.Fatal("second admission at the same instant should be blocked")
	}
	if r.Allow("water_the_plants", t0.Add(3*time.Second-time.Millisecond)) {
		t.Fatal("admission inside the interval should be blocked")
	}
	if !r.Allow("water_the_plants", t0.Add(3*time.Second)) {
		t.Fatal("admission at the interval boundary should pass")
	}
}

func TestAllowNoBurstCatchUp(t *testing.T) {
	t.Parallel()
	r := New()
	r.Configure("feed_the_cat", 2*time.Second)

	t0 := time.Unix(0, 0)
	if !r.Allow("feed_the_cat", t0) {
		t.Fatal("first admission should be immediate")
	}

	// A long quiet period must not bank extra admissions.
	late := t0.Add(time.Minute)
	if !r.Allow("feed_the_cat", late) {
		t.Fatal("admission after quiet period should pass")
	}
	if r.Allow("feed_the_cat", late) {
		t.Fatal("burst admission after quiet period should be blocked")
	}
}

func TestNextEligibleDoesNotConsume(t *testing.T) {
	t.Parallel()
	r := New()
	r.Configure("clean_the_windows", 5*time.Second)

	t0 := time.Unix(500, 0)
	if !r.Allow("clean_the_windows", t0) {
		t.Fatal("first admission should be immediate")
	}

	want := t0.Add(5 * time.Second)
	probe := t0.Add(time.Second)
	if got := r.NextEligible("clean_the_windows", probe); !got.Equal(want) {
		t.Fatalf("NextEligible = %v, want %v", got, want)
	}
	// Probing again must give the same answer (nothing consumed).
	if got := r.NextEligible("clean_the_windows", probe); !got.Equal(want) {
		t.Fatalf("second NextEligible = %v, want %v", got, want)
	}
	// And Allow at the reported instant must succeed.
	if !r.Allow("clean_the_windows", want) {
		t.Fatal("Allow at NextEligible instant should pass")
	}
}

func TestNextEligibleWhenFree(t *testing.T) {
	t.Parallel()
	r := New()
	r.Configure("clean_the_windows", 5*time.Second)

	now := time.Unix(42, 0)
	if got := r.NextEligible("clean_the_windows", now); !got.Equal(now) {
		t.Fatalf("NextEligible before any admission = %v, want %v", got, now)
	}
}

func TestUnlimitedKinds(t *testing.T) {
	t.Parallel()
	r := New()
	r.Configure("free", 0)

	now := time.Unix(0, 0)
	for i := 0; i < 5; i++ {
		if !r.Allow("free", now) {
			t.Fatalf("unlimited kind blocked on call %d", i)
		}
	}
	if got := r.NextEligible("free", now); !got.Equal(now) {
		t.Fatalf("NextEligible = %v, want %v", got, now)
	}

	// Unknown kinds behave as unlimited too.
	if !r.Allow("never_configured", now) {
		t.Fatal("unknown kind should not be limited")
	}
}

func TestConfigureResetsHistory(t *testing.T) {
	t.Parallel()
	r := New()
	r.Configure("feed_the_cat", 2*time.Second)

	t0 := time.Unix(0, 0)
	if !r.Allow("feed_the_cat", t0) {
		t.Fatal("first admission should be immediate")
	}
	r.Configure("feed_the_cat", 2*time.Second)
	if !r.Allow("feed_the_cat", t0) {
		t.Fatal("admission after reconfigure should be immediate")
	}
	if got := r.Every("feed_the_cat"); got != 2*time.Second {
		t.Fatalf("Every = %v, want 2s", got)
	}
}

func TestKindsAreIndependent(t *testing.T) {
	t.Parallel()
	r := New()
	r.Configure("clean_the_windows", 5*time.Second)
	r.Configure("feed_the_cat", 2*time.Second)

	t0 := time.Unix(0, 0)
	if !r.Allow("clean_the_windows", t0) {
		t.Fatal("clean should be admitted")
	}
	// A different kind is not affected by clean's admission.
	if !r.Allow("feed_the_cat", t0) {
		t.Fatal("feed should be admitted at the same instant")
	}
}
