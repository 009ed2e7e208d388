package resilience

import (
	"math/rand/v2"
	"sync"
	"testing"
	"time"
)

func TestDecorrelatedJitterDelay_Bounds(t *testing.T) {
	base := 200 * time.Millisecond
	maxDelay := 5 * time.Second
	rng := rand.New(rand.NewPCG(1, 2))

	prev := base
	for i := 0; i < 1000; i++ {
		d := DecorrelatedJitterDelay(base, maxDelay, prev, rng.Int64N)
		if d < 0 {
			t.Fatalf("negative delay %v", d)
		}
		if d > maxDelay {
			t.Fatalf("delay %v exceeds cap %v", d, maxDelay)
		}
		if d < base {
			t.Fatalf("delay %v below base %v", d, base)
		}
		if d > prev*3 {
			t.Fatalf("delay %v above 3x previous %v", d, prev)
		}
		prev = d
	}
}

func TestDecorrelatedJitterDelay_Extremes(t *testing.T) {
	low := func(int64) int64 { return 0 }
	high := func(n int64) int64 { return n - 1 }

	if d := DecorrelatedJitterDelay(100*time.Millisecond, 0, 100*time.Millisecond, low); d != 100*time.Millisecond {
		t.Errorf("low draw: got %v, want base", d)
	}
	if d := DecorrelatedJitterDelay(100*time.Millisecond, 0, 100*time.Millisecond, high); d != 300*time.Millisecond {
		t.Errorf("high draw: got %v, want 3x previous", d)
	}
	if d := DecorrelatedJitterDelay(100*time.Millisecond, 250*time.Millisecond, time.Second, high); d != 250*time.Millisecond {
		t.Errorf("capped draw: got %v, want cap", d)
	}
	if d := DecorrelatedJitterDelay(0, 0, 0, high); d != 0 {
		t.Errorf("zero base: got %v, want 0", d)
	}
	if d := DecorrelatedJitterDelay(time.Second, 0, time.Duration(1<<62), high); d < 0 {
		t.Errorf("overflow produced negative delay %v", d)
	}
}

func TestDecorrelatedJitter_GrowsInExpectation(t *testing.T) {
	const runs = 2000
	const attempts = 4
	var sums [attempts]time.Duration

	for r := 0; r < runs; r++ {
		b := NewDecorrelatedJitter(100*time.Millisecond, time.Minute)
		for a := 1; a <= attempts; a++ {
			sums[a-1] += b.Delay(a, nil)
		}
	}

	for a := 1; a < attempts; a++ {
		if sums[a] < sums[a-1] {
			t.Errorf("mean delay decreased between attempt %d (%v) and %d (%v)",
				a, sums[a-1]/runs, a+1, sums[a]/runs)
		}
	}
}

func TestDecorrelatedJitter_ConcurrentCallers(t *testing.T) {
	factory := DecorrelatedJitterFactory(10*time.Millisecond, time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b := factory()
			for a := 1; a <= 50; a++ {
				if d := b.Delay(a, nil); d < 0 || d > time.Second {
					t.Errorf("delay out of range: %v", d)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestDecorrelatedJitter_NonPositiveBaseUsesDefault(t *testing.T) {
	cases := map[string]Backoff{
		"constructor": NewDecorrelatedJitter(0, time.Minute),
		"negative":    NewDecorrelatedJitter(-time.Second, time.Minute),
		"zero value":  &DecorrelatedJitter{Cap: time.Minute},
	}
	for name, b := range cases {
		for a := 1; a <= 3; a++ {
			if d := b.Delay(a, nil); d < DefaultBaseDelay {
				t.Errorf("%s: attempt %d delay %v below default base %v", name, a, d, DefaultBaseDelay)
			}
		}
	}
}
