package resilience

import (
	"errors"
	"testing"
)

func TestGuard_RejectsConcurrentCall(t *testing.T) {
	var g Guard
	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan bool)

	go func() {
		ran, _ := g.RunIfNotBusy(func() error {
			close(started)
			<-release
			return nil
		})
		done <- ran
	}()

	<-started
	if !g.IsBusy() {
		t.Fatal("expected guard to be busy")
	}

	var secondCalled bool
	ran, err := g.RunIfNotBusy(func() error {
		secondCalled = true
		return nil
	})
	if ran || err != nil || secondCalled {
		t.Fatalf("second call should be rejected: ran=%v err=%v called=%v", ran, err, secondCalled)
	}

	close(release)
	if !<-done {
		t.Fatal("first call should have run")
	}
	if g.IsBusy() {
		t.Fatal("guard should be idle after completion")
	}

	ran, _ = g.RunIfNotBusy(func() error { return nil })
	if !ran {
		t.Fatal("subsequent call should run")
	}
}

func TestGuard_ResetsOnFailureAndPanic(t *testing.T) {
	var g Guard
	boom := errors.New("boom")

	ran, err := g.RunIfNotBusy(func() error { return boom })
	if !ran || err != boom {
		t.Fatalf("got ran=%v err=%v", ran, err)
	}
	if g.IsBusy() {
		t.Fatal("guard should reset after failure")
	}

	func() {
		defer func() { _ = recover() }()
		_, _ = g.RunIfNotBusy(func() error { panic("bad") })
	}()
	if g.IsBusy() {
		t.Fatal("guard should reset after panic")
	}
}
