package bus

import (
	"context"
	"reflect"
	"testing"
)

func TestBus_DeliversInRegistrationOrder(t *testing.T) {
	b := New[string](nil)
	var got []string

	b.Subscribe(func(_ context.Context, msg string) { got = append(got, "a:"+msg) })
	b.Subscribe(func(_ context.Context, msg string) { got = append(got, "b:"+msg) })

	b.Send(context.Background(), "x")

	want := []string{"a:x", "b:x"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestBus_CloseUnsubscribes(t *testing.T) {
	b := New[int](nil)
	var count int

	sub := b.Subscribe(func(context.Context, int) { count++ })
	b.Send(context.Background(), 1)
	_ = sub.Close()
	_ = sub.Close()
	b.Send(context.Background(), 2)

	if count != 1 {
		t.Fatalf("expected 1 delivery, got %d", count)
	}
	if b.Len() != 0 {
		t.Fatalf("expected no subscribers, got %d", b.Len())
	}
}

func TestBus_PanicDoesNotStopDelivery(t *testing.T) {
	b := New[int](nil)
	var delivered bool

	b.Subscribe(func(context.Context, int) { panic("boom") })
	b.Subscribe(func(context.Context, int) { delivered = true })

	b.Send(context.Background(), 1)
	if !delivered {
		t.Fatal("second subscriber should still receive the message")
	}
}
