package pipeline

import "testing"

func frame(vals ...float32) []float32 { return vals }

func TestRingBuffer_PushWithinCapacity(t *testing.T) {
	rb := NewRingBuffer(3)
	rb.Push(frame(1, 2))
	rb.Push(frame(3, 4))

	if got := rb.TotalSamples(); got != 4 {
		t.Fatalf("expected 4 buffered samples, got %d", got)
	}
}

func TestRingBuffer_EvictsOldestAtCapacity(t *testing.T) {
	rb := NewRingBuffer(2)
	rb.Push(frame(1))
	rb.Push(frame(2))
	rb.Push(frame(3)) // evicts frame(1)

	out := rb.DrainAll()
	want := []float32{2, 3}
	if len(out) != len(want) {
		t.Fatalf("expected %v, got %v", want, out)
	}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, out)
		}
	}
}

func TestRingBuffer_DrainAllClears(t *testing.T) {
	rb := NewRingBuffer(5)
	rb.Push(frame(1, 2, 3))

	rb.DrainAll()
	if got := rb.TotalSamples(); got != 0 {
		t.Fatalf("expected buffer empty after drain, got %d samples", got)
	}
}

func TestRingBuffer_Clear(t *testing.T) {
	rb := NewRingBuffer(5)
	rb.Push(frame(1, 2))
	rb.Clear()

	if got := rb.TotalSamples(); got != 0 {
		t.Fatalf("expected 0 samples after Clear, got %d", got)
	}
	if got := rb.DrainAll(); len(got) != 0 {
		t.Fatalf("expected empty drain after Clear, got %v", got)
	}
}

func TestRingBuffer_ZeroCapacityNoOp(t *testing.T) {
	rb := NewRingBuffer(0)
	rb.Push(frame(1, 2, 3))

	if got := rb.TotalSamples(); got != 0 {
		t.Fatalf("expected zero-capacity ring buffer to drop pushes, got %d samples", got)
	}
}
