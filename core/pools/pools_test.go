package pools

import "testing"

func TestBytePool_SizeClasses(t *testing.T) {
	bp := NewBytePoolWithSizes([]int{16, 64})

	buf := bp.Get(10)
	if len(buf) != 10 || cap(buf) != 16 {
		t.Errorf("Get(10): len=%d cap=%d, want len=10 cap=16", len(buf), cap(buf))
	}
	bp.Put(buf)

	buf = bp.Get(40)
	if cap(buf) != 64 {
		t.Errorf("Get(40): cap=%d, want 64", cap(buf))
	}

	big := bp.Get(100)
	if len(big) != 100 {
		t.Errorf("Get(100): len=%d, want 100", len(big))
	}
	bp.Put(big)

	stats := bp.Stats()
	if stats.Gets != 3 || stats.Misses != 1 {
		t.Errorf("Stats = %+v, want 3 gets and 1 miss", stats)
	}
}

func TestBytePool_PutRestoresLength(t *testing.T) {
	bp := NewBytePoolWithSizes([]int{32})
	buf := bp.Get(4)
	bp.Put(buf)
	again := bp.Get(32)
	if len(again) != 32 {
		t.Errorf("Expected full-length slice, got %d", len(again))
	}
}

func TestHeadBuffer(t *testing.T) {
	buf := AcquireBuffer()
	if len(*buf) != 0 {
		t.Fatalf("Expected empty buffer, got %d bytes", len(*buf))
	}
	*buf = append(*buf, "HTTP/1.1 200 OK\r\n"...)
	ReleaseBuffer(buf)

	buf = AcquireBuffer()
	if len(*buf) != 0 {
		t.Errorf("Released buffer was not reset")
	}
	ReleaseBuffer(buf)
	ReleaseBuffer(nil)
}

func BenchmarkBytePool(b *testing.B) {
	bp := NewBytePool()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf := bp.Get(4096)
		bp.Put(buf)
	}
}
