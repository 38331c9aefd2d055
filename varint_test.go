package phylum

import "testing"

func TestVarintRoundTrip(t *testing.T) {
	cases := []uint64{0, 1, 127, 128, 129, 16383, 16384, 1 << 20, MaxRecordLength}

	for _, v := range cases {
		buf := make([]byte, varintLen(v))
		n := encodeVarint(v, buf)
		if n != len(buf) {
			t.Fatalf("encodeVarint(%d): wrote %d bytes, want %d", v, n, len(buf))
		}

		got, consumed, err := decodeVarint(buf)
		if err != nil {
			t.Fatalf("decodeVarint(%d): %v", v, err)
		}
		if consumed != n {
			t.Errorf("decodeVarint(%d): consumed %d bytes, want %d", v, consumed, n)
		}
		if got != v {
			t.Errorf("decodeVarint round trip: got %d, want %d", got, v)
		}
	}
}

func TestDecodeVarintErasedSentinel(t *testing.T) {
	_, _, err := decodeVarint([]byte{0xFF, 0x01, 0x02})
	if err != ErrErasedSentinel {
		t.Fatalf("decodeVarint on erased byte: got %v, want ErrErasedSentinel", err)
	}
}

func TestDecodeVarintEmpty(t *testing.T) {
	_, _, err := decodeVarint(nil)
	if err != ErrErasedSentinel {
		t.Fatalf("decodeVarint on empty buffer: got %v, want ErrErasedSentinel", err)
	}
}

func TestDecodeVarintTruncated(t *testing.T) {
	// A continuation byte (high bit set) with nothing following never
	// terminates and must not panic or loop forever.
	_, _, err := decodeVarint([]byte{0x80})
	if err != ErrErasedSentinel {
		t.Fatalf("decodeVarint on truncated varint: got %v, want ErrErasedSentinel", err)
	}
}

func TestMaxRecordLengthNeverEncodesLeadingErasedByte(t *testing.T) {
	buf := make([]byte, varintLen(MaxRecordLength))
	encodeVarint(MaxRecordLength, buf)
	if buf[0] == erasedByte {
		t.Fatalf("MaxRecordLength's first encoded byte is 0xFF, ambiguous with the erased sentinel")
	}
}
