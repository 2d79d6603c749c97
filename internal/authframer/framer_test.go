package authframer

import "testing"

func TestFeedNeedMoreUntilClosingBrace(t *testing.T) {
	f := New()
	if got := f.Feed([]byte(`{"u":"bob"`)); got != NeedMore {
		t.Fatalf("Feed = %v, want NeedMore", got)
	}
	if got := f.Feed([]byte(`,"p":"hunter2"}`)); got != Ready {
		t.Fatalf("Feed = %v, want Ready", got)
	}
	if string(f.Bytes()) != `{"u":"bob","p":"hunter2"}` {
		t.Fatalf("Bytes() = %q", f.Bytes())
	}
}

func TestFeedReadyIgnoresTrailingWhitespace(t *testing.T) {
	f := New()
	got := f.Feed([]byte("{\"u\":\"bob\"}\r\n"))
	if got != Ready {
		t.Fatalf("Feed = %v, want Ready", got)
	}
}

func TestFeedSplitAcrossMultipleCalls(t *testing.T) {
	f := New()
	chunks := []string{"{\"u\":", "\"bob\",\"p\":", "\"x\"", "}"}
	var last Result
	for _, c := range chunks[:len(chunks)-1] {
		last = f.Feed([]byte(c))
		if last != NeedMore {
			t.Fatalf("Feed(%q) = %v, want NeedMore", c, last)
		}
	}
	last = f.Feed([]byte(chunks[len(chunks)-1]))
	if last != Ready {
		t.Fatalf("final Feed = %v, want Ready", last)
	}
}

func TestFeedOverflow(t *testing.T) {
	f := New()
	big := make([]byte, AuthMaxLen)
	for i := range big {
		big[i] = 'a'
	}
	if got := f.Feed(big); got != Overflow {
		t.Fatalf("Feed = %v, want Overflow", got)
	}
}

func TestFeedIgnoresBraceInsideFieldValue(t *testing.T) {
	f := New()
	// a '}' in the middle of the accumulated buffer is not examined; only
	// the final non-whitespace byte decides completeness.
	if got := f.Feed([]byte(`{"u":"}ob","p":"x"}`)); got != Ready {
		t.Fatalf("Feed = %v, want Ready", got)
	}
	if string(f.Bytes()) != `{"u":"}ob","p":"x"}` {
		t.Fatalf("Bytes() = %q", f.Bytes())
	}
}

func TestLenTracksAccumulatedBytes(t *testing.T) {
	f := New()
	f.Feed([]byte("abc"))
	if f.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", f.Len())
	}
	f.Feed([]byte("de"))
	if f.Len() != 5 {
		t.Fatalf("Len() = %d, want 5", f.Len())
	}
}
