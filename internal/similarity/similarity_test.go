package similarity

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"harvester/internal/model"
)

func TestFingerprint(t *testing.T) {
	pub := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	a := Fingerprint("Central bank raises rates", "Reuters", &pub)
	b := Fingerprint("  central bank raises rates ", "Reuters", &pub)
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("fingerprint should ignore case and padding (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(64, len(a)); diff != "" {
		t.Errorf("fingerprint length mismatch (-want +got):\n%s", diff)
	}

	later := pub.Add(time.Hour)
	if Fingerprint("Central bank raises rates", "Reuters", &later) == a {
		t.Error("different publish date should change the fingerprint")
	}
	if Fingerprint("Central bank raises rates", "AP", &pub) == a {
		t.Error("different source should change the fingerprint")
	}
	if Fingerprint("Central bank raises rates", "Reuters", nil) == a {
		t.Error("missing date should change the fingerprint")
	}
}

func TestSimHash(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{name: "empty", text: "", want: ZeroHash},
		{name: "whitespace only", text: "  \n\t ", want: ZeroHash},
		{name: "only short tokens", text: "a an of to", want: ZeroHash},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, SimHash(tt.text)); diff != "" {
				t.Errorf("SimHash mismatch (-want +got):\n%s", diff)
			}
		})
	}

	text := "Scientists discovered a new species of deep sea fish near the Mariana trench"
	first := SimHash(text)
	for i := 0; i < 5; i++ {
		if got := SimHash(text); got != first {
			t.Fatalf("SimHash not deterministic: %s != %s", got, first)
		}
	}
	if diff := cmp.Diff(16, len(first)); diff != "" {
		t.Errorf("hash length mismatch (-want +got):\n%s", diff)
	}
	if first == ZeroHash {
		t.Error("non-empty text should not hash to zero")
	}
	if diff := cmp.Diff(first, SimHash(strings.ToUpper(text)+"!!!")); diff != "" {
		t.Errorf("case and punctuation should not matter (-want +got):\n%s", diff)
	}
}

func TestSimHashSingleToken(t *testing.T) {
	// With one token every bit weight is +1 or -1, so the result equals the token hash.
	want := tokenHash("kubernetes")
	got := SimHash("Kubernetes")
	if diff := cmp.Diff(fmtHex(want), got); diff != "" {
		t.Errorf("single token SimHash mismatch (-want +got):\n%s", diff)
	}
}

func fmtHex(v uint64) string {
	const digits = "0123456789abcdef"
	out := make([]byte, 16)
	for i := 15; i >= 0; i-- {
		out[i] = digits[v&0xf]
		v >>= 4
	}
	return string(out)
}

func TestHammingDistance(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want int
	}{
		{name: "identical", a: "00ff00ff00ff00ff", b: "00ff00ff00ff00ff", want: 0},
		{name: "one hex char differs by many bits", a: "000000000000000f", b: "0000000000000000", want: 1},
		{name: "case insensitive", a: "ABCDEF0000000000", b: "abcdef0000000000", want: 0},
		{name: "all differ", a: "0000000000000000", b: "1111111111111111", want: 16},
		{name: "length mismatch counts missing", a: "abcd", b: "ab", want: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, HammingDistance(tt.a, tt.b)); diff != "" {
				t.Errorf("HammingDistance(a,b) mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.want, HammingDistance(tt.b, tt.a)); diff != "" {
				t.Errorf("HammingDistance(b,a) mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestIsNearDuplicate(t *testing.T) {
	known := []string{"aaaaaaaaaaaaaaaa", ZeroHash}
	tests := []struct {
		name      string
		candidate string
		threshold int
		want      bool
	}{
		{name: "exact match", candidate: "aaaaaaaaaaaaaaaa", threshold: 0, want: true},
		{name: "within threshold", candidate: "aaaaaaaaaaaaabbb", threshold: 3, want: true},
		{name: "beyond threshold", candidate: "aaaaaaaaaaaabbbb", threshold: 3, want: false},
		{name: "zero hash never matches", candidate: ZeroHash, threshold: 16, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, IsNearDuplicate(tt.candidate, known, tt.threshold)); diff != "" {
				t.Errorf("IsNearDuplicate mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCacheTrim(t *testing.T) {
	c := NewCache()
	for i := 0; i < CacheMaxEntries; i++ {
		c.Add(Entry{SimHash: "0000000000000001", FeedID: int64(i)})
	}
	if diff := cmp.Diff(CacheMaxEntries, c.Len()); diff != "" {
		t.Fatalf("cache should hold exactly the max (-want +got):\n%s", diff)
	}
	if removed := c.Trim(); removed != 0 {
		t.Errorf("Trim at the limit removed %d entries", removed)
	}

	c.Add(Entry{SimHash: "0000000000000002", FeedID: 99999, Title: "newest"})
	if diff := cmp.Diff(CacheKeepEntries, c.Len()); diff != "" {
		t.Fatalf("cache should be trimmed past the max (-want +got):\n%s", diff)
	}
	e, ok := c.Find("0000000000000002", 0, nil)
	if !ok || e.Title != "newest" {
		t.Errorf("newest entry should survive the trim, got %+v ok=%v", e, ok)
	}
}

type fakeWindow struct {
	hashes  []string
	err     error
	exclude int64
}

func (f *fakeWindow) RecentSimHashes(_ context.Context, _ time.Time, excludeFeedID int64) ([]string, error) {
	f.exclude = excludeFeedID
	return f.hashes, f.err
}

func TestEngineCheck(t *testing.T) {
	ctx := context.Background()
	hash := "abcdefabcdefabcd"
	near := "abcdefabcdefab00"

	t.Run("same feed near duplicate", func(t *testing.T) {
		e := NewEngine(nil, nil)
		e.Remember(1, hash, "original")
		v, err := e.Check(ctx, 1, near, 3, false)
		if err != nil {
			t.Fatalf("check: %v", err)
		}
		want := Verdict{Duplicate: true, Reason: model.SkipDuplicateNear, Match: "original"}
		if diff := cmp.Diff(want, v); diff != "" {
			t.Errorf("verdict mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("other feed ignored without cross source", func(t *testing.T) {
		e := NewEngine(nil, &fakeWindow{hashes: []string{hash}})
		e.Remember(2, hash, "other")
		v, err := e.Check(ctx, 1, near, 3, false)
		if err != nil {
			t.Fatalf("check: %v", err)
		}
		if v.Duplicate {
			t.Errorf("expected no duplicate, got %+v", v)
		}
	})

	t.Run("other feed in cache with cross source", func(t *testing.T) {
		e := NewEngine(nil, nil)
		e.Remember(2, hash, "other")
		v, err := e.Check(ctx, 1, near, 3, true)
		if err != nil {
			t.Fatalf("check: %v", err)
		}
		if diff := cmp.Diff(model.SkipDuplicateCross, v.Reason); diff != "" {
			t.Errorf("reason mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("persisted window match", func(t *testing.T) {
		w := &fakeWindow{hashes: []string{hash}}
		e := NewEngine(nil, w)
		v, err := e.Check(ctx, 7, near, 3, true)
		if err != nil {
			t.Fatalf("check: %v", err)
		}
		if !v.Duplicate || v.Reason != model.SkipDuplicateCross {
			t.Errorf("expected cross source duplicate, got %+v", v)
		}
		if diff := cmp.Diff(int64(7), w.exclude); diff != "" {
			t.Errorf("window should exclude the candidate feed (-want +got):\n%s", diff)
		}
	})

	t.Run("window error", func(t *testing.T) {
		e := NewEngine(nil, &fakeWindow{err: errors.New("db down")})
		if _, err := e.Check(ctx, 1, hash, 3, true); err == nil {
			t.Fatal("expected error")
		}
	})
}
