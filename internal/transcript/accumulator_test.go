package transcript

import (
	"strings"
	"sync"
	"testing"
	"unicode/utf8"
)

func TestAppendMonotonic(t *testing.T) {
	acc := NewAccumulator(0)
	fragments := []string{"patient reports fever", "since Tuesday", "no cough"}

	prev := ""
	for i, f := range fragments {
		got := acc.Append(f)
		if i == 0 {
			if got != f {
				t.Fatalf("first append = %q, want %q", got, f)
			}
		} else if got != prev+Separator+f {
			t.Fatalf("append %d = %q, want prefix extension of %q", i, got, prev)
		}
		prev = got
	}
	if acc.Text() != "patient reports fever since Tuesday no cough" {
		t.Fatalf("unexpected text %q", acc.Text())
	}
	if acc.Fragments() != 3 {
		t.Fatalf("expected 3 fragments, got %d", acc.Fragments())
	}
}

func TestAppendKeepsEmptyFragments(t *testing.T) {
	acc := NewAccumulator(0)
	acc.Append("a")
	if got := acc.Append(""); got != "a " {
		t.Fatalf("got %q", got)
	}
}

func TestReset(t *testing.T) {
	acc := NewAccumulator(0)
	acc.Append("hello")
	acc.Reset()
	if acc.Len() != 0 || acc.Fragments() != 0 {
		t.Fatalf("expected empty accumulator after reset")
	}
	if got := acc.Append("again"); got != "again" {
		t.Fatalf("append after reset = %q", got)
	}
}

func TestCapDropsOldestWords(t *testing.T) {
	acc := NewAccumulator(12)
	acc.Append("alpha beta")
	got := acc.Append("gamma delta")
	if len(got) > 12 {
		t.Fatalf("text exceeds cap: %q", got)
	}
	if got != "gamma delta" {
		t.Fatalf("got %q", got)
	}
	if !strings.HasSuffix(acc.Text(), "delta") {
		t.Fatalf("newest text must be kept, got %q", acc.Text())
	}
}

func TestCapCutsOnWordBoundary(t *testing.T) {
	acc := NewAccumulator(8)
	got := acc.Append("one two three")
	if got != "three" {
		t.Fatalf("got %q", got)
	}
}

func TestCapKeepsValidUTF8(t *testing.T) {
	acc := NewAccumulator(4)
	got := acc.Append("ab 堅xyz")
	if !utf8.ValidString(got) {
		t.Fatalf("cap split a multibyte rune: %q", got)
	}
	if got != "" {
		t.Fatalf("partial word must be dropped, got %q", got)
	}

	acc = NewAccumulator(10)
	acc.Append("fièvre légère")
	got = acc.Append("toux sèche")
	if !utf8.ValidString(got) || got != "toux sèche" {
		t.Fatalf("got %q", got)
	}
}

func TestConcurrentAppend(t *testing.T) {
	acc := NewAccumulator(0)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			acc.Append("x")
		}()
	}
	wg.Wait()
	if acc.Fragments() != 50 {
		t.Fatalf("expected 50 fragments, got %d", acc.Fragments())
	}
	if acc.Len() != 50*2-1 {
		t.Fatalf("unexpected length %d", acc.Len())
	}
}
