package scoring

import (
	"encoding/json"
	"errors"
	"testing"
)

const pairExpr = `\((\d+),\s*(\d+)\)`

func TestExtract(t *testing.T) {
	p := MustCompile(pairExpr)

	got, err := p.Extract("Score: (3, 7)")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != (Pair{3, 7}) {
		t.Errorf("expected (3, 7), got %v", got)
	}
}

func TestExtractNoMatch(t *testing.T) {
	p := MustCompile(pairExpr)

	_, err := p.Extract("no numbers here")
	if !errors.Is(err, ErrNoMatch) {
		t.Fatalf("expected ErrNoMatch, got %v", err)
	}
}

func TestExtractFirstMatchWins(t *testing.T) {
	p := MustCompile(pairExpr)

	got, err := p.Extract("Initially (2, 9). After discussion, final answer (8, 4).")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != (Pair{2, 9}) {
		t.Errorf("expected first match (2, 9), got %v", got)
	}
}

func TestExtractMultiline(t *testing.T) {
	p := MustCompile(pairExpr)

	got, err := p.Extract("After weighing both answers...\n\nFinal scores:\n(10,1)\n")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != (Pair{10, 1}) {
		t.Errorf("expected (10, 1), got %v", got)
	}
}

func TestExtractNonIntegerGroup(t *testing.T) {
	p := MustCompile(`\((\w+),\s*(\w+)\)`)

	_, err := p.Extract("(good, bad)")
	if !errors.Is(err, ErrNoMatch) {
		t.Fatalf("expected ErrNoMatch for non-integer group, got %v", err)
	}
}

func TestExtractIdempotent(t *testing.T) {
	p := MustCompile(pairExpr)
	reply := "Assistant 1: 6, Assistant 2: 5 -> (6, 5)"

	first, err1 := p.Extract(reply)
	second, err2 := p.Extract(reply)
	if err1 != nil || err2 != nil {
		t.Fatalf("unexpected errors: %v, %v", err1, err2)
	}
	if first != second {
		t.Errorf("expected identical results, got %v and %v", first, second)
	}
}

func TestCompileRejectsSingleGroup(t *testing.T) {
	if _, err := Compile(`score: (\d+)`); err == nil {
		t.Fatal("expected error for pattern with one group")
	}
}

func TestCompileRejectsInvalidRegexp(t *testing.T) {
	if _, err := Compile(`((\d+)`); err == nil {
		t.Fatal("expected error for invalid pattern")
	}
}

func TestPairJSON(t *testing.T) {
	data, err := json.Marshal(Pair{3, 7})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "[3,7]" {
		t.Errorf("expected [3,7], got %s", data)
	}
}
