package trainer

import (
	"strings"
	"testing"
)

func TestViewClassify(t *testing.T) {
	probs := []float64{0.05, 0.9, 0.05}
	out := ViewClassify(probs, 2)
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected header and 3 rows, got %d:\n%s", len(lines), out)
	}
	if !strings.Contains(lines[0], "predicted 1") || !strings.Contains(lines[0], "label 2") {
		t.Fatalf("unexpected header %q", lines[0])
	}
	if !strings.HasSuffix(lines[2], strings.Repeat("#", 36)+" <") {
		t.Fatalf("expected predicted bar on row 1, got %q", lines[2])
	}
	if !strings.HasPrefix(lines[3], "*2") {
		t.Fatalf("expected label marker on row 2, got %q", lines[3])
	}
	if ViewClassify(nil, 0) != "" {
		t.Fatal("expected empty view for no probabilities")
	}
}

func TestRenderDigit(t *testing.T) {
	out := RenderDigit([]float64{-1, 1, 1, -1}, 2, 2)
	if out != " @\n@ \n" {
		t.Fatalf("unexpected rendering %q", out)
	}
	if RenderDigit([]float64{1}, 2, 2) != "" {
		t.Fatal("expected empty rendering for bad geometry")
	}
}
