package trainer

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/floats"
)

const barWidth = 40

// ViewClassify renders class probabilities as a horizontal bar chart. The
// predicted class is marked with '<' and the true label, when >= 0, with '*'.
func ViewClassify(probs []float64, label int) string {
	var sb strings.Builder
	if len(probs) == 0 {
		return ""
	}
	pred := floats.MaxIdx(probs)
	fmt.Fprintf(&sb, "Class Probability (predicted %d", pred)
	if label >= 0 {
		fmt.Fprintf(&sb, ", label %d", label)
	}
	sb.WriteString(")\n")
	for c, p := range probs {
		n := int(p*barWidth + 0.5)
		if n < 0 {
			n = 0
		}
		if n > barWidth {
			n = barWidth
		}
		mark := " "
		if c == label {
			mark = "*"
		}
		fmt.Fprintf(&sb, "%s%d %.4f |%s", mark, c, p, strings.Repeat("#", n))
		if c == pred {
			sb.WriteString(" <")
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

var shades = []byte(" .:-=+*#%@")

// RenderDigit draws an image as ASCII art scaled between its own min and max.
func RenderDigit(pixels []float64, rows, cols int) string {
	if rows <= 0 || cols <= 0 || len(pixels) != rows*cols {
		return ""
	}
	lo, hi := floats.Min(pixels), floats.Max(pixels)
	span := hi - lo
	var sb strings.Builder
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			idx := 0
			if span > 0 {
				idx = int((pixels[y*cols+x] - lo) / span * float64(len(shades)-1))
			}
			sb.WriteByte(shades[idx])
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
