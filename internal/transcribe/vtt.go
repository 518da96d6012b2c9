package transcribe

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strings"
)

// WriteVTT renders t as WebVTT. A transcript without segments becomes a
// single cue spanning its duration.
func WriteVTT(w io.Writer, t Transcript) error {
	bw := bufio.NewWriter(w)
	fmt.Fprint(bw, "WEBVTT\n")

	segments := t.Segments
	if len(segments) == 0 && !t.Empty() {
		end := t.Duration
		if end <= 0 {
			end = 1
		}
		segments = []Segment{{Start: 0, End: end, Text: t.Text}}
	}
	n := 0
	for _, s := range segments {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		n++
		fmt.Fprintf(bw, "\n%d\n%s --> %s\n%s\n", n, timestamp(s.Start), timestamp(s.End), text)
	}
	return bw.Flush()
}

func timestamp(sec float64) string {
	if sec < 0 {
		sec = 0
	}
	ms := int64(math.Round(sec * 1000))
	h := ms / 3_600_000
	m := ms / 60_000 % 60
	s := ms / 1000 % 60
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms%1000)
}
