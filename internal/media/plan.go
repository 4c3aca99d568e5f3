package media

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Source identifies which input clip a segment is cut from.
type Source int

const (
	// SourceA is the primary clip carrying the authoritative soundtrack.
	SourceA Source = iota
	// SourceB is the secondary, purely visual clip.
	SourceB
)

func (s Source) String() string {
	if s == SourceA {
		return "A"
	}
	return "B"
}

// Segment is one slot of the output timeline.
type Segment struct {
	Source Source
	// OutStart and OutEnd bound the slot on the output timeline.
	OutStart float64
	OutEnd   float64
	// SrcStart is the offset into the source clip; Length is how much source
	// content is used. Length may be shorter than the slot when B runs out.
	SrcStart float64
	Length   float64
}

// Slot is the duration the segment occupies on the output timeline.
func (s Segment) Slot() float64 { return s.OutEnd - s.OutStart }

// Hold is the time the last source frame is held to fill the slot.
func (s Segment) Hold() float64 {
	h := s.Slot() - s.Length
	if h < 1e-9 {
		return 0
	}
	return h
}

// Plan is the alternating A/B/A/B timeline over A's duration.
type Plan struct {
	ADuration float64
	BDuration float64
	Segments  [4]Segment
}

// Duration is the output video duration.
func (p Plan) Duration() float64 { return p.Segments[3].OutEnd }

// PlanSegments splits A's runtime into quarters: the first and third quarters
// show A from their own offsets, the second and fourth show B from its start.
// B content is capped at min(bDur, aDur/4); B is never looped.
func PlanSegments(aDur, bDur float64) (Plan, error) {
	if !(aDur > 0) || math.IsInf(aDur, 0) {
		return Plan{}, fmt.Errorf("invalid A duration %v", aDur)
	}
	if !(bDur > 0) || math.IsInf(bDur, 0) {
		return Plan{}, fmt.Errorf("invalid B duration %v", bDur)
	}

	q1 := aDur / 4
	q2 := aDur / 2
	q3 := 3 * aDur / 4

	// Slot widths can exceed q1 by an ulp, so B is capped against q1 directly.
	bCap := math.Min(bDur, q1)
	gap1 := q2 - q1
	gap2 := aDur - q3

	return Plan{
		ADuration: aDur,
		BDuration: bDur,
		Segments: [4]Segment{
			{Source: SourceA, OutStart: 0, OutEnd: q1, SrcStart: 0, Length: q1},
			{Source: SourceB, OutStart: q1, OutEnd: q2, SrcStart: 0, Length: math.Min(bCap, gap1)},
			{Source: SourceA, OutStart: q2, OutEnd: q3, SrcStart: q2, Length: q3 - q2},
			{Source: SourceB, OutStart: q3, OutEnd: aDur, SrcStart: 0, Length: math.Min(bCap, gap2)},
		},
	}, nil
}

// FilterGraph renders the plan as an ffmpeg filter_complex expression with
// input 0 = A and input 1 = B, producing the video stream [outv]. Slots where
// B runs short are filled by cloning B's last frame.
func (p Plan) FilterGraph() string {
	labels := [4]string{"a1", "b1", "a2", "b2"}
	var sb strings.Builder
	for i, seg := range p.Segments {
		input := "0:v"
		if seg.Source == SourceB {
			input = "1:v"
		}
		fmt.Fprintf(&sb, "[%s]trim=%s:%s,setpts=PTS-STARTPTS", input, ffNum(seg.SrcStart), ffNum(seg.SrcStart+seg.Length))
		if h := seg.Hold(); h > 0 {
			fmt.Fprintf(&sb, ",tpad=stop_mode=clone:stop_duration=%s", ffNum(h))
		}
		fmt.Fprintf(&sb, "[%s];", labels[i])
	}
	sb.WriteString("[a1][b1][a2][b2]concat=n=4:v=1:a=0[outv]")
	return sb.String()
}

func ffNum(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
