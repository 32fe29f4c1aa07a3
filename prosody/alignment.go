package prosody

import (
	"math"
)

// shiftTolerance is the largest frame shift difference (seconds) treated as
// the same frame rate
const shiftTolerance = 1e-9

// sameRate reports whether two sequences advance by the same frame shift
func sameRate(a, b *FrameSequence) bool {
	return math.Abs(a.FrameShift-b.FrameShift) <= shiftTolerance
}

// regrid maps src onto the frame grid of ref by picking, for every frame of
// ref, the src frame whose centre is nearest. src must be the finer grid so
// that every src frame is picked at most once. The result stops at the last
// src frame. Rows are shared with src.
func regrid(src, ref *FrameSequence) *FrameSequence {
	out := &FrameSequence{
		Name:        src.Name,
		Frames:      make([][]float64, 0, ref.NumFrames()),
		FrameLength: src.FrameLength,
		FrameShift:  ref.FrameShift,
	}
	for t := range ref.NumFrames() {
		centre := float64(t)*ref.FrameShift + ref.FrameLength/2
		j := int(math.Round((centre - src.FrameLength/2) / src.FrameShift))
		j = max(j, 0)
		if j >= src.NumFrames() {
			break
		}
		out.Frames = append(out.Frames, src.Frames[j])
	}
	return out
}

// regridAll replaces every stream by its selection on the grid of ref
func regridAll(streams []*FrameSequence, ref *FrameSequence) {
	for i, s := range streams {
		streams[i] = regrid(s, ref)
	}
}

// reconcile puts both branches on the coarser of the two frame grids and
// truncates every stream to the shortest one. It returns the common frame
// count. Either slice may be empty.
func reconcile(spectralStreams, pitchStreams []*FrameSequence) int {
	if len(spectralStreams) > 0 && len(pitchStreams) > 0 {
		spectralRef, pitchRef := spectralStreams[0], pitchStreams[0]
		switch {
		case sameRate(spectralRef, pitchRef):
		case pitchRef.FrameShift < spectralRef.FrameShift:
			regridAll(pitchStreams, spectralRef)
		default:
			regridAll(spectralStreams, pitchRef)
		}
	}

	n := math.MaxInt
	for _, s := range spectralStreams {
		n = min(n, s.NumFrames())
	}
	for _, s := range pitchStreams {
		n = min(n, s.NumFrames())
	}
	if n == math.MaxInt {
		return 0
	}

	for _, s := range spectralStreams {
		s.Truncate(n)
	}
	for _, s := range pitchStreams {
		s.Truncate(n)
	}
	return n
}

// checkAligned fails when any stream does not have exactly n frames
func checkAligned(streams []*FrameSequence, n int) error {
	counts := make(map[string]int, len(streams))
	aligned := true
	for _, s := range streams {
		counts[s.Name] = s.NumFrames()
		if s.NumFrames() != n {
			aligned = false
		}
	}
	if !aligned {
		return &AlignmentError{Stage: StateAligning, Frames: counts}
	}
	return nil
}
