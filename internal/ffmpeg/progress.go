package ffmpeg

import (
	"regexp"
	"strconv"
	"time"
)

// Progress is one parsed ffmpeg status line. ffmpeg rewrites these on
// stderr during an encode:
//
//	frame= 302 fps= 25 q=30.0 size=1024KiB time=00:00:12.58 bitrate=... speed=1.05x
type Progress struct {
	// OutTime is how much of the input has been encoded.
	OutTime time.Duration
	// Speed is the realtime multiplier. Zero when ffmpeg reports N/A,
	// which it does at encode start.
	Speed float64
}

var (
	timeRe  = regexp.MustCompile(`time=(\d+):(\d{2}):(\d{2})(?:\.(\d+))?`)
	speedRe = regexp.MustCompile(`speed=\s*(\d+(?:\.\d+)?)x`)
)

// ParseProgressLine extracts progress from an ffmpeg stderr line. The
// second return is false for lines without a time= field.
func ParseProgressLine(line string) (Progress, bool) {
	m := timeRe.FindStringSubmatch(line)
	if m == nil {
		return Progress{}, false
	}

	hours, _ := strconv.Atoi(m[1])
	minutes, _ := strconv.Atoi(m[2])
	seconds, _ := strconv.Atoi(m[3])

	out := time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds)*time.Second
	if m[4] != "" {
		frac, err := strconv.ParseFloat("0."+m[4], 64)
		if err == nil {
			out += time.Duration(frac * float64(time.Second))
		}
	}

	p := Progress{OutTime: out}
	if sm := speedRe.FindStringSubmatch(line); sm != nil {
		p.Speed, _ = strconv.ParseFloat(sm[1], 64)
	}
	return p, true
}

// Fraction converts the progress to a completion fraction against the
// probed input duration. Returns false when the duration is unknown.
func (p Progress) Fraction(total time.Duration) (float64, bool) {
	if total <= 0 {
		return 0, false
	}
	f := float64(p.OutTime) / float64(total)
	if f < 0 {
		f = 0
	}
	if f > 1 {
		f = 1
	}
	return f, true
}

// ETA estimates the remaining wall-clock seconds from the reported
// encode speed. Returns false without a positive speed or duration.
func (p Progress) ETA(total time.Duration) (float64, bool) {
	if total <= 0 || p.Speed <= 0 {
		return 0, false
	}
	remaining := (total - p.OutTime).Seconds()
	if remaining < 0 {
		remaining = 0
	}
	return remaining / p.Speed, true
}
