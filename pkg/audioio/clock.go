package audioio

import "time"

// SampleIndex converts an output clock time to a sample position at rate,
// rounded to the nearest sample. Whole seconds are split off so long
// sessions cannot overflow.
func SampleIndex(d time.Duration, rate int) int64 {
	if d <= 0 || rate <= 0 {
		return 0
	}
	r := int64(rate)
	sec := int64(d / time.Second)
	rem := int64(d % time.Second)
	return sec*r + (rem*r+int64(time.Second)/2)/int64(time.Second)
}

// SampleTime converts a sample position at rate to an output clock time.
func SampleTime(n int64, rate int) time.Duration {
	if n <= 0 || rate <= 0 {
		return 0
	}
	r := int64(rate)
	return time.Duration(n/r)*time.Second + time.Duration(n%r)*time.Second/time.Duration(r)
}

// chainStart returns the sample position for a buffer scheduled at at.
// A buffer starting exactly where the previous one ended on the clock
// (tailAt) starts at that buffer's end sample (tail), so rounding never
// opens a gap or an overlap however long the chain runs.
func chainStart(at, tailAt time.Duration, tail int64, rate int) int64 {
	if at == tailAt {
		return tail
	}
	return SampleIndex(at, rate)
}
