package audio

import (
	goaudio "github.com/go-audio/audio"
)

const microsecondsPerSecond = 1_000_000

// SamplesForDuration converts a microsecond duration to whole sample frames,
// truncating: durationUs * sampleRate / 1_000_000
func SamplesForDuration(durationUs int64, sampleRate int) int64 {
	return durationUs * int64(sampleRate) / microsecondsPerSecond
}

// sampleForTimestamp converts a presentation timestamp to the nearest frame.
// Decoders may truncate or round timestamps to whole microseconds, so the
// exact frame is never more than half a frame away.
func sampleForTimestamp(timestampUs int64, sampleRate int) int64 {
	return (timestampUs*int64(sampleRate) + microsecondsPerSecond/2) / microsecondsPerSecond
}

// SeekPositionUs converts a sample position to the microsecond offset sent to
// the platform decoder. The product is computed in floating point so large
// positions cannot overflow before the division.
func SeekPositionUs(sample int64, sampleRate int) int64 {
	return int64((microsecondsPerSecond * float64(sample)) / float64(sampleRate))
}

// ClearSamplesBeyondAvailableLength zeroes the part of a requested read that
// lies past lengthInSamples and returns how many samples remain to be read.
// The result is <= 0 when the whole request lies past the end.
func ClearSamplesBeyondAvailableLength(dest [][]int32, destOffset int, startSampleInFile int64,
	numSamples int, lengthInSamples int64) int {
	if numSamples <= 0 {
		return numSamples
	}
	if startSampleInFile+int64(numSamples) <= lengthInSamples {
		return numSamples
	}

	available := lengthInSamples - startSampleInFile
	clearFrom := available
	if clearFrom < 0 {
		clearFrom = 0
	}

	for _, channel := range dest {
		if channel == nil {
			continue
		}
		clear(channel[destOffset+int(clearFrom) : destOffset+numSamples])
	}

	return int(available)
}

func clearChannels(dest [][]int32, destOffset, n int) {
	for _, channel := range dest {
		if channel != nil {
			clear(channel[destOffset : destOffset+n])
		}
	}
}

// checkDestination verifies that every non-nil channel can hold the request
func checkDestination(dest [][]int32, destOffset, numSamples int) bool {
	if destOffset < 0 {
		return false
	}
	for _, channel := range dest {
		if channel != nil && len(channel) < destOffset+numSamples {
			return false
		}
	}
	return true
}

// ReadIntoBuffer reads frames sample frames starting at start and stores them
// interleaved at 16-bit depth in buf, ready for a go-audio encoder. It
// returns the number of frames that lie inside the stream.
func ReadIntoBuffer(r SampleReader, buf *goaudio.IntBuffer, start int64, frames int) (int, error) {
	info := r.Info()

	n := frames
	if remaining := info.LengthInSamples - start; remaining < int64(n) {
		n = int(max(remaining, 0))
	}

	channels := make([][]int32, info.NumChannels)
	for ch := range channels {
		channels[ch] = make([]int32, n)
	}

	if err := r.ReadSamples(channels, 0, start, n); err != nil {
		return 0, err
	}

	buf.Format = &goaudio.Format{
		NumChannels: info.NumChannels,
		SampleRate:  info.SampleRate,
	}
	buf.SourceBitDepth = 16

	size := n * info.NumChannels
	if cap(buf.Data) < size {
		buf.Data = make([]int, size)
	}
	buf.Data = buf.Data[:size]

	for i := 0; i < n; i++ {
		for ch := range channels {
			buf.Data[i*info.NumChannels+ch] = int(channels[ch][i] >> 16)
		}
	}

	return n, nil
}
