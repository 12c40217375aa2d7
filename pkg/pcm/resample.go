package pcm

// ResampleMono resamples mono normalized samples from srcRate to dstRate
// using linear interpolation. If the rates match, or either rate is not
// positive, the input slice is returned unchanged. The core capture and
// playback paths run at fixed rates and never resample; this exists for
// transports that echo audio across the two rate domains.
func ResampleMono(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 {
		return samples
	}
	if srcRate == dstRate || len(samples) == 0 {
		return samples
	}
	dstSamples := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]float32, dstSamples)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := samples[srcIdx]
		s1 := s0
		if srcIdx+1 < len(samples) {
			s1 = samples[srcIdx+1]
		}
		out[i] = float32(float64(s0)*(1-frac) + float64(s1)*frac)
	}
	return out
}

// StereoToMono downmixes interleaved stereo samples to mono by averaging
// each left/right pair. A trailing unpaired sample is dropped.
func StereoToMono(samples []float32) []float32 {
	n := len(samples) / 2
	out := make([]float32, n)
	for i := range n {
		out[i] = (samples[2*i] + samples[2*i+1]) / 2
	}
	return out
}

// MonoToStereo duplicates each mono sample into an interleaved stereo pair.
func MonoToStereo(samples []float32) []float32 {
	out := make([]float32, len(samples)*2)
	for i, s := range samples {
		out[2*i] = s
		out[2*i+1] = s
	}
	return out
}
