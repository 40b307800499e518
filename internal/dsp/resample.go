package dsp

import "errors"

// Errors surfaced by the resampling/format stage of normalize() (spec.md
// §4.1 "Failure modes").
var (
	ErrEmptyBuffer       = errors.New("dsp: empty buffer")
	ErrUnsupportedFormat = errors.New("dsp: unsupported format (more than 2 channels)")
	ErrConverterInitFail = errors.New("dsp: converter init failed")
	ErrConversionFailed  = errors.New("dsp: conversion failed")
)

// TargetSampleRate is the normalization kernel's fixed working rate
// (spec.md §4.1 step 1).
const TargetSampleRate = 44100

// Resample performs linear-interpolation resampling of each channel to
// targetRate, mirroring the resample-on-mismatch behavior the teacher's
// MusicPlayer applies via beep.Resample when a decoded file's rate doesn't
// match the engine's rate. Returns ErrEmptyBuffer on a zero-length input,
// ErrConverterInitFail on a non-positive rate, and, when the rates differ,
// ErrConversionFailed if the channels differ in length. Equal rates return a
// copy of the input without checking channel lengths.
func Resample(frames [][]float32, sourceRate, targetRate int) ([][]float32, error) {
	if len(frames) == 0 || len(frames[0]) == 0 {
		return nil, ErrEmptyBuffer
	}
	if sourceRate <= 0 || targetRate <= 0 {
		return nil, ErrConverterInitFail
	}
	if sourceRate == targetRate {
		out := make([][]float32, len(frames))
		for ch := range frames {
			out[ch] = append([]float32(nil), frames[ch]...)
		}
		return out, nil
	}

	srcLen := len(frames[0])
	for _, ch := range frames {
		if len(ch) != srcLen {
			return nil, ErrConversionFailed
		}
	}

	ratio := float64(sourceRate) / float64(targetRate)
	dstLen := int(float64(srcLen) / ratio)
	if dstLen <= 0 {
		return nil, ErrConversionFailed
	}

	out := make([][]float32, len(frames))
	for ch, data := range frames {
		resampled := make([]float32, dstLen)
		for i := 0; i < dstLen; i++ {
			srcPos := float64(i) * ratio
			i0 := int(srcPos)
			frac := srcPos - float64(i0)
			i1 := i0 + 1
			if i1 >= srcLen {
				i1 = srcLen - 1
			}
			if i0 >= srcLen {
				i0 = srcLen - 1
			}
			resampled[i] = float32(float64(data[i0])*(1-frac) + float64(data[i1])*frac)
		}
		out[ch] = resampled
	}

	return out, nil
}
