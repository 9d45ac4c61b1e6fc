package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	apperrors "github.com/GriffinCanCode/good-listener/backend/sod/internal/errors"
	"github.com/GriffinCanCode/good-listener/backend/sod/pkg/sod"
)

// wavReadSamples is how many samples parseWAV pulls per read.
const wavReadSamples = 16 * sod.FrameSamples

// readAudio loads a WAV file or raw little-endian PCM16 (.pcm, .raw).
func readAudio(path string) ([]int16, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.CodeNotFound, "read %s", path)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pcm", ".raw":
		if len(data)%2 != 0 {
			return nil, apperrors.Newf(apperrors.CodeAudioInvalidFormat, "%s: odd PCM16 length %d", path, len(data))
		}
		return sod.DecodePCM16(data), nil
	default:
		samples, err := parseWAV(bytes.NewReader(data))
		if err != nil {
			return nil, apperrors.Wrapf(err, apperrors.CodeAudioInvalidFormat, "%s", path)
		}
		return samples, nil
	}
}

// parseWAV reads a RIFF/WAVE file holding 16-bit mono PCM at 16kHz. The
// data chunk is read until EOF, so a declared length past the end of the
// input (or the 0xFFFFFFFF of a streamed file) only bounds the read.
func parseWAV(r io.ReadSeeker) ([]int16, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		if err := dec.Err(); err != nil {
			return nil, fmt.Errorf("read WAV header: %w", err)
		}
		return nil, errors.New("not a RIFF/WAVE file")
	}
	if err := checkFormat(dec); err != nil {
		return nil, err
	}
	if err := dec.FwdToPCM(); err != nil {
		return nil, fmt.Errorf("find data chunk: %w", err)
	}

	buf := &audio.IntBuffer{Data: make([]int, wavReadSamples)}
	var samples []int16
	for {
		n, err := dec.PCMBuffer(buf)
		if err != nil {
			return nil, fmt.Errorf("read data chunk: %w", err)
		}
		if n == 0 {
			return samples, nil
		}
		for _, v := range buf.Data[:n] {
			samples = append(samples, int16(v))
		}
	}
}

func checkFormat(dec *wav.Decoder) error {
	switch {
	case dec.WavAudioFormat != 1:
		return fmt.Errorf("unsupported WAV encoding %d, want PCM", dec.WavAudioFormat)
	case dec.NumChans != 1:
		return fmt.Errorf("%d channels, want mono", dec.NumChans)
	case dec.SampleRate != sod.SampleRate:
		return fmt.Errorf("sample rate %d, want %d", dec.SampleRate, sod.SampleRate)
	case dec.BitDepth != 16:
		return fmt.Errorf("%d bits per sample, want 16", dec.BitDepth)
	}
	return nil
}
