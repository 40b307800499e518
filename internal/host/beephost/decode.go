package beephost

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/vorbis"
	"github.com/gopxl/beep/wav"

	"ambientplayer/internal/audiofile"
)

// FileDecoder implements host.Decoder by fully draining a vorbis or wav
// stream into an in-memory audiofile.Buffer, grounded on the teacher's
// music_player.go vorbis.Decode call, generalized to also read wav and to
// drain to completion rather than stream incrementally (the cache wants a
// fully decoded buffer to normalize and reuse across plays).
type FileDecoder struct{}

func (FileDecoder) Decode(uri string) (*audiofile.Buffer, error) {
	f, err := os.Open(uri)
	if err != nil {
		return nil, err
	}

	var (
		streamer beep.StreamSeekCloser
		format   beep.Format
	)
	switch strings.ToLower(filepath.Ext(uri)) {
	case ".wav":
		streamer, format, err = wav.Decode(f)
	default:
		streamer, format, err = vorbis.Decode(f)
	}
	if err != nil {
		f.Close()
		return nil, err
	}
	defer streamer.Close()

	channels := format.NumChannels
	if channels < 1 {
		channels = 2
	}
	frames := make([][]float32, channels)
	total := streamer.Len()
	if total < 0 {
		total = 0
	}
	for ch := range frames {
		frames[ch] = make([]float32, 0, total)
	}

	buf := make([][2]float64, 512)
	for {
		n, ok := streamer.Stream(buf)
		for i := 0; i < n; i++ {
			frames[0] = append(frames[0], float32(buf[i][0]))
			if channels > 1 {
				frames[1] = append(frames[1], float32(buf[i][1]))
			}
		}
		if !ok {
			break
		}
	}

	return &audiofile.Buffer{
		Frames:     frames,
		SampleRate: int(format.SampleRate),
		Channels:   channels,
	}, nil
}
