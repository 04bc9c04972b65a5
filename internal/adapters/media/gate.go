package media

import (
	"image"
	"sync"
	"sync/atomic"

	"github.com/pion/mediadevices/pkg/io/audio"
	"github.com/pion/mediadevices/pkg/io/video"
	"github.com/pion/mediadevices/pkg/wave"
)

// gateAudio replaces samples with silence while on is false. The track keeps
// running so the encoder and the RTP stream stay alive.
func gateAudio(on *atomic.Bool) audio.TransformFunc {
	return func(r audio.Reader) audio.Reader {
		return audio.ReaderFunc(func() (wave.Audio, func(), error) {
			chunk, release, err := r.Read()
			if err != nil || on.Load() {
				return chunk, release, err
			}
			silence(chunk)
			return chunk, release, nil
		})
	}
}

func silence(chunk wave.Audio) {
	switch c := chunk.(type) {
	case *wave.Int16Interleaved:
		clear(c.Data)
	case *wave.Int16NonInterleaved:
		for _, ch := range c.Data {
			clear(ch)
		}
	case *wave.Float32Interleaved:
		clear(c.Data)
	case *wave.Float32NonInterleaved:
		for _, ch := range c.Data {
			clear(ch)
		}
	}
}

// gateVideo substitutes a black frame of the same size while on is false.
func gateVideo(on *atomic.Bool) video.TransformFunc {
	var frames blackFrames
	return func(r video.Reader) video.Reader {
		return video.ReaderFunc(func() (image.Image, func(), error) {
			img, release, err := r.Read()
			if err != nil || on.Load() {
				return img, release, err
			}
			return frames.get(img.Bounds()), release, nil
		})
	}
}

type blackFrames struct {
	mu     sync.Mutex
	bounds image.Rectangle
	frame  *image.YCbCr
}

func (b *blackFrames) get(bounds image.Rectangle) *image.YCbCr {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.frame != nil && b.bounds == bounds {
		return b.frame
	}
	f := image.NewYCbCr(bounds, image.YCbCrSubsampleRatio420)
	for i := range f.Y {
		f.Y[i] = 16
	}
	for i := range f.Cb {
		f.Cb[i] = 128
	}
	for i := range f.Cr {
		f.Cr[i] = 128
	}
	b.bounds, b.frame = bounds, f
	return f
}
