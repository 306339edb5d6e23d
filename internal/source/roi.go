package source

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	applog "pulse/internal/log"
)

// MinRegionSide is the smallest usable region edge in pixels.
const MinRegionSide = 20

// DefaultRegion returns the forehead-sized region used when no usable region
// has been drawn: 35%/10% from the top-left corner, 30% wide and 20% high.
func DefaultRegion(bounds image.Rectangle) image.Rectangle {
	w, h := bounds.Dx(), bounds.Dy()
	x0 := bounds.Min.X + w*35/100
	y0 := bounds.Min.Y + h*10/100
	return image.Rect(x0, y0, x0+w*30/100, y0+h*20/100)
}

// NormalizeRegion clips r to bounds and replaces regions smaller than
// MinRegionSide on either edge with DefaultRegion. A zero rectangle means
// "no region selected" and stays empty.
func NormalizeRegion(bounds, r image.Rectangle) image.Rectangle {
	r = r.Canon()
	if r.Empty() {
		return image.Rectangle{}
	}
	r = r.Intersect(bounds)
	if r.Dx() < MinRegionSide || r.Dy() < MinRegionSide {
		return DefaultRegion(bounds)
	}
	return r
}

// MeanGreen returns the mean green channel (0-255) of img inside r. An empty
// region yields ok=false.
func MeanGreen(img image.Image, r image.Rectangle) (float64, bool) {
	r = r.Intersect(img.Bounds())
	if r.Empty() {
		return 0, false
	}

	var sum uint64
	switch src := img.(type) {
	case *image.RGBA:
		for y := r.Min.Y; y < r.Max.Y; y++ {
			off := src.PixOffset(r.Min.X, y)
			for x := 0; x < r.Dx(); x++ {
				sum += uint64(src.Pix[off+4*x+1])
			}
		}
	case *image.NRGBA:
		for y := r.Min.Y; y < r.Max.Y; y++ {
			off := src.PixOffset(r.Min.X, y)
			for x := 0; x < r.Dx(); x++ {
				sum += uint64(src.Pix[off+4*x+1])
			}
		}
	default:
		for y := r.Min.Y; y < r.Max.Y; y++ {
			for x := r.Min.X; x < r.Max.X; x++ {
				_, g, _, _ := img.At(x, y).RGBA()
				sum += uint64(g >> 8)
			}
		}
	}
	return float64(sum) / float64(r.Dx()*r.Dy()), true
}

// Frames replays a directory of still images as a video, one frame per
// Sample call, reading the mean green channel of a region.
type Frames struct {
	mu     sync.Mutex
	frames []image.Image
	region image.Rectangle
	next   int
}

// OpenFrames decodes every PNG and JPEG in dir, in name order.
func OpenFrames(dir string, region image.Rectangle) (*Frames, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read frame directory '%s': %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".png", ".jpg", ".jpeg":
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)
	if len(names) == 0 {
		return nil, fmt.Errorf("no PNG or JPEG frames in '%s'", dir)
	}

	frames := make([]image.Image, 0, len(names))
	for _, name := range names {
		img, err := decodeFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		frames = append(frames, img)
	}

	f := NewFrames(frames, region)
	applog.Infof("Source: loaded %d frames from %s, region %v", len(frames), dir, f.Region())
	return f, nil
}

// NewFrames wraps already decoded frames. An empty region selects the
// default region of the first frame.
func NewFrames(frames []image.Image, region image.Rectangle) *Frames {
	f := &Frames{frames: frames}
	if len(frames) > 0 {
		bounds := frames[0].Bounds()
		if region.Empty() {
			f.region = DefaultRegion(bounds)
		} else {
			f.region = NormalizeRegion(bounds, region)
		}
	}
	return f
}

func decodeFile(path string) (image.Image, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open frame: %w", err)
	}
	defer fh.Close()

	img, _, err := image.Decode(fh)
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame '%s': %w", path, err)
	}
	return img, nil
}

// SetRegion replaces the sampled region. A zero rectangle clears it, after
// which every tick reports no sample.
func (f *Frames) SetRegion(r image.Rectangle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.frames) == 0 {
		return
	}
	f.region = NormalizeRegion(f.frames[0].Bounds(), r)
}

// Region returns the sampled region.
func (f *Frames) Region() image.Rectangle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.region
}

var _ RegionSetter = (*Frames)(nil)

// Sample reads the next frame, looping at the end.
func (f *Frames) Sample(time.Time) (float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.frames) == 0 {
		return 0, false
	}
	img := f.frames[f.next]
	f.next = (f.next + 1) % len(f.frames)
	return MeanGreen(img, f.region)
}

func (f *Frames) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = nil
	return nil
}
