package source

import (
	"errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/periph/conn"
)

func TestParseKind(t *testing.T) {
	for in, want := range map[string]Kind{"demo": KindDemo, " Sensor ": KindSensor, "NATS": KindNATS, "image": KindImage} {
		got, err := ParseKind(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseKind("webcam")
	assert.Error(t, err)

	_, err = Open(Options{Kind: "webcam"})
	assert.Error(t, err)
}

func TestDemoSignal(t *testing.T) {
	d := NewDemo(1)
	start := time.Unix(100, 0)

	var sum float64
	for i := range 300 {
		v, ok := d.Sample(start.Add(time.Duration(i) * time.Second / 30))
		require.True(t, ok)

		want := DemoAmplitude * math.Sin(2*math.Pi*DemoHeartRateHz*float64(i)/30)
		assert.InDelta(t, want, v, DemoNoise/2+1e-6)
		sum += v
	}
	assert.InDelta(t, 0, sum/300, 0.01)
	assert.NoError(t, d.Close())
}

func solid(w, h int, g uint8) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, color.RGBA{R: 200, G: g, B: 10, A: 255})
		}
	}
	return img
}

func TestMeanGreen(t *testing.T) {
	img := solid(100, 100, 80)
	// Brighter square in the top-left quadrant.
	for y := range 50 {
		for x := range 50 {
			img.Set(x, y, color.RGBA{G: 160, A: 255})
		}
	}

	tests := []struct {
		desc   string
		region image.Rectangle
		want   float64
		ok     bool
	}{
		{"Bright quadrant", image.Rect(0, 0, 50, 50), 160, true},
		{"Dark quadrant", image.Rect(50, 50, 100, 100), 80, true},
		{"Straddling", image.Rect(25, 0, 75, 50), 120, true},
		{"Empty", image.Rectangle{}, 0, false},
		{"Outside", image.Rect(200, 200, 300, 300), 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			got, ok := MeanGreen(img, tt.region)
			assert.Equal(t, tt.ok, ok)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}

	// The generic path matches the RGBA fast path.
	gray := image.NewGray(image.Rect(0, 0, 10, 10))
	for i := range gray.Pix {
		gray.Pix[i] = 50
	}
	v, ok := MeanGreen(gray, gray.Bounds())
	assert.True(t, ok)
	assert.InDelta(t, 50, v, 1e-9)
}

func TestRegions(t *testing.T) {
	bounds := image.Rect(0, 0, 640, 480)
	def := image.Rect(224, 48, 224+192, 48+96)
	assert.Equal(t, def, DefaultRegion(bounds))

	tests := []struct {
		desc string
		in   image.Rectangle
		want image.Rectangle
	}{
		{"No selection", image.Rectangle{}, image.Rectangle{}},
		{"Usable", image.Rect(10, 10, 110, 90), image.Rect(10, 10, 110, 90)},
		{"Dragged backwards", image.Rect(110, 90, 10, 10), image.Rect(10, 10, 110, 90)},
		{"Too narrow", image.Rect(10, 10, 25, 200), def},
		{"Clipped below minimum", image.Rect(630, 0, 700, 100), def},
		{"Clipped", image.Rect(600, 400, 700, 500), image.Rect(600, 400, 640, 480)},
	}
	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeRegion(bounds, tt.in))
		})
	}
}

func TestFrames(t *testing.T) {
	dir := t.TempDir()
	for i, g := range []uint8{10, 20, 30} {
		fh, err := os.Create(filepath.Join(dir, "frame"+string(rune('a'+i))+".png"))
		require.NoError(t, err)
		require.NoError(t, png.Encode(fh, solid(64, 64, g)))
		require.NoError(t, fh.Close())
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip"), 0644))

	f, err := OpenFrames(dir, image.Rectangle{})
	require.NoError(t, err)
	assert.Equal(t, DefaultRegion(image.Rect(0, 0, 64, 64)), f.Region())

	var got []float64
	for range 4 {
		v, ok := f.Sample(time.Now())
		require.True(t, ok)
		got = append(got, v)
	}
	assert.Equal(t, []float64{10, 20, 30, 10}, got)

	f.SetRegion(image.Rectangle{})
	_, ok := f.Sample(time.Now())
	assert.False(t, ok, "cleared region yields no sample")

	require.NoError(t, f.Close())
	_, ok = f.Sample(time.Now())
	assert.False(t, ok)

	_, err = OpenFrames(t.TempDir(), image.Rectangle{})
	assert.Error(t, err, "empty directory")
}

// fakeI2C emulates the MAX30102 register file.
type fakeI2C struct {
	regs   map[byte]byte
	fifo   [][6]byte
	writes [][2]byte
	err    error
}

func newFakeI2C() *fakeI2C {
	return &fakeI2C{regs: map[byte]byte{regPartID: sensorPartID}}
}

func (f *fakeI2C) String() string      { return "fake-i2c" }
func (f *fakeI2C) Duplex() conn.Duplex { return conn.Half }

func (f *fakeI2C) Tx(w, r []byte) error {
	if f.err != nil {
		return f.err
	}
	if len(w) == 2 {
		f.regs[w[0]] = w[1]
		f.writes = append(f.writes, [2]byte{w[0], w[1]})
		return nil
	}
	switch reg := w[0]; reg {
	case regFIFOData:
		entry := f.fifo[0]
		f.fifo = f.fifo[1:]
		copy(r, entry[:])
		f.regs[regFIFORdPtr] = (f.regs[regFIFORdPtr] + 1) % fifoDepth
	default:
		r[0] = f.regs[reg]
	}
	return nil
}

func (f *fakeI2C) push(red, ir int) {
	f.fifo = append(f.fifo, [6]byte{
		byte(red >> 16), byte(red >> 8), byte(red),
		byte(ir >> 16), byte(ir >> 8), byte(ir),
	})
	f.regs[regFIFOWrPtr] = (f.regs[regFIFOWrPtr] + 1) % fifoDepth
}

func TestSensor(t *testing.T) {
	dev := newFakeI2C()
	s, err := NewSensor(dev, "red")
	require.NoError(t, err)
	assert.Equal(t, [2]byte{regModeCfg, modeReset}, dev.writes[0])
	assert.Equal(t, [2]byte{regModeCfg, modeSpO2}, dev.writes[len(dev.writes)-1])

	_, ok := s.Sample(time.Now())
	assert.False(t, ok, "empty FIFO")

	dev.push(1000, 5)
	dev.push(maxADC, 7)
	v, ok := s.Sample(time.Now())
	require.True(t, ok)
	assert.Equal(t, 1.0, v, "newest entry wins")
	assert.Empty(t, dev.fifo)

	dev.err = errors.New("bus gone")
	_, ok = s.Sample(time.Now())
	assert.False(t, ok)
	assert.Error(t, s.Close())
}

func TestSensorRejectsWrongPart(t *testing.T) {
	dev := newFakeI2C()
	dev.regs[regPartID] = 0x11
	_, err := NewSensor(dev, "")
	assert.ErrorIs(t, err, ErrNotSensor)

	_, err = NewSensor(newFakeI2C(), "green")
	assert.Error(t, err)
}

func TestDecodeFrame(t *testing.T) {
	red, ir := DecodeFrame([6]byte{0xFF, 0xFF, 0xFF, 0x00, 0x00, 0x01})
	assert.Equal(t, 1.0, red, "bits above 18 are masked")
	assert.InDelta(t, 1.0/maxADC, ir, 1e-15)
}

func TestNATSSamples(t *testing.T) {
	in := []float32{0.5, -0.25, 1e-3}
	out, err := DecodeSamples(EncodeSamples(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = DecodeSamples([]byte{1, 2, 3})
	assert.Error(t, err)

	s := &NATSStream{}
	_, ok := s.Sample(time.Now())
	assert.False(t, ok)

	s.handle(&nats.Msg{Subject: DefaultNATSSubject, Data: EncodeSamples([]float32{0.1, 0.2})})
	s.handle(&nats.Msg{Subject: DefaultNATSSubject, Data: EncodeSamples([]float32{0.3})})
	s.handle(&nats.Msg{Subject: DefaultNATSSubject, Data: []byte{9}})

	v, ok := s.Sample(time.Now())
	require.True(t, ok)
	assert.InDelta(t, 0.3, v, 1e-7)
	assert.Equal(t, uint64(2), s.Dropped())

	_, ok = s.Sample(time.Now())
	assert.False(t, ok, "each sample is delivered once")

	nan := float32(math.NaN())
	inf := float32(math.Inf(1))
	s.handle(&nats.Msg{Subject: DefaultNATSSubject, Data: EncodeSamples([]float32{nan, inf})})
	_, ok = s.Sample(time.Now())
	assert.False(t, ok, "a batch of non-finite values carries no sample")

	s.handle(&nats.Msg{Subject: DefaultNATSSubject, Data: EncodeSamples([]float32{0.4, nan})})
	v, ok = s.Sample(time.Now())
	require.True(t, ok)
	assert.InDelta(t, 0.4, v, 1e-7)
	assert.NoError(t, s.Close())
}
