package source

import (
	"fmt"
	"image"
	"strings"
	"time"
)

// Source produces at most one brightness sample per render tick. ok=false
// means the tick carried no measurement (no face, empty region, sensor idle).
type Source interface {
	Sample(now time.Time) (value float64, ok bool)
	Close() error
}

// RegionSetter is implemented by sources that sample a region of an image.
type RegionSetter interface {
	SetRegion(r image.Rectangle)
	Region() image.Rectangle
}

// Kind names a source implementation.
type Kind string

const (
	KindDemo   Kind = "demo"
	KindSensor Kind = "sensor"
	KindNATS   Kind = "nats"
	KindImage  Kind = "image"
)

// ParseKind accepts the names above, case-insensitively.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindDemo, KindSensor, KindNATS, KindImage:
		return k, nil
	default:
		return "", fmt.Errorf("unknown source kind: '%s'", s)
	}
}

// Options selects and parameterises a source for Open.
type Options struct {
	Kind Kind

	SensorBus     string // periph bus name, "" for the first available
	SensorAddr    uint16 // 0 for the default 0x57
	SensorChannel string // "red" or "ir"

	NATSURL     string
	NATSSubject string

	ImageDir    string
	ImageRegion image.Rectangle // empty for the default region

	Seed int64 // demo noise seed
}

// Open builds the source named by opts.Kind.
func Open(opts Options) (Source, error) {
	var (
		src Source
		err error
	)
	switch opts.Kind {
	case KindDemo, "":
		return NewDemo(opts.Seed), nil
	case KindSensor:
		src, err = OpenSensor(opts.SensorBus, opts.SensorAddr, opts.SensorChannel)
	case KindNATS:
		src, err = DialNATS(opts.NATSURL, opts.NATSSubject)
	case KindImage:
		src, err = OpenFrames(opts.ImageDir, opts.ImageRegion)
	default:
		return nil, fmt.Errorf("unknown source kind: '%s'", opts.Kind)
	}
	if err != nil {
		return nil, err
	}
	return src, nil
}
