package engine

import (
	"errors"
	"fmt"
	"image"

	"pulse/internal/filter"
	applog "pulse/internal/log"
	"pulse/internal/pipeline"
	"pulse/internal/source"
	"pulse/internal/transport"
)

var (
	// ErrNoTone is returned when sonification is requested without an output.
	ErrNoTone = errors.New("sonification is not configured")
	// ErrNoRegion is returned when the source does not sample a region.
	ErrNoRegion = errors.New("source has no region")
)

// SetAlpha adjusts the amplification factor.
// Values outside [0, pipeline.MaxAlpha] are clamped.
func (e *Engine) SetAlpha(alpha float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pipe.SetAlpha(alpha)
}

// Alpha returns the amplification factor.
func (e *Engine) Alpha() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pipe.Alpha()
}

// SetPassband changes the cutoffs. Invalid values are rejected and the
// current passband is kept.
func (e *Engine) SetPassband(lowHz, highHz float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.pipe.SetPassband(lowHz, highHz); err != nil {
		return err
	}
	e.beats.Reset()
	return nil
}

// NudgePassband moves one edge of the passband by delta Hz. Moves that would
// make the passband invalid are ignored.
func (e *Engine) NudgePassband(stage filter.Stage, delta float64) error {
	e.mu.Lock()
	low, high := e.pipe.Passband()
	e.mu.Unlock()

	if stage == filter.HighPass {
		low += delta
	} else {
		high += delta
	}
	return e.SetPassband(low, high)
}

// SetFilterEnabled toggles one filter section.
func (e *Engine) SetFilterEnabled(stage filter.Stage, enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pipe.SetFilterEnabled(stage, enabled)
	e.beats.Reset()
}

// ToggleFilter flips one filter section and returns its new state.
func (e *Engine) ToggleFilter(stage filter.Stage) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	on := !e.pipe.FilterEnabled(stage)
	e.pipe.SetFilterEnabled(stage, on)
	e.beats.Reset()
	return on
}

// SetMinSignalPower changes the estimator's RMS gate.
func (e *Engine) SetMinSignalPower(power float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pipe.SetMinSignalPower(power)
}

// SetTone enables or disables sonification.
func (e *Engine) SetTone(on bool) error {
	if e.tone == nil {
		return ErrNoTone
	}
	e.tone.SetEnabled(on)
	return nil
}

// SetRegion moves the sampled region and resets the pipeline, since samples
// from the old region say nothing about the new one.
func (e *Engine) SetRegion(r image.Rectangle) error {
	rs, ok := e.src.(source.RegionSetter)
	if !ok {
		return ErrNoRegion
	}
	rs.SetRegion(r)
	e.Reset()
	applog.Infof("Engine: region set to %v", rs.Region())
	return nil
}

// Reset clears the pipeline, including the clock and the heart-rate history.
// Call it when the source or its region changes.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pipe.Reset()
	e.beats.Reset()
}

// Apply executes a remote command.
func (e *Engine) Apply(cmd transport.Command) error {
	applog.Debugf("Engine: command %+v", cmd)
	switch cmd.Type {
	case "passband":
		return e.SetPassband(cmd.Low, cmd.High)
	case "filter":
		stage, err := filter.ParseStage(cmd.Stage)
		if err != nil {
			return err
		}
		e.SetFilterEnabled(stage, cmd.Enabled)
	case "alpha":
		if cmd.Alpha < 0 || cmd.Alpha > pipeline.MaxAlpha {
			applog.Warnf("Engine: alpha %g clamped to [0, %g]", cmd.Alpha, pipeline.MaxAlpha)
		}
		e.SetAlpha(cmd.Alpha)
	case "sonify":
		return e.SetTone(cmd.Enabled)
	case "region":
		return e.SetRegion(image.Rect(cmd.X, cmd.Y, cmd.X+cmd.Width, cmd.Y+cmd.Height))
	case "reset":
		e.Reset()
	default:
		return fmt.Errorf("unknown command type: '%s'", cmd.Type)
	}
	return nil
}
