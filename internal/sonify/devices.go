package sonify

import (
	"fmt"
	"io"

	"github.com/gordonklaus/portaudio"
)

// DefaultDeviceID selects the host's default output device.
const DefaultDeviceID = -1

// Device describes one PortAudio device.
type Device struct {
	ID                int
	Name              string
	MaxInputChannels  int
	MaxOutputChannels int
	DefaultSampleRate float64
}

// Kind returns "Input", "Output" or "Input/Output".
func (d Device) Kind() string {
	switch {
	case d.MaxInputChannels > 0 && d.MaxOutputChannels > 0:
		return "Input/Output"
	case d.MaxInputChannels > 0:
		return "Input"
	case d.MaxOutputChannels > 0:
		return "Output"
	}
	return ""
}

// Initialize sets up the PortAudio subsystem.
// This must be called before any audio operations and paired with a Terminate() call.
func Initialize() error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	return nil
}

// Terminate cleanly shuts down the PortAudio subsystem.
func Terminate() error {
	if err := portaudio.Terminate(); err != nil {
		return fmt.Errorf("failed to terminate PortAudio: %w", err)
	}
	return nil
}

var (
	paDevicesFunc       = portaudio.Devices
	paDefaultOutputFunc = portaudio.DefaultOutputDevice
)

// HostDevices returns every device PortAudio reports. PortAudio must be
// initialized.
func HostDevices() ([]Device, error) {
	infos, err := paDevicesFunc()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate audio devices: %w", err)
	}
	devices := make([]Device, len(infos))
	for i, info := range infos {
		devices[i] = Device{
			ID:                i,
			Name:              info.Name,
			MaxInputChannels:  info.MaxInputChannels,
			MaxOutputChannels: info.MaxOutputChannels,
			DefaultSampleRate: info.DefaultSampleRate,
		}
	}
	return devices, nil
}

// GetDevices initializes PortAudio, lists the devices and shuts it down again.
func GetDevices() ([]Device, error) {
	if err := Initialize(); err != nil {
		return nil, err
	}
	defer Terminate()
	return HostDevices()
}

// OutputDevice resolves deviceID, DefaultDeviceID meaning the host default.
func OutputDevice(deviceID int) (*portaudio.DeviceInfo, error) {
	if deviceID == DefaultDeviceID {
		return paDefaultOutputFunc()
	}

	infos, err := paDevicesFunc()
	if err != nil {
		return nil, err
	}
	if deviceID < 0 || deviceID >= len(infos) {
		return nil, fmt.Errorf("invalid device ID: %d", deviceID)
	}
	if infos[deviceID].MaxOutputChannels < 1 {
		return nil, fmt.Errorf("device %d (%s) has no output channels", deviceID, infos[deviceID].Name)
	}
	return infos[deviceID], nil
}

// ListDevices writes a human-readable device table to w.
func ListDevices(w io.Writer, devices []Device) {
	fmt.Fprintf(w, "\nAvailable Audio Devices\n\n")
	for _, d := range devices {
		fmt.Fprintf(w, "[%d] %s (%s)\n", d.ID, d.Name, d.Kind())
		fmt.Fprintf(w, "    Input channels: %d, Output channels: %d\n", d.MaxInputChannels, d.MaxOutputChannels)
		fmt.Fprintf(w, "    Default sample rate: %.0f Hz\n\n", d.DefaultSampleRate)
	}
}
