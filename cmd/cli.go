package cmd

import (
	"fmt"
	"path/filepath"
	"time"

	"pulse/internal/config"
	"pulse/pkg/build"

	"github.com/spf13/cobra"
)

// Commands that run instead of the engine.
const (
	CommandList    = "list"
	CommandVersion = "version"
)

// Options is the outcome of argument parsing: the resolved configuration and
// what to do with it.
type Options struct {
	Config      *config.Config
	Command     string // "" runs the engine
	TUIMode     bool
	Interactive bool   // list: pick a device instead of printing
	OutputFile  string // recording path, set when recording is enabled
}

// flagValues holds raw flag values; only flags the user set override the
// configuration file.
type flagValues struct {
	configPath string
	source     string
	imageDir   string
	seed       int64
	renderRate float64
	lowCutoff  float64
	highCutoff float64
	lowPass    bool
	highPass   bool
	alpha      float64
	record     bool
	output     string
	sonify     bool
	device     int
	websocket  string
	udp        string
	nats       string
	headless   bool
	verbose    bool
}

// ParseArgs parses args (without the program name).
func ParseArgs(args []string) (*Options, error) {
	buildInfo := build.GetBuildFlags()
	options := &Options{}
	var fv flagValues

	load := func(cmd *cobra.Command) error {
		cfg, err := config.LoadConfig(fv.configPath)
		if err != nil {
			return err
		}
		applyFlags(cmd, &fv, cfg)
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid flags: %w", err)
		}
		options.Config = cfg
		return nil
	}

	rootCmd := &cobra.Command{
		Use:           buildInfo.Name,
		Short:         buildInfo.Description,
		Version:       buildInfo.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
			HiddenDefaultCmd:    true,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := load(cmd); err != nil {
				return err
			}
			options.TUIMode = !fv.headless
			if options.Config.Recording.Enabled {
				options.OutputFile = fv.output
				if options.OutputFile == "" {
					options.OutputFile = filepath.Join(options.Config.Recording.OutputDir,
						"pulse-"+time.Now().UTC().Format("02-01-2006-150405")+".wav")
				}
			}
			return nil
		},
	}

	// Display help message
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	listCmd := &cobra.Command{
		Use:   CommandList,
		Short: "List audio output devices for sonification",
		RunE: func(cmd *cobra.Command, args []string) error {
			options.Command = CommandList
			return load(cmd)
		},
	}
	listCmd.Flags().BoolVarP(&options.Interactive, "interactive", "i", false,
		"Pick a device in a terminal UI and print its ID")
	rootCmd.AddCommand(listCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   CommandVersion,
		Short: "Print build information",
		Run: func(cmd *cobra.Command, args []string) {
			options.Command = CommandVersion
		},
	})

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&fv.configPath, "config", "", "Configuration file (default ./"+config.DefaultFile+")")
	pf.BoolVarP(&fv.verbose, "verbose", "v", false, "Show verbose output")

	// Source
	f := rootCmd.Flags()
	f.StringVarP(&fv.source, "source", "s", "demo", "Sample source: demo, sensor, nats or image")
	f.StringVar(&fv.imageDir, "image-dir", "", "Directory of frames for the image source")
	f.Int64Var(&fv.seed, "seed", 1, "Noise seed for the demo source")
	f.Float64Var(&fv.renderRate, "render-rate", 60, "Ticks per second")

	// Signal chain
	f.Float64Var(&fv.lowCutoff, "low", 0.7, "High-pass cutoff in Hz")
	f.Float64Var(&fv.highCutoff, "high", 3.0, "Low-pass cutoff in Hz")
	f.BoolVar(&fv.highPass, "high-pass", true, "Enable the high-pass section")
	f.BoolVar(&fv.lowPass, "low-pass", false, "Enable the low-pass section")
	f.Float64VarP(&fv.alpha, "alpha", "a", 100, "Amplification of the filtered signal")

	// Outputs
	f.BoolVarP(&fv.record, "record", "r", false, "Record the amplified signal")
	f.StringVarP(&fv.output, "output", "o", "",
		"Output file name. Default is pulse-DD-MM-YYYY-HHMMSS.wav in the recording directory")
	f.BoolVar(&fv.sonify, "sonify", false, "Play a tone that follows the filtered signal")
	f.IntVarP(&fv.device, "device", "d", -1,
		"Output device ID for sonification. Use 'list' command to see available devices.")
	f.StringVar(&fv.websocket, "websocket", "", "Serve frames over WebSocket on this address")
	f.StringVar(&fv.udp, "udp", "", "Send spectrum packets to this UDP address")
	f.StringVar(&fv.nats, "nats", "", "Publish frames to this NATS server")
	f.BoolVar(&fv.headless, "headless", false, "Run without the terminal monitor")

	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		return nil, err
	}
	return options, nil
}

// applyFlags copies every flag the user set onto cfg.
func applyFlags(cmd *cobra.Command, fv *flagValues, cfg *config.Config) {
	changed := cmd.Flags().Changed
	if changed("verbose") && fv.verbose {
		cfg.Debug = true
	}
	if changed("source") {
		cfg.Source.Kind = fv.source
	}
	if changed("image-dir") {
		cfg.Source.ImageDir = fv.imageDir
	}
	if changed("seed") {
		cfg.Source.Seed = fv.seed
	}
	if changed("render-rate") {
		cfg.Source.RenderRate = fv.renderRate
	}
	if changed("low") {
		cfg.Pipeline.LowCutoff = fv.lowCutoff
	}
	if changed("high") {
		cfg.Pipeline.HighCutoff = fv.highCutoff
	}
	if changed("high-pass") {
		cfg.Pipeline.HighPass = fv.highPass
	}
	if changed("low-pass") {
		cfg.Pipeline.LowPass = fv.lowPass
	}
	if changed("alpha") {
		cfg.Pipeline.Alpha = fv.alpha
	}
	if changed("record") || changed("output") {
		cfg.Recording.Enabled = fv.record || fv.output != ""
	}
	if changed("sonify") {
		cfg.Sonify.Enabled = fv.sonify
	}
	if changed("device") {
		cfg.Sonify.OutputDevice = fv.device
	}
	if changed("websocket") {
		cfg.Transport.WebSocketEnabled = true
		cfg.Transport.WebSocketAddress = fv.websocket
	}
	if changed("udp") {
		cfg.Transport.UDPEnabled = true
		cfg.Transport.UDPTargetAddress = fv.udp
	}
	if changed("nats") {
		cfg.Transport.NATSEnabled = true
		cfg.Transport.NATSURL = fv.nats
	}
}
