package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/good-listener/backend/sod/internal/config"
	apperrors "github.com/GriffinCanCode/good-listener/backend/sod/internal/errors"
	"github.com/GriffinCanCode/good-listener/backend/sod/pkg/sod"
)

type detectOptions struct {
	sensitivity int
	gapMS       int
	preset      string
	presetFile  string
	json        bool
	profile     bool
}

func newDetectCmd() *cobra.Command {
	var opts detectOptions
	cmd := &cobra.Command{
		Use:   "detect FILE",
		Short: "Report speech onsets in a WAV or raw PCM16 file",
		Long: `Runs the detector over 16kHz mono 16-bit audio and prints each onset with
its time and the window in which speech actually began. Files ending in .pcm
or .raw are read as headerless little-endian samples.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.resolve(cmd)
			if err != nil {
				return err
			}
			samples, err := readAudio(args[0])
			if err != nil {
				return err
			}
			report, err := detect(samples, cfg, opts.profile)
			if err != nil {
				return err
			}
			report.File = args[0]
			if opts.json {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			report.print(cmd.OutOrStdout())
			return nil
		},
	}
	f := cmd.Flags()
	f.IntVar(&opts.sensitivity, "sensitivity", sod.NominalSensitivity, "Sensitivity 0..32767")
	f.IntVar(&opts.gapMS, "gap", int(sod.OnsetGap400ms/time.Millisecond), "Onset gap in ms (0, 100, 200, 300, 400, 500, 1000)")
	f.StringVar(&opts.preset, "preset", "", "Named tuning; explicit flags override it")
	f.StringVar(&opts.presetFile, "preset-file", "", "YAML preset file consulted before built-in presets")
	f.BoolVar(&opts.json, "json", false, "Print a JSON report")
	f.BoolVar(&opts.profile, "profile", false, "Log per-frame processing cost")
	return cmd
}

// resolve applies the preset, then any flags given explicitly.
func (o detectOptions) resolve(cmd *cobra.Command) (sod.Config, error) {
	cfg := sod.DefaultConfig()
	if o.preset != "" {
		p, err := lookupPreset(o.preset, o.presetFile)
		if err != nil {
			return sod.Config{}, err
		}
		cfg = p
	}
	flags := cmd.Flags()
	if o.preset == "" || flags.Changed("sensitivity") {
		cfg.Sensitivity = o.sensitivity
	}
	if o.preset == "" || flags.Changed("gap") {
		gap, err := sod.GapFromMillis(o.gapMS)
		if err != nil {
			return sod.Config{}, apperrors.FromSOD(err)
		}
		cfg.OnsetGap = gap
	}
	if err := cfg.Validate(); err != nil {
		return sod.Config{}, apperrors.FromSOD(err)
	}
	return cfg, nil
}

func lookupPreset(name, file string) (sod.Config, error) {
	if file != "" {
		presets, err := config.LoadPresets(file)
		if err != nil {
			return sod.Config{}, err
		}
		if cfg, ok := presets[name]; ok {
			return cfg, nil
		}
	}
	if cfg, ok := sod.LookupPreset(name); ok {
		return cfg, nil
	}
	return sod.Config{}, apperrors.Newf(apperrors.CodeNotFound, "unknown preset %q", name)
}

type onsetReport struct {
	Frame        int64   `json:"frame"`
	StartFrame   int64   `json:"start_frame"`
	AtMS         int64   `json:"at_ms"`
	StartMS      int64   `json:"start_ms"`
	WindowFromMS int64   `json:"window_from_ms"`
	WindowToMS   int64   `json:"window_to_ms"`
	LevelDB      float64 `json:"level_db"`
	FloorDB      float64 `json:"floor_db"`
}

type detectReport struct {
	File        string           `json:"file"`
	Sensitivity int              `json:"sensitivity"`
	OnsetGapMS  int64            `json:"onset_gap_ms"`
	Frames      int64            `json:"frames"`
	DurationMS  int64            `json:"duration_ms"`
	Onsets      []onsetReport    `json:"onsets"`
	Profile     *sod.ProfileData `json:"profile,omitempty"`
}

// detect runs one detector over samples, checking for an onset every frame.
func detect(samples []int16, cfg sod.Config, profile bool) (*detectReport, error) {
	prof := sod.NewProfiler()
	if profile {
		prof.Enable()
	}
	det, err := sod.New(cfg, sod.WithProfiler(prof))
	if err != nil {
		return nil, apperrors.FromSOD(err)
	}
	defer det.Close()

	report := &detectReport{
		Sensitivity: cfg.Sensitivity,
		OnsetGapMS:  cfg.OnsetGap.Milliseconds(),
		Onsets:      []onsetReport{},
	}
	var framer sod.Framer
	err = framer.Write(samples, func(frame []int16) error {
		status, err := det.Process(true, frame)
		if err != nil || status != sod.StatusDetected {
			return err
		}
		o, _ := det.LastOnset()
		from, to := o.SearchWindow()
		report.Onsets = append(report.Onsets, onsetReport{
			Frame:        o.Frame,
			StartFrame:   o.StartFrame,
			AtMS:         o.At().Milliseconds(),
			StartMS:      o.StartAt().Milliseconds(),
			WindowFromMS: from.Milliseconds(),
			WindowToMS:   to.Milliseconds(),
			LevelDB:      o.Level,
			FloorDB:      o.Floor,
		})
		return nil
	})
	if err != nil {
		return nil, apperrors.FromSOD(err)
	}

	report.Frames = det.Frames()
	report.DurationMS = (time.Duration(report.Frames) * sod.FrameDuration).Milliseconds()
	if framer.Buffered() > 0 {
		slog.Info("ignored trailing partial frame", "samples", framer.Buffered())
	}
	if profile {
		data := prof.Data()
		report.Profile = &data
	}
	return report, nil
}

func (r *detectReport) print(w io.Writer) {
	for _, o := range r.Onsets {
		fmt.Fprintf(w, "onset at %6.2fs  frame %-6d speech from %6.2fs  window [%.2fs, %.2fs]  level %6.1f dB  floor %6.1f dB\n",
			seconds(o.AtMS), o.Frame, seconds(o.StartMS), seconds(o.WindowFromMS), seconds(o.WindowToMS), o.LevelDB, o.FloorDB)
	}
	if p := r.Profile; p != nil {
		fmt.Fprintf(w, "profile: %d frames in %v (%v per frame)\n", p.Frames, p.Elapsed, p.PerFrame())
	}
	fmt.Fprintf(w, "%d onset(s) in %.2fs of audio (%d frames, sensitivity %d, gap %dms)\n",
		len(r.Onsets), seconds(r.DurationMS), r.Frames, r.Sensitivity, r.OnsetGapMS)
}

func seconds(ms int64) float64 { return float64(ms) / 1000 }
