package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lanblast/lanblast/internal/blast"
	"github.com/lanblast/lanblast/internal/config"
	"github.com/lanblast/lanblast/internal/device"
	"github.com/lanblast/lanblast/internal/discovery"
	"github.com/lanblast/lanblast/internal/logging"
	"github.com/lanblast/lanblast/internal/media"
	"github.com/lanblast/lanblast/internal/server"
)

// Pipeline command flags
var (
	mediaFile    string
	mediaURL     string
	serveAddr    string
	observerAddr string
	scanTimeout  time.Duration
	concurrency  int
	logLevel     string
)

func init() {
	rootCmd.PersistentFlags().DurationVar(&scanTimeout, "timeout", 5*time.Second, "Discovery timeout")
	rootCmd.PersistentFlags().IntVar(&concurrency, "concurrency", 0, "Max simultaneous control attempts (0 = config/default)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error; empty = quiet)")
	rootCmd.PersistentFlags().StringVar(&observerAddr, "observer-addr", "", "Observer endpoint listen address (empty = disabled)")

	rootCmd.PersistentFlags().StringVar(&mediaFile, "media-file", "", "Local clip file to serve to renderers")
	rootCmd.PersistentFlags().StringVar(&mediaURL, "media-url", "", "Already-hosted clip URL (skips the built-in media server)")
	rootCmd.PersistentFlags().StringVar(&serveAddr, "serve-addr", "", "Listen address for the built-in media server (default: ephemeral)")

	rootCmd.AddCommand(blastCmd)
	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(nicknameCmd)
}

// blastCmd performs the full serve → discover → control pipeline.
var blastCmd = &cobra.Command{
	Use:   "blast",
	Short: "Discover all renderers and play the clip on them",
	Long: `Run the full pipeline: start the media server, discover renderers via
SSDP, mDNS, and port scanning, then send the clip to every device found
and report per-device results.`,
	Example: `  # Blast a local file (a throwaway HTTP server serves it)
  lanblast --media-file chime.mp3

  # Blast a clip that is already hosted somewhere reachable
  lanblast --media-url http://192.168.1.5:8080/chime.mp3

  # Slower network, more patience, gentler fan-out
  lanblast --media-file chime.mp3 --timeout 15s --concurrency 2`,
	RunE: runBlast,
}

// discoverCmd runs discovery only and prints the device table.
var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Discover renderers without playing anything",
	Long: `Run the three discovery strategies and print every renderer found,
along with which strategy found it and how each strategy performed.`,
	Example: `  # Default 5 second sweep
  lanblast discover

  # Longer sweep for sleepy devices
  lanblast discover --timeout 20s`,
	RunE: runDiscover,
}

// nicknameCmd stores a display nickname for a device.
var nicknameCmd = &cobra.Command{
	Use:   "nickname <ip:port> <name>",
	Short: "Set a display nickname for a device",
	Long: `Store a nickname for a device, shown in place of its advertised name.

Only the nickname is persisted; device records themselves are rediscovered
on every run.`,
	Example: `  lanblast nickname 192.168.1.43:1400 "Kitchen Sonos"`,
	Args:    cobra.ExactArgs(2),
	RunE:    runNickname,
}

// pipelineConfig merges persisted preferences with command-line flags.
// A flag explicitly set wins over the config file.
func pipelineConfig(cmd *cobra.Command, reg *config.Registry) blast.Config {
	prefs := reg.Preferences
	if prefs == nil {
		prefs = config.NewRegistry().Preferences
	}

	cfg := blast.Config{
		DiscoveryTimeout:    prefs.DiscoverTimeout(),
		Concurrency:         prefs.Concurrency(),
		SettleDelay:         prefs.SettleDelay(),
		MDNSServiceTypes:    prefs.MDNSServiceTypes,
		ExtraPorts:          prefs.ExtraPorts,
		GenericNamePatterns: prefs.GenericNamePatterns,
	}
	if cmd.Flags().Changed("timeout") {
		cfg.DiscoveryTimeout = scanTimeout
	}
	if concurrency > 0 {
		cfg.Concurrency = concurrency
	}
	return cfg
}

// mediaSource picks the clip source from flags.
func mediaSource() (blast.MediaServer, error) {
	switch {
	case mediaURL != "" && mediaFile != "":
		return nil, fmt.Errorf("--media-file and --media-url are mutually exclusive")
	case mediaURL != "":
		return media.NewStaticSource(mediaURL), nil
	case mediaFile != "":
		return media.NewFileServer(mediaFile, serveAddr), nil
	default:
		return nil, fmt.Errorf("either --media-file or --media-url is required")
	}
}

// startObserver starts the observer endpoint when configured, returning its
// shutdown func (a no-op when disabled).
func startObserver(orch *blast.Orchestrator, reg *config.Registry) func() {
	addr := observerAddr
	if addr == "" && reg.Preferences != nil {
		addr = reg.Preferences.ObserverAddr
	}
	if addr == "" {
		return func() {}
	}

	obs := server.New(&server.Config{Addr: addr}, orch)
	go func() {
		if err := obs.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Observer endpoint failed: %v\n", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = obs.Shutdown(ctx)
	}
}

func runBlast(cmd *cobra.Command, args []string) error {
	if err := logging.Initialize(logLevel); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer logging.Sync()

	source, err := mediaSource()
	if err != nil {
		return err
	}

	reg, err := config.LoadRegistry()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	orch := blast.New(source, pipelineConfig(cmd, reg))
	stopObserver := startObserver(orch, reg)
	defer stopObserver()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	fmt.Println("Starting blast run...")
	snap, err := orch.Run(ctx)
	if err != nil {
		return fmt.Errorf("blast failed: %w", err)
	}

	printDevices(orch.Devices(), reg)
	printSummary(snap)
	return nil
}

func runDiscover(cmd *cobra.Command, args []string) error {
	if err := logging.Initialize(logLevel); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer logging.Sync()

	reg, err := config.LoadRegistry()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	cfg := pipelineConfig(cmd, reg)
	// Discovery alone never serves a clip; the source is a placeholder.
	orch := blast.New(media.NewStaticSource("http://unused.invalid/"), cfg)
	stopObserver := startObserver(orch, reg)
	defer stopObserver()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	fmt.Printf("Discovering renderers (timeout: %s)...\n\n", cfg.DiscoveryTimeout)

	devices, err := orch.DiscoverOnly(ctx)
	if err != nil {
		return fmt.Errorf("discovery failed: %w", err)
	}

	printDevices(devices, reg)
	printMethodRanking(orch.MethodStats())
	touchNicknamedDevices(reg, devices)
	return nil
}

func runNickname(cmd *cobra.Command, args []string) error {
	key, name := args[0], args[1]

	reg, err := config.LoadRegistry()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if reg.Devices == nil {
		reg.Devices = make(map[string]*config.DeviceMeta)
	}

	meta := reg.Devices[key]
	if meta == nil {
		meta = &config.DeviceMeta{}
		reg.Devices[key] = meta
	}
	meta.Nickname = name

	if err := reg.Save(); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	fmt.Printf("✓ %s will be shown as %q\n", key, name)
	return nil
}

// displayName prefers the user's nickname over the advertised name.
func displayName(d *device.Device, reg *config.Registry) string {
	if meta, ok := reg.Devices[d.Key()]; ok && meta.Nickname != "" {
		return meta.Nickname
	}
	return d.FriendlyName
}

func printDevices(devices []*device.Device, reg *config.Registry) {
	if len(devices) == 0 {
		fmt.Println("No renderers found.")
		fmt.Println("\nTroubleshooting:")
		fmt.Println("  - Check that you are on the same network segment as your devices")
		fmt.Println("  - Some networks filter multicast; the port scan still works there")
		fmt.Println("  - Try increasing --timeout for slower networks")
		fmt.Println("  - Sleeping devices may need a wake-up (cast something to them once)")
		return
	}

	sort.Slice(devices, func(i, j int) bool { return devices[i].Key() < devices[j].Key() })

	fmt.Printf("Found %d renderer(s):\n\n", len(devices))
	for i, d := range devices {
		fmt.Printf("%d. %s\n", i+1, displayName(d, reg))
		fmt.Printf("   Address:  %s:%d\n", d.IP, d.Port)
		fmt.Printf("   Found by: %s\n", d.Method)
		if d.Manufacturer != "" {
			fmt.Printf("   Make:     %s", d.Manufacturer)
			if d.ModelName != "" {
				fmt.Printf(" %s", d.ModelName)
			}
			fmt.Println()
		}
		if d.Status != device.StatusDiscovered {
			fmt.Printf("   Result:   %s\n", d.Status)
		}
		fmt.Println()
	}
}

func printMethodRanking(stats []discovery.MethodStats) {
	if len(stats) == 0 {
		return
	}
	fmt.Println("Discovery methods, most effective first:")
	for _, st := range stats {
		line := fmt.Sprintf("  %-10s %d device(s) in %s", st.Method, st.Devices, st.Elapsed.Round(time.Millisecond))
		if st.Err != "" {
			line += fmt.Sprintf("  (failed: %s)", st.Err)
		}
		fmt.Println(line)
	}
	fmt.Println()
}

func printSummary(snap blast.Snapshot) {
	fmt.Println("Blast summary:")
	fmt.Printf("  Devices found: %d\n", snap.DevicesFound)
	fmt.Printf("  Attempts:      %d\n", snap.Attempts)
	fmt.Printf("  Succeeded:     %d\n", snap.Successes)
	fmt.Printf("  Failed:        %d\n", snap.Failures)
	if snap.Attempts > 0 {
		fmt.Printf("  Success rate:  %.0f%%\n", snap.SuccessRate*100)
	}
	fmt.Printf("  Discovery:     %dms\n", snap.DiscoveryMs)
}

// touchNicknamedDevices updates LastSeen for devices the user has labelled.
// Unlabelled devices are never written to disk.
func touchNicknamedDevices(reg *config.Registry, devices []*device.Device) {
	touched := false
	for _, d := range devices {
		if meta, ok := reg.Devices[d.Key()]; ok {
			meta.LastSeen = time.Now()
			touched = true
		}
	}
	if !touched {
		return
	}
	if err := reg.Save(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not update config: %v\n", err)
	}
}
