package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/muurk/kasalink/internal/bridge"
	"github.com/muurk/kasalink/internal/config"
	"github.com/muurk/kasalink/internal/device"
	"github.com/muurk/kasalink/internal/discovery"
	"github.com/muurk/kasalink/internal/monitor"
	"github.com/muurk/kasalink/internal/protocol"
	"github.com/muurk/kasalink/internal/queue"
	"github.com/muurk/kasalink/internal/registry"
	"github.com/muurk/kasalink/internal/transport"
	"github.com/muurk/kasalink/internal/tui"
)

// Command flags
var (
	deviceAddr   string
	devicePort   int
	useUDP       bool
	cmdTimeout   int
	cmdRetries   int
	outputFormat string

	scanWindow    int
	scanBroadcast string
	scanTargets   []string
	scanMDNS      bool

	rebootDelay   int
	energyDays    bool
	childID       string
	countdownList bool
	countdownOff  bool
	clearRules    bool
	bridgeListen  string
	pollInterval  int
	watchFields   []string
)

func init() {
	// Common flags for device commands (persistent on root)
	rootCmd.PersistentFlags().StringVar(&deviceAddr, "device", "", "Device address, host or host:port (skips discovery)")
	rootCmd.PersistentFlags().IntVar(&devicePort, "port", transport.DefaultPort, "Device port when the address has none")
	rootCmd.PersistentFlags().BoolVar(&useUDP, "udp", false, "Send commands over UDP instead of TCP")
	rootCmd.PersistentFlags().IntVar(&cmdTimeout, "timeout", 5, "Per-attempt command timeout in seconds")
	rootCmd.PersistentFlags().IntVar(&cmdRetries, "retries", 1, "Retries after a timed-out or failed attempt")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "detailed", "Output format (detailed, json)")

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(onCmd)
	rootCmd.AddCommand(offCmd)
	rootCmd.AddCommand(brightnessCmd)
	rootCmd.AddCommand(colorCmd)
	rootCmd.AddCommand(tempCmd)
	rootCmd.AddCommand(aliasCmd)
	rootCmd.AddCommand(ledCmd)
	rootCmd.AddCommand(countdownCmd)
	rootCmd.AddCommand(rebootCmd)
	rootCmd.AddCommand(energyCmd)
	rootCmd.AddCommand(rawCmd)
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(dashboardCmd)
	rootCmd.AddCommand(bridgeCmd)
}

// applyConfigDefaults fills unset flags from the user's config file
func applyConfigDefaults(cmd *cobra.Command) error {
	reg, err := config.LoadRegistry()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	prefs := reg.Preferences

	flags := cmd.Flags()
	if !flags.Changed("port") && prefs.Port > 0 {
		devicePort = prefs.Port
	}
	if !flags.Changed("timeout") && prefs.TimeoutSeconds > 0 {
		cmdTimeout = prefs.TimeoutSeconds
	}
	if !flags.Changed("retries") && prefs.Retries >= 0 {
		cmdRetries = prefs.Retries
	}
	if !flags.Changed("window") && prefs.WindowSeconds > 0 {
		scanWindow = prefs.WindowSeconds
	}
	if !flags.Changed("broadcast") && prefs.Broadcast != "" {
		scanBroadcast = prefs.Broadcast
	}
	if !flags.Changed("target") && len(prefs.Targets) > 0 {
		scanTargets = prefs.Targets
	}
	if !flags.Changed("mdns") {
		scanMDNS = prefs.MDNS
	}
	return nil
}

// newDispatcher builds the command queue from the effective flags
func newDispatcher() *queue.Dispatcher {
	return queue.New(nil, queue.Options{
		Timeout:    time.Duration(cmdTimeout) * time.Second,
		MaxRetries: cmdRetries,
	})
}

// endpointKind returns the transport kind selected by --udp
func endpointKind() transport.Kind {
	if useUDP {
		return transport.Datagram
	}
	return transport.Stream
}

// parseAddr turns "host" or "host:port" into an endpoint
func parseAddr(addr string) (transport.Endpoint, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		// No port in the address; use the flag/config default
		return transport.NewEndpoint(addr, devicePort, endpointKind()), nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return transport.Endpoint{}, fmt.Errorf("invalid port in address %q", addr)
	}
	return transport.NewEndpoint(host, port, endpointKind()), nil
}

// scanTargetEndpoints parses the --target values into endpoints,
// skipping malformed entries
func scanTargetEndpoints() []transport.Endpoint {
	endpoints := make([]transport.Endpoint, 0, len(scanTargets))
	for _, t := range scanTargets {
		ep, err := parseAddr(t)
		if err != nil {
			continue
		}
		endpoints = append(endpoints, ep)
	}
	return endpoints
}

// scanOptions builds discovery options from the effective flags
func scanOptions() discovery.Options {
	return discovery.Options{
		Window:    time.Duration(scanWindow) * time.Second,
		Port:      devicePort,
		Broadcast: scanBroadcast,
		Targets:   scanTargetEndpoints(),
	}
}

// resolveEndpoint returns the device to talk to: the --device flag if
// given, otherwise the single device a quick scan finds.
func resolveEndpoint(ctx context.Context) (transport.Endpoint, error) {
	if deviceAddr != "" {
		return parseAddr(deviceAddr)
	}

	fmt.Println("No device address specified, attempting auto-discovery...")
	devices, err := discovery.Discover(ctx, scanOptions())
	if err != nil {
		return transport.Endpoint{}, fmt.Errorf("discovery failed: %w", err)
	}

	switch len(devices) {
	case 0:
		return transport.Endpoint{}, fmt.Errorf("no devices found; use --device to specify an address")
	case 1:
		d := devices[0]
		fmt.Printf("Found device: %s\n\n", d)
		ep := d.Endpoint
		ep.Kind = endpointKind()
		return ep, nil
	default:
		fmt.Printf("Found %d devices:\n", len(devices))
		for i, d := range devices {
			fmt.Printf("%d. %s\n", i+1, d)
		}
		return transport.Endpoint{}, fmt.Errorf("multiple devices found; use --device to pick one")
	}
}

// commandContext returns a context generous enough for one queued
// command including retries
func commandContext() (context.Context, context.CancelFunc) {
	total := time.Duration(cmdTimeout)*time.Second*time.Duration(cmdRetries+1) + 2*time.Second
	return context.WithTimeout(context.Background(), total)
}

// scanCmd discovers devices on the network
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for devices on the network",
	Long: `Scan the local network for devices.

A status probe is broadcast on the local subnet and every answer is
decoded and classified. Broadcast does not cross subnets; devices on
other networks can be probed directly with --target. Cameras that do
not answer the status probe can be found with an additional mDNS scan
(--mdns).`,
	Example: `  # Scan with the default 3 second window
  kasalink scan

  # Longer window for sleepy devices, plus an off-subnet target
  kasalink scan --window 10 --target 10.0.0.15

  # Include an mDNS sweep for cameras
  kasalink scan --mdns`,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().IntVar(&scanWindow, "window", 3, "Scan window in seconds")
	scanCmd.Flags().StringVar(&scanBroadcast, "broadcast", "", "Broadcast address override")
	scanCmd.Flags().StringArrayVar(&scanTargets, "target", nil, "Extra unicast probe target (repeatable)")
	scanCmd.Flags().BoolVar(&scanMDNS, "mdns", false, "Also run an mDNS scan for cameras")
}

func runScan(cmd *cobra.Command, args []string) error {
	opts := scanOptions()
	fmt.Printf("Scanning for devices (window: %s)...\n\n", opts.Window)

	ctx, cancel := context.WithTimeout(context.Background(), opts.Window+5*time.Second)
	defer cancel()

	devices, err := discovery.Discover(ctx, opts)
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	if scanMDNS {
		extra, err := discovery.MDNSScan(ctx, opts.Window)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: mDNS scan failed: %v\n", err)
		} else {
			devices = discovery.Merge(devices, extra)
		}
	}

	if len(devices) == 0 {
		fmt.Println("No devices found.")
		fmt.Println("\nTroubleshooting:")
		fmt.Println("  - Ensure devices are powered and joined to this network")
		fmt.Println("  - Broadcast discovery does not cross subnets; use --target for remote devices")
		fmt.Println("  - Try increasing --window on busy networks")
		return nil
	}

	if outputFormat == "json" {
		return printJSON(devices)
	}

	fmt.Printf("Found %d device(s):\n\n", len(devices))
	for i, d := range devices {
		fmt.Printf("%d. %s\n", i+1, d.Alias())
		fmt.Printf("   Type:    %s\n", d.Variant)
		if d.Info != nil && d.Info.Model != "" {
			fmt.Printf("   Model:   %s\n", d.Info.Model)
		}
		fmt.Printf("   Address: %s\n", d.Endpoint.Addr())
		if d.Info != nil && d.Info.RelayState != nil {
			state := "off"
			if *d.Info.RelayState != 0 {
				state = "on"
			}
			fmt.Printf("   Power:   %s\n", state)
		}
		fmt.Println()
	}

	rememberScan(devices)

	fmt.Println("Use 'kasalink show --device <addr>' to inspect a device")
	fmt.Println("Use 'kasalink dashboard' for the interactive view")
	return nil
}

// rememberScan records sightings in the user's config file
func rememberScan(devices []*discovery.Descriptor) {
	reg, err := config.LoadRegistry()
	if err != nil {
		return
	}
	saved := false
	for _, d := range devices {
		if d.Info == nil || d.Info.DeviceID == "" {
			continue
		}
		reg.RememberSighting(d.Info.DeviceID, d.Endpoint.Addr(), string(d.Variant), d.Info.Model)
		saved = true
	}
	if saved {
		if err := reg.Save(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: could not save device registry: %v\n", err)
		}
	}
}

// showCmd displays a device's status
var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show device status",
	Long: `Display a device's current status.

Connects to the device, fetches its status, classifies it, and prints
the fields relevant to its family. With --format json the raw decoded
status is printed instead.`,
	Example: `  # Show status with auto-discovery
  kasalink show

  # Show a specific device
  kasalink show --device 192.168.1.40

  # JSON output for scripting
  kasalink show --device 192.168.1.40 --format json`,
	RunE: runShow,
}

func runShow(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	ep, err := resolveEndpoint(ctx)
	if err != nil {
		return err
	}

	q := newDispatcher()
	defer q.Close()

	variant, info, err := device.New(q, ep).Identify(ctx)
	if err != nil && !protocol.IsUnsupportedDevice(err) {
		return fmt.Errorf("failed to read status: %w", err)
	}

	if outputFormat == "json" {
		return printJSON(info)
	}

	fmt.Printf("%s (%s)\n", info.Alias, variant)
	fmt.Printf("  Model:    %s\n", info.Model)
	fmt.Printf("  Firmware: %s\n", info.SWVersion)
	fmt.Printf("  Hardware: %s\n", info.HWVersion)
	fmt.Printf("  MAC:      %s\n", info.MAC)
	fmt.Printf("  Address:  %s\n", ep.Addr())
	fmt.Printf("  RSSI:     %d dBm\n", info.RSSI)

	if info.RelayState != nil {
		fmt.Printf("  Power:    %s\n", onOff(*info.RelayState != 0))
		fmt.Printf("  On time:  %s\n", time.Duration(info.OnTime)*time.Second)
	}
	if info.Brightness != nil {
		fmt.Printf("  Brightness: %d%%\n", *info.Brightness)
	}
	if info.LightState != nil {
		ls := info.LightState
		fmt.Printf("  Light:    %s\n", onOff(ls.OnOff != 0))
		if ls.OnOff != 0 {
			fmt.Printf("  Mode:     %s (hue %d, sat %d%%, temp %dK, brightness %d%%)\n",
				ls.Mode, ls.Hue, ls.Saturation, ls.ColorTemp, ls.Brightness)
		}
	}
	if len(info.Children) > 0 {
		fmt.Printf("  Outlets:  %d\n", len(info.Children))
		for _, child := range info.Children {
			fmt.Printf("    [%s] %-20s %s\n", child.ID, child.Alias, onOff(child.State != 0))
		}
	}
	if device.HasEmeter(info) {
		fmt.Println("  Energy:   metered (see 'kasalink energy')")
	}
	return nil
}

// onCmd switches a device on
var onCmd = &cobra.Command{
	Use:   "on",
	Short: "Switch a device on",
	Example: `  kasalink on --device 192.168.1.40

  # One outlet of a power strip
  kasalink on --device 192.168.1.42 --child 800600A1`,
	RunE: func(cmd *cobra.Command, args []string) error { return runPower(true) },
}

// offCmd switches a device off
var offCmd = &cobra.Command{
	Use:     "off",
	Short:   "Switch a device off",
	Example: `  kasalink off --device 192.168.1.40`,
	RunE:    func(cmd *cobra.Command, args []string) error { return runPower(false) },
}

func init() {
	onCmd.Flags().StringVar(&childID, "child", "", "Strip outlet ID to switch instead of the whole device")
	offCmd.Flags().StringVar(&childID, "child", "", "Strip outlet ID to switch instead of the whole device")
}

func runPower(on bool) error {
	ctx, cancel := commandContext()
	defer cancel()

	ep, err := resolveEndpoint(ctx)
	if err != nil {
		return err
	}

	q := newDispatcher()
	defer q.Close()

	variant, _, err := device.New(q, ep).Identify(ctx)
	if err != nil {
		return err
	}

	switch {
	case childID != "":
		err = device.NewStrip(q, ep).SetChildRelay(ctx, childID, on)
	case variant == registry.VariantBulb:
		err = device.NewBulb(q, ep).SetPower(ctx, on)
	case variant == registry.VariantStrip:
		err = device.NewStrip(q, ep).SetAllRelays(ctx, on)
	default:
		err = device.NewPlug(q, ep).SetRelayState(ctx, on)
	}
	if err != nil {
		return err
	}

	fmt.Printf("✓ %s is now %s\n", ep.Addr(), onOff(on))
	return nil
}

// brightnessCmd sets a dimmer's or bulb's brightness
var brightnessCmd = &cobra.Command{
	Use:   "brightness <0-100>",
	Short: "Set brightness",
	Long: `Set the brightness of a dimmer or bulb as a percentage.

Dimmers and bulbs take the same percentage but reach it through
different device modules; the device's family is detected first.`,
	Example: `  kasalink brightness 40 --device 192.168.1.44`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		percent, err := strconv.Atoi(args[0])
		if err != nil || percent < 0 || percent > 100 {
			return fmt.Errorf("brightness must be 0-100, got %q", args[0])
		}

		ctx, cancel := commandContext()
		defer cancel()

		ep, err := resolveEndpoint(ctx)
		if err != nil {
			return err
		}

		q := newDispatcher()
		defer q.Close()

		variant, _, err := device.New(q, ep).Identify(ctx)
		if err != nil {
			return err
		}

		switch variant {
		case registry.VariantBulb:
			err = device.NewBulb(q, ep).SetBrightness(ctx, percent)
		case registry.VariantDimmer:
			err = device.NewDimmer(q, ep).SetBrightness(ctx, percent)
		default:
			return fmt.Errorf("%s is a %s; it has no brightness control", ep.Addr(), variant)
		}
		if err != nil {
			return err
		}

		fmt.Printf("✓ brightness set to %d%%\n", percent)
		return nil
	},
}

// colorCmd sets a bulb's color
var colorCmd = &cobra.Command{
	Use:     "color <hue> <saturation> <brightness>",
	Short:   "Set bulb color (hue 0-360, saturation and brightness 0-100)",
	Example: `  kasalink color 120 100 80 --device 192.168.1.45`,
	Args:    cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		hue, err := strconv.Atoi(args[0])
		if err != nil || hue < 0 || hue > 360 {
			return fmt.Errorf("hue must be 0-360, got %q", args[0])
		}
		sat, err := strconv.Atoi(args[1])
		if err != nil || sat < 0 || sat > 100 {
			return fmt.Errorf("saturation must be 0-100, got %q", args[1])
		}
		bright, err := strconv.Atoi(args[2])
		if err != nil || bright < 0 || bright > 100 {
			return fmt.Errorf("brightness must be 0-100, got %q", args[2])
		}

		ctx, cancel := commandContext()
		defer cancel()

		ep, err := resolveEndpoint(ctx)
		if err != nil {
			return err
		}

		q := newDispatcher()
		defer q.Close()

		if err := device.NewBulb(q, ep).SetHSB(ctx, hue, sat, bright); err != nil {
			return err
		}
		fmt.Printf("✓ color set to hue %d, saturation %d%%, brightness %d%%\n", hue, sat, bright)
		return nil
	},
}

// tempCmd sets a bulb's white color temperature
var tempCmd = &cobra.Command{
	Use:     "temp <kelvin>",
	Short:   "Set bulb white color temperature",
	Example: `  kasalink temp 2700 --device 192.168.1.45`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kelvin, err := strconv.Atoi(args[0])
		if err != nil || kelvin < 2500 || kelvin > 9000 {
			return fmt.Errorf("color temperature must be 2500-9000, got %q", args[0])
		}

		ctx, cancel := commandContext()
		defer cancel()

		ep, err := resolveEndpoint(ctx)
		if err != nil {
			return err
		}

		q := newDispatcher()
		defer q.Close()

		if err := device.NewBulb(q, ep).SetColorTemp(ctx, kelvin); err != nil {
			return err
		}
		fmt.Printf("✓ color temperature set to %dK\n", kelvin)
		return nil
	},
}

// aliasCmd renames a device or a strip outlet
var aliasCmd = &cobra.Command{
	Use:   "alias <name>",
	Short: "Rename a device",
	Example: `  kasalink alias "Kettle" --device 192.168.1.40

  # Rename one outlet of a power strip
  kasalink alias "Desk lamp" --device 192.168.1.42 --child 800600A1`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()

		ep, err := resolveEndpoint(ctx)
		if err != nil {
			return err
		}

		q := newDispatcher()
		defer q.Close()

		if childID != "" {
			err = device.NewStrip(q, ep).SetChildAlias(ctx, childID, args[0])
		} else {
			err = device.New(q, ep).SetAlias(ctx, args[0])
		}
		if err != nil {
			return err
		}

		fmt.Printf("✓ renamed to %q\n", args[0])
		return nil
	},
}

func init() {
	aliasCmd.Flags().StringVar(&childID, "child", "", "Strip outlet ID to rename instead of the whole device")
}

// ledCmd controls the status LED on plugs
var ledCmd = &cobra.Command{
	Use:     "led <on|off>",
	Short:   "Switch a plug's status LED",
	Example: `  kasalink led off --device 192.168.1.40`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var on bool
		switch strings.ToLower(args[0]) {
		case "on":
			on = true
		case "off":
			on = false
		default:
			return fmt.Errorf("argument must be on or off, got %q", args[0])
		}

		ctx, cancel := commandContext()
		defer cancel()

		ep, err := resolveEndpoint(ctx)
		if err != nil {
			return err
		}

		q := newDispatcher()
		defer q.Close()

		if err := device.NewPlug(q, ep).SetLED(ctx, on); err != nil {
			return err
		}
		fmt.Printf("✓ LED is now %s\n", onOff(on))
		return nil
	},
}

// countdownCmd manages countdown timer rules on plugs
var countdownCmd = &cobra.Command{
	Use:   "countdown [seconds]",
	Short: "Manage countdown timer rules",
	Long: `Schedule the relay to flip after a delay, or inspect and clear
existing countdown rules. Plugs enforce a single active rule, so adding
a rule clears any previous one first.`,
	Example: `  # Switch on in five minutes
  kasalink countdown 300 --device 192.168.1.40

  # Switch off in an hour
  kasalink countdown 3600 --off --device 192.168.1.40

  # Inspect and clear
  kasalink countdown --list --device 192.168.1.40
  kasalink countdown --clear --device 192.168.1.40`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCountdown,
}

func init() {
	countdownCmd.Flags().BoolVar(&countdownOff, "off", false, "Switch off instead of on when the timer fires")
	countdownCmd.Flags().BoolVar(&countdownList, "list", false, "List active countdown rules")
	countdownCmd.Flags().BoolVar(&clearRules, "clear", false, "Delete all countdown rules")
}

func runCountdown(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	ep, err := resolveEndpoint(ctx)
	if err != nil {
		return err
	}

	q := newDispatcher()
	defer q.Close()
	plug := device.NewPlug(q, ep)

	switch {
	case countdownList:
		rules, err := plug.Countdowns(ctx)
		if err != nil {
			return err
		}
		if len(rules) == 0 {
			fmt.Println("No countdown rules.")
			return nil
		}
		for _, r := range rules {
			state := "off"
			if r.Act != 0 {
				state = "on"
			}
			fmt.Printf("  %s: %s in %s (enabled: %d)\n", r.ID, state, time.Duration(r.Delay)*time.Second, r.Enable)
		}
		return nil

	case clearRules:
		if err := plug.ClearCountdowns(ctx); err != nil {
			return err
		}
		fmt.Println("✓ countdown rules cleared")
		return nil

	case len(args) == 1:
		seconds, err := strconv.Atoi(args[0])
		if err != nil || seconds <= 0 {
			return fmt.Errorf("delay must be a positive number of seconds, got %q", args[0])
		}
		if err := plug.AddCountdown(ctx, seconds, !countdownOff); err != nil {
			return err
		}
		fmt.Printf("✓ will switch %s in %s\n", onOff(!countdownOff), time.Duration(seconds)*time.Second)
		return nil

	default:
		return fmt.Errorf("give a delay in seconds, or --list / --clear")
	}
}

// rebootCmd restarts a device
var rebootCmd = &cobra.Command{
	Use:     "reboot",
	Short:   "Reboot a device",
	Example: `  kasalink reboot --device 192.168.1.40`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()

		ep, err := resolveEndpoint(ctx)
		if err != nil {
			return err
		}

		q := newDispatcher()
		defer q.Close()

		if err := device.New(q, ep).Reboot(ctx, rebootDelay); err != nil {
			return err
		}
		fmt.Printf("✓ %s is rebooting\n", ep.Addr())
		return nil
	},
}

func init() {
	rebootCmd.Flags().IntVar(&rebootDelay, "delay", 1, "Seconds the device waits before rebooting")
}

// energyCmd reads the energy meter
var energyCmd = &cobra.Command{
	Use:   "energy",
	Short: "Read energy meter",
	Long: `Read the realtime energy meter of a metered plug or bulb.

Firmware generations report in different units (milliwatts vs watts);
readings are normalized before display.`,
	Example: `  kasalink energy --device 192.168.1.40

  # This month's per-day history
  kasalink energy --days --device 192.168.1.40`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()

		ep, err := resolveEndpoint(ctx)
		if err != nil {
			return err
		}

		q := newDispatcher()
		defer q.Close()

		variant, info, err := device.New(q, ep).Identify(ctx)
		if err != nil {
			return err
		}
		if !device.HasEmeter(info) {
			return fmt.Errorf("%s (%s) has no energy meter", info.Alias, info.Model)
		}

		if energyDays {
			now := time.Now()
			var days []device.EmeterDayStat
			if variant == registry.VariantBulb {
				days, err = device.NewBulb(q, ep).EmeterDayStats(ctx, now.Year(), int(now.Month()))
			} else {
				days, err = device.NewPlug(q, ep).EmeterDayStats(ctx, now.Year(), int(now.Month()))
			}
			if err != nil {
				return err
			}
			if outputFormat == "json" {
				return printJSON(days)
			}
			fmt.Printf("%s, %s:\n", info.Alias, now.Format("January 2006"))
			for _, day := range days {
				fmt.Printf("  %04d-%02d-%02d  %.3f kWh\n", day.Year, day.Month, day.Day, day.KWH())
			}
			return nil
		}

		var reading *device.EmeterRealtime
		if variant == registry.VariantBulb {
			reading, err = device.NewBulb(q, ep).EmeterRealtime(ctx)
		} else {
			reading, err = device.NewPlug(q, ep).EmeterRealtime(ctx)
		}
		if err != nil {
			return err
		}

		if outputFormat == "json" {
			return printJSON(reading)
		}

		fmt.Printf("%s:\n", info.Alias)
		fmt.Printf("  Power:   %.1f W\n", reading.PowerW())
		fmt.Printf("  Voltage: %.1f V\n", reading.VoltageV())
		fmt.Printf("  Total:   %.3f kWh\n", reading.TotalKWH())
		return nil
	},
}

func init() {
	energyCmd.Flags().BoolVar(&energyDays, "days", false, "Show this month's per-day history instead of the realtime reading")
}

// rawCmd sends an arbitrary module/member command
var rawCmd = &cobra.Command{
	Use:   "raw <module> <member> [params-json]",
	Short: "Send a raw command",
	Long: `Send an arbitrary command to a device and print the decoded reply.

The module and member name the operation; params is an optional JSON
object. This exposes device operations the other commands do not
cover.`,
	Example: `  kasalink raw system get_sysinfo --device 192.168.1.40

  kasalink raw system set_relay_state '{"state":1}' --device 192.168.1.40`,
	Args: cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		var params any
		if len(args) == 3 {
			raw := json.RawMessage(args[2])
			if !json.Valid(raw) {
				return fmt.Errorf("params is not valid JSON: %s", args[2])
			}
			params = raw
		}

		ctx, cancel := commandContext()
		defer cancel()

		ep, err := resolveEndpoint(ctx)
		if err != nil {
			return err
		}

		q := newDispatcher()
		defer q.Close()

		reply, err := q.Submit(ctx, ep, protocol.NewRequest(args[0], args[1], params))
		if err != nil {
			return err
		}

		var pretty any
		if err := json.Unmarshal(reply, &pretty); err != nil {
			fmt.Println(string(reply))
			return nil
		}
		return printJSON(pretty)
	},
}

// monitorCmd polls devices and prints state changes
var monitorCmd = &cobra.Command{
	Use:   "monitor [addr...]",
	Short: "Watch devices and print state changes",
	Long: `Poll devices and print a line whenever a watched field changes.

With no addresses, a scan picks up every device currently on the
network. Which fields count as a change can be tuned with --field.`,
	Example: `  # Watch everything on the network
  kasalink monitor

  # Watch two devices, five second polls, relay only
  kasalink monitor 192.168.1.40 192.168.1.41 --interval 5 --field relay_state`,
	RunE: runMonitor,
}

func init() {
	monitorCmd.Flags().IntVar(&pollInterval, "interval", 10, "Seconds between status polls")
	monitorCmd.Flags().StringArrayVar(&watchFields, "field", nil, "Status field to watch (repeatable; default set if omitted)")
	monitorCmd.Flags().IntVar(&scanWindow, "window", 3, "Scan window in seconds when no addresses are given")
}

// watchTargets resolves the endpoints a monitor or bridge should poll
func watchTargets(ctx context.Context, args []string) ([]transport.Endpoint, error) {
	if len(args) > 0 {
		endpoints := make([]transport.Endpoint, 0, len(args))
		for _, arg := range args {
			ep, err := parseAddr(arg)
			if err != nil {
				return nil, err
			}
			endpoints = append(endpoints, ep)
		}
		return endpoints, nil
	}
	if deviceAddr != "" {
		ep, err := parseAddr(deviceAddr)
		if err != nil {
			return nil, err
		}
		return []transport.Endpoint{ep}, nil
	}

	fmt.Println("Scanning for devices to watch...")
	devices, err := discovery.Discover(ctx, scanOptions())
	if err != nil {
		return nil, fmt.Errorf("discovery failed: %w", err)
	}
	if len(devices) == 0 {
		return nil, fmt.Errorf("no devices found; give addresses explicitly")
	}
	endpoints := make([]transport.Endpoint, 0, len(devices))
	for _, d := range devices {
		fmt.Printf("  watching %s\n", d)
		endpoints = append(endpoints, d.Endpoint)
	}
	fmt.Println()
	return endpoints, nil
}

func runMonitor(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	endpoints, err := watchTargets(ctx, args)
	if err != nil {
		return err
	}

	q := newDispatcher()
	defer q.Close()

	w := monitor.New(q, monitor.Options{
		Interval: time.Duration(pollInterval) * time.Second,
		Fields:   watchFields,
	})
	for _, ep := range endpoints {
		w.Watch(ep)
	}

	changes, unsub := w.Subscribe(64)
	defer unsub()
	go w.Run(ctx)

	fmt.Printf("Watching %d device(s), polling every %ds. Ctrl-C to stop.\n\n", len(endpoints), pollInterval)
	for {
		select {
		case c := <-changes:
			fmt.Printf("%s  %s  %s: %v → %v\n",
				c.At.Format("15:04:05"), c.Endpoint.Addr(), c.Field, c.Old, c.New)
		case <-ctx.Done():
			fmt.Println("\nStopped.")
			return nil
		}
	}
}

// dashboardCmd launches the interactive TUI
var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Launch the interactive dashboard",
	Long: `Launch a full-screen dashboard that scans the network, lists
discovered devices, and toggles their power.

This is also the default when kasalink runs without a command in a
terminal.`,
	Example: `  kasalink dashboard

  # Or simply:
  kasalink`,
	RunE: runDashboard,
}

func runDashboard(cmd *cobra.Command, args []string) error {
	q := newDispatcher()
	defer q.Close()

	model := tui.New(q, scanOptions())
	p := tea.NewProgram(model, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("dashboard error: %w", err)
	}
	return nil
}

// bridgeCmd runs the WebSocket event bridge
var bridgeCmd = &cobra.Command{
	Use:   "bridge [addr...]",
	Short: "Run the WebSocket event bridge",
	Long: `Serve device state changes over WebSocket for local UIs.

The bridge polls the given devices (or everything a scan finds), pushes
each change to connected clients as a JSON event on /ws, and accepts
control messages (set_relay, set_alias, watch, unwatch) back over the
same socket. There is no authentication; keep it on loopback.`,
	Example: `  kasalink bridge --listen 127.0.0.1:8787

  kasalink bridge 192.168.1.40 192.168.1.41 --interval 5`,
	RunE: runBridge,
}

func init() {
	bridgeCmd.Flags().StringVar(&bridgeListen, "listen", "127.0.0.1:8787", "Listen address for the bridge")
	bridgeCmd.Flags().IntVar(&pollInterval, "interval", 10, "Seconds between status polls")
	bridgeCmd.Flags().IntVar(&scanWindow, "window", 3, "Scan window in seconds when no addresses are given")
}

func runBridge(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	endpoints, err := watchTargets(ctx, args)
	if err != nil {
		return err
	}

	q := newDispatcher()
	defer q.Close()

	w := monitor.New(q, monitor.Options{
		Interval: time.Duration(pollInterval) * time.Second,
	})
	for _, ep := range endpoints {
		w.Watch(ep)
	}
	go w.Run(ctx)

	fmt.Printf("Bridge listening on ws://%s/ws, watching %d device(s). Ctrl-C to stop.\n", bridgeListen, len(endpoints))
	return bridge.NewServer(bridgeListen, q, w).Run(ctx)
}

// printJSON writes v as indented JSON to stdout
func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
