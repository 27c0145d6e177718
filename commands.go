package main

import (
    "context"
    "encoding/json"
    "fmt"
    "io"
    "text/tabwriter"
    "time"

    "github.com/rs/zerolog/log"
    "github.com/spf13/cobra"
    "golang.org/x/sync/errgroup"
    "gopkg.in/yaml.v3"
)

var (
    // Global flags
    configPath string
    logLevel   string
)

func newRootCommand() *cobra.Command {
    rootCmd := &cobra.Command{
        Use:   "ledlog",
        Short: "Toggle a GPIO LED and keep a history of every state change",
        Long: `ledlog drives an LED on a GPIO line, flipping it at a fixed interval and
storing one timestamped record per flip in an embedded SQLite database.
The history is available from the command line and from an HTTP API.`,
        Version:       Version,
        SilenceUsage:  true,
        SilenceErrors: true,
        PersistentPreRun: func(cmd *cobra.Command, args []string) {
            if cmd.Flags().Changed("log-level") {
                setLogLevel(logLevel)
            }
        },
    }

    rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "config file path")
    rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

    rootCmd.AddCommand(newRunCommand())
    rootCmd.AddCommand(newMeasurementsCommand())
    rootCmd.AddCommand(newPasswdCommand())
    rootCmd.AddCommand(newVersionCommand())
    return rootCmd
}

func loadConfig() (*ConfigManager, error) {
    cfgMgr := NewConfigManager(configPath)
    if err := cfgMgr.Load(); err != nil {
        return nil, fmt.Errorf("failed to load configuration: %w", err)
    }
    return cfgMgr, nil
}

func newRunCommand() *cobra.Command {
    var count int
    cmd := &cobra.Command{
        Use:   "run",
        Short: "Start toggling the LED and serve the HTTP API",
        Args:  cobra.NoArgs,
        RunE: func(cmd *cobra.Command, args []string) error {
            cfgMgr, err := loadConfig()
            if err != nil {
                return err
            }
            // --count only reaches the blinker; config.json keeps max_toggles.
            maxToggles := cfgMgr.Get().LED.MaxToggles
            if cmd.Flags().Changed("count") {
                if count < 0 {
                    return fmt.Errorf("--count must not be negative")
                }
                maxToggles = count
            }
            return runDaemon(cmd.Context(), cfgMgr, maxToggles)
        },
    }
    cmd.Flags().IntVar(&count, "count", 0, "stop after this many toggles (0 = forever, overrides max_toggles)")
    return cmd
}

// runDaemon wires the store, LED, sinks, blinker, API, config watcher and
// retention loop together and blocks until the blinker stops or ctx is
// cancelled.  maxToggles replaces the configured max_toggles.
func runDaemon(ctx context.Context, cfgMgr *ConfigManager, maxToggles int) error {
    cfg := cfgMgr.Get()
    logger := log.Logger

    events, err := NewEventLogger(cfg.LogFile)
    if err != nil {
        return err
    }
    defer events.Close()

    store, err := OpenStore(ctx, cfg.Store)
    if err != nil {
        return fmt.Errorf("initialisation error: %w", err)
    }
    defer store.Close()

    led, err := openLED(cfg.LED.Pin, cfg.LED.ActiveLow)
    if err != nil {
        return fmt.Errorf("initialisation error: %w", err)
    }
    defer func() {
        if err := led.Close(); err != nil {
            logger.Warn().Err(err).Msg("release gpio")
        }
    }()

    metrics := NewMetrics()
    sinks := initSinks(cfg, events)
    defer func() {
        for _, s := range sinks {
            if c, ok := s.(io.Closer); ok {
                _ = c.Close()
            }
        }
    }()

    blinker := NewBlinker(led, store, BlinkerOptions{
        Interval:   cfg.LED.Interval(),
        MaxToggles: maxToggles,
        Sinks:      sinks,
        Metrics:    metrics,
        Logger:     logger,
    })
    events.Log("started on %s, interval %dms", led.Name(), cfg.LED.IntervalMS)
    defer events.Log("stopped")

    ctx, cancel := context.WithCancel(ctx)
    defer cancel()
    g, gctx := errgroup.WithContext(ctx)

    g.Go(func() error {
        // The daemon lives as long as the blinker does.
        defer cancel()
        return blinker.Run(gctx)
    })
    if cfg.HTTPPort > 0 {
        srv := NewServer(cfgMgr, store, blinker, events, metrics, logger)
        g.Go(func() error { return srv.Run(gctx) })
    }
    g.Go(func() error {
        w := NewConfigWatcher(cfgMgr, logger, func(c Config) {
            if err := blinker.SetInterval(c.LED.Interval()); err != nil {
                logger.Warn().Err(err).Msg("ignoring reloaded interval")
            }
        })
        return w.Run(gctx)
    })
    if cfg.Store.RetentionHours > 0 {
        keep := time.Duration(cfg.Store.RetentionHours) * time.Hour
        g.Go(func() error { return runRetention(gctx, store, keep, time.Hour, logger) })
    }
    return g.Wait()
}

func newMeasurementsCommand() *cobra.Command {
    cmd := &cobra.Command{
        Use:     "measurements",
        Aliases: []string{"m"},
        Short:   "Inspect or prune the stored LED history",
    }
    cmd.AddCommand(newMeasurementsListCommand())
    cmd.AddCommand(newMeasurementsPurgeCommand())
    return cmd
}

func newMeasurementsListCommand() *cobra.Command {
    var (
        limit  int
        since  time.Duration
        output string
    )
    cmd := &cobra.Command{
        Use:   "list",
        Short: "Print stored measurements, newest first",
        Args:  cobra.NoArgs,
        RunE: func(cmd *cobra.Command, args []string) error {
            cfgMgr, err := loadConfig()
            if err != nil {
                return err
            }
            store, err := OpenStore(cmd.Context(), cfgMgr.Get().Store)
            if err != nil {
                return err
            }
            defer store.Close()

            q := Query{Limit: limit}
            if since > 0 {
                q.Since = time.Now().Add(-since)
            }
            ms, err := store.List(cmd.Context(), q)
            if err != nil {
                return err
            }
            return printMeasurements(cmd.OutOrStdout(), ms, output)
        },
    }
    cmd.Flags().IntVarP(&limit, "limit", "n", defaultListLimit, "maximum number of rows")
    cmd.Flags().DurationVar(&since, "since", 0, "only rows newer than this (e.g. 10m, 24h)")
    cmd.Flags().StringVarP(&output, "output", "o", "table", "output format: table, json or yaml")
    return cmd
}

// printMeasurements renders ms in the requested format.
func printMeasurements(w io.Writer, ms []Measurement, format string) error {
    switch format {
    case "json":
        enc := json.NewEncoder(w)
        enc.SetIndent("", "  ")
        return enc.Encode(ms)
    case "yaml":
        enc := yaml.NewEncoder(w)
        defer enc.Close()
        return enc.Encode(ms)
    case "table", "":
        tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
        fmt.Fprintln(tw, "TIMESTAMP\tPIN\tLED\tID")
        for _, m := range ms {
            state := "off"
            if m.LEDState {
                state = "on"
            }
            fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m.Timestamp.Local().Format(time.RFC3339Nano), m.Pin, state, m.ID)
        }
        return tw.Flush()
    default:
        return fmt.Errorf("unknown output format %q", format)
    }
}

func newMeasurementsPurgeCommand() *cobra.Command {
    var olderThan time.Duration
    cmd := &cobra.Command{
        Use:   "purge",
        Short: "Delete measurements older than a given age",
        Args:  cobra.NoArgs,
        RunE: func(cmd *cobra.Command, args []string) error {
            if olderThan <= 0 {
                return fmt.Errorf("--older-than must be a positive duration")
            }
            cfgMgr, err := loadConfig()
            if err != nil {
                return err
            }
            store, err := OpenStore(cmd.Context(), cfgMgr.Get().Store)
            if err != nil {
                return err
            }
            defer store.Close()

            n, err := store.Purge(cmd.Context(), time.Now().Add(-olderThan))
            if err != nil {
                return err
            }
            fmt.Fprintf(cmd.OutOrStdout(), "deleted %d measurements\n", n)
            return nil
        },
    }
    cmd.Flags().DurationVar(&olderThan, "older-than", 0, "age cutoff (e.g. 720h)")
    _ = cmd.MarkFlagRequired("older-than")
    return cmd
}

func newPasswdCommand() *cobra.Command {
    return &cobra.Command{
        Use:   "passwd <user> <password>",
        Short: "Set an API user's password, creating the user if needed",
        Args:  cobra.ExactArgs(2),
        RunE: func(cmd *cobra.Command, args []string) error {
            cfgMgr, err := loadConfig()
            if err != nil {
                return err
            }
            if err := cfgMgr.SetPassword(args[0], args[1]); err != nil {
                return err
            }
            fmt.Fprintf(cmd.OutOrStdout(), "password updated for %s\n", args[0])
            return nil
        },
    }
}

func newVersionCommand() *cobra.Command {
    return &cobra.Command{
        Use:   "version",
        Short: "Print the version",
        Args:  cobra.NoArgs,
        Run: func(cmd *cobra.Command, args []string) {
            fmt.Fprintln(cmd.OutOrStdout(), Version)
        },
    }
}
