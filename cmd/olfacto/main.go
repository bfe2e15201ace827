package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/san-kum/olfacto/internal/config"
	"github.com/san-kum/olfacto/internal/encoder"
	"github.com/san-kum/olfacto/internal/engine"
	"github.com/san-kum/olfacto/internal/hardware"
	"github.com/san-kum/olfacto/internal/logging"
	"github.com/san-kum/olfacto/internal/lookup"
	"github.com/san-kum/olfacto/internal/optimizer"
	"github.com/san-kum/olfacto/internal/rig"
	"github.com/san-kum/olfacto/internal/session"
	"github.com/san-kum/olfacto/internal/telemetry"
	"github.com/san-kum/olfacto/internal/viz"
	"github.com/san-kum/olfacto/internal/writer"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

var (
	configFile string
	preset     string
	logLevel   string
	logFile    string

	addr        string
	byteOrder   string
	method      string
	tablePath   string
	warmStart   string
	totalFlow   float64
	telemetryOn bool
	monitor     bool

	odorantIDs string
	dilutions  string
	targets    []string
	hold       string
	mixingA    float64
	mixingB    float64
	sendEvery  time.Duration

	tableChannels string
	dutyLevels    int
	flowLevels    int
	tableOut      string
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "olfacto",
		Short:        "olfactometer controller",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (yaml)")
	rootCmd.PersistentFlags().StringVar(&preset, "preset", "", "use rig preset")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "write logs to file instead of stderr")
	rootCmd.PersistentFlags().Float64Var(&totalFlow, "total-flow", 0, "total output flow in cc/min")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "accept a client session and drive the valves",
		RunE:  runServe,
	}
	serveCmd.Flags().StringVar(&addr, "addr", "", "listen address")
	serveCmd.Flags().StringVar(&byteOrder, "byte-order", "", "wire byte order (little, big)")
	serveCmd.Flags().StringVar(&method, "method", "", "optimizer method (trust-region, lookup)")
	serveCmd.Flags().StringVar(&tablePath, "table", "", "lookup table csv")
	serveCmd.Flags().StringVar(&warmStart, "warm-start", "", "initial guess (constant, linear)")
	serveCmd.Flags().BoolVar(&telemetryOn, "telemetry", false, "save session events")
	serveCmd.Flags().BoolVar(&monitor, "monitor", false, "show live console")

	solveCmd := &cobra.Command{
		Use:   "solve",
		Short: "solve one target and print the report",
		RunE:  runSolve,
	}
	addTargetFlags(solveCmd)
	solveCmd.Flags().StringVar(&method, "method", "", "optimizer method (trust-region, lookup)")
	solveCmd.Flags().StringVar(&tablePath, "table", "", "lookup table csv")
	solveCmd.Flags().StringVar(&warmStart, "warm-start", "", "initial guess (constant, linear)")

	previewCmd := &cobra.Command{
		Use:   "preview",
		Short: "plot the frame for a target or a held schedule",
		RunE:  runPreview,
	}
	addTargetFlags(previewCmd)
	previewCmd.Flags().StringVar(&hold, "hold", "", "manual duties as A:B per channel, e.g. 0.5:0,0:0.2")
	previewCmd.Flags().Float64Var(&mixingA, "mixing-a", 0, "mixing A flow for --hold")
	previewCmd.Flags().Float64Var(&mixingB, "mixing-b", 0, "mixing B flow for --hold")

	sendCmd := &cobra.Command{
		Use:   "send",
		Short: "act as a client and stream targets to a server",
		RunE:  runSend,
	}
	addTargetFlags(sendCmd)
	sendCmd.Flags().StringVar(&addr, "addr", "", "server address")
	sendCmd.Flags().StringVar(&byteOrder, "byte-order", "", "wire byte order (little, big)")
	sendCmd.Flags().DurationVar(&sendEvery, "every", time.Second, "pause between targets")

	tableCmd := &cobra.Command{
		Use:   "table",
		Short: "lookup table tools",
	}
	tableBuildCmd := &cobra.Command{
		Use:   "build",
		Short: "enumerate a grid of schedules into a lookup table",
		RunE:  runTableBuild,
	}
	tableBuildCmd.Flags().StringVar(&odorantIDs, "odorants", "", "comma separated odorant ids")
	tableBuildCmd.Flags().StringVar(&dilutions, "dilutions", "", "comma separated dilutions (default 1)")
	tableBuildCmd.Flags().StringVar(&tableChannels, "channels", "", "comma separated 1-based channels to vary (default: one per odorant)")
	tableBuildCmd.Flags().IntVar(&dutyLevels, "duty-levels", 5, "duty levels per state")
	tableBuildCmd.Flags().IntVar(&flowLevels, "flow-levels", 5, "flow levels per mixing controller")
	tableBuildCmd.Flags().StringVarP(&tableOut, "out", "o", "table.csv", "output csv")
	tableCmd.AddCommand(tableBuildCmd)

	presetsCmd := &cobra.Command{
		Use:   "presets",
		Short: "list available rig presets",
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tCHANNELS\tTOTAL FLOW")
			for _, name := range config.ListPresets() {
				p := config.Presets[name]
				fmt.Fprintf(w, "%s\t%d\t%.0f\n", name, p.Channels, p.TotalFlow)
			}
			return w.Flush()
		},
	}

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "configuration tools",
	}
	configInitCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "write the default configuration",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "olfacto.yaml"
			if len(args) == 1 {
				path = args[0]
			}
			cfg := config.DefaultConfig()
			if preset != "" {
				if cfg = config.GetPreset(preset); cfg == nil {
					return fmt.Errorf("unknown preset: %s", preset)
				}
			}
			if err := config.Save(path, cfg); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", path)
			return nil
		},
	}
	configCmd.AddCommand(configInitCmd)

	rootCmd.AddCommand(serveCmd, solveCmd, previewCmd, sendCmd, tableCmd, presetsCmd, configCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func addTargetFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&odorantIDs, "odorants", "", "comma separated odorant ids")
	cmd.Flags().StringVar(&dilutions, "dilutions", "", "comma separated dilutions (default 1)")
	cmd.Flags().StringArrayVar(&targets, "target", nil, "comma separated log10 molar concentrations, repeatable")
}

// flagKeys maps viper keys to the command flags that override them.
var flagKeys = map[string]string{
	"server.addr":            "addr",
	"server.byte_order":      "byte-order",
	"optimizer.method":       "method",
	"optimizer.lookup_table": "table",
	"optimizer.warm_start":   "warm-start",
	"rig.total_flow":         "total-flow",
	"telemetry.enabled":      "telemetry",
	"log.level":              "log-level",
}

// loadConfig layers defaults, preset, config file, OLFACTO_* environment
// and explicitly set flags, in that order.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if preset != "" {
		if cfg = config.GetPreset(preset); cfg == nil {
			return nil, fmt.Errorf("unknown preset: %s", preset)
		}
	}
	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}

	v := config.NewViper(cfg)
	if err := bindFlags(v, cmd); err != nil {
		return nil, err
	}
	config.Apply(cfg, v)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	for key, name := range flagKeys {
		f := cmd.Flags().Lookup(name)
		if f == nil || !f.Changed {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return err
		}
	}
	return nil
}

func newLogger(cfg *config.Config, quiet bool) (*logrus.Logger, func(), error) {
	var out io.Writer = os.Stderr
	closeFn := func() {}
	switch {
	case logFile != "":
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, nil, err
		}
		out = f
		closeFn = func() { _ = f.Close() }
	case quiet:
		out = io.Discard
	}
	return logging.New(cfg.Log.Level, out), closeFn, nil
}

func buildSolver(cfg *config.Config) (optimizer.Solver, error) {
	if cfg.Optimizer.Method == "lookup" {
		t, err := lookup.Load(cfg.Optimizer.LookupTable)
		if err != nil {
			return nil, fmt.Errorf("load lookup table: %w", err)
		}
		return lookup.NewSolver(t, cfg.Optimizer.Partitions), nil
	}
	return optimizer.New(cfg.OptimizerOptions()), nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log, closeLog, err := newLogger(cfg, monitor)
	if err != nil {
		return err
	}
	defer closeLog()

	r, err := cfg.BuildRig()
	if err != nil {
		return err
	}
	solver, err := buildSolver(cfg)
	if err != nil {
		return err
	}
	order, err := cfg.ByteOrder()
	if err != nil {
		return err
	}

	var store *telemetry.Store
	if cfg.Telemetry.Enabled {
		store = telemetry.NewStore(cfg.Telemetry.Dir)
		if err := store.Init(); err != nil {
			return fmt.Errorf("init telemetry: %w", err)
		}
	}

	live := &liveSource{}
	builder := &engine.Builder{
		Rig:        r,
		Chemistry:  cfg.BuildChemistry(),
		Solver:     solver,
		NewSink:    func() writer.Sink { return hardware.NewSimulated(1) },
		Interval:   cfg.WriteInterval(),
		Samples:    cfg.Frame.Samples,
		TotalFlow:  cfg.Rig.TotalFlow,
		Store:      store,
		Log:        log,
		OnPipeline: live.attach,
	}
	factory := func(ctx context.Context, id string, odorants []rig.Odorant) (session.Controller, error) {
		p, err := builder.Build(ctx, id, odorants)
		if err != nil {
			return nil, err
		}
		return p, nil
	}

	srv := session.NewServer(session.Config{
		Addr:        cfg.Server.Addr,
		ByteOrder:   order,
		MaxChannels: r.Channels(),
		PollTimeout: cfg.Server.PollTimeout,
		ReadTimeout: cfg.Server.ReadTimeout,
	}, factory, log)
	live.server = srv
	if err := srv.Listen(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Serve(gctx) })
	if monitor {
		g.Go(func() error {
			defer stop()
			p := tea.NewProgram(viz.NewMonitor(live, 250*time.Millisecond), tea.WithContext(gctx))
			if _, err := p.Run(); err != nil && gctx.Err() == nil {
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("server stopped")
	return nil
}

func runSolve(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	r, m, odorants, err := loadOdorants(cfg)
	if err != nil {
		return err
	}
	solver, err := buildSolver(cfg)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		return fmt.Errorf("at least one --target is required")
	}

	names := odorantNames(odorants)
	for _, raw := range targets {
		conc, err := parseTarget(raw, len(odorants))
		if err != nil {
			return err
		}
		res := solver.Solve(m, rig.TargetVector{Concentrations: conc, TotalFlow: cfg.Rig.TotalFlow}, r.MaxFlows())
		fmt.Println(viz.RenderReport(res.Report, names))
		fmt.Println(viz.RenderSchedule(res.Schedule))
	}
	return nil
}

type discardCommitter struct{}

func (discardCommitter) Commit(rig.Frame) {}

func runPreview(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log, closeLog, err := newLogger(cfg, false)
	if err != nil {
		return err
	}
	defer closeLog()

	r, m, _, err := loadOdorants(cfg)
	if err != nil {
		return err
	}
	solver, err := buildSolver(cfg)
	if err != nil {
		return err
	}
	eng, err := engine.New(engine.Config{
		Rig:       r,
		Matrix:    m,
		Solver:    solver,
		Committer: discardCommitter{},
		Samples:   cfg.Frame.Samples,
		TotalFlow: cfg.Rig.TotalFlow,
		Log:       log,
	})
	if err != nil {
		return err
	}

	if hold != "" {
		sched, err := parseHold(hold, r.Channels(), mixingA, mixingB, cfg.Rig.TotalFlow)
		if err != nil {
			return err
		}
		if err := eng.Apply(sched); err != nil {
			return err
		}
	} else {
		if len(targets) == 0 {
			return fmt.Errorf("either --target or --hold is required")
		}
		conc, err := parseTarget(targets[0], m.Odorants())
		if err != nil {
			return err
		}
		if _, err := eng.SetTarget(conc); err != nil {
			return err
		}
	}

	fmt.Println(viz.RenderSchedule(eng.Schedule()))
	fmt.Print(viz.RenderFrame(eng.Frame(), r.Channels()))
	duties := encoder.Decode(eng.Frame(), r.Channels())
	for i, d := range duties {
		if !d.IsZero() {
			fmt.Printf("ch%d decoded A=%.3f B=%.3f offset=%.3f\n", i+1, d.A, d.B, d.Offset)
		}
	}
	return nil
}

func runSend(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	order, err := cfg.ByteOrder()
	if err != nil {
		return err
	}
	odorants, err := parseOdorants(odorantIDs, dilutions)
	if err != nil {
		return err
	}

	conn, err := net.Dial("tcp", cfg.Server.Addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	client := session.NewClient(conn, order)
	if err := client.Configure(odorants); err != nil {
		return fmt.Errorf("configure: %w", err)
	}
	for i, raw := range targets {
		logs, err := parseFloats(raw)
		if err != nil {
			return err
		}
		if err := client.Send(logs); err != nil {
			return fmt.Errorf("send target %d: %w", i+1, err)
		}
		fmt.Printf("sent %v\n", logs)
		if i < len(targets)-1 {
			time.Sleep(sendEvery)
		}
	}
	return nil
}

func runTableBuild(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	r, m, odorants, err := loadOdorants(cfg)
	if err != nil {
		return err
	}

	var channels []int
	if tableChannels != "" {
		ids, err := parseInts(tableChannels)
		if err != nil {
			return err
		}
		for _, c := range ids {
			channels = append(channels, int(c)-1)
		}
	} else {
		for k := range odorants {
			channels = append(channels, k)
		}
	}

	b := &lookup.Builder{
		Matrix:     m,
		MaxFlows:   r.MaxFlows(),
		TotalFlow:  cfg.Rig.TotalFlow,
		Channels:   channels,
		DutyLevels: lookup.Levels(0, 1, dutyLevels),
		FlowLevels: lookup.Levels(0, 1, flowLevels),
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	start := time.Now()
	t, err := b.Build(ctx)
	if err != nil {
		return err
	}
	if err := t.Save(tableOut); err != nil {
		return err
	}
	fmt.Printf("wrote %d rows to %s in %v\n", len(t.Rows), tableOut, time.Since(start).Round(time.Millisecond))
	return nil
}

func loadOdorants(cfg *config.Config) (*rig.Rig, rig.Matrix, []rig.Odorant, error) {
	r, err := cfg.BuildRig()
	if err != nil {
		return nil, nil, nil, err
	}
	odorants, err := parseOdorants(odorantIDs, dilutions)
	if err != nil {
		return nil, nil, nil, err
	}
	m, err := cfg.BuildChemistry().VaporConcentrationMatrix(odorants)
	if err != nil {
		return nil, nil, nil, err
	}
	return r, m, odorants, nil
}

func parseOdorants(ids, dils string) ([]rig.Odorant, error) {
	if ids == "" {
		return nil, fmt.Errorf("--odorants is required")
	}
	idv, err := parseInts(ids)
	if err != nil {
		return nil, fmt.Errorf("odorants: %w", err)
	}
	out := make([]rig.Odorant, len(idv))
	for i, id := range idv {
		out[i] = rig.Odorant{ID: id, Dilution: 1}
	}
	if dils == "" {
		return out, nil
	}
	dv, err := parseInts(dils)
	if err != nil {
		return nil, fmt.Errorf("dilutions: %w", err)
	}
	if len(dv) != len(idv) {
		return nil, fmt.Errorf("%d dilutions for %d odorants", len(dv), len(idv))
	}
	for i, d := range dv {
		out[i].Dilution = d
	}
	return out, nil
}

func parseInts(s string) ([]int32, error) {
	parts := strings.Split(s, ",")
	out := make([]int32, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseInt(strings.TrimSpace(p), 10, 32)
		if err != nil {
			return nil, err
		}
		out = append(out, int32(v))
	}
	return out, nil
}

func parseFloats(s string) ([]float64, error) {
	parts := strings.Split(s, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// parseTarget reads log10 concentrations and returns molar values.
func parseTarget(s string, n int) ([]float64, error) {
	logs, err := parseFloats(s)
	if err != nil {
		return nil, err
	}
	if len(logs) != n {
		return nil, fmt.Errorf("target has %d values for %d odorants: %w", len(logs), n, rig.ErrDimensionMismatch)
	}
	out := make([]float64, n)
	for i, x := range logs {
		out[i], _ = session.Antilog(x)
	}
	return out, nil
}

// parseHold reads "A:B" duty pairs, one per channel from channel 1.
func parseHold(s string, channels int, a, b, total float64) (rig.Schedule, error) {
	sched := rig.Off(channels, total)
	pairs := strings.Split(s, ",")
	if len(pairs) > channels {
		return rig.Schedule{}, fmt.Errorf("%d duties for %d channels: %w", len(pairs), channels, rig.ErrTooManyChannels)
	}
	for i, p := range pairs {
		fields := strings.SplitN(p, ":", 2)
		if len(fields) != 2 {
			return rig.Schedule{}, fmt.Errorf("channel %d: expected A:B, got %q", i+1, p)
		}
		da, err := strconv.ParseFloat(strings.TrimSpace(fields[0]), 64)
		if err != nil {
			return rig.Schedule{}, err
		}
		db, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
		if err != nil {
			return rig.Schedule{}, err
		}
		sched.Duties[i] = rig.Duty{A: da, B: db}
	}
	sched.Mixing = [2]float64{a, b}
	sched.Carrier = total - a - b
	if sched.Carrier < 0 {
		sched.Carrier = 0
	}
	return sched, sched.Validate()
}

func odorantNames(odorants []rig.Odorant) []string {
	names := make([]string, len(odorants))
	for i, o := range odorants {
		names[i] = strconv.Itoa(int(o.ID))
	}
	return names
}
