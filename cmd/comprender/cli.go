package main

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/mrjoshuak/go-compositor/execution"
	"github.com/mrjoshuak/go-compositor/filter"
	"github.com/mrjoshuak/go-compositor/graph"
	"github.com/mrjoshuak/go-compositor/internal/envconfig"
	"github.com/mrjoshuak/go-compositor/memory"
	"github.com/mrjoshuak/go-compositor/operation"
	"github.com/mrjoshuak/go-compositor/spill"
)

const version = "0.3.0"

// renderOptions describes the graph built by the render command.
type renderOptions struct {
	blur      float32
	filter    string
	quality   int
	scale     float32
	mix       string
	mixFactor float32
}

// appendEnvDocs lists environment variables at the end of cmd's usage.
func appendEnvDocs(cmd *cobra.Command, envs []envconfig.EnvVar) {
	if len(envs) == 0 {
		return
	}
	usage := "\nEnvironment Variables:\n"
	for _, e := range envs {
		usage += fmt.Sprintf("      %-24s   %s\n", e.Name, e.Description)
	}
	cmd.SetUsageTemplate(cmd.UsageTemplate() + usage)
}

// NewCLI builds the command tree.
func NewCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "comprender",
		Short:         "Tiled multi-threaded image compositor",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := envconfig.LogLevel()
			if verbose, _ := cmd.Flags().GetBool("verbose"); !verbose && level == slog.LevelInfo {
				level = slog.LevelWarn
			}
			execution.SetLogger(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
				Level: level,
			})))
		},
	}
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log group and execution progress")

	renderCmd := newRenderCmd()
	envVars := envconfig.AsMap()
	keys := make([]string, 0, len(envVars))
	for k := range envVars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	envs := make([]envconfig.EnvVar, 0, len(keys))
	for _, k := range keys {
		envs = append(envs, envVars[k])
	}
	appendEnvDocs(renderCmd, envs)

	rootCmd.AddCommand(renderCmd, newEnvCmd(), newVersionCmd())
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "comprender version %s\n", version)
		},
	}
}

func newEnvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "Show the configuration read from the environment",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			vars := envconfig.AsMap()
			keys := make([]string, 0, len(vars))
			for k := range vars {
				keys = append(keys, k)
			}
			sort.Strings(keys)

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetHeader([]string{"VARIABLE", "VALUE", "DESCRIPTION"})
			table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
			table.SetAlignment(tablewriter.ALIGN_LEFT)
			table.SetBorder(false)
			for _, k := range keys {
				v := vars[k]
				table.Append([]string{v.Name, fmt.Sprint(v.Value), v.Description})
			}
			table.Render()
		},
	}
}

func newRenderCmd() *cobra.Command {
	var opts renderOptions
	var stats bool

	cmd := &cobra.Command{
		Use:   "render [flags] <input> <output>",
		Short: "Blur and mix an image through the compositor",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFromFlags(cmd)
			if err != nil {
				return err
			}
			res, err := render(cmd, cfg, opts, args[0], args[1])
			if err != nil {
				return err
			}
			if stats {
				printStats(cmd.OutOrStdout(), res)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.Float32Var(&opts.blur, "blur", 0, "Blur radius in pixels (0 disables the blur)")
	f.StringVar(&opts.filter, "filter", "gauss", "Blur filter: box, tent, quad, cubic, catrom, gauss, mitch")
	f.IntVar(&opts.quality, "quality", 0, "Blur quality: 0 high, 1 medium, 2 low")
	f.Float32Var(&opts.scale, "scale", 1, "Scale factor about the image centre")
	f.StringVar(&opts.mix, "mix", "", "Mix the result over the input: blend, add, subtract, multiply, difference, darken, lighten")
	f.Float32Var(&opts.mixFactor, "mix-factor", 0.5, "Mix factor")
	f.IntP("threads", "t", 0, "Number of workers (default: COMPOSITOR_THREADS or one per CPU)")
	f.Int("chunk", 0, "Chunk size in pixels (default: COMPOSITOR_CHUNK_SIZE or 256)")
	f.String("spill-dir", "", "Directory for spilled chunks (default: COMPOSITOR_SPILL_DIR)")
	f.String("codec", "", "Spill codec: none, zip, half (default: COMPOSITOR_SPILL_CODEC)")
	f.Int64("memory-limit", 0, "Maximum resident chunk memory in bytes (default: COMPOSITOR_MEMORY_LIMIT)")
	f.Bool("spill", false, "Spill intermediate images to disk as soon as they are complete")
	f.BoolVarP(&stats, "stats", "s", false, "Print execution statistics")
	return cmd
}

// configFromFlags reads the environment and applies the flags the user set.
func configFromFlags(cmd *cobra.Command) (execution.Config, error) {
	cfg, err := execution.ConfigFromEnv()
	if err != nil {
		return cfg, err
	}
	f := cmd.Flags()
	if f.Changed("threads") {
		cfg.Workers, _ = f.GetInt("threads")
	}
	if f.Changed("chunk") {
		cfg.ChunkSize, _ = f.GetInt("chunk")
	}
	if f.Changed("spill-dir") {
		cfg.SpillDir, _ = f.GetString("spill-dir")
	}
	if f.Changed("codec") {
		name, _ := f.GetString("codec")
		if cfg.SpillCodec, err = spill.ParseCodec(name); err != nil {
			return cfg, err
		}
	}
	if f.Changed("memory-limit") {
		cfg.MemoryLimit, _ = f.GetInt64("memory-limit")
	}
	cfg.SpillIntermediates, _ = f.GetBool("spill")
	return cfg, nil
}

// buildGraph wires input -> [scale] -> [x blur -> y blur] -> [mix over input].
func buildGraph(raster *memory.Buffer, opts renderOptions) (*graph.Graph, error) {
	g := graph.New()
	img := operation.NewImage(raster)
	g.Add(img)
	var out operation.Operation = img

	if opts.scale != 1 {
		sc := operation.NewScale(opts.scale, opts.scale)
		if err := g.Connect(out, sc, 0); err != nil {
			return nil, err
		}
		out = sc
	}

	if opts.blur > 0 {
		ft, err := filter.ParseType(opts.filter)
		if err != nil {
			return nil, err
		}
		if opts.quality < 0 || opts.quality > int(operation.QualityLow) {
			return nil, fmt.Errorf("%w: quality %d", operation.ErrInvalidParameter, opts.quality)
		}
		data := operation.BlurData{
			Filter:  ft,
			SizeX:   int(opts.blur + 0.5),
			SizeY:   int(opts.blur + 0.5),
			Quality: operation.Quality(opts.quality),
		}
		bx := operation.NewGaussianXBlur(data)
		by := operation.NewGaussianYBlur(data)
		if err := g.Connect(out, bx, 0); err != nil {
			return nil, err
		}
		if err := g.Connect(bx, by, 0); err != nil {
			return nil, err
		}
		out = by
	}

	if opts.mix != "" {
		mode, err := operation.ParseMixMode(opts.mix)
		if err != nil {
			return nil, err
		}
		mix := operation.NewMix(mode)
		for _, link := range []struct {
			from  operation.Operation
			input int
		}{
			{operation.NewSetValue(opts.mixFactor), operation.MixInputFactor},
			{img, operation.MixInputColor1},
			{out, operation.MixInputColor2},
		} {
			if err := g.Connect(link.from, mix, link.input); err != nil {
				return nil, err
			}
		}
		out = mix
	}

	g.SetOutput(out)
	return g, nil
}

func render(cmd *cobra.Command, cfg execution.Config, opts renderOptions, input, output string) (*execution.Result, error) {
	src, err := loadImage(input)
	if err != nil {
		return nil, err
	}
	raster, err := toRaster(src)
	if err != nil {
		return nil, err
	}
	defer raster.Free()

	g, err := buildGraph(raster, opts)
	if err != nil {
		return nil, err
	}
	c := execution.New(cfg)
	plan, err := c.Compile(g)
	if err != nil {
		return nil, err
	}
	res, err := c.Execute(cmd.Context(), plan)
	if err != nil {
		return nil, err
	}
	defer res.Close()

	out, err := res.Raster()
	if err != nil {
		return nil, err
	}
	defer out.Free()
	if err := saveImage(output, fromRaster(out)); err != nil {
		return nil, err
	}
	return res, nil
}

func printStats(w io.Writer, res *execution.Result) {
	s := res.Stats
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"STAT", "VALUE"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.AppendBulk([][]string{
		{"groups", strconv.Itoa(s.Groups)},
		{"chunks", strconv.Itoa(s.Chunks)},
		{"workers", strconv.Itoa(s.Workers)},
		{"spilled chunks", strconv.Itoa(s.Spilled)},
		{"peak memory", humanBytes(s.PeakMemory)},
		{"duration", s.Duration.Round(time.Millisecond).String()},
	})
	table.Render()
}

func humanBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
