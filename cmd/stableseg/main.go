// Package main replays recorded bags through a segmentation session.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/stableseg/stableseg/config"
	"github.com/stableseg/stableseg/logging"
	"github.com/stableseg/stableseg/pipeline"
	"github.com/stableseg/stableseg/publish"
	"github.com/stableseg/stableseg/ros"
	"github.com/stableseg/stableseg/segmentation"
	"github.com/stableseg/stableseg/selection"
)

const (
	flagConfig    = "config"
	flagBag       = "bag"
	flagOutput    = "output"
	flagOutputDir = "output-dir"
	flagNATSURL   = "nats-url"
	flagDumpDir   = "dump-dir"
	flagDebug     = "debug"
	flagFormat    = "format"
	flagLogFile   = "log-file"
)

func main() {
	logger := logging.NewLogger("stableseg")
	var logFile io.Closer

	configFlag := &cli.StringFlag{
		Name:    flagConfig,
		Aliases: []string{"c"},
		Usage:   "load configuration from `FILE`; defaults are used for every option it leaves out",
	}
	app := &cli.App{
		Name:  "stableseg",
		Usage: "publish depth segments from frames captured while the robot is still",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    flagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
			&cli.StringFlag{
				Name:  flagLogFile,
				Usage: "also write logs to `FILE`, rotated every 100MB",
			},
		},
		Before: func(c *cli.Context) error {
			if path := c.String(flagLogFile); path != "" {
				var appender logging.Appender
				appender, logFile = logging.NewRotatingFileAppender(path, 100, 3)
				logger.AddAppender(appender)
			}
			return nil
		},
		After: func(c *cli.Context) error {
			if logFile == nil {
				return nil
			}
			return logFile.Close()
		},
		Commands: []*cli.Command{
			{
				Name:      "replay",
				Usage:     "run a recorded bag through a session",
				UsageText: "stableseg replay --bag FILE [--config FILE] [--output memory|dir|nats] [--dump-dir DIR]",
				Flags: []cli.Flag{
					configFlag,
					&cli.StringFlag{
						Name:     flagBag,
						Required: true,
						Usage:    "bag `FILE` to replay",
					},
					&cli.StringFlag{
						Name:  flagOutput,
						Usage: "where to publish segments: memory, dir or nats; overrides the config",
					},
					&cli.StringFlag{
						Name:  flagOutputDir,
						Usage: "directory PCD files are written to with --output dir",
					},
					&cli.StringFlag{
						Name:  flagNATSURL,
						Usage: "NATS server URL used with --output nats",
					},
					&cli.StringFlag{
						Name:  flagDumpDir,
						Usage: "also write every published cloud as a PCD file to this directory",
					},
				},
				Action: func(c *cli.Context) error {
					return replayAction(c, logger)
				},
			},
			{
				Name:  "check-config",
				Usage: "validate a configuration and print it with defaults filled in",
				Flags: []cli.Flag{
					configFlag,
					&cli.StringFlag{
						Name:  flagFormat,
						Value: "yaml",
						Usage: "output format: yaml or json",
					},
				},
				Action: func(c *cli.Context) error {
					return checkConfigAction(c, logger)
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.Fatal(err)
	}
}

func loadConfig(c *cli.Context, logger logging.Logger) (*config.Config, error) {
	path := c.String(flagConfig)
	if path == "" {
		cfg := config.Default()
		return &cfg, nil
	}
	return config.Read(path, logger)
}

// applyFlags overrides the output options of cfg with the ones given on the command line.
func applyFlags(c *cli.Context, cfg *config.Config) error {
	if c.IsSet(flagOutput) {
		cfg.Output = c.String(flagOutput)
	}
	if c.IsSet(flagOutputDir) {
		cfg.OutputDir = c.String(flagOutputDir)
	}
	if c.IsSet(flagNATSURL) {
		cfg.NATS.URL = c.String(flagNATSURL)
	}
	return cfg.CheckValid()
}

// newSink builds the sink cfg.Output names. When dumpDir is set, every cloud is also written there.
func newSink(cfg *config.Config, dumpDir string, logger logging.Logger) (publish.Sink, error) {
	var sink publish.Sink
	switch cfg.Output {
	case config.OutputDir:
		dir, err := publish.NewPCDDirSink(cfg.OutputDir, logger.Sublogger("pcd"))
		if err != nil {
			return nil, err
		}
		sink = dir
	case config.OutputNATS:
		nc, err := publish.NewNATSSink(cfg.NATS.URL, cfg.NATS.Name, cfg.NATS.SubjectPrefix, logger.Sublogger("nats"))
		if err != nil {
			return nil, err
		}
		sink = nc
	default:
		sink = publish.NewMemorySink()
	}
	if dumpDir == "" {
		return sink, nil
	}
	dump, err := publish.NewPCDDirSink(dumpDir, logger.Sublogger("dump"))
	if err != nil {
		return nil, multierr.Combine(err, sink.Close())
	}
	return publish.Tee(sink, dump), nil
}

func replayAction(c *cli.Context, logger logging.Logger) (err error) {
	cfg, err := loadConfig(c, logger)
	if err != nil {
		return err
	}
	if err := applyFlags(c, cfg); err != nil {
		return err
	}
	level, err := cfg.Level()
	if err != nil {
		return err
	}
	if c.Bool(flagDebug) {
		level = logging.DEBUG
	}
	logger.SetLevel(level)

	rb, err := ros.ReadBag(c.String(flagBag))
	if err != nil {
		return err
	}
	events, err := ros.LoadEvents(rb, cfg)
	if err != nil {
		return errors.Wrap(err, "loading bag")
	}
	if len(events) == 0 {
		return errors.New("bag holds no messages on the configured topics")
	}

	sink, err := newSink(cfg, c.String(flagDumpDir), logger)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, sink.Close())
	}()

	replayer, err := ros.NewReplayer(cfg, pipeline.Collaborators{
		Engine: segmentation.NewMaskProjectionEngine(cfg.SemanticInstanceSegmentation.OverlapThreshold, logger.Sublogger("engine")),
		Sink:   sink,
		Scorer: &selection.DepthStabilityScorer{MinValidFraction: cfg.MinValidFraction},
	}, events[0].Stamp, logger)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt)
	defer cancel()
	stats, err := replayer.Replay(ctx, events)
	printStats(c.App.Writer, stats)
	if mem, ok := sink.(*publish.MemorySink); ok {
		printTopics(c.App.Writer, mem)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func printStats(w io.Writer, stats ros.Stats) {
	fmt.Fprintf(w, "frames: %d\ndropped: %d\nsegments: %d\nscenes: %d\n",
		stats.Frames, stats.Dropped, stats.Segments, stats.Scenes)
	decisions := make([]pipeline.Decision, 0, len(stats.Decisions))
	for d := range stats.Decisions {
		decisions = append(decisions, d)
	}
	sort.Slice(decisions, func(i, j int) bool { return decisions[i] < decisions[j] })
	for _, d := range decisions {
		fmt.Fprintf(w, "  %s: %d\n", d, stats.Decisions[d])
	}
}

func printTopics(w io.Writer, sink *publish.MemorySink) {
	counts := map[string]int{}
	for _, m := range sink.Messages("") {
		counts[m.Topic]++
	}
	topics := make([]string, 0, len(counts))
	for topic := range counts {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	for _, topic := range topics {
		fmt.Fprintf(w, "%s: %d clouds\n", topic, counts[topic])
	}
}

func checkConfigAction(c *cli.Context, logger logging.Logger) error {
	cfg, err := loadConfig(c, logger)
	if err != nil {
		return err
	}
	return writeConfig(c.App.Writer, cfg, c.String(flagFormat))
}

// writeConfig prints cfg under its file keys.
func writeConfig(w io.Writer, cfg *config.Config, format string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	switch format {
	case "json":
		_, err = fmt.Fprintln(w, string(data))
		return err
	case "yaml":
		var attrs config.AttributeMap
		if err := json.Unmarshal(data, &attrs); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		return multierr.Combine(enc.Encode(map[string]interface{}(attrs)), enc.Close())
	default:
		return errors.Errorf("unknown format %q, expected yaml or json", format)
	}
}
