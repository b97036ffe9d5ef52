package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/modelhaul/haul"
)

var version = "dev"

func main() {

	app := &cli.App{
		Name:    "haul",
		Usage:   "resumable downloader for large model artifacts",
		Version: version,
		Commands: []*cli.Command{
			getCommand(),
			cancelCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		logrus.Fatal(err)
	}
}

func getCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "download a model, resuming any paused transfer (Ctrl-C pauses)",
		ArgsUsage: "<url>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "id", Usage: "model identifier (defaults to the file name)"},
			&cli.StringFlag{Name: "out", Usage: "destination file name"},
			&cli.StringFlag{Name: "dir", Usage: "destination directory"},
			&cli.Int64Flag{Name: "size", Usage: "expected total size in bytes (0 if unknown)"},
			&cli.StringFlag{Name: "extract-to", Usage: "treat the file as an archive and extract it here"},
			&cli.StringFlag{Name: "token", Usage: "bearer credential"},
			&cli.StringFlag{Name: "redis", Usage: "redis address for the progress store (default: local file)"},
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "debug logging"},
		},
		Action: runGet,
	}
}

func cancelCommand() *cli.Command {
	return &cli.Command{
		Name:      "cancel",
		Usage:     "drop the paused progress record for a model",
		ArgsUsage: "<id>",
		Action: func(c *cli.Context) error {
			id := c.Args().First()
			if id == "" {
				return fmt.Errorf("missing model id")
			}

			cfg, err := LoadConfig()
			if err != nil {
				return err
			}

			store, err := openStore(cfg, c.String("redis"))
			if err != nil {
				return err
			}

			eng := haul.New(store)
			eng.Cancel(id)
			return nil
		},
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "redis", Usage: "redis address for the progress store"},
		},
	}
}

func runGet(c *cli.Context) error {

	url := c.Args().First()
	if url == "" {
		return fmt.Errorf("missing download url")
	}

	cfg, err := LoadConfig()
	if err != nil {
		return err
	}

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	if c.Bool("verbose") {
		logger.SetLevel(logrus.DebugLevel)
	}

	store, err := openStore(cfg, c.String("redis"))
	if err != nil {
		return err
	}

	id := c.String("id")
	if id == "" {
		id = haul.GetFilename(url)
	}

	dir := c.String("dir")
	if dir == "" {
		dir = cfg.Dir
	}

	token := c.String("token")
	if token == "" {
		token = cfg.Token
	}

	updates := make(chan haul.Update, 8)

	eng := haul.New(store)
	eng.Logger = logger
	eng.Updates = updates
	eng.Policy = policyFromConfig(cfg)

	task := &haul.Task{
		ID:         id,
		URL:        url,
		Dest:       c.String("out"),
		Dir:        dir,
		TotalSize:  c.Int64("size"),
		Archive:    c.String("extract-to") != "",
		ExtractDir: c.String("extract-to"),
		Token:      token,
		Generation: eng.Generation,
	}

	if rec, ok := eng.Resume(id); ok {
		fmt.Printf("Resuming '%s' at %d%%\n", id, rec.Percent)
	}

	// Ctrl-C pauses rather than aborts; rerunning the same command resumes.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigs
		eng.Pause(id, 0)
	}()

	go printProgress(updates)

	for {
		outcome := eng.Run(context.Background(), task)

		switch outcome.Kind {

		case haul.OutcomeSuccess:
			fmt.Printf("\nDone: %s\n", task.Path())
			return nil

		case haul.OutcomeRetry:
			fmt.Printf("\n%s\n", outcome)
			time.Sleep(outcome.Delay)

		case haul.OutcomeCancelled:
			fmt.Printf("\nPaused '%s'; rerun to resume\n", id)
			return nil

		case haul.OutcomeAbandoned:
			return fmt.Errorf("task abandoned: stale generation")

		default:
			return fmt.Errorf("download failed: %w", outcome.Err)
		}
	}
}

func openStore(cfg *Config, redisAddr string) (haul.ProgressStore, error) {
	if redisAddr == "" {
		redisAddr = cfg.RedisAddr
	}
	if redisAddr != "" {
		return haul.NewRedisStore(redis.NewClient(&redis.Options{Addr: redisAddr})), nil
	}
	return haul.OpenFileStore(cfg.StatePath)
}

func policyFromConfig(cfg *Config) haul.Policy {
	p := haul.DefaultPolicy()
	if cfg.RetryInitial > 0 {
		p.InitialDelay = cfg.RetryInitial
	}
	if cfg.RetryMax > 0 {
		p.MaxDelay = cfg.RetryMax
	}
	if cfg.RetryAttempts > 0 {
		p.MaxAttempts = cfg.RetryAttempts
	}
	return p
}

func printProgress(updates <-chan haul.Update) {

	for u := range updates {

		line := fmt.Sprintf("\r%s", humanize.Bytes(uint64(u.BytesDownloaded)))

		if u.TotalBytes > 0 {
			line += fmt.Sprintf(" / %s (%d%%)", humanize.Bytes(uint64(u.TotalBytes)), u.Percent)
		}

		line += fmt.Sprintf(" | %s/s", humanize.Bytes(uint64(u.RateBytesPerSec)))

		if u.ETASeconds >= 0 {
			line += fmt.Sprintf(" | ETA %s", (time.Duration(u.ETASeconds) * time.Second).String())
		}

		fmt.Print(line + "    ")
	}
}
