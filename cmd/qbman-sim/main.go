// Command qbman-sim pushes frames through a simulated queue manager: one
// portal acquires buffers and enqueues, another dequeues through a push
// channel and releases the buffers back to their pool.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/ehrlich-b/go-qbman/internal/logging"
)

var app = &cli.App{
	Name:  "qbman-sim",
	Usage: "Run frame traffic through a simulated queue manager.",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "topology `file` (YAML); built-in defaults when empty",
		},
		&cli.IntFlag{
			Name:    "frames",
			Aliases: []string{"n"},
			Usage:   "override traffic.frames",
		},
		&cli.BoolFlag{
			Name:  "interrupts",
			Value: true,
			Usage: "park the consumer on the portal interrupt when idle",
		},
		&cli.StringFlag{
			Name:  "metrics-addr",
			Usage: "serve Prometheus metrics on `addr` while running",
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Value: time.Minute,
			Usage: "give up unless every frame arrives within this long",
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "debug logging",
		},
	},
	Before: func(c *cli.Context) error {
		cfg := logging.DefaultConfig()
		if c.Bool("verbose") {
			cfg.Level = logging.LevelDebug
		}
		logging.SetDefault(logging.NewLogger(cfg))
		return nil
	},

	Action: func(c *cli.Context) error {
		t, err := topologyFrom(c)
		if err != nil {
			return err
		}
		if n := c.Int("frames"); n > 0 {
			t.Traffic.Frames = n
		}

		ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
		defer stop()

		rep, err := run(ctx, t, runOptions{
			Interrupts:  c.Bool("interrupts"),
			MetricsAddr: c.String("metrics-addr"),
			Timeout:     c.Duration("timeout"),
			Logger:      logging.Default(),
		})
		if rep != nil {
			printReport(c.App.Writer, rep)
		}
		return err
	},
	Commands: []*cli.Command{
		{
			Name:  "topology",
			Usage: "print the topology that would be used",
			Action: func(c *cli.Context) error {
				t, err := topologyFrom(c)
				if err != nil {
					return err
				}
				out, err := t.Marshal()
				if err != nil {
					return err
				}
				_, err = c.App.Writer.Write(out)
				return err
			},
		},
	},
}

func topologyFrom(c *cli.Context) (*Topology, error) {
	if path := c.String("config"); path != "" {
		return LoadTopology(path)
	}
	t := DefaultTopology()
	return t, t.Validate()
}

func printReport(w io.Writer, r *report) {
	p := message.NewPrinter(language.English)
	secs := r.Elapsed.Seconds()
	if secs <= 0 {
		secs = 1e-9
	}
	p.Fprintf(w, "frames:        %d in %v\n", r.Frames, r.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "throughput:    %sfps, %s/s\n",
		humanize.SIWithDigits(float64(r.Frames)/secs, 2, ""),
		humanize.Bytes(uint64(float64(r.Bytes)/secs)))
	p.Fprintf(w, "out of order:  %d\n", r.OutOfOrder)
	p.Fprintf(w, "notifications: %d\n", r.Notifications)
	p.Fprintf(w, "left queued:   %d\n", r.Leftover)
	fmt.Fprintf(w, "consumer:      %s entries, %s held, %s parks, %s wakeups, %s timeouts\n",
		humanize.Comma(int64(r.Runner.Entries)), humanize.Comma(int64(r.Runner.Held)),
		humanize.Comma(int64(r.Runner.Parks)), humanize.Comma(int64(r.Runner.Wakeups)),
		humanize.Comma(int64(r.Runner.Timeouts)))
	p.Fprintf(w, "producer:      %d enqueued, %d ring full, %d acquired\n",
		r.Producer.Enqueues, r.Producer.EnqueueBusy, r.Producer.BuffersAcquired)
	p.Fprintf(w, "commands:      %d, avg %v, p99 %v\n",
		r.Producer.Commands+r.Consumer.Commands,
		time.Duration(r.Producer.AvgLatencyNs), time.Duration(r.Producer.LatencyP99Ns))
	if carved, ok := r.Memory["carved"].(int64); ok {
		size, _ := r.Memory["size"].(int64)
		fmt.Fprintf(w, "buffer memory: %s carved of %s\n",
			humanize.IBytes(uint64(carved)), humanize.IBytes(uint64(size)))
	}
	if r.Engine.ProtocolErrors > 0 {
		p.Fprintf(w, "protocol errors: %d\n", r.Engine.ProtocolErrors)
	}
}

func main() {
	err := app.RunContext(context.Background(), os.Args)
	if err != nil {
		logging.Error("qbman-sim failed", "error", err)
	}
	l := logging.Default()
	l.Close()
	if n := l.Dropped(); n > 0 {
		fmt.Fprintf(os.Stderr, "qbman-sim: %d log lines dropped\n", n)
	}
	if err != nil {
		os.Exit(1)
	}
}
