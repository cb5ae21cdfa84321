// Replay runs the pairing pipeline in preview mode against a ticket fixture
// and prints the resulting run as JSON. It never closes tickets or sends
// notifications.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/linnemanlabs/go-core/cfg"
	"github.com/linnemanlabs/go-core/log"
	v "github.com/linnemanlabs/go-core/version"

	"github.com/linnemanlabs/settle/internal/alert"
	"github.com/linnemanlabs/settle/internal/correlate"
	"github.com/linnemanlabs/settle/internal/resolution"
	"github.com/linnemanlabs/settle/internal/ticketfile"
)

const appName = "settle"
const component = "replay"

type options struct {
	file      string
	hours     int
	threshold time.Duration
	workers   int
}

func (o *options) registerFlags(fs *flag.FlagSet) {
	fs.StringVar(&o.file, "file", "", "YAML or JSON ticket fixture (required)")
	fs.IntVar(&o.hours, "hours", 0, "only consider tickets updated in the last N hours (0 = all tickets in the file)")
	fs.DurationVar(&o.threshold, "auto-close-threshold", correlate.DefaultAutoCloseThreshold, "maximum firing/resolved gap for auto-close")
	fs.IntVar(&o.workers, "pair-workers", 1, "parallel workers for pair scanning")
}

func (o *options) validate() error {
	var errs []error
	if o.file == "" {
		errs = append(errs, errors.New("FILE is required"))
	}
	if o.hours < 0 || o.hours > resolution.MaxLookbackHours {
		errs = append(errs, fmt.Errorf("invalid HOURS %d (must be 0..%d)", o.hours, resolution.MaxLookbackHours))
	}
	if o.threshold <= 0 {
		errs = append(errs, fmt.Errorf("invalid AUTO_CLOSE_THRESHOLD %s (must be > 0)", o.threshold))
	}
	if o.workers <= 0 {
		errs = append(errs, fmt.Errorf("invalid PAIR_WORKERS %d (must be >= 1)", o.workers))
	}
	return errors.Join(errs...)
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "fatal error:", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	v.AppName = appName
	v.Component = component

	var (
		opts   options
		logCfg log.Config
	)
	fs := flag.NewFlagSet(component, flag.ContinueOnError)
	opts.registerFlags(fs)
	logCfg.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg.FillFromEnv(fs, "SETTLE_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})
	if err := errors.Join(opts.validate(), logCfg.Validate()); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	lg, err := log.New(logCfg.ToOptions(v.AppName))
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = lg.Sync() }()
	L := lg.With("component", component)
	ctx = log.WithContext(ctx, L)

	res, err := replay(ctx, &opts, L)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

// replay loads the fixture and previews it.
func replay(ctx context.Context, opts *options, L log.Logger) (*resolution.Run, error) {
	tickets, err := ticketfile.Load(opts.file)
	if err != nil {
		return nil, fmt.Errorf("load tickets: %w", err)
	}
	L.Info(ctx, "loaded ticket fixture", "file", opts.file, "tickets", len(tickets))

	var src resolution.TicketSource = ticketfile.NewSource(tickets)
	if opts.hours == 0 {
		src = unfiltered{src}
	}

	engine := correlate.NewEngine(correlate.Config{
		AutoCloseThreshold: opts.threshold,
		Workers:            opts.workers,
	}, L, correlate.Hooks{})

	svc := resolution.NewService(resolution.Config{LookbackHours: opts.hours}, engine,
		resolution.Deps{Source: src}, L, resolution.Hooks{})

	return svc.Preview(ctx, opts.hours), nil
}

// unfiltered ignores the lookback window so fixtures with old timestamps
// replay in full.
type unfiltered struct {
	resolution.TicketSource
}

func (u unfiltered) FetchTickets(ctx context.Context, _ time.Time) ([]alert.Ticket, error) {
	return u.TicketSource.FetchTickets(ctx, time.Time{})
}
