package cmd

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/filipyuen/Q9CP/pkg/session"
)

func newStatusCommand() command {
	return command{
		name:        "status",
		description: "Summarise the most recent session record",
		run:         runStatus,
	}
}

func runStatus(fs *flag.FlagSet, args []string, ctx *AppContext, stdout io.Writer, stderr io.Writer) error {
	if ctx == nil {
		return fmt.Errorf("application context unavailable")
	}
	dir := ctx.Config.Paths.SessionsDir
	if dir == "" {
		return errors.New("paths.sessions_dir is not configured; session records are disabled")
	}

	rec, path, err := session.Latest(dir)
	if err != nil {
		if errors.Is(err, session.ErrNoSessions) {
			fmt.Fprintf(stdout, "No sessions recorded in %s\n", dir)
			return nil
		}
		return err
	}

	now := timeNow()
	fmt.Fprintf(stdout, "Session %s (%s)\n", rec.SessionID, rec.Status.State)
	fmt.Fprintf(stdout, "  record: %s\n", path)
	fmt.Fprintf(stdout, "  device: %s", rec.Device.Path)
	if rec.Device.Name != "" {
		fmt.Fprintf(stdout, " (%s)", rec.Device.Name)
	}
	fmt.Fprintln(stdout)
	fmt.Fprintf(stdout, "  variant: %s, version: %s\n", rec.Variant, rec.AppVersion)
	fmt.Fprintf(stdout, "  started: %s (%s)\n", rec.CreatedAt.Format(time.RFC3339), humanize.RelTime(rec.CreatedAt, now, "ago", "from now"))
	fmt.Fprintf(stdout, "  duration: %s\n", rec.Duration(now).Round(time.Second))
	if rec.Status.Error != "" {
		fmt.Fprintf(stdout, "  error: %s\n", rec.Status.Error)
	}

	c := rec.Status.Counters
	fmt.Fprintf(stdout, "  intercepted: %s, forwarded: %s, forward failures: %s, dropped: %s, grab failures: %s\n",
		humanize.Comma(int64(c.Intercepted)),
		humanize.Comma(int64(c.Forwarded)),
		humanize.Comma(int64(c.ForwardFailures)),
		humanize.Comma(int64(c.Dropped)),
		humanize.Comma(int64(c.GrabFailures)),
	)
	if len(rec.Status.Timeline) > 0 {
		fmt.Fprintf(stdout, "  capture timeline:\n")
		for _, entry := range rec.Status.Timeline {
			fmt.Fprintf(stdout, "    - %s -> %s", entry.Timestamp.Format(time.RFC3339), entry.State)
			if entry.Reason != "" {
				fmt.Fprintf(stdout, " (%s)", entry.Reason)
			}
			fmt.Fprintln(stdout)
		}
	}
	return nil
}
