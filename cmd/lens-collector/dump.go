package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jnesss/temporal-lens/collector"
	"github.com/jnesss/temporal-lens/event"
	"github.com/jnesss/temporal-lens/session"
	"github.com/jnesss/temporal-lens/shm"
)

func newDumpCmd() *cobra.Command {
	var spans bool
	cmd := &cobra.Command{
		Use:   "dump PATH",
		Short: "Drain a segment once and print its events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := collector.Open(args[0])
			if err != nil {
				return err
			}
			defer r.Close()

			events, err := r.Drain(0)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
			}
			if spans {
				return printSpans(cmd.OutOrStdout(), r, events)
			}
			return printEvents(cmd.OutOrStdout(), r, events)
		},
	}
	cmd.Flags().BoolVar(&spans, "spans", false, "Print assembled spans instead of raw events")
	return cmd
}

func printEvents(out io.Writer, r *collector.Reader, events []event.Event) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIMESTAMP\tTHREAD\tFIBER\tKIND\tLABEL\tVALUE")
	for _, e := range events {
		fmt.Fprintf(tw, "%d\t%d\t%d\t%s\t%s\t%s\n",
			e.Timestamp, e.ThreadID, e.Fiber, e.Kind, r.Labels().Name(e.Label), value(e))
	}
	return tw.Flush()
}

func value(e event.Event) string {
	switch {
	case e.Text != "":
		return fmt.Sprintf("%q", e.Text)
	case e.Kind == event.KindCounter && e.Flags.Has(event.FlagFloat):
		return fmt.Sprintf("%g", e.Float())
	case e.Kind == event.KindCounter:
		return fmt.Sprintf("%d", e.Int())
	case e.Kind == event.KindAlloc:
		op := "alloc"
		if e.Flags.Has(event.FlagFree) {
			op = "free"
		}
		return fmt.Sprintf("%s %d @%#x", op, e.Payload, e.Address)
	case e.Kind == event.KindSpanEnd && e.Flags.Has(event.FlagImplicit):
		return "implicit"
	default:
		return fmt.Sprintf("%d", e.Payload)
	}
}

func printSpans(out io.Writer, r *collector.Reader, events []event.Event) error {
	spans, anomalies := collector.NewAssembler().Feed(events)

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "START\tTHREAD\tDURATION\tLABEL")
	for _, s := range spans {
		label := strings.Repeat("  ", s.Depth) + r.Labels().Name(s.Label)
		if s.Implicit {
			label += " (implicit)"
		}
		fmt.Fprintf(tw, "%d\t%d\t%d\t%s\n", s.Start, s.Thread, s.Duration(), label)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, a := range anomalies {
		fmt.Fprintf(out, "anomaly: %s thread=%d label=%s ts=%d\n",
			a.Kind, a.Thread, r.Labels().Name(a.Label), a.Timestamp)
	}
	return nil
}

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info PATH",
		Short: "Print a segment header",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := collector.Open(args[0])
			if err != nil {
				return err
			}
			defer r.Close()

			md, err := r.Metadata()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Session:    %s\n", md.SessionID)
			fmt.Fprintf(out, "PID:        %d\n", md.PID)
			fmt.Fprintf(out, "State:      %s\n", md.State)
			fmt.Fprintf(out, "Generation: %d\n", md.Generation)
			fmt.Fprintf(out, "Started:    %s\n", md.Started.Format("2006-01-02 15:04:05.000"))
			fmt.Fprintf(out, "Labels:     %d (overflow %d)\n", md.Labels, md.LabelOverflow)
			fmt.Fprintf(out, "Dropped:    %d\n", md.Dropped)
			for _, t := range md.Threads {
				state := "active"
				if t.State != shm.SlotActive {
					state = "released"
				}
				fmt.Fprintf(out, "Ring %3d:   thread %d %q tid %d %s\n",
					t.Index, t.ThreadID, r.Labels().Name(t.NameLabel), t.OSThreadID, state)
			}
			if md.State == session.StateDegraded {
				fmt.Fprintln(out, "Producer reports a stale collector heartbeat")
			}
			return nil
		},
	}
}
