package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"deliveryd/internal/schedule"
)

type nextOptions struct {
	tz    string
	count int
}

// NextResult is the json output of the next command.
type NextResult struct {
	Expr        string      `json:"expr"`
	Kind        string      `json:"kind"`
	Timezone    string      `json:"timezone"`
	Occurrences []time.Time `json:"occurrences"`
}

// NewNextCommand previews upcoming occurrences of a schedule expression.
func NewNextCommand(rootOpts *RootOptions) *cobra.Command {
	o := &nextOptions{}
	cmd := &cobra.Command{
		Use:   "next <expr>",
		Short: "Preview upcoming occurrences of a schedule expression",
		Example: `  deliveryd next "every day 10:00"
  deliveryd next "every month last friday 18:30" --tz Europe/Berlin --count 3`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNext(rootOpts, o, args[0], cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&o.tz, "tz", "", "IANA timezone (default: local)")
	cmd.Flags().IntVarP(&o.count, "count", "n", 5, "number of occurrences")
	return cmd
}

func runNext(rootOpts *RootOptions, o *nextOptions, raw string, w io.Writer) error {
	loc := time.Local
	if tz := strings.TrimSpace(o.tz); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --tz", err)
		}
		loc = l
	}
	if o.count < 1 {
		return NewExitError(ExitCommandError, "--count must be >= 1")
	}
	e, ok := schedule.Parse(raw)
	if !ok {
		return NewExitError(ExitCommandError, fmt.Sprintf("unrecognized schedule expression %q", raw))
	}
	out := NextResult{
		Expr:        schedule.Normalize(raw),
		Kind:        e.Kind.String(),
		Timezone:    loc.String(),
		Occurrences: e.Preview(rootOpts.clock(), loc, o.count),
	}

	if rootOpts.Format == "json" {
		return writeJSON(w, out)
	}
	fmt.Fprintf(w, "%s (%s, %s)\n", out.Expr, out.Kind, out.Timezone)
	for _, t := range out.Occurrences {
		fmt.Fprintf(w, "  %s\n", t.Format("Mon 2006-01-02 15:04 MST"))
	}
	return nil
}
