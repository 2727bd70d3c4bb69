package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"deliveryd/internal/catalog"
	"deliveryd/internal/delivery"
	"deliveryd/internal/selection"
)

// ValidationResult is the json output of the validate command.
type ValidationResult struct {
	Valid       bool                      `json:"valid"`
	Definitions int                       `json:"definitions"`
	Critical    int                       `json:"critical"`
	Errors      int                       `json:"errors"`
	Warnings    int                       `json:"warnings"`
	Findings    []catalog.ValidationError `json:"findings,omitempty"`
}

type validateOptions struct {
	deliveries string
	categories string
}

// NewValidateCommand checks catalog files without starting anything. It
// exits non-zero when a CRITICAL finding is present.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	o := &validateOptions{}
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate deliveries and categories files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd.Context(), rootOpts, o, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&o.deliveries, "deliveries", delivery.DeliveriesFile, "path to the deliveries file")
	cmd.Flags().StringVar(&o.categories, "categories", delivery.CategoriesFile, "path to the categories file")
	return cmd
}

func runValidate(ctx context.Context, rootOpts *RootOptions, o *validateOptions, w io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	loader := catalog.FileLoader{DeliveriesPath: o.deliveries, CategoriesPath: o.categories}

	var (
		res  ValidationResult
		defs int
	)
	snap, err := loader.Load(ctx)
	if err != nil {
		res.Findings = []catalog.ValidationError{{
			Source:   delivery.DeliveriesFile,
			Message:  err.Error(),
			Severity: catalog.SeverityCritical,
		}}
	} else {
		defs = len(snap.Definitions)
		res.Findings = catalog.Validate(snap, selection.DefaultSources())
	}
	res.Definitions = defs
	res.Critical = catalog.Count(res.Findings, catalog.SeverityCritical)
	res.Errors = catalog.Count(res.Findings, catalog.SeverityError)
	res.Warnings = catalog.Count(res.Findings, catalog.SeverityWarning)
	res.Valid = res.Critical == 0

	if rootOpts.Format == "json" {
		if err := writeJSON(w, res); err != nil {
			return err
		}
	} else {
		for _, f := range res.Findings {
			path := f.Path
			if path == "" {
				path = "-"
			}
			fmt.Fprintf(w, "%-8s %s %s: %s\n", f.Severity, f.Source, path, f.Message)
		}
		if res.Valid {
			fmt.Fprintf(w, "✓ %d definition(s) valid (%d error(s), %d warning(s))\n", res.Definitions, res.Errors, res.Warnings)
		} else {
			fmt.Fprintf(w, "✗ %d critical finding(s); the catalog would not be loaded\n", res.Critical)
		}
	}

	if !res.Valid {
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d critical finding(s)", res.Critical))
	}
	return nil
}
