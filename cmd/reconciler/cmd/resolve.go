package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"commerce-reconciliation-service/internal/store"
	"commerce-reconciliation-service/pkg/errors"
	"commerce-reconciliation-service/pkg/logger"
)

var (
	resolveNote   string
	investigating bool
	recordsDate   string
	recordsJSON   bool
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <record-id>",
	Short: "Mark a stored discrepancy as investigating or resolved",
	Long: `Resolve moves a stored reconciliation record through review.
A discrepancy can move to investigating or resolved; investigating can move
to resolved. Resolved records are final and keep their status on re-runs.

Examples:
  reconciler resolve 6f1c... --store records.db --investigating
  reconciler resolve 6f1c... --store records.db --note "pending payment settled 2025-07-30"`,
	Args: cobra.ExactArgs(1),
	RunE: runResolve,
}

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "List stored reconciliation records",
	Long: `Records lists stored records whose date range covers --date, or every
record still awaiting review when no date is given.`,
	Args: cobra.NoArgs,
	RunE: runRecords,
}

func init() {
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(recordsCmd)

	for _, c := range []*cobra.Command{resolveCmd, recordsCmd} {
		c.Flags().String("store", "", "SQLite database holding the records (required)")
	}

	resolveCmd.Flags().StringVar(&resolveNote, "note", "", "resolution note")
	resolveCmd.Flags().BoolVar(&investigating, "investigating", false, "mark as under investigation instead of resolved")

	recordsCmd.Flags().StringVar(&recordsDate, "date", "", "day the records must cover (YYYY-MM-DD)")
	recordsCmd.Flags().BoolVar(&recordsJSON, "json", false, "print records as JSON")
}

func openStore(cmd *cobra.Command) (*store.SQLiteStore, error) {
	path, _ := cmd.Flags().GetString("store")
	if path == "" {
		path = viper.GetString("store.path")
	}
	if path == "" {
		return nil, errors.ConfigurationError(errors.CodeMissingConfig, "store.path", nil, nil).
			WithSuggestion("Pass --store or set RECONCILER_STORE_PATH")
	}
	if err := validateFileExists(path, "record store"); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "store.path", path, err)
	}

	s, err := store.Open(path, logger.GetGlobalLogger())
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "store.path", path, err)
	}
	return s, nil
}

func runResolve(cmd *cobra.Command, args []string) error {
	s, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	var rec *store.StoredRecord
	if investigating {
		rec, err = s.MarkInvestigating(cmd.Context(), args[0])
	} else {
		rec, err = s.MarkResolved(cmd.Context(), args[0], resolveNote)
	}
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, errors.CodeUnexpectedError, "failed to update record").
			WithContext("record_id", args[0]).
			WithSuggestion("List open records with 'reconciler records --store <path>'")
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s: %s\n",
		rec.Record.ID, rec.Record.PerspectiveName, rec.Record.DateRange, rec.Status)
	return nil
}

func runRecords(cmd *cobra.Command, args []string) error {
	s, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	records, err := listRecords(cmd.Context(), s, recordsDate)
	if err != nil {
		return err
	}
	if recordsJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}
	return printRecords(cmd.OutOrStdout(), records)
}

func listRecords(ctx context.Context, s *store.SQLiteStore, day string) ([]*store.StoredRecord, error) {
	if day == "" {
		return s.ListOpen(ctx)
	}
	records, err := s.ListByDate(ctx, day)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "date", day, err)
	}
	return records, nil
}

func printRecords(w io.Writer, records []*store.StoredRecord) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tVIEW\tRANGE\tSTATUS\tVARIANCE\tNOTE")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Record.ID, r.Record.PerspectiveName, r.Record.DateRange, r.Status,
			r.Record.Variance.StringFixed(2), r.ResolutionNote)
	}
	return tw.Flush()
}
