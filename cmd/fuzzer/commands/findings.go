/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: findings.go
Description: Findings command for Akaylee Droid. Lists recorded runs and divergences from
the SQLite findings database.
*/

package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/kleascm/akaylee-droid/pkg/analysis"
	"github.com/kleascm/akaylee-droid/pkg/store"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// ListFindings prints runs and findings matching the command's filters
func ListFindings(cmd *cobra.Command, args []string) error {
	if err := LoadConfig(); err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	path := viper.GetString("findings_db")
	if path == "" {
		return fmt.Errorf("--findings-db is required")
	}

	ctx := context.Background()
	db, err := store.Open(ctx, path)
	if err != nil {
		return fmt.Errorf("failed to open findings database: %w", err)
	}
	defer db.Close()

	severity := analysis.Severity(viper.GetString("findings.severity"))
	switch severity {
	case "", analysis.SeverityError, analysis.SeverityWrong:
	default:
		return fmt.Errorf("unknown severity %q", severity)
	}

	limit := viper.GetInt("findings.limit")
	runs, err := db.ListRuns(ctx, limit)
	if err != nil {
		return err
	}
	findings, err := db.ListFindings(ctx, store.Filter{
		Strategy: viper.GetString("findings.strategy"),
		Severity: severity,
		RunID:    viper.GetString("findings.run"),
		Limit:    limit,
	})
	if err != nil {
		return err
	}

	if viper.GetBool("findings.json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Runs     []*store.Run        `json:"runs"`
			Findings []*analysis.Finding `json:"findings"`
		}{runs, findings})
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tSTRATEGY\tCOUNT\tSTATUS\tEVENTS\tERRORS\tWRONGS")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%d\t%d\t%d\n", r.ID, r.Strategy, r.RunCount, r.Status, r.Events, r.Errors, r.Wrongs)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "FINDING\tSTRATEGY\tRUN\tSEQ\tDEVICE\tACTION\tSEVERITY\tNUMBER")
	for _, f := range findings {
		fmt.Fprintf(w, "%s\t%s\t%d\t%.1f\t%s\t%s\t%s\t%d\n", f.ID, f.Strategy, f.RunCount, f.Seq, f.Serial, f.Action, f.Severity, f.Number)
	}
	return w.Flush()
}
