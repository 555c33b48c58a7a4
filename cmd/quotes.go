package main

import (
	"fmt"
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/contractr/contractr/internal/compose"
	"github.com/contractr/contractr/internal/report"
)

var quotesOut string

var quotesCmd = &cobra.Command{
	Use:   "quotes",
	Short: "Compare and export provider quotes",
}

var quotesListCmd = &cobra.Command{
	Use:   "list <project-id>",
	Short: "Print the latest quote per provider, cheapest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		c, err := report.Compare(cmd.Context(), env.Store, args[0])
		if err != nil {
			return err
		}
		renderComparison(cmd.OutOrStdout(), c)
		return nil
	},
}

var quotesExportCmd = &cobra.Command{
	Use:   "export <project-id>",
	Short: "Write the quote comparison to an Excel workbook",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		c, err := report.Compare(cmd.Context(), env.Store, args[0])
		if err != nil {
			return err
		}

		out := quotesOut
		if out == "" {
			out = fmt.Sprintf("quotes-%s.xlsx", args[0])
		}
		f, err := os.Create(out)
		if err != nil {
			return eris.Wrapf(err, "create %s", out)
		}
		if err := report.WriteXLSX(f, c); err != nil {
			_ = f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return eris.Wrapf(err, "close %s", out)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %d providers to %s\n", len(c.Rows), out)
		return nil
	},
}

func init() {
	quotesExportCmd.Flags().StringVar(&quotesOut, "out", "", "output path (default quotes-<project-id>.xlsx)")
	quotesCmd.AddCommand(quotesListCmd, quotesExportCmd)
	rootCmd.AddCommand(quotesCmd)
}

func renderComparison(w io.Writer, c *report.Comparison) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetTitle("%s quotes, %s", c.Project.Type, c.Project.City)
	tw.AppendHeader(table.Row{"Provider", "Total", "Type", "Lead time", "Warranty", "Source", "Quotes"})
	for _, r := range c.Rows {
		total := "-"
		if r.Total != nil {
			total = compose.FormatMoney(*r.Total)
		}
		tw.AppendRow(table.Row{r.Provider, total, r.PriceType, r.LeadTime, r.Warranty, r.Source, r.Quotes})
	}
	tw.Render()
}
