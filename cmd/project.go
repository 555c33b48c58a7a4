package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/contractr/contractr/internal/compose"
	"github.com/contractr/contractr/internal/lifecycle"
	"github.com/contractr/contractr/internal/model"
	"github.com/contractr/contractr/internal/store"
)

var (
	projectFile        string
	projectCloseReason string
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Create, inspect and close projects",
}

var projectCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a draft project from a YAML or JSON file",
	RunE: func(cmd *cobra.Command, args []string) error {
		in, err := readProjectFile(projectFile)
		if err != nil {
			return err
		}

		env, err := initEnv(cmd.Context(), "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		p, err := env.Lifecycle.CreateProject(cmd.Context(), in)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created project %s (%s)\n", p.ID, p.Status)
		return nil
	},
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		projects, err := env.Store.ListProjects(cmd.Context())
		if err != nil {
			return err
		}
		renderProjects(cmd.OutOrStdout(), projects)
		return nil
	},
}

var projectShowCmd = &cobra.Command{
	Use:   "show <project-id>",
	Short: "Show a project and its sourced providers",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		p, err := env.Store.GetProject(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		rows, err := loadProviderRows(cmd, env.Store, p.ID)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		renderProject(out, p)
		fmt.Fprintln(out)
		renderProviders(out, rows)
		return nil
	},
}

var projectEventsCmd = &cobra.Command{
	Use:   "events <project-id>",
	Short: "Show the project event log, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		if _, err := env.Store.GetProject(cmd.Context(), args[0]); err != nil {
			return err
		}
		events, err := env.Store.ListEvents(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		renderEvents(cmd.OutOrStdout(), events)
		return nil
	},
}

var projectCloseCmd = &cobra.Command{
	Use:   "close <project-id>",
	Short: "Close a project and all of its open threads",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		p, err := env.Lifecycle.Close(cmd.Context(), args[0], projectCloseReason)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "project %s is %s\n", p.ID, p.Status)
		return nil
	},
}

func init() {
	projectCreateCmd.Flags().StringVar(&projectFile, "file", "", "path to project YAML or JSON file")
	_ = projectCreateCmd.MarkFlagRequired("file")
	projectCloseCmd.Flags().StringVar(&projectCloseReason, "reason", "", "reason recorded on the close event")

	projectCmd.AddCommand(projectCreateCmd, projectListCmd, projectShowCmd, projectEventsCmd, projectCloseCmd)
	rootCmd.AddCommand(projectCmd)
}

// readProjectFile parses a project definition. YAML is a superset of JSON
// so both formats are accepted.
func readProjectFile(path string) (lifecycle.ProjectInput, error) {
	var in lifecycle.ProjectInput
	data, err := os.ReadFile(path)
	if err != nil {
		return in, eris.Wrapf(err, "read project file %s", path)
	}
	if err := yaml.Unmarshal(data, &in); err != nil {
		return in, eris.Wrapf(err, "parse project file %s", path)
	}
	return in, nil
}

// providerRow is one line of the providers table.
type providerRow struct {
	Provider model.Provider
	Allowed  int
	Contacts int
	Threads  int
	Total    *float64
}

func loadProviderRows(cmd *cobra.Command, st store.Store, projectID string) ([]providerRow, error) {
	ctx := cmd.Context()
	providers, err := st.ListProviders(ctx, projectID)
	if err != nil {
		return nil, err
	}
	rows := make([]providerRow, 0, len(providers))
	for _, prov := range providers {
		contacts, err := st.ListContacts(ctx, prov.ID)
		if err != nil {
			return nil, err
		}
		threads, err := st.ListThreads(ctx, prov.ID)
		if err != nil {
			return nil, err
		}
		row := providerRow{Provider: prov, Contacts: len(contacts), Threads: len(threads)}
		for _, c := range contacts {
			if c.Allowed {
				row.Allowed++
			}
		}
		q, err := st.LatestQuote(ctx, prov.ID)
		switch {
		case err == nil:
			row.Total = q.TotalEstimated
		case !errors.Is(err, model.ErrNotFound):
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func renderProjects(w io.Writer, projects []model.Project) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"ID", "Type", "City", "Zip", "Status", "Channels", "Autopilot", "Created"})
	for _, p := range projects {
		tw.AppendRow(table.Row{
			p.ID, p.Type, p.City, p.Zip, p.Status, joinChannels(p.ChannelsAllowed),
			p.Autopilot, p.CreatedAt.Format(time.DateTime),
		})
	}
	tw.AppendFooter(table.Row{"", "", "", "", "", "", "Total", len(projects)})
	tw.Render()
}

func renderProject(w io.Writer, p *model.Project) {
	budget := "-"
	if p.BudgetMax != nil {
		budget = compose.FormatMoney(*p.BudgetMax)
	}
	quiet := p.QuietHours
	if quiet == "" {
		quiet = "-"
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendRows([]table.Row{
		{"ID", p.ID},
		{"Type", p.Type},
		{"Address", strings.TrimSpace(fmt.Sprintf("%s, %s %s", p.Address, p.City, p.Zip))},
		{"Status", p.Status},
		{"Budget", budget},
		{"Window", p.DateWindow},
		{"Channels", joinChannels(p.ChannelsAllowed)},
		{"Quiet hours", quiet},
		{"Autopilot", p.Autopilot},
		{"Must haves", strings.Join(p.MustHaves, ", ")},
	})
	tw.Render()
}

func renderProviders(w io.Writer, rows []providerRow) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"ID", "Name", "Website", "Score", "Contacts", "Threads", "Quote"})
	for _, r := range rows {
		total := "-"
		if r.Total != nil {
			total = compose.FormatMoney(*r.Total)
		}
		tw.AppendRow(table.Row{
			r.Provider.ID, r.Provider.Name, r.Provider.Website,
			fmt.Sprintf("%.2f", r.Provider.Score),
			fmt.Sprintf("%d/%d", r.Allowed, r.Contacts),
			r.Threads, total,
		})
	}
	tw.Render()
}

func renderEvents(w io.Writer, events []model.Event) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Time", "Type", "Payload"})
	for _, e := range events {
		payload := ""
		if len(e.Payload) > 0 {
			b, err := json.Marshal(e.Payload)
			if err == nil {
				payload = string(b)
			}
		}
		tw.AppendRow(table.Row{e.Timestamp.Format(time.RFC3339), e.Type, payload})
	}
	tw.Render()
}

func joinChannels(chs []model.Channel) string {
	parts := make([]string, len(chs))
	for i, ch := range chs {
		parts[i] = string(ch)
	}
	return strings.Join(parts, ",")
}
