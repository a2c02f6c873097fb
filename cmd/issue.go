package cmd

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/issues/internal/client"
	"github.com/joescharf/issues/internal/models"
	"github.com/joescharf/issues/internal/output"
)

var (
	issueTitle      string
	issueText       string
	issueCreatedBy  string
	issueAssignedTo string
	issueStatusText string
	issueOpen       string
	issueFilters    []string
)

// newClient is replaceable in tests.
var newClient = func() *client.Client {
	return client.New(viper.GetString("server.url"))
}

var issueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Work with issues on a running server",
	Long:  "List, add, update and delete issues through the API at server.url.",
}

var issueListCmd = &cobra.Command{
	Use:     "list <project>",
	Aliases: []string{"ls"},
	Short:   "List a project's issues",
	Long:    "List a project's issues. Repeat --filter field=value to narrow the result.",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueListRun(cmd.Context(), args[0])
	},
}

var issueAddCmd = &cobra.Command{
	Use:   "add <project>",
	Short: "Open a new issue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueAddRun(cmd.Context(), args[0])
	},
}

var issueUpdateCmd = &cobra.Command{
	Use:   "update <project> <issue-id>",
	Short: "Update fields of an issue",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueUpdateRun(cmd, args[0], args[1])
	},
}

var issueCloseCmd = &cobra.Command{
	Use:   "close <project> <issue-id>",
	Short: "Close an issue",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueCloseRun(cmd.Context(), args[0], args[1])
	},
}

var issueDeleteCmd = &cobra.Command{
	Use:     "delete <project> <issue-id>",
	Aliases: []string{"rm"},
	Short:   "Delete an issue",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueDeleteRun(cmd.Context(), args[0], args[1])
	},
}

func init() {
	issueListCmd.Flags().StringArrayVarP(&issueFilters, "filter", "f", nil, "Filter as field=value (repeatable)")

	issueAddCmd.Flags().StringVar(&issueTitle, "title", "", "Issue title (required)")
	issueAddCmd.Flags().StringVar(&issueText, "text", "", "Issue text (required)")
	issueAddCmd.Flags().StringVar(&issueCreatedBy, "by", "", "Reporter (required)")
	issueAddCmd.Flags().StringVar(&issueAssignedTo, "assign", "", "Assignee")
	issueAddCmd.Flags().StringVar(&issueStatusText, "status", "", "Status text")
	_ = issueAddCmd.MarkFlagRequired("title")
	_ = issueAddCmd.MarkFlagRequired("text")
	_ = issueAddCmd.MarkFlagRequired("by")

	issueUpdateCmd.Flags().StringVar(&issueTitle, "title", "", "New title")
	issueUpdateCmd.Flags().StringVar(&issueText, "text", "", "New text")
	issueUpdateCmd.Flags().StringVar(&issueCreatedBy, "by", "", "New reporter")
	issueUpdateCmd.Flags().StringVar(&issueAssignedTo, "assign", "", "New assignee")
	issueUpdateCmd.Flags().StringVar(&issueStatusText, "status", "", "New status text")
	issueUpdateCmd.Flags().StringVar(&issueOpen, "open", "", "Set open state: true or false")

	issueCmd.AddCommand(issueListCmd)
	issueCmd.AddCommand(issueAddCmd)
	issueCmd.AddCommand(issueUpdateCmd)
	issueCmd.AddCommand(issueCloseCmd)
	issueCmd.AddCommand(issueDeleteCmd)
	rootCmd.AddCommand(issueCmd)
}

// parseFilters turns field=value pairs into query values.
func parseFilters(pairs []string) (url.Values, error) {
	values := url.Values{}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid filter %q: want field=value", pair)
		}
		values.Add(key, value)
	}
	return values, nil
}

func ctxOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

func issueListRun(ctx context.Context, project string) error {
	filters, err := parseFilters(issueFilters)
	if err != nil {
		return err
	}

	issues, err := newClient().List(ctxOrBackground(ctx), project, filters)
	if err != nil {
		return fmt.Errorf("list issues: %w", err)
	}

	if len(issues) == 0 {
		ui.Info("No issues found.")
		return nil
	}

	table := ui.Table([]string{"ID", "Title", "Created By", "Assigned To", "Status", "Open", "Updated"})
	for _, issue := range issues {
		_ = table.Append([]string{
			issue.ID,
			issue.Title,
			issue.CreatedBy,
			issue.AssignedTo,
			issue.StatusText,
			output.OpenState(issue.Open),
			issue.UpdatedOn.Local().Format(time.DateTime),
		})
	}
	return table.Render()
}

func issueAddRun(ctx context.Context, project string) error {
	if dryRun {
		ui.DryRunMsg("Would add issue %q to %s", issueTitle, project)
		return nil
	}

	issue, err := newClient().Create(ctxOrBackground(ctx), project, client.CreateRequest{
		Title:      issueTitle,
		Text:       issueText,
		CreatedBy:  issueCreatedBy,
		AssignedTo: issueAssignedTo,
		StatusText: issueStatusText,
	})
	if err != nil {
		return fmt.Errorf("create issue: %w", err)
	}

	ui.Success("Created issue %s: %s", output.Cyan(issue.ID), issue.Title)
	return nil
}

func issueUpdateRun(cmd *cobra.Command, project, id string) error {
	flagFields := map[string]string{
		"title":  models.FieldTitle,
		"text":   models.FieldText,
		"by":     models.FieldCreatedBy,
		"assign": models.FieldAssignedTo,
		"status": models.FieldStatusText,
		"open":   models.FieldOpen,
	}
	values := map[string]*string{
		"title":  &issueTitle,
		"text":   &issueText,
		"by":     &issueCreatedBy,
		"assign": &issueAssignedTo,
		"status": &issueStatusText,
		"open":   &issueOpen,
	}

	fields := make(map[string]any)
	for flag, field := range flagFields {
		if cmd.Flags().Changed(flag) {
			fields[field] = *values[flag]
		}
	}
	if len(fields) == 0 {
		return fmt.Errorf("nothing to update: pass at least one of --title, --text, --by, --assign, --status, --open")
	}

	if dryRun {
		ui.DryRunMsg("Would update issue %s in %s", id, project)
		return nil
	}

	if err := newClient().Update(ctxOrBackground(cmd.Context()), project, id, fields); err != nil {
		return fmt.Errorf("update issue: %w", err)
	}
	ui.Success("Updated issue %s", output.Cyan(id))
	return nil
}

func issueCloseRun(ctx context.Context, project, id string) error {
	if dryRun {
		ui.DryRunMsg("Would close issue %s in %s", id, project)
		return nil
	}

	if err := newClient().Update(ctxOrBackground(ctx), project, id, map[string]any{models.FieldOpen: false}); err != nil {
		return fmt.Errorf("close issue: %w", err)
	}
	ui.Success("Closed issue %s", output.Cyan(id))
	return nil
}

func issueDeleteRun(ctx context.Context, project, id string) error {
	if dryRun {
		ui.DryRunMsg("Would delete issue %s from %s", id, project)
		return nil
	}

	if err := newClient().Delete(ctxOrBackground(ctx), project, id); err != nil {
		return fmt.Errorf("delete issue: %w", err)
	}
	ui.Success("Deleted issue %s", output.Cyan(id))
	return nil
}
