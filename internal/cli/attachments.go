package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/kiln/internal/manifest"
	"github.com/roach88/kiln/internal/store"
)

// AttachmentsOptions holds flags for the attachments command.
type AttachmentsOptions struct {
	*RootOptions
	Database string
	Platform string
	Units    []string
}

// AttachmentView is the JSON form of a stored attachment.
type AttachmentView struct {
	Name                string   `json:"name"`
	Platform            string   `json:"platform"`
	ContentHash         string   `json:"content_hash"`
	BuildDependencies   []string `json:"build_dependencies"`
	RuntimeDependencies []string `json:"runtime_dependencies"`
	BuildDefinitions    []string `json:"build_definitions"`
	CommitStatus        string   `json:"commit_status"`
	Seq                 int64    `json:"seq"`
	RecordedBy          string   `json:"recorded_by,omitempty"`
}

// NewAttachmentsCommand creates the attachments command.
func NewAttachmentsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AttachmentsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "attachments",
		Short: "List recorded build attachments",
		Long: `List the attachments recorded in a database by earlier plans.

An attachment is the outcome of the last build of a unit on a platform: its
content key, the dependencies and definitions it was built with and whether
it succeeded. Incremental plans skip units whose attachment still matches.

Examples:
  kiln attachments --db ./kiln.db
  kiln attachments --db ./kiln.db --platform ps5
  kiln attachments --db ./kiln.db --unit Game/Hero --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAttachments(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the attachment database (required)")
	cmd.Flags().StringVar(&opts.Platform, "platform", "", "only list this platform")
	cmd.Flags().StringArrayVar(&opts.Units, "unit", nil, "only list these units, repeatable")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runAttachments(opts *AttachmentsOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	// Opening a missing path would create an empty database.
	if _, err := os.Stat(opts.Database); os.IsNotExist(err) {
		return formatter.Fail(ExitCommandError, manifest.ErrCodeNotFound,
			fmt.Sprintf("database not found: %s", opts.Database), nil)
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, err.Error(), nil)
	}
	defer st.Close()

	records, err := st.ListAttachments(cmd.Context(), opts.Platform)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, err.Error(), nil)
	}

	wanted := make(map[string]bool, len(opts.Units))
	for _, name := range opts.Units {
		wanted[name] = true
	}

	views := make([]AttachmentView, 0, len(records))
	for _, rec := range records {
		if len(wanted) > 0 && !wanted[rec.Name] {
			continue
		}
		views = append(views, toView(rec))
	}
	formatter.VerboseLog("Read %d attachment(s) from %s", len(records), opts.Database)

	if formatter.JSON() {
		return formatter.Success(views)
	}
	writeAttachmentsText(formatter.Writer, views)
	return nil
}

func toView(rec store.Record) AttachmentView {
	view := AttachmentView{
		Name:                rec.Name,
		Platform:            rec.Platform,
		ContentHash:         rec.Attachment.ContentHash,
		BuildDependencies:   rec.Attachment.BuildDependencies,
		RuntimeDependencies: rec.Attachment.RuntimeDependencies,
		BuildDefinitions:    rec.Attachment.BuildDefinitions,
		CommitStatus:        string(rec.Attachment.CommitStatus),
		Seq:                 rec.Seq,
		RecordedBy:          rec.RecordedBy,
	}
	if view.BuildDependencies == nil {
		view.BuildDependencies = []string{}
	}
	if view.RuntimeDependencies == nil {
		view.RuntimeDependencies = []string{}
	}
	if view.BuildDefinitions == nil {
		view.BuildDefinitions = []string{}
	}
	return view
}

func writeAttachmentsText(w io.Writer, views []AttachmentView) {
	if len(views) == 0 {
		fmt.Fprintln(w, "No attachments recorded.")
		return
	}

	fmt.Fprintf(w, "%d attachment(s):\n", len(views))
	for _, v := range views {
		fmt.Fprintf(w, "\n%s [%s] seq=%d %s\n", v.Name, v.Platform, v.Seq, v.CommitStatus)
		fmt.Fprintf(w, "  hash: %s\n", v.ContentHash)
		if len(v.BuildDependencies) > 0 {
			fmt.Fprintf(w, "  build: %s\n", strings.Join(v.BuildDependencies, ", "))
		}
		if len(v.RuntimeDependencies) > 0 {
			fmt.Fprintf(w, "  runtime: %s\n", strings.Join(v.RuntimeDependencies, ", "))
		}
		if len(v.BuildDefinitions) > 0 {
			fmt.Fprintf(w, "  defines: %s\n", strings.Join(v.BuildDefinitions, " "))
		}
		if v.RecordedBy != "" {
			fmt.Fprintf(w, "  recorded by: %s\n", v.RecordedBy)
		}
	}
}
