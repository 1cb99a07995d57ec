package cli

import (
	"fmt"
	"os"

	"github.com/bassista/go_leaf/internal/app"
	"github.com/bassista/go_leaf/internal/config"
	"github.com/bassista/go_leaf/internal/export"
	"github.com/bassista/go_leaf/internal/page"
	"github.com/bassista/go_leaf/internal/repository"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// ExportReport is what leafctl export prints.
type ExportReport struct {
	Stack    string              `yaml:"stack"`
	Rotation page.Rotation       `yaml:"rotation"`
	Result   *export.StackResult `yaml:"result"`
	Failed   []string            `yaml:"failed,omitempty"`
}

func newExportCmd(root *rootOptions) *cobra.Command {
	var (
		document string
		outDir   string
		rotation string
		quiet    bool
	)

	cmd := &cobra.Command{
		Use:   "export STACK",
		Short: "Export a stack of pages to PDF",
		Long: `Export every page of a stack, looked up by id or name, into one PDF in
the export directory, then print a YAML report. Pages that fail to render
are listed in the report and do not stop the export.`,
		Example: `  leafctl export Notes --document ./data/document.json --rotation landscape_left`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(root.configDir)
			if err != nil {
				return err
			}
			if document != "" {
				cfg.Data.FilePath = document
			}
			if outDir != "" {
				cfg.Export.Dir = outDir
			}
			rot, err := page.ParseRotation(rotation)
			if err != nil {
				return err
			}

			repo, err := repository.NewRepositoryFromConfig(cfg.Data.RepositoryType, cfg.Data.FilePath)
			if err != nil {
				return err
			}
			a, err := app.New(cfg, repo)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.Export.ExportStack(cmd.Context(),
				args[0],
				func(page.Record) page.Rotation { return rot },
				func(done, total int) bool {
					if !quiet {
						fmt.Fprintf(cmd.ErrOrStderr(), "page %d/%d\n", done, total)
					}
					return cmd.Context().Err() == nil
				})
			if err != nil {
				return err
			}

			report := ExportReport{Stack: args[0], Rotation: rot, Result: res}
			for _, f := range res.Failures {
				report.Failed = append(report.Failed, fmt.Sprintf("%s: %v", f.Page, f.Err))
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(report); err != nil {
				return err
			}
			return enc.Close()
		},
	}

	cmd.Flags().StringVar(&document, "document", "", "Document file (overrides data.file_path)")
	cmd.Flags().StringVar(&outDir, "out", "", "Export directory (overrides export.dir)")
	cmd.Flags().StringVar(&rotation, "rotation", "", "Rotation for every page (default: each page's ideal rotation)")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not print progress")

	return cmd
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
