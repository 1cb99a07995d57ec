package cli

import (
	"github.com/bassista/go_leaf/internal/config"
	"github.com/bassista/go_leaf/internal/page"
	"github.com/bassista/go_leaf/internal/texture"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// InspectReport describes the persisted background of one page.
type InspectReport struct {
	Page       page.ID            `yaml:"page"`
	Texture    string             `yaml:"texture,omitempty"`
	Thumbnail  string             `yaml:"thumbnail,omitempty"`
	Versions   []string           `yaml:"versions"`
	Properties texture.Properties `yaml:"properties"`
}

func newInspectCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect PAGE",
		Short: "Print the persisted background properties of a page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(root.configDir)
			if err != nil {
				return err
			}
			store, err := texture.NewStore(texture.Options{
				Root:          cfg.Storage.TextureRoot,
				ThumbnailSize: cfg.Cache.ThumbnailSize(),
				KeepVersions:  cfg.Storage.KeepVersions,
			})
			if err != nil {
				return err
			}

			id := page.ID(args[0])
			props, err := store.Properties(id)
			if err != nil {
				return err
			}
			report := InspectReport{Page: id, Properties: props, Versions: store.Versions(id)}
			report.Texture, _ = store.TexturePath(id)
			report.Thumbnail, _ = store.ThumbnailPath(id, texture.ThumbStandard)

			return yaml.NewEncoder(cmd.OutOrStdout()).Encode(report)
		},
	}
}
