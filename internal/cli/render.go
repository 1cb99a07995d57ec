package cli

import (
	"fmt"
	"image/png"
	"os"

	"github.com/bassista/go_leaf/internal/page"
	"github.com/bassista/go_leaf/internal/pattern"
	"github.com/spf13/cobra"
)

func newRenderCmd() *cobra.Command {
	var (
		params     map[string]string
		asset      string
		width      int
		height     int
		out        string
		basisWidth float64
		fit        string
		paper      string
	)

	cmd := &cobra.Command{
		Use:   "render KIND",
		Short: "Render a background spec to a PNG file",
		Long: `Render a background of the given kind (none, ruled, grid or image) at
the requested pixel size and write it as PNG.`,
		Example: `  # College ruled page at thumbnail size
  leafctl render ruled --param spacing=20 --param margin_left=60 --width 96 --height 128 --out ruled.png

  # Scanned paper, letterboxed
  leafctl render image --asset ./paper.jpg --out paper.png`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec := page.BackgroundSpec{Kind: page.PatternKind(args[0]), Params: params, Asset: asset}
			if err := spec.Validate(); err != nil {
				return err
			}
			size := page.Size{W: width, H: height}
			if !size.Valid() {
				return fmt.Errorf("%w: invalid size %s", page.ErrInvalidSpec, size)
			}

			renderer, err := pattern.NewRendererFromConfig(pattern.Config{
				BasisWidth: basisWidth,
				Fit:        pattern.FitPolicy(fit),
				Paper:      paper,
			})
			if err != nil {
				return err
			}
			img, err := renderer.Render(cmd.Context(), spec, size)
			if err != nil {
				return err
			}

			f, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("create %s: %w", out, err)
			}
			if err := png.Encode(f, img); err != nil {
				f.Close()
				return fmt.Errorf("encode %s: %w", out, err)
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%s)\n", out, size)
			return nil
		},
	}

	defaults := pattern.DefaultConfig()
	cmd.Flags().StringToStringVar(&params, "param", nil, "Pattern parameter as key=value (repeatable)")
	cmd.Flags().StringVar(&asset, "asset", "", "Image file or URL for the image kind")
	cmd.Flags().IntVar(&width, "width", 768, "Width in pixels")
	cmd.Flags().IntVar(&height, "height", 1024, "Height in pixels")
	cmd.Flags().StringVarP(&out, "out", "o", "background.png", "Output PNG file")
	cmd.Flags().Float64Var(&basisWidth, "basis-width", defaults.BasisWidth, "Page width in points that parameters refer to")
	cmd.Flags().StringVar(&fit, "fit", string(defaults.Fit), "Image fit policy (letterbox or crop)")
	cmd.Flags().StringVar(&paper, "paper", defaults.Paper, "Paper color")

	return cmd
}
