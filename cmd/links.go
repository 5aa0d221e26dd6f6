package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/news-pipeline/internal/model"
)

// linkView is the combined classification and extraction record of a link.
type linkView struct {
	LinkID   string               `json:"link_id" yaml:"link_id"`
	Analysis *model.LinkAnalysis  `json:"analysis,omitempty" yaml:"analysis,omitempty"`
	Content  *model.ContentRecord `json:"content,omitempty" yaml:"content,omitempty"`
}

var linksCmd = &cobra.Command{
	Use:   "links",
	Short: "Inspect analyzed links and extracted content",
}

var linksShowCmd = &cobra.Command{
	Use:   "show <link-id>",
	Short: "Show the analysis and extracted content of a link",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		output, _ := cmd.Flags().GetString("output")

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		view := linkView{LinkID: args[0]}
		if view.Analysis, err = st.GetLinkAnalysis(ctx, args[0]); err != nil {
			return eris.Wrap(err, "links show: analysis")
		}
		if view.Content, err = st.GetContent(ctx, args[0]); err != nil {
			return eris.Wrap(err, "links show: content")
		}
		if view.Analysis == nil && view.Content == nil {
			return eris.Errorf("link %s not found", args[0])
		}
		return writeOutput(os.Stdout, output, view)
	},
}

func init() {
	linksShowCmd.Flags().StringP("output", "o", "json", "output format: json or yaml")
	linksCmd.AddCommand(linksShowCmd)
	rootCmd.AddCommand(linksCmd)
}
