package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/news-pipeline/internal/registry"
)

var (
	importXLSXPath string
	importYAMLPath string
	importSheet    string
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import reference data into the store",
}

var importHomepagesCmd = &cobra.Command{
	Use:   "homepages",
	Short: "Import the homepage registry from an xlsx or yaml file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		path, err := importSource(importXLSXPath, importYAMLPath)
		if err != nil {
			return err
		}

		homepages, err := registry.Load(path, registry.XLSXOptions{SheetName: importSheet})
		if err != nil {
			return eris.Wrap(err, "import homepages")
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := registry.Import(ctx, st, homepages)
		if err != nil {
			return eris.Wrap(err, "import homepages")
		}

		zap.L().Info("import complete",
			zap.Int("written", n),
			zap.String("file", path),
		)
		return nil
	},
}

// importSource requires exactly one of the file flags.
func importSource(xlsxPath, yamlPath string) (string, error) {
	switch {
	case xlsxPath != "" && yamlPath != "":
		return "", eris.New("use only one of --xlsx and --yaml")
	case xlsxPath != "":
		return xlsxPath, nil
	case yamlPath != "":
		return yamlPath, nil
	default:
		return "", eris.New("one of --xlsx or --yaml is required")
	}
}

func init() {
	importHomepagesCmd.Flags().StringVar(&importXLSXPath, "xlsx", "", "path to an xlsx registry")
	importHomepagesCmd.Flags().StringVar(&importYAMLPath, "yaml", "", "path to a yaml registry")
	importHomepagesCmd.Flags().StringVar(&importSheet, "sheet", "", "xlsx sheet name (default first sheet)")
	importCmd.AddCommand(importHomepagesCmd)
	rootCmd.AddCommand(importCmd)
}
