package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var (
	edsOutPath string
	edsInPath  string
)

var edsCmd = &cobra.Command{
	Use:   "eds",
	Short: "Manage a node's Object Dictionary Electronic Data Sheet",
}

var edsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the built-in Object Dictionary to an EDS file",
	RunE:  edsExport,
}

var edsImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Apply an EDS file's DefaultValue entries to the built-in Object Dictionary",
	RunE:  edsImport,
}

func init() {
	edsExportCmd.Flags().StringVarP(&edsOutPath, "out", "o", "", "output file (default: stdout)")
	edsImportCmd.Flags().StringVarP(&edsInPath, "in", "i", "", "input file (default: stdin)")
	edsCmd.AddCommand(edsExportCmd)
	edsCmd.AddCommand(edsImportCmd)
}

func edsExport(cmd *cobra.Command, args []string) error {
	dictionary := defaultDictionary()
	data, err := dictionary.ExportEDS()
	if err != nil {
		return fmt.Errorf("canopend: export EDS: %w", err)
	}

	if edsOutPath == "" {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}
	return os.WriteFile(edsOutPath, data, 0o644)
}

func edsImport(cmd *cobra.Command, args []string) error {
	var (
		data []byte
		err  error
	)
	if edsInPath == "" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(edsInPath)
	}
	if err != nil {
		return fmt.Errorf("canopend: read EDS: %w", err)
	}

	dictionary := defaultDictionary()
	if err := dictionary.ImportEDS(data); err != nil {
		return fmt.Errorf("canopend: import EDS: %w", err)
	}

	exported, err := dictionary.ExportEDS()
	if err != nil {
		return fmt.Errorf("canopend: re-export imported EDS: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(exported)
	return err
}
