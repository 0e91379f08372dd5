package cmd

import (
	"context"
	"fmt"
	"log"

	"github.com/spf13/cobra"
	"github.com/traitdex/traitdex/internal/rpc"
)

var exportCmd = &cobra.Command{
	Use:   "export [path]",
	Short: "Write the implementors table as a JSON artifact",
	Long:  `Write the aggregate crate → implementor-snippets table to disk. With no path the configured export target is used.`,
	Example: `  traitdex export
  traitdex export ./implementors.json
  traitdex export --pretty ./implementors.json`,
	Args: cobra.MaximumNArgs(1),
	Run:  runExport,
}

var exportPretty bool

func init() {
	exportCmd.Flags().BoolVar(&exportPretty, "pretty", false, "indent the JSON output")
}

func runExport(cmd *cobra.Command, args []string) {
	client, err := connectDaemon()
	if err != nil {
		log.Fatalf("failed to connect to daemon: %v", err)
	}

	var req rpc.ExportRequest
	if len(args) > 0 {
		req.Path = args[0]
	}
	req.Pretty = exportPretty

	resp, err := client.Export(context.Background(), req)
	if err != nil {
		log.Fatalf("export failed: %v", err)
	}

	fmt.Printf("wrote %d crates to %s\n", resp.Crates, resp.Path)
}
