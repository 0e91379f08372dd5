package cmd

import (
	"context"
	"fmt"
	"log"

	"github.com/spf13/cobra"
	"github.com/traitdex/traitdex/internal/rpc"
)

var traitsCmd = &cobra.Command{
	Use:   "implementors <trait>",
	Short: "List indexed types implementing a trait",
	Example: `  traitdex implementors core::clone::Clone
  traitdex implementors "core::convert::From"
  traitdex implementors serde::Serialize`,
	Args: cobra.ExactArgs(1),
	Run:  runImplementors,
}

var traitsShowSnippets bool

func init() {
	traitsCmd.Flags().BoolVar(&traitsShowSnippets, "snippets", false, "print full HTML snippets")
}

func runImplementors(cmd *cobra.Command, args []string) {
	client, err := connectDaemon()
	if err != nil {
		log.Fatalf("failed to connect to daemon: %v", err)
	}

	resp, err := client.Implementors(context.Background(), rpc.TraitRequest{Trait: args[0]})
	if err != nil {
		log.Fatalf("lookup failed: %v", err)
	}

	if len(resp.Implementors) == 0 {
		fmt.Println("no implementors found")
		return
	}

	for _, imp := range resp.Implementors {
		marker := ""
		if imp.Synthetic {
			marker = " (auto)"
		} else if imp.Blanket {
			marker = " (blanket)"
		}
		fmt.Printf("  %s  %s@%s%s\n", imp.ForType, imp.Crate, imp.Version, marker)
		if traitsShowSnippets {
			fmt.Printf("    %s\n", imp.Snippet)
		}
	}
}
