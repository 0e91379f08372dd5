package cmd

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/spf13/cobra"
	"github.com/traitdex/traitdex/internal/rpc"
)

var getCmd = &cobra.Command{
	Use:   "get <rsimpl://crate/version>",
	Short: "Print a crate's implementor snippets by URI",
	Example: `  traitdex get rsimpl://serde/latest
  traitdex get rsimpl://tokio/1.0.0
  traitdex get serde`,
	Args: cobra.ExactArgs(1),
	Run:  runGet,
}

func runGet(cmd *cobra.Command, args []string) {
	uri := strings.TrimPrefix(args[0], "rsimpl://")
	crate, _, _ := strings.Cut(uri, "/")
	if crate == "" {
		log.Fatalf("invalid URI: need rsimpl://crate/version")
	}

	client, err := connectDaemon()
	if err != nil {
		log.Fatalf("failed to connect to daemon: %v", err)
	}

	resp, err := client.Table(context.Background(), rpc.TableRequest{Crates: []string{crate}})
	if err != nil {
		log.Fatalf("get table failed: %v", err)
	}

	snippets, ok := resp.Table[crate]
	if !ok {
		log.Fatalf("crate %s is not indexed (try: traitdex add %s)", crate, crate)
	}

	for _, s := range snippets {
		fmt.Println(s)
	}
}
