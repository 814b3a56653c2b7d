package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"pecademic/api/internal/catalog"
	"pecademic/api/internal/contentstore"
)

var seedCatalog string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create the upstream repository in the local content store",
	Long: `Initialise a bare upstream repository under the local store directory with
a catalog file, so submissions can be exercised without GitHub.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		local, ok := backend().(*contentstore.Local)
		if !ok {
			fatal("Seed unavailable", errors.New("seed only works with --store local"))
		}

		content := []byte("[]\n")
		if seedCatalog != "" {
			raw, err := os.ReadFile(seedCatalog)
			if err != nil {
				fatal("Failed to read catalog", err)
			}
			c, err := catalog.Decode(raw)
			if err != nil {
				fatal("Catalog is not valid", err)
			}
			if content, err = catalog.Encode(c); err != nil {
				fatal("Failed to encode catalog", err)
			}
		}

		repo := upstream()
		if err := local.Seed(repo, cfg.BaseBranch, map[string][]byte{cfg.CatalogPath: content}, "Initial catalog"); err != nil {
			fatal("Failed to seed repository", err)
		}
		fmt.Printf("Seeded %s (%s) in %s\n", repo, cfg.BaseBranch, cfg.LocalStoreDir)
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)
	seedCmd.Flags().StringVar(&seedCatalog, "catalog", "", "Catalog JSON to start from (default: empty catalog)")
}
