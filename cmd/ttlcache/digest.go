package main

import (
	"encoding/json"
	"fmt"

	"github.com/agentuity/go-ttlcache/hasher"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

func newDigestCommand() *cobra.Command {
	var (
		algo   string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "digest [--algo xxhash|md5|sha256] <value>...",
		Short: "Print the cache key digest of each value",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := hasher.ParseAlgorithm(algo)
			if err != nil {
				return err
			}
			for _, arg := range args {
				var v any = arg
				if asJSON {
					if err := json.Unmarshal([]byte(arg), &v); err != nil {
						return errors.Wrapf(err, "decoding %q", arg)
					}
				}
				d, ok := hasher.Digest(v, a)
				if !ok {
					return errors.Newf("cannot digest %q", arg)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", d, arg)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&algo, "algo", hasher.XXHash.String(), "digest algorithm")
	cmd.Flags().BoolVar(&asJSON, "json", false, "decode each value as JSON before hashing")
	return cmd
}
