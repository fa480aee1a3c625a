package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"lsmrepl/pkg/rpc"
)

func newDBCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "db",
		Short: "Manage databases",
	}
	cmd.PersistentFlags().StringVar(&addr, "addr", "http://localhost:8080", "participant URL")

	cmd.AddCommand(&cobra.Command{
		Use:   "create NAME [COMPARATOR...]",
		Short: "Create a database with one index per comparator",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rpc.NewHTTPStore(addr).CreateDatabase(args[0], args[1:]...)
		},
	}, &cobra.Command{
		Use:   "list",
		Short: "List databases",
		RunE: func(cmd *cobra.Command, _ []string) error {
			dbs, err := rpc.NewHTTPStore(addr).Databases()
			if err != nil {
				return err
			}
			for _, db := range dbs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\t%v\n", db.Name, db.ID, db.Comparators)
			}
			return nil
		},
	})
	return cmd
}

func newPutCmd() *cobra.Command {
	var (
		addr  string
		index int
	)
	cmd := &cobra.Command{
		Use:   "put DB KEY VALUE",
		Short: "Insert a key into an index",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rpc.NewHTTPStore(addr).Put(args[0], index, args[1], args[2])
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "http://localhost:8080", "participant URL")
	cmd.Flags().IntVar(&index, "index", 0, "index number")
	return cmd
}

func newGetCmd() *cobra.Command {
	var (
		addr  string
		index int
	)
	cmd := &cobra.Command{
		Use:   "get DB KEY",
		Short: "Look a key up in an index",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, found, err := rpc.NewHTTPStore(addr).Get(args[0], index, args[1])
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("key %q not found", args[1])
			}
			fmt.Fprintln(cmd.OutOrStdout(), value)
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "http://localhost:8080", "participant URL")
	cmd.Flags().IntVar(&index, "index", 0, "index number")
	return cmd
}

func newScanCmd() *cobra.Command {
	var (
		addr  string
		index int
		opts  rpc.ScanOptions
	)
	cmd := &cobra.Command{
		Use:   "scan DB",
		Short: "List the entries of an index by prefix or key range",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := rpc.NewHTTPStore(addr).Entries(args[0], index, opts)
			if err != nil {
				return err
			}
			for _, e := range entries {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", e.Key, e.Value)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "http://localhost:8080", "participant URL")
	cmd.Flags().IntVar(&index, "index", 0, "index number")
	cmd.Flags().StringVar(&opts.Prefix, "prefix", "", "only keys with this prefix")
	cmd.Flags().StringVar(&opts.From, "from", "", "smallest key (inclusive)")
	cmd.Flags().StringVar(&opts.To, "to", "", "upper key bound (exclusive)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of entries")
	cmd.Flags().BoolVar(&opts.Reverse, "reverse", false, "descending order")
	return cmd
}
