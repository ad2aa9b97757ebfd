package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/syntrixbase/docwatch/pkg/docwatch"
)

func newGetCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <path>",
		Short: "Print a document as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withConnection(func(conn *docwatch.Connection) error {
				ctx, cancel := opts.callContext(cmd.Context())
				defer cancel()

				doc, ok := conn.Fetch(ctx, args[0])
				if !ok {
					return fmt.Errorf("document %s not found", args[0])
				}
				data, err := encodeDocument(conn.Root(), args[0], doc)
				if err != nil {
					return err
				}
				return writeLine(cmd.OutOrStdout(), data)
			})
		},
	}
}
