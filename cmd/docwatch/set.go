package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/syntrixbase/docwatch/pkg/docwatch"
	"github.com/syntrixbase/docwatch/pkg/model"
)

func newSetCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set <path> [json]",
		Short: "Create or replace a document",
		Long:  "Create or replace a document. The fields are a JSON object given as an argument or on stdin.",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var raw []byte
			if len(args) == 2 {
				raw = []byte(args[1])
			} else {
				var err error
				if raw, err = io.ReadAll(cmd.InOrStdin()); err != nil {
					return fmt.Errorf("failed to read stdin: %w", err)
				}
			}
			doc, err := decodeFields(raw)
			if err != nil {
				return err
			}

			return opts.withConnection(func(conn *docwatch.Connection) error {
				ctx, cancel := opts.callContext(cmd.Context())
				defer cancel()

				var out model.Document
				if !conn.Upsert(ctx, args[0], doc, &out) {
					return fmt.Errorf("failed to write %s", args[0])
				}
				data, err := encodeDocument(conn.Root(), args[0], &out)
				if err != nil {
					return err
				}
				return writeLine(cmd.OutOrStdout(), data)
			})
		},
	}
}
