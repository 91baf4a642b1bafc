package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newRematchCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "rematch",
		Short: "Retry resolution for unlinked source entities eligible for another attempt",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			h, closeFn, err := newHandles(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			attempted, linked, err := h.resolver.RunMatchAttempts(h.withConn(ctx), limit)
			if err != nil {
				return fmt.Errorf("rematch: %w", err)
			}

			if err := h.persons.Save(); err != nil {
				return fmt.Errorf("rematch: save person store: %w", err)
			}

			if flagJSON {
				return printJSON(map[string]any{"attempted": attempted, "linked": linked})
			}
			fmt.Printf("attempted=%d linked=%d\n", attempted, linked)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 500, "maximum unlinked source entities to consider")
	return cmd
}
