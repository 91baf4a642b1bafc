package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newMergeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "merge <primary-id> <secondary-id>",
		Short: "Merge secondary-id into primary-id",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			primaryID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("merge: parse primary id: %w", err)
			}
			secondaryID, err := uuid.Parse(args[1])
			if err != nil {
				return fmt.Errorf("merge: parse secondary id: %w", err)
			}

			ctx := context.Background()
			h, closeFn, err := newHandles(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			if err := h.merge.Merge(ctx, primaryID, secondaryID, selfID(h)); err != nil {
				return fmt.Errorf("merge: %w", err)
			}

			if flagJSON {
				return printJSON(map[string]any{"primary_id": primaryID, "secondary_id": secondaryID, "merged": true})
			}
			fmt.Printf("merged %s into %s\n", secondaryID, primaryID)
			return nil
		},
	}
	return cmd
}
