package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/personcrm/identity-engine/pkg/strength"
)

func newRankCmd() *cobra.Command {
	var memoryBudgetMB int

	cmd := &cobra.Command{
		Use:   "rank",
		Short: "Recompute relationship strength and Dunbar circles for every person",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			h, closeFn, err := newHandles(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			var over strength.MemoryBudget
			if memoryBudgetMB > 0 {
				over = memoryBudgetExceeded(memoryBudgetMB)
			}

			results, err := h.strength.RankAll(h.withConn(ctx), selfID(h), over)
			if err != nil {
				return fmt.Errorf("rank: %w", err)
			}

			if err := h.persons.Save(); err != nil {
				return fmt.Errorf("rank: save person store: %w", err)
			}

			if flagJSON {
				return printJSON(map[string]any{"ranked": len(results)})
			}
			fmt.Printf("ranked %d persons\n", len(results))
			return nil
		},
	}

	cmd.Flags().IntVar(&memoryBudgetMB, "memory-budget-mb", 0, "stop ranking and checkpoint once process RSS exceeds this many MB (0 disables the check)")
	return cmd
}
