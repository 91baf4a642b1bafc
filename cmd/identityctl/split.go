package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/personcrm/identity-engine/pkg/merge"
	"github.com/personcrm/identity-engine/pkg/models"
)

func newSplitCmd() *cobra.Command {
	var (
		targetIDFlag   string
		newPersonName  string
		sourceTypeList string
	)

	cmd := &cobra.Command{
		Use:   "split <source-person-id>",
		Short: "Move observations of given source types off a person, onto a new or existing person",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sourceID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("split: parse source person id: %w", err)
			}

			if (targetIDFlag == "") == (newPersonName == "") {
				return fmt.Errorf("split: exactly one of --target-id or --new-person-name is required")
			}
			if strings.TrimSpace(sourceTypeList) == "" {
				return fmt.Errorf("split: --source-types is required")
			}

			var sourceTypes []models.SourceType
			for _, raw := range strings.Split(sourceTypeList, ",") {
				raw = strings.TrimSpace(raw)
				if raw != "" {
					sourceTypes = append(sourceTypes, models.SourceType(raw))
				}
			}

			target := merge.SplitTarget{NewPersonName: newPersonName}
			if targetIDFlag != "" {
				id, err := uuid.Parse(targetIDFlag)
				if err != nil {
					return fmt.Errorf("split: parse target id: %w", err)
				}
				target.ExistingID = &id
			}

			ctx := context.Background()
			h, closeFn, err := newHandles(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			targetID, err := h.merge.Split(ctx, sourceID, target, sourceTypes, selfID(h))
			if err != nil {
				return fmt.Errorf("split: %w", err)
			}

			if flagJSON {
				return printJSON(map[string]any{"source_person_id": sourceID, "target_person_id": targetID})
			}
			fmt.Printf("split %s off of %s\n", targetID, sourceID)
			return nil
		},
	}

	cmd.Flags().StringVar(&targetIDFlag, "target-id", "", "existing person to move observations onto")
	cmd.Flags().StringVar(&newPersonName, "new-person-name", "", "canonical name for a brand new target person")
	cmd.Flags().StringVar(&sourceTypeList, "source-types", "", "comma-separated source types to move")
	return cmd
}
