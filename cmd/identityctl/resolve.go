package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/personcrm/identity-engine/pkg/models"
	"github.com/personcrm/identity-engine/pkg/resolver"
)

func newResolveCmd() *cobra.Command {
	var (
		name            string
		email           string
		phone           string
		contextPath     string
		sourceTypeFlag  string
		createIfMissing bool
	)

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve an observation (name/email/phone) to a canonical person",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			h, closeFn, err := newHandles(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			in := resolver.Input{
				Name: name, Email: email, Phone: phone, ContextPath: contextPath,
				CreateIfMissing: createIfMissing,
			}
			if sourceTypeFlag != "" {
				st := models.SourceType(sourceTypeFlag)
				in.SourceType = &st
			}

			result, err := h.resolver.Resolve(h.withConn(ctx), in)
			if err != nil {
				return fmt.Errorf("resolve: %w", err)
			}

			if result == nil {
				if flagJSON {
					return printJSON(map[string]any{"matched": false})
				}
				fmt.Println("no match")
				return nil
			}

			if err := h.persons.Save(); err != nil {
				return fmt.Errorf("resolve: save person store: %w", err)
			}

			if flagJSON {
				return printJSON(map[string]any{
					"matched":    true,
					"person_id":  result.Person.ID,
					"is_new":     result.IsNew,
					"confidence": result.Confidence,
					"match_type": result.MatchType,
				})
			}
			fmt.Printf("person=%s is_new=%t confidence=%.2f match_type=%s\n",
				result.Person.ID, result.IsNew, result.Confidence, result.MatchType)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "observed name")
	cmd.Flags().StringVar(&email, "email", "", "observed email")
	cmd.Flags().StringVar(&phone, "phone", "", "observed phone (E.164)")
	cmd.Flags().StringVar(&contextPath, "context", "", "vault context path")
	cmd.Flags().StringVar(&sourceTypeFlag, "source-type", "", "source type of the observation")
	cmd.Flags().BoolVar(&createIfMissing, "create-if-missing", false, "create a new person when nothing matches")
	return cmd
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
