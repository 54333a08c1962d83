package main

import (
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wondertwin-ai/contractkit/internal/config"
	"github.com/wondertwin-ai/contractkit/internal/harness"
)

func (a *app) listCmd() *cobra.Command {
	var sel selectionFlags
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the scenarios a run would execute",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			sel.apply(cmd.Flags(), cfg)

			h, err := harness.Build(cfg, harness.Options{Logger: zap.NewNop()})
			if err != nil {
				return err
			}

			table := tablewriter.NewWriter(a.stdout)
			table.SetHeader([]string{"Scenario", "Target", "Tags", "Status", "Steps"})
			table.SetAutoFormatHeaders(false)
			table.SetAutoWrapText(false)
			for _, s := range h.Scenarios {
				status := "enabled"
				if s.Disabled {
					status = "disabled"
				}
				table.Append([]string{s.Name, s.Target, strings.Join(s.Tags, ","), status, strconv.Itoa(len(s.Steps))})
			}
			table.Render()
			return nil
		},
	}
	sel.register(cmd.Flags())
	return cmd
}
