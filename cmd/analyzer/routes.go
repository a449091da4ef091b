package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"static-probe-analyzer/internal/topology"
)

func newRoutesCmd() *cobra.Command {
	var equipment string
	cmd := &cobra.Command{
		Use:   "routes",
		Short: "Print the routing tables of the modeled equipments",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			equipments := a.topo.Equipments()
			if equipment != "" {
				eq, ok := a.topo.Equipment(equipment)
				if !ok {
					return fmt.Errorf("%w: %s", topology.ErrUnknownEquipment, equipment)
				}
				equipments = []*topology.Equipment{eq}
			}
			out := cmd.OutOrStdout()
			for _, eq := range equipments {
				fmt.Fprintf(out, "== %s\n", eq.Name())
				eq.WriteRoutes(out)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&equipment, "equipment", "", "Only print this equipment")
	return cmd
}
