package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"static-probe-analyzer/internal/model"
	"static-probe-analyzer/internal/parser"
	"static-probe-analyzer/internal/probing"
)

type probeOptions struct {
	on     string
	spec   parser.RequestSpec
	expect string
}

func newProbeCmd() *cobra.Command {
	opts := &probeOptions{}
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Simulate one request and print every probe path",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProbe(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.on, "on", "", "Injection point: equipment or equipment/interface (default: located from the source)")
	cmd.Flags().StringVar(&opts.spec.Source, "src", "", "Source address or network (required)")
	cmd.Flags().StringVar(&opts.spec.Destination, "dst", "", "Destination address or network (required)")
	cmd.Flags().StringVar(&opts.spec.Protocol, "proto", "", "Protocols, comma separated")
	cmd.Flags().StringVar(&opts.spec.SourcePort, "sport", "", "Source port, range or service name")
	cmd.Flags().StringVar(&opts.spec.DestPort, "dport", "", "Destination port, range, service name or ICMP type")
	cmd.Flags().StringVar(&opts.spec.Flags, "flags", "", "TCP flags, alternatives separated by '|'")
	cmd.Flags().StringVar(&opts.expect, "expect", "", "Expected result keyword, '!' negates")
	cmd.MarkFlagRequired("src")
	cmd.MarkFlagRequired("dst")
	return cmd
}

func runProbe(cmd *cobra.Command, opts *probeOptions) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	req, err := opts.spec.Request(a.tables)
	if err != nil {
		return err
	}
	a.logger.Info("Simulating request", "request", req.String(), "on", opts.on)

	sim, err := a.simulate(opts.on, req)
	if err != nil {
		a.logger.Error("Simulation failed", "error", err)
		return err
	}

	out := cmd.OutOrStdout()
	for i, tr := range sim.trackers {
		fmt.Fprintf(out, "simulation %s from %s: %s\n", tr.ID(), sim.points[i], tr.Outcome())
		for _, p := range tr.Probes() {
			if p.IsTerminal() {
				writePath(out, p)
			}
		}
	}
	fmt.Fprintf(out, "result: %s\n", sim.outcome)

	if opts.expect == "" {
		return nil
	}
	ok, err := sim.outcome.Expect(opts.expect)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintf(out, "expect %s: FAIL\n", opts.expect)
		return fmt.Errorf("%w: %s, got %s", errExpectFailed, opts.expect, sim.outcome)
	}
	fmt.Fprintf(out, "expect %s: PASS\n", opts.expect)
	return nil
}

// writePath prints a terminal probe with the hops that led to it and the
// filter traces recorded on the way.
func writePath(w io.Writer, p *probing.Probe) {
	status := p.Status().String()
	if p.KillReason() != probing.NotKilled {
		status += " " + p.KillReason().String()
	}
	fmt.Fprintf(w, "  probe %d %s: %s\n", p.ID(), status, p.Message())
	for _, hop := range p.Hops() {
		fmt.Fprintf(w, "    %s [%s]\n", hop.Position(), hop.AclResult())
		for _, dir := range []model.Direction{model.In, model.Out} {
			trace := hop.ACLTrace(dir)
			if !trace.Filtered() {
				continue
			}
			fmt.Fprintf(w, "      %s %s\n", dir, trace.RuleSet)
			for _, e := range trace.Entries {
				fmt.Fprintf(w, "        %s\n", e)
			}
		}
	}
}
