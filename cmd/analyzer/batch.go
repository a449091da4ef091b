package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"static-probe-analyzer/internal/engine"
	"static-probe-analyzer/internal/netaddr"
	"static-probe-analyzer/internal/parser"
	"static-probe-analyzer/internal/probing"
	"static-probe-analyzer/internal/utils"
)

const (
	modeRange  = "range"
	modeExpand = "expand"
)

var progressInterval = 5 * time.Second

var resultHeader = []string{"line", "on", "source", "destination", "protocol", "source_port", "dest_port", "result", "routing", "expect", "pass", "simulations", "error"}

type batchOptions struct {
	inFile       string
	outFile      string
	routableFile string
	mode         string
	maxHosts     uint64
	maxTasks     uint64
}

func newBatchCmd() *cobra.Command {
	opts := &batchOptions{}
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Simulate every request of a probe CSV file concurrently",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.inFile, "in", "", "Probe CSV file (required)")
	cmd.Flags().StringVar(&opts.outFile, "out", "results.csv", "Output CSV file for all results")
	cmd.Flags().StringVar(&opts.routableFile, "routable", "", "Output CSV file for accepted and routed requests")
	cmd.Flags().StringVar(&opts.mode, "mode", modeRange, "Matching mode: 'range' (simulate networks as a whole) or 'expand' (one simulation per host of small networks)")
	cmd.Flags().Uint64Var(&opts.maxHosts, "max-hosts", 256, "Maximum number of hosts in a network to expand in 'expand' mode")
	cmd.Flags().Uint64Var(&opts.maxTasks, "max-tasks", 1000000, "Maximum number of simulations allowed before aborting")
	cmd.MarkFlagRequired("in")
	return cmd
}

// batchTask is one simulation of a batch run.
type batchTask struct {
	spec parser.ProbeSpec
	req  *engine.Request
}

type batchResult struct {
	task        batchTask
	outcome     probing.Outcome
	simulations int
	pass        string
	err         error
}

func (r batchResult) record() []string {
	result, routing, errText := r.outcome.Acl.String(), r.outcome.Routing.String(), ""
	if r.err != nil {
		result, routing, errText = "ERROR", "", r.err.Error()
	}
	return []string{
		strconv.Itoa(r.task.spec.Line),
		r.task.spec.On,
		r.task.req.Source.String(),
		r.task.req.Destination.String(),
		r.task.spec.Protocol,
		r.task.spec.SourcePort,
		r.task.spec.DestPort,
		result,
		routing,
		r.task.spec.Expect,
		r.pass,
		strconv.Itoa(r.simulations),
		errText,
	}
}

func (r batchResult) routable() bool {
	return r.err == nil && r.outcome.Routing == probing.Routed &&
		r.outcome.Acl.Has(engine.AclAccept) && !r.outcome.Acl.Has(engine.AclMay)
}

func runBatch(cmd *cobra.Command, opts *batchOptions) error {
	if opts.mode != modeRange && opts.mode != modeExpand {
		return fmt.Errorf("unknown matching mode: %s", opts.mode)
	}
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	startTime := time.Now()

	inF, err := os.Open(opts.inFile)
	if err != nil {
		a.logger.Error("Failed to open probe file", "path", opts.inFile, "error", err)
		return err
	}
	specs, err := parser.ParseProbes(inF)
	inF.Close()
	if err != nil {
		return fmt.Errorf("%s: %w", opts.inFile, err)
	}

	tasks := make([]batchTask, 0, len(specs))
	for _, spec := range specs {
		req, err := spec.Request(a.tables)
		if err != nil {
			return fmt.Errorf("%s:%d: %w", opts.inFile, spec.Line, err)
		}
		if spec.Expect != "" {
			if _, err := (probing.Outcome{}).Expect(spec.Expect); err != nil {
				return fmt.Errorf("%s:%d: %w", opts.inFile, spec.Line, err)
			}
		}
		tasks = append(tasks, batchTask{spec: spec, req: req})
	}
	a.logger.Info("Probe file parsed", "requests", len(tasks))

	totalTasks := estimateTotalTasks(tasks, opts.mode, opts.maxHosts)
	a.logger.Info("Task count estimated", "total_tasks", totalTasks)
	if opts.maxTasks > 0 && totalTasks > opts.maxTasks {
		a.logger.Error("Estimated task count exceeds limit", "total_tasks", totalTasks, "max_tasks", opts.maxTasks)
		return fmt.Errorf("%d simulations exceed the limit of %d", totalTasks, opts.maxTasks)
	}

	outF, err := os.Create(opts.outFile)
	if err != nil {
		a.logger.Error("Failed to create output file", "path", opts.outFile, "error", err)
		return err
	}
	defer outF.Close()
	var routableW io.Writer
	if opts.routableFile != "" {
		routableF, err := os.Create(opts.routableFile)
		if err != nil {
			a.logger.Error("Failed to create routable file", "path", opts.routableFile, "error", err)
			return err
		}
		defer routableF.Close()
		routableW = routableF
	}

	var completedTasks uint64
	progressDone := make(chan struct{})
	go reportProgress(a.logger, totalTasks, &completedTasks, progressDone)
	defer close(progressDone)

	results := make(chan batchResult, a.cfg.Workers*100)
	writerDone := make(chan writerStats, 1)
	a.logger.Info("Starting result writer", "output_file", opts.outFile, "routable_file", opts.routableFile)
	go func() {
		writerDone <- resultWriter(results, outF, routableW, &completedTasks)
	}()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Workers)
	a.logger.Info("Starting simulations", "workers", a.cfg.Workers, "mode", opts.mode)

	produce := func() error {
		for _, task := range tasks {
			srcExpand := expandable(task.req.Source, opts.mode, opts.maxHosts)
			dstExpand := expandable(task.req.Destination, opts.mode, opts.maxHosts)
			err := eachHost(task.req.Source, srcExpand, func(src netaddr.Range) error {
				return eachHost(task.req.Destination, dstExpand, func(dst netaddr.Range) error {
					if err := ctx.Err(); err != nil {
						return err
					}
					req := task.req.Clone()
					req.Source, req.Destination = src, dst
					t := batchTask{spec: task.spec, req: req}
					g.Go(func() error {
						select {
						case results <- a.runTask(t):
							return nil
						case <-ctx.Done():
							return ctx.Err()
						}
					})
					return nil
				})
			})
			if err != nil {
				return err
			}
		}
		return nil
	}
	prodErr := produce()
	waitErr := g.Wait()
	close(results)
	stats := <-writerDone

	if prodErr != nil {
		return prodErr
	}
	if waitErr != nil {
		return waitErr
	}
	if stats.err != nil {
		a.logger.Error("Failed to write results", "error", stats.err)
		return stats.err
	}
	a.logger.Info("Analysis complete", "duration", time.Since(startTime), "results", stats.written, "failed_expectations", stats.failed)
	fmt.Fprintf(cmd.OutOrStdout(), "%d results written to %s, %d expectations failed\n", stats.written, opts.outFile, stats.failed)
	if stats.failed > 0 {
		return fmt.Errorf("%w: %d of %d", errExpectFailed, stats.failed, stats.checked)
	}
	return nil
}

// runTask never fails the batch; simulation errors go to the result row.
func (a *app) runTask(t batchTask) batchResult {
	res := batchResult{task: t}
	sim, err := a.simulate(t.spec.On, t.req)
	if err != nil {
		a.logger.Warn("Simulation failed", "line", t.spec.Line, "request", t.req.String(), "error", err)
		res.err = err
		if t.spec.Expect != "" {
			res.pass = "false"
		}
		return res
	}
	res.outcome = sim.outcome
	res.simulations = len(sim.trackers)
	if t.spec.Expect != "" {
		ok, _ := sim.outcome.Expect(t.spec.Expect)
		res.pass = strconv.FormatBool(ok)
	}
	return res
}

type writerStats struct {
	written uint64
	checked uint64
	failed  uint64
	err     error
}

// resultWriter drains results until the channel is closed, so producers
// never block on a failed writer.
func resultWriter(results <-chan batchResult, out, routable io.Writer, completedTasks *uint64) writerStats {
	var stats writerStats
	outWriter := csv.NewWriter(out)
	var routableWriter *csv.Writer
	if routable != nil {
		routableWriter = csv.NewWriter(routable)
		routableWriter.Write(resultHeader)
	}
	outWriter.Write(resultHeader)

	for result := range results {
		if stats.err != nil {
			continue
		}
		record := result.record()
		if err := outWriter.Write(record); err != nil {
			stats.err = err
			continue
		}
		if routableWriter != nil && result.routable() {
			routableWriter.Write(record)
		}
		if result.pass != "" {
			stats.checked++
			if result.pass != "true" {
				stats.failed++
			}
		}
		stats.written++
		if stats.written%1024 == 0 {
			atomic.StoreUint64(completedTasks, stats.written)
		}
	}
	atomic.StoreUint64(completedTasks, stats.written)

	outWriter.Flush()
	if err := outWriter.Error(); err != nil && stats.err == nil {
		stats.err = err
	}
	if routableWriter != nil {
		routableWriter.Flush()
		if err := routableWriter.Error(); err != nil && stats.err == nil {
			stats.err = err
		}
	}
	slog.Info("Result writer finished", "written", stats.written)
	return stats
}

func reportProgress(logger *slog.Logger, totalTasks uint64, completedTasks *uint64, done <-chan struct{}) {
	if totalTasks == 0 {
		return
	}
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()
	var lastLogged uint64
	for {
		select {
		case <-ticker.C:
			completed := atomic.LoadUint64(completedTasks)
			if completed == lastLogged {
				continue
			}
			remaining := uint64(0)
			if completed < totalTasks {
				remaining = totalTasks - completed
			}
			percent := float64(completed) / float64(totalTasks) * 100
			logger.Info("Progress", "total_tasks", totalTasks, "completed_tasks", completed, "remaining_tasks", remaining, "percent", fmt.Sprintf("%.2f", percent))
			lastLogged = completed
			if completed >= totalTasks {
				return
			}
		case <-done:
			return
		}
	}
}

// expandable reports whether r is split into hosts in the given mode.
func expandable(r netaddr.Range, mode string, maxHosts uint64) bool {
	if mode != modeExpand || r.IsHost() {
		return false
	}
	size := r.Size()
	return size.IsUint64() && size.Uint64() <= maxHosts
}

// eachHost calls fn with r, or with every address of r when expand is set.
func eachHost(r netaddr.Range, expand bool, fn func(netaddr.Range) error) error {
	if !expand {
		return fn(r)
	}
	cidr := r.IPNet()
	for ip := cidr.IP.Mask(cidr.Mask); cidr.Contains(ip); utils.Inc(ip) {
		addr, err := netaddr.AddressFromIP(ip)
		if err != nil {
			return err
		}
		if err := fn(addr.Range()); err != nil {
			return err
		}
	}
	return nil
}

func hostCount(r netaddr.Range, mode string, maxHosts uint64) uint64 {
	if expandable(r, mode, maxHosts) {
		return r.Size().Uint64()
	}
	return 1
}

func estimateTotalTasks(tasks []batchTask, mode string, maxHosts uint64) uint64 {
	total := new(big.Int)
	for _, t := range tasks {
		n := new(big.Int).SetUint64(hostCount(t.req.Source, mode, maxHosts))
		n.Mul(n, new(big.Int).SetUint64(hostCount(t.req.Destination, mode, maxHosts)))
		total.Add(total, n)
	}
	if !total.IsUint64() {
		return ^uint64(0)
	}
	return total.Uint64()
}
