package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/MythicalCow/lifelink/logger"
	"github.com/MythicalCow/lifelink/meshmetrics"
	"github.com/MythicalCow/lifelink/simulator"
)

var (
	ticks       int
	metricsAddr string
	tickPeriod  time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the mesh simulator for a number of ticks, or until interrupted",
	RunE:  runSimulation,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the meshsim version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version)
	},
}

func init() {
	runCmd.Flags().IntVar(&ticks, "ticks", 0, "number of ticks to run; 0 runs until interrupted")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9190", "address to serve /metrics on")
	runCmd.Flags().DurationVar(&tickPeriod, "tick-period", 100*time.Millisecond, "wall-clock interval between ticks")
}

func runSimulation(cmd *cobra.Command, args []string) error {
	if verbose {
		logger.SetLevel(logger.DebugLevel)
	}

	if cfgFile == "" {
		return fmt.Errorf("--config is required: path to a sensor layout YAML file")
	}
	sensors, err := simulator.LoadSensorsYAML(cfgFile)
	if err != nil {
		return fmt.Errorf("loading sensor layout: %w", err)
	}

	sim := simulator.New()
	sim.Construct(sensors)

	meshmetrics.InitMetrics()
	sim.EnableMetrics(meshmetrics.Observe)

	go func() {
		logger.Infof("serving metrics on %s/metrics", metricsAddr)
		mux := http.NewServeMux()
		mux.Handle("/metrics", meshmetrics.Handler())
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			logger.Errorf("metrics server stopped: %v", err)
		}
	}()

	logger.Infof("starting simulation with %d nodes", len(sensors))
	ticker := time.NewTicker(tickPeriod)
	defer ticker.Stop()

	count := 0
	for range ticker.C {
		snap := sim.Step()
		if snap.Tick%10 == 0 {
			logger.Infof("tick %d: sent=%d delivered=%d dropped=%d collisions=%d avgHops=%.2f coverage=%.2f",
				snap.Tick, snap.Stats.TotalSent, snap.Stats.TotalDelivered, snap.Stats.TotalDropped,
				snap.Stats.TotalCollisions, snap.Stats.AvgHops, snap.Stats.MembershipCoverage)
		}
		count++
		if ticks > 0 && count >= ticks {
			break
		}
	}
	return nil
}
