package main

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/pkg/browser"
	"github.com/spf13/cobra"

	"github.com/sarchlab/suesim/sim"
	"github.com/sarchlab/suesim/simulation"
	"github.com/sarchlab/suesim/topology"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a scenario.",
	Long: "`run --scenario fabric.yaml` builds the described fabric and " +
		"runs its flows to completion, recording telemetry to SQLite.",
	Run: func(cmd *cobra.Command, _ []string) {
		scenarioPath, _ := cmd.Flags().GetString("scenario")
		dbName, _ := cmd.Flags().GetString("db")
		monitorPort, _ := cmd.Flags().GetInt("monitor")
		noMonitor, _ := cmd.Flags().GetBool("no-monitor")
		openMonitor, _ := cmd.Flags().GetBool("open-monitor")
		until, _ := cmd.Flags().GetFloat64("until")

		runScenario(runConfig{
			scenarioPath: scenarioPath,
			dbName:       dbName,
			monitorPort:  monitorPort,
			noMonitor:    noMonitor,
			openMonitor:  openMonitor,
			until:        until,
		})
	},
}

type runConfig struct {
	scenarioPath string
	dbName       string
	monitorPort  int
	noMonitor    bool
	openMonitor  bool
	until        float64
}

func init() {
	runCmd.Flags().String("scenario", "", "Path of the scenario YAML file.")
	runCmd.Flags().String("db", "",
		"Name of the telemetry database file, without extension.")
	runCmd.Flags().Int("monitor", 0,
		"Port of the monitoring server. Defaults to SUESIM_MONITOR_PORT "+
			"or a random port.")
	runCmd.Flags().Bool("no-monitor", false,
		"Disable the monitoring server.")
	runCmd.Flags().Bool("open-monitor", false,
		"Open the monitoring API in a browser.")
	runCmd.Flags().Float64("until", 0,
		"Stop the simulation at this virtual time, in seconds.")

	err := runCmd.MarkFlagRequired("scenario")
	if err != nil {
		panic(err)
	}

	rootCmd.AddCommand(runCmd)
}

func runScenario(cfg runConfig) {
	scenario, err := topology.LoadScenario(cfg.scenarioPath)
	if err != nil {
		log.Fatalf("Error loading scenario: %v", err)
	}

	s := buildSimulation(cfg)
	defer s.Terminate()

	s.GetRunLogger().Record("scenario", scenario.Name)

	fabric, err := topology.MakeBuilder().
		WithSimulation(s).
		WithScenario(scenario).
		Build()
	if err != nil {
		log.Fatalf("Error building fabric: %v", err)
	}

	if s.GetMonitor() != nil {
		bar := s.GetMonitor().CreateProgressBar(
			"Delivered packets", fabric.Workload.TotalPlanned())
		fabric.Workload.SetOnDelivery(func() {
			bar.IncrementFinished(1)
		})
	}

	if cfg.openMonitor && s.GetMonitor() != nil {
		url := fmt.Sprintf("http://localhost:%d",
			s.GetMonitor().PortNumber())
		err := browser.OpenURL(url)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Cannot open browser: %v\n", err)
		}
	}

	engine := s.GetEngine()
	if cfg.until > 0 {
		serial, ok := engine.(*sim.SerialEngine)
		if !ok {
			log.Fatal("--until requires the serial engine")
		}
		engine.Schedule(sim.NewEventBase(
			sim.VTimeInSec(cfg.until), stopHandler{serial}))
	}

	err = engine.Run()
	if err != nil {
		log.Fatalf("Simulation error: %v", err)
	}

	reportSummary(fabric)
}

func buildSimulation(cfg runConfig) *simulation.Simulation {
	builder := simulation.MakeBuilder()

	if cfg.dbName != "" {
		builder = builder.WithOutputFileName(cfg.dbName)
	}

	if cfg.noMonitor {
		builder = builder.WithoutMonitoring()
	} else {
		port := cfg.monitorPort
		if port == 0 {
			port = monitorPortFromEnv()
		}
		if port > 0 {
			builder = builder.WithMonitorPort(port)
		}
	}

	return builder.Build()
}

func monitorPortFromEnv() int {
	value, ok := os.LookupEnv("SUESIM_MONITOR_PORT")
	if !ok {
		return 0
	}

	port, err := strconv.Atoi(value)
	if err != nil {
		fmt.Fprintf(os.Stderr,
			"Ignoring invalid SUESIM_MONITOR_PORT %q\n", value)
		return 0
	}

	return port
}

type stopHandler struct {
	engine *sim.SerialEngine
}

func (h stopHandler) Handle(_ sim.Event) error {
	h.engine.Terminate()
	return nil
}

func reportSummary(f *topology.Fabric) {
	w := f.Workload

	fmt.Printf("Simulated time: %.9fs\n", float64(f.Engine.CurrentTime()))
	fmt.Printf("Packets sent: %d\n", w.Sent())
	fmt.Printf("Packets delivered: %d\n", w.Delivered())
	fmt.Printf("Bytes delivered: %d\n", w.DeliveredBytes())
	fmt.Printf("Reservation failures: %d\n", w.ReservationFailures())
	fmt.Printf("Send failures: %d\n", w.SendFailures())

	var queueDrops, processingDrops uint64
	for _, d := range f.Nics {
		queueDrops += dropTotal(d.Queues().DropCount, f.Params.NumVCs)
		processingDrops += d.ProcessingDropCount()
	}
	for _, d := range f.Ports {
		queueDrops += dropTotal(d.Queues().DropCount, f.Params.NumVCs)
		processingDrops += d.ProcessingDropCount()
	}

	fmt.Printf("VC queue drops: %d\n", queueDrops)
	fmt.Printf("Processing drops: %d\n", processingDrops)
}

func dropTotal(count func(vc uint8) uint64, numVCs int) uint64 {
	var total uint64
	for vc := 0; vc < numVCs; vc++ {
		total += count(uint8(vc))
	}

	return total
}
