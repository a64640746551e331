package main

import (
	"fmt"
	"os"
	"path"
	"runtime"
	"strings"
	"time"

	nested "github.com/antonfisher/nested-logrus-formatter"
	"github.com/fatih/color"
	"github.com/rs/xid"
	log "github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"github.com/twopc-checker/common"
	"github.com/twopc-checker/config"
	"github.com/twopc-checker/explorer"
	"github.com/twopc-checker/harness"
	"github.com/twopc-checker/model"
)

// Command line parameters
var (
	configFile   string
	participants int
	maxDepth     int
	maxCrashes   int
	search       string
	workers      int
	runs         int
	seed         int64
	enableLoss   bool
	enableDup    bool
	metricsFile  string
	verbose      bool
)

func init() {
	defaults := config.Default()

	flag.StringVarP(&configFile, "config", "c", "", "JSON config file, defaults if not set")
	flag.IntVarP(&participants, "participants", "p", defaults.Participants, "Number of participants")
	flag.IntVarP(&maxDepth, "depth", "d", defaults.MaxDepth, "Exploration depth bound in events")
	flag.IntVarP(&maxCrashes, "crashes", "k", defaults.MaxCrashesPerParty, "Max crashes per party, 0 disables crashes")
	flag.StringVarP(&search, "search", "s", defaults.Search, "Search strategy: bfs or dfs")
	flag.IntVarP(&workers, "workers", "w", defaults.Workers, "Expansion workers for bfs")
	flag.IntVarP(&runs, "runs", "r", defaults.Runs, "Random scenarios for simulate")
	flag.Int64VarP(&seed, "seed", "", 0, "Scenario seed, time-based if not set")
	flag.BoolVarP(&enableLoss, "loss", "", false, "Enable message loss events")
	flag.BoolVarP(&enableDup, "duplication", "", false, "Enable message duplication events")
	flag.StringVarP(&metricsFile, "metrics", "m", "", "Write exploration metrics CSV to this file")
	flag.BoolVarP(&verbose, "verbose", "v", false, "Debug logging")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] check|simulate\n", os.Args[0])
		flag.PrintDefaults()
	}
}

func loadConfig() *config.Config {
	cfg := config.Default()
	if configFile != "" {
		var err error
		if cfg, err = config.Load(configFile); err != nil {
			log.Fatalf("Unable to load config %s: %s", configFile, err)
		}
	}
	if flag.CommandLine.Changed("participants") {
		cfg.Participants = participants
	}
	if flag.CommandLine.Changed("depth") {
		cfg.MaxDepth = maxDepth
	}
	if flag.CommandLine.Changed("crashes") {
		cfg.MaxCrashesPerParty = maxCrashes
	}
	if flag.CommandLine.Changed("search") {
		cfg.Search = search
	}
	if flag.CommandLine.Changed("workers") {
		cfg.Workers = workers
	}
	if flag.CommandLine.Changed("runs") {
		cfg.Runs = runs
	}
	if flag.CommandLine.Changed("seed") {
		cfg.Seed = seed
	}
	if flag.CommandLine.Changed("loss") {
		cfg.EnableLoss = enableLoss
	}
	if flag.CommandLine.Changed("duplication") {
		cfg.EnableDuplication = enableDup
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %s", err)
	}
	return cfg
}

func main() {
	flag.Parse()
	logger := log.New()
	logger.SetFormatter(&nested.Formatter{
		HideKeys:    true,
		FieldsOrder: []string{"component"},
		CustomCallerFormatter: func(f *runtime.Frame) string {
			s := strings.Split(f.Function, ".")
			funcName := s[len(s)-1]
			return fmt.Sprintf(" [%s:%d][%s()]", path.Base(f.File), f.Line, funcName)
		},
	})
	if verbose {
		logger.SetLevel(log.DebugLevel)
	}
	mainLog := logger.WithField("component", "main")

	cfg := loadConfig()
	switch flag.Arg(0) {
	case "check":
		os.Exit(runCheck(logger, mainLog, cfg))
	case "simulate":
		os.Exit(runSimulate(logger, mainLog, cfg))
	default:
		flag.Usage()
		os.Exit(2)
	}
}

// runCheck explores the reachable state space up to the configured
// bounds and reports either a clean pass or a counterexample trace.
func runCheck(logger *log.Logger, mainLog *log.Entry, cfg *config.Config) int {
	ids := make([]common.PartyID, cfg.Participants)
	for i := range ids {
		ids[i] = common.ParticipantID(i + 1)
	}
	m := model.New(model.Options{
		MaxCrashesPerParty: cfg.MaxCrashesPerParty,
		EnableLoss:         cfg.EnableLoss,
		EnableDuplication:  cfg.EnableDuplication,
		EnableTimeout:      cfg.EnableTimeout,
	})

	mainLog.Infof("Exploring 2PC with %d participants, depth <= %d, %d crashes per party, search=%s",
		cfg.Participants, cfg.MaxDepth, cfg.MaxCrashesPerParty, cfg.Search)

	ex := explorer.New(logger, m, cfg.MaxDepth, cfg.Search, cfg.Workers, nil)
	result := ex.Run(model.NewRun(xid.New().String(), ids))
	mainLog.Info(ex.Stats().Summary())

	if metricsFile != "" {
		f, err := os.Create(metricsFile)
		if err != nil {
			mainLog.Fatalf("Cannot create metrics file: %s", err)
		}
		defer f.Close()
		if err := ex.Stats().WriteCSV(f); err != nil {
			mainLog.Fatalf("Cannot write metrics: %s", err)
		}
	}

	if result.OK {
		verdict := "no violation found"
		if result.BoundHit {
			verdict += fmt.Sprintf(" up to depth %d", cfg.MaxDepth)
		}
		color.Green("PASS: %s (%d states)", verdict, result.States)
		return 0
	}

	color.Red("FAIL: %s", result.Violation)
	color.Yellow("counterexample (%d events):", len(result.Trace))
	fmt.Println(result.TraceString())
	return 1
}

// runSimulate samples random scenarios and stops at the first failing
// one, printing its trace.
func runSimulate(logger *log.Logger, mainLog *log.Entry, cfg *config.Config) int {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	mainLog.Infof("Simulating %d random scenarios, seed=%d", cfg.Runs, seed)

	h := harness.New(logger)
	rnd := harness.NewScenarioRand(seed)
	for i := 0; i < cfg.Runs; i++ {
		sc := harness.RandomScenario(rnd, cfg.Participants)
		sc.MaxSteps = cfg.MaxSteps
		sc.FaultCutoff = cfg.FaultCutoff
		res, err := h.Run(sc)
		if err != nil {
			mainLog.Fatalf("Scenario generation bug: %s", err)
		}
		if res.Failed() {
			color.Red("FAIL: scenario %s (%d participants, seed %d): %s",
				sc.Txid, len(sc.Votes), sc.Seed, res.Path.Violations[0])
			color.Yellow("trace (%d events):", len(res.Path.Trace))
			for j, e := range res.Path.Trace {
				fmt.Printf("%3d. %s\n", j+1, e)
			}
			return 1
		}
	}
	color.Green("PASS: %d scenarios, no violation found", cfg.Runs)
	return 0
}
