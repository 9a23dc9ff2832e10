/*
 Copyright 2024 The Pace Exporter Authors.

 Licensed under the Apache License, Version 2.0 (the "License");
 you may not use this file except in compliance with the License.
 You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

 Unless required by applicable law or agreed to in writing, software
 distributed under the License is distributed on an "AS IS" BASIS,
 WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 See the License for the specific language governing permissions and
 limitations under the License.
*/

package main

import (
	"encoding/json"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/keystone-tools/pace-exporter/pace"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/promlog"
	"github.com/prometheus/common/promlog/flag"
	"github.com/prometheus/common/version"
	"github.com/prometheus/exporter-toolkit/web"
	"github.com/prometheus/exporter-toolkit/web/kingpinflag"
	"github.com/alecthomas/kingpin/v2"
)

var (
	listenAddress = kingpin.Flag("telemetry.address", "Address at which pace metrics are exported.").Default(":9274").String()
	metricsPath   = kingpin.Flag("telemetry-path", "Path at which pace metrics are exported.").Default("/metrics").String()
	profileName   = kingpin.Flag("profile", "Performance profile: low, balanced or high.").Default(pace.ProfileBalanced).String()
	extrapolation = kingpin.Flag("extrapolation", "Synthesize references from lower-level best runs.").Default("true").Bool()
	deathPenalty  = kingpin.Flag("death-penalty", "Seconds added per death before reference lookups.").Default("15").Float64()
	bossWeight    = kingpin.Flag("boss-weight", "Trash percentage points one boss is worth.").Default("20").Float64()
	toolkitFlags  = kingpinflag.AddFlags(kingpin.CommandLine, ":9274")
	logger        log.Logger
	promlogConfig *promlog.Config
)

const (
	exporterName = "pace_exporter"
)

func init() {
	promlogConfig = &promlog.Config{}
	logger = promlog.New(promlogConfig)
}

// event is the wire shape of the host event source boundary: one JSON
// object per engine operation, applied in arrival order.
type event struct {
	Type         string  `json:"type"`
	DungeonID    uint32  `json:"dungeon_id"`
	Level        uint32  `json:"level"`
	Elapsed      float64 `json:"elapsed"`
	TrashPct     float64 `json:"trash_pct"`
	BossesKilled uint32  `json:"bosses_killed"`
	Deaths       uint32  `json:"deaths"`
	BossIndex    uint32  `json:"boss_index"`
	BossName     string  `json:"boss_name"`
	Completed    bool    `json:"completed"`
	InTime       bool    `json:"in_time"`
}

type comparisonQuery struct {
	reply chan comparisonReply
}

type comparisonReply struct {
	cmp pace.Comparison
	ok  bool
}

func main() {

	flag.AddFlags(kingpin.CommandLine, promlogConfig)
	kingpin.Version(version.Print(exporterName))
	kingpin.HelpFlag.Short('h')
	kingpin.Parse()

	level.Info(logger).Log("msg", "Starting pace_exporter", "version", version.Info())
	level.Info(logger).Log("msg", "Build context", "build", version.BuildContext())
	level.Info(logger).Log("msg", "Starting Server: ", "listen_address", *listenAddress)

	prometheus.MustRegister(version.NewCollector(exporterName))

	cfg := pace.DefaultConfig()
	cfg.ExtrapolationEnabled = *extrapolation
	cfg.Profile = *profileName
	cfg.DeathPenaltySeconds = *deathPenalty
	cfg.BossWeightDefault = *bossWeight

	store := pace.NewStore(
		pace.WithStoreLogger(logger),
		pace.WithExtrapolation(cfg.ExtrapolationEnabled, cfg.ExtrapolationScale),
	)
	engine := pace.NewEngine(store,
		pace.WithLogger(logger),
		pace.WithConfig(cfg),
		pace.WithRegisterer(prometheus.DefaultRegisterer),
	)

	// the engine is single-threaded by contract; handlers enqueue, one
	// goroutine drains
	events := make(chan event, 256)
	queries := make(chan comparisonQuery)
	go runEventLoop(engine, events, queries)

	http.HandleFunc("/event", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var ev event
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			level.Debug(logger).Log("msg", "bad event payload", "err", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		select {
		case events <- ev:
			w.WriteHeader(http.StatusAccepted)
		default:
			// a stalled loop must not block the host; shed instead
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	})

	http.HandleFunc("/comparison", func(w http.ResponseWriter, r *http.Request) {
		q := comparisonQuery{reply: make(chan comparisonReply, 1)}
		queries <- q
		rep := <-q.reply
		if !rep.ok {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(rep.cmp); err != nil {
			level.Debug(logger).Log("msg", "encoding comparison failed", "err", err)
		}
	})

	// Define a channel to watch out for any termination signals
	gracefulStop := make(chan os.Signal, 1)
	signal.Notify(gracefulStop, syscall.SIGINT, syscall.SIGTERM)

	// Listen for the termination signals from the OS
	go func() {
		level.Info(logger).Log("msg", "Listening and waiting for graceful stop")
		sig := <-gracefulStop
		level.Info(logger).Log("msg", "Caught signal. Waiting 2 seconds...", "signal", sig)
		time.Sleep(2 * time.Second)
		level.Info(logger).Log("msg", "Terminating pace_exporter on port: ", "listen_address", *listenAddress)
		os.Exit(0)
	}()

	level.Info(logger).Log("msg", "calling StartServer")
	// Start the server
	StartServer()
}

// runEventLoop is the single logical execution context the engine requires.
func runEventLoop(engine *pace.Engine, events <-chan event, queries <-chan comparisonQuery) {
	for {
		select {
		case ev := <-events:
			applyEvent(engine, ev)
		case q := <-queries:
			cmp, ok := engine.Comparison()
			q.reply <- comparisonReply{cmp: cmp, ok: ok}
		}
	}
}

func applyEvent(engine *pace.Engine, ev event) {
	switch ev.Type {
	case "start":
		if err := engine.StartRun(ev.DungeonID, ev.Level); err != nil {
			level.Debug(logger).Log("msg", "start rejected", "err", err)
		}
	case "progress":
		engine.UpdateProgress(pace.Observation{
			Elapsed:      ev.Elapsed,
			TrashPct:     ev.TrashPct,
			BossesKilled: ev.BossesKilled,
			Deaths:       ev.Deaths,
		})
	case "boss_engage":
		engine.RecordBossEngage(ev.BossIndex, ev.Elapsed)
	case "boss_kill":
		engine.RecordBossKill(ev.BossIndex, ev.BossName, ev.Elapsed)
	case "death":
		engine.RecordDeath(ev.Elapsed)
	case "end":
		engine.EndRun(ev.Completed, ev.InTime, ev.Elapsed)
	case "reset":
		engine.ResetRun()
	default:
		level.Debug(logger).Log("msg", "unknown event type", "type", ev.Type)
	}
}

func StartServer() {
	// Define paths
	http.Handle(*metricsPath, promhttp.Handler())
	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>
			<head><title>Pace Exporter</title></head>
			<body>
			<h1>Pace Exporter</h1>
			<p><a href='` + *metricsPath + `'>Metrics</a></p>
			</body>
			</html>`))
	})

	// Start the server
	srv := &http.Server{Addr: *listenAddress}
	if err := web.ListenAndServe(srv, toolkitFlags, logger); err != nil {
		level.Error(logger).Log("error", "Port Listen Address error", "reason", err)
		os.Exit(1)
	}
}
