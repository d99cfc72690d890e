// Command netsim runs one or more network-simulator scenarios, serves
// Prometheus metrics and, when NETSIM_SERVE is set, serves each scenario's
// count of logged packets at /results, grounded on
// github.com/m-lab/etl/cmd/etl_worker's flag+prometheusx+rtx main() shape.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/m-lab/go/prometheusx"
	"github.com/m-lab/go/rtx"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flyby-yunakayama/network-simulator/scenarios"
	"github.com/flyby-yunakayama/network-simulator/topology"
)

func init() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

var (
	metricsAddr = flag.String("prometheusx.listen-address", ":9090", "address to serve Prometheus metrics on")
	listenAddr  = flag.String("listen-address", ":8080", "address to serve scenario results on")
	scenarioSet = flag.String("scenarios", "all", "comma-separated scenario names to run, or \"all\"")
	maxParallel = flag.Int("max-parallel", 4, "maximum number of scenarios to run concurrently")
)

var mainCtx, mainCancel = context.WithCancel(context.Background())

func main() {
	defer mainCancel()
	flag.Parse()

	prometheusx.MustStartPrometheus(*metricsAddr)
	http.Handle("/metrics", promhttp.Handler())

	var selected []topology.Scenario
	for _, name := range strings.Split(*scenarioSet, ",") {
		selected = append(selected, scenarios.Select(strings.TrimSpace(name))...)
	}
	if len(selected) == 0 {
		rtx.Must(fmt.Errorf("no scenarios matched %q", *scenarioSet), "invalid -scenarios flag")
	}

	results, err := topology.RunScenarios(mainCtx, selected, *maxParallel)
	rtx.Must(err, "scenario run failed")

	http.HandleFunc("/results", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		summaries := make(map[string]int, len(results))
		for _, res := range results {
			summaries[res.Name] = len(res.Log.Records())
		}
		_ = enc.Encode(summaries)
	})

	for _, res := range results {
		log.Printf("scenario %s: %d packets logged", res.Name, len(res.Log.Records()))
	}

	if os.Getenv("NETSIM_SERVE") == "" {
		return
	}
	srv := &http.Server{Addr: *listenAddr, ReadHeaderTimeout: 5 * time.Second}
	rtx.Must(srv.ListenAndServe(), "failed to listen")
}
