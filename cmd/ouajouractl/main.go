package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/tarekm28/ouajourad/pkg/cluster"
	"github.com/tarekm28/ouajourad/pkg/config"
	"github.com/tarekm28/ouajourad/pkg/logx"
	"github.com/tarekm28/ouajourad/pkg/normalize"
	"github.com/tarekm28/ouajourad/pkg/pipeline"
	"github.com/tarekm28/ouajourad/pkg/query"
	"github.com/tarekm28/ouajourad/pkg/store"
)

var (
	inspect       = flag.Bool("inspect", false, "Print trip/detection counts and exit")
	reprocess     = flag.String("reprocess", "", "Re-run the pipeline over a stored trip_id's raw payload")
	queryClusters = flag.Bool("query-clusters", false, "Run cross-trip clustering and print the result as GeoJSON")
	minConf       = flag.Float64("min-conf", 0.4, "Minimum confidence passed to the clustering query")
	epsM          = flag.Float64("eps-m", 5.0, "DBSCAN epsilon radius in meters")

	dbPath   = flag.String("db", "", "Path to the sqlite database (defaults to DATABASE_URL)")
	logLevel = flag.String("log-level", "info", "Log level (debug|info|warn|error)")
	timeout  = flag.Duration("timeout", 30*time.Second, "Operation timeout")
	version  = flag.Bool("version", false, "Show version information")
)

const (
	appName    = "ouajouractl"
	appVersion = "0.1.0"
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("%s version %s\n", appName, appVersion)
		os.Exit(0)
	}

	logger := logx.NewLogger(*logLevel, appName)

	dsn := *dbPath
	if dsn == "" {
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		dsn = cfg.DatabaseURL
	}

	st, err := store.Open(dsn, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch {
	case *inspect:
		if err := handleInspect(ctx, st); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case *reprocess != "":
		if err := handleReprocess(ctx, st, *reprocess); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case *queryClusters:
		if err := handleQueryClusters(ctx, st, *minConf, *epsM); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	default:
		flag.Usage()
		os.Exit(1)
	}
}

// handleInspect reports the trip and detection counts visible to
// ouajourad. Mirrors a database sanity check a developer would
// run after a batch of trip uploads.
func handleInspect(ctx context.Context, st *store.Store) error {
	trips, err := st.TripCount(ctx)
	if err != nil {
		return fmt.Errorf("trip count: %w", err)
	}

	detections, err := st.DetectionsByIntensity(ctx, 0, 0)
	if err != nil {
		return fmt.Errorf("detections: %w", err)
	}

	fmt.Printf("trips: %d\n", trips)
	fmt.Printf("detections: %d\n", len(detections))
	return nil
}

// handleReprocess re-runs C1-C6 over a trip's stored raw payload, replaces
// its detections, and merges its rough segments into the stored segment
// aggregates. Used to pick up a pipeline
// change without re-uploading every trip.
func handleReprocess(ctx context.Context, st *store.Store, tripID string) error {
	raw, err := st.RawPayload(ctx, tripID)
	if err != nil {
		return fmt.Errorf("load raw payload: %w", err)
	}

	payload, err := normalize.DecodeJSON(raw)
	if err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}

	result := pipeline.Run(tripID, payload, time.Now().UTC())
	if err := st.WriteTripResults(ctx, tripID, result.Detections, result.RoughSegments); err != nil {
		return fmt.Errorf("write results: %w", err)
	}

	fmt.Printf("trip %s: %d detections, %d rough segments\n", tripID, len(result.Detections), len(result.RoughSegments))
	return nil
}

// handleQueryClusters runs the same aggregation the query endpoint would,
// against whatever the store currently holds, and prints the shaped
// result as GeoJSON for inspection in a map viewer.
func handleQueryClusters(ctx context.Context, st *store.Store, minConf, epsM float64) error {
	totalTrips, err := st.TripCount(ctx)
	if err != nil {
		return fmt.Errorf("trip count: %w", err)
	}
	if totalTrips == 0 {
		fmt.Println("[]")
		return nil
	}

	detections, err := st.DetectionsWithCoordinates(ctx)
	if err != nil {
		return fmt.Errorf("detections: %w", err)
	}

	clusters := cluster.Aggregate(detections, totalTrips, time.Now().UTC(), epsM)
	shaped := query.Shape(clusters, query.Params{MinConf: minConf, Dashboard: false, Limit: 0})

	geojson, err := query.ToGeoJSON(shaped)
	if err != nil {
		return fmt.Errorf("encode geojson: %w", err)
	}

	var pretty map[string]interface{}
	if err := json.Unmarshal(geojson, &pretty); err == nil {
		out, _ := json.MarshalIndent(pretty, "", "  ")
		fmt.Println(string(out))
		return nil
	}

	fmt.Println(string(geojson))
	return nil
}
