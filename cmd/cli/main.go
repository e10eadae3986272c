package main

import (
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"golang.org/x/time/rate"

	"github.com/therealutkarshpriyadarshi/nnindex/pkg/bktree"
	"github.com/therealutkarshpriyadarshi/nnindex/pkg/config"
	"github.com/therealutkarshpriyadarshi/nnindex/pkg/observability"
	"github.com/therealutkarshpriyadarshi/nnindex/pkg/vptree"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		showUsage()
		os.Exit(1)
	}

	cfg := config.LoadFromEnv()
	if err := cfg.Validate(); err != nil {
		fmt.Printf("Error: invalid configuration: %v\n", err)
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "vptree-knn":
		handleVPTreeKNN(os.Args[2:], cfg)
	case "vptree-1nn":
		handleVPTree1NN(os.Args[2:], cfg)
	case "vptree-serialize":
		handleVPTreeSerialize(os.Args[2:], cfg)
	case "bktree-find":
		handleBKTreeFind(os.Args[2:], cfg)
	case "version":
		fmt.Printf("nnindex-cli version %s\n", version)
	case "help", "-h", "--help":
		showUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		showUsage()
		os.Exit(1)
	}
}

// newQueryLogger builds a query logger at cfg's configured level, writing to
// stderr so it never interleaves with a command's result output on stdout.
func newQueryLogger(cfg *config.Config) *observability.QueryLogger {
	return observability.NewQueryLogger(observability.NewLogger(observability.ParseLogLevel(cfg.Telemetry.LogLevel), os.Stderr))
}

// newRateLimiter builds the batch-dispatch limiter configured by
// NNINDEX_BATCH_RATE_LIMIT, or nil when rate limiting is disabled.
func newRateLimiter(cfg *config.Config) *rate.Limiter {
	if cfg.Batch.RateLimit <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(cfg.Batch.RateLimit), cfg.Batch.RateBurst)
}

func handleVPTreeKNN(args []string, cfg *config.Config) {
	fs := flag.NewFlagSet("vptree-knn", flag.ExitOnError)
	var (
		examplesPath = fs.String("examples", "", "path to a JSON file holding an array of vectors (required)")
		queryStr     = fs.String("query", "", "query vector as a JSON array (required)")
		k            = fs.Int("k", cfg.VPTree.DefaultK, "number of neighbors to return")
		metric       = fs.String("metric", "l2", "distance metric: l2, l1, chebyshev")
		seed         = fs.Int64("seed", cfg.VPTree.DefaultSeed, "vantage-point selection seed")
		verbose      = fs.Bool("verbose", false, "log build/search milestones and enable metrics")
	)
	fs.Parse(args)

	if *examplesPath == "" || *queryStr == "" {
		fmt.Println("Error: -examples and -query are required")
		fs.Usage()
		os.Exit(1)
	}

	examples, err := loadFloat32Vectors(*examplesPath)
	if err != nil {
		fmt.Printf("Error loading examples: %v\n", err)
		os.Exit(1)
	}

	var query []float32
	if err := json.Unmarshal([]byte(*queryStr), &query); err != nil {
		fmt.Printf("Error parsing query: %v\n", err)
		os.Exit(1)
	}

	tree, err := newFloat32Tree(*metric)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	tree = tree.WithWorkers(cfg.Batch.Workers).WithRateLimit(newRateLimiter(cfg))
	if *verbose {
		tree = tree.WithLogger(newQueryLogger(cfg))
		if cfg.Telemetry.MetricsEnabled {
			tree = tree.WithMetrics(observability.NewMetrics())
		}
	}

	if err := tree.Set(examples, *seed); err != nil {
		fmt.Printf("Error building tree: %v\n", err)
		os.Exit(1)
	}

	results, err := tree.SearchKNN([][]float32{query}, *k)
	if err != nil {
		fmt.Printf("Error searching: %v\n", err)
		os.Exit(1)
	}

	result := results[0]
	fmt.Printf("Found %d neighbors for %s:\n", len(result.Indices), formatVector(query))
	for i, idx := range result.Indices {
		fmt.Printf("  %d. index=%d distance=%.6f\n", i+1, idx, result.Distances[i])
	}
}

func handleVPTree1NN(args []string, cfg *config.Config) {
	fs := flag.NewFlagSet("vptree-1nn", flag.ExitOnError)
	var (
		examplesPath = fs.String("examples", "", "path to a JSON file holding an array of vectors (required)")
		queryStr     = fs.String("query", "", "query vector as a JSON array (required)")
		metric       = fs.String("metric", "l2", "distance metric: l2, l1, chebyshev")
		seed         = fs.Int64("seed", cfg.VPTree.DefaultSeed, "vantage-point selection seed")
		verbose      = fs.Bool("verbose", false, "log build/search milestones and enable metrics")
	)
	fs.Parse(args)

	if *examplesPath == "" || *queryStr == "" {
		fmt.Println("Error: -examples and -query are required")
		fs.Usage()
		os.Exit(1)
	}

	examples, err := loadFloat32Vectors(*examplesPath)
	if err != nil {
		fmt.Printf("Error loading examples: %v\n", err)
		os.Exit(1)
	}

	var query []float32
	if err := json.Unmarshal([]byte(*queryStr), &query); err != nil {
		fmt.Printf("Error parsing query: %v\n", err)
		os.Exit(1)
	}

	tree, err := newFloat32Tree(*metric)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	tree = tree.WithWorkers(cfg.Batch.Workers).WithRateLimit(newRateLimiter(cfg))
	if *verbose {
		tree = tree.WithLogger(newQueryLogger(cfg))
		if cfg.Telemetry.MetricsEnabled {
			tree = tree.WithMetrics(observability.NewMetrics())
		}
	}

	if err := tree.Set(examples, *seed); err != nil {
		fmt.Printf("Error building tree: %v\n", err)
		os.Exit(1)
	}

	indices, distances, err := tree.Search1NN([][]float32{query})
	if err != nil {
		fmt.Printf("Error searching: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Nearest neighbor of %s: index=%d distance=%.6f\n", formatVector(query), indices[0], distances[0])
}

func handleVPTreeSerialize(args []string, cfg *config.Config) {
	fs := flag.NewFlagSet("vptree-serialize", flag.ExitOnError)
	var (
		examplesPath = fs.String("examples", "", "path to a JSON file holding an array of vectors (required)")
		metric       = fs.String("metric", "l2", "distance metric: l2, l1, chebyshev")
		seed         = fs.Int64("seed", cfg.VPTree.DefaultSeed, "vantage-point selection seed")
		outPath      = fs.String("out", "", "path to write the serialized blob (required)")
		verbose      = fs.Bool("verbose", false, "log build/serialize milestones and enable metrics")
	)
	fs.Parse(args)

	if *examplesPath == "" || *outPath == "" {
		fmt.Println("Error: -examples and -out are required")
		fs.Usage()
		os.Exit(1)
	}

	examples, err := loadFloat32Vectors(*examplesPath)
	if err != nil {
		fmt.Printf("Error loading examples: %v\n", err)
		os.Exit(1)
	}

	tree, err := newFloat32Tree(*metric)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	tree = tree.WithWorkers(cfg.Batch.Workers).WithRateLimit(newRateLimiter(cfg))
	if *verbose {
		tree = tree.WithLogger(newQueryLogger(cfg))
		if cfg.Telemetry.MetricsEnabled {
			tree = tree.WithMetrics(observability.NewMetrics())
		}
	}

	if err := tree.Set(examples, *seed); err != nil {
		fmt.Printf("Error building tree: %v\n", err)
		os.Exit(1)
	}

	blob, checksum, err := tree.Serialize()
	if err != nil {
		fmt.Printf("Error serializing: %v\n", err)
		os.Exit(1)
	}

	if err := os.WriteFile(*outPath, blob, 0o644); err != nil {
		fmt.Printf("Error writing blob: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Wrote %d bytes to %s (checksum=%08x)\n", len(blob), *outPath, checksum)
}

func handleBKTreeFind(args []string, cfg *config.Config) {
	fs := flag.NewFlagSet("bktree-find", flag.ExitOnError)
	var (
		keysPath  = fs.String("keys", "", "path to a JSON file holding an array of hex-encoded keys (required)")
		queryHex  = fs.String("query", "", "query key, hex-encoded (required)")
		threshold = fs.Int64("threshold", cfg.BKTree.DefaultThreshold, "maximum Hamming distance to report")
		indexed   = fs.Bool("indexed", cfg.BKTree.Indexed, "allow duplicate keys to extend the tree")
		verbose   = fs.Bool("verbose", false, "log insert/search milestones and enable metrics")
	)
	fs.Parse(args)

	if *keysPath == "" || *queryHex == "" {
		fmt.Println("Error: -keys and -query are required")
		fs.Usage()
		os.Exit(1)
	}

	keys, err := loadHexKeys(*keysPath)
	if err != nil {
		fmt.Printf("Error loading keys: %v\n", err)
		os.Exit(1)
	}

	query, err := hex.DecodeString(*queryHex)
	if err != nil {
		fmt.Printf("Error parsing query: %v\n", err)
		os.Exit(1)
	}

	var tree *bktree.Tree[[]byte]
	if *indexed {
		tree = bktree.NewIndexed[[]byte](bktree.HammingMetric{})
	} else {
		tree = bktree.New[[]byte](bktree.HammingMetric{})
	}
	tree = tree.WithWorkers(cfg.Batch.Workers).WithRateLimit(newRateLimiter(cfg))
	if *verbose {
		tree = tree.WithLogger(newQueryLogger(cfg))
		if cfg.Telemetry.MetricsEnabled {
			tree = tree.WithMetrics(observability.NewMetrics())
		}
	}
	tree.Update(keys)

	hits, err := tree.Find(query, *threshold)
	if err != nil {
		fmt.Printf("Error searching: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Found %d keys within distance %d:\n", len(hits), *threshold)
	for _, h := range hits {
		fmt.Printf("  index=%d distance=%d key=%s\n", h.Index, h.Distance, hex.EncodeToString(h.Key))
	}
}

func newFloat32Tree(metric string) (*vptree.Tree[float32, float32], error) {
	switch strings.ToLower(metric) {
	case "l2":
		return vptree.NewL2(), nil
	case "l1":
		return vptree.NewL1(), nil
	case "chebyshev":
		return vptree.NewChebyshev(), nil
	default:
		return nil, fmt.Errorf("unknown metric %q (want l2, l1, or chebyshev)", metric)
	}
}

func loadFloat32Vectors(path string) ([][]float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw [][]float32
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func loadHexKeys(path string) ([][]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw []string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	keys := make([][]byte, len(raw))
	for i, s := range raw {
		k, err := hex.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("key %d: %w", i, err)
		}
		keys[i] = k
	}
	return keys, nil
}

func formatVector(vector []float32) string {
	if len(vector) == 0 {
		return "[]"
	}

	if len(vector) > 10 {
		first := make([]string, 5)
		last := make([]string, 5)
		for i := 0; i < 5; i++ {
			first[i] = fmt.Sprintf("%.4f", vector[i])
			last[i] = fmt.Sprintf("%.4f", vector[len(vector)-5+i])
		}
		return fmt.Sprintf("[%s ... %s] (dim=%d)",
			strings.Join(first, ", "),
			strings.Join(last, ", "),
			len(vector))
	}

	elements := make([]string, len(vector))
	for i, v := range vector {
		elements[i] = fmt.Sprintf("%.4f", v)
	}
	return fmt.Sprintf("[%s]", strings.Join(elements, ", "))
}

func showUsage() {
	fmt.Println(`nnindex CLI - build and query in-memory VPTree/BKTree indexes

Usage:
  nnindex-cli <command> [options]

Commands:
  vptree-knn        Build a VPTree and run a k-nearest-neighbor query
  vptree-1nn        Build a VPTree and run a nearest-neighbor query
  vptree-serialize  Build a VPTree and write its serialized blob to a file
  bktree-find       Build a BKTree and run a threshold query
  version           Show version
  help              Show this help message

Examples:

  # k-nearest-neighbor search over an L2 VPTree
  nnindex-cli vptree-knn \
    -examples points.json \
    -query '[0.1, 0.2, 0.3]' \
    -k 5

  # nearest-neighbor search
  nnindex-cli vptree-1nn -examples points.json -query '[0.1, 0.2, 0.3]'

  # serialize a built tree to disk
  nnindex-cli vptree-serialize -examples points.json -out tree.bin

  # threshold search over a BKTree of hex-encoded byte keys
  nnindex-cli bktree-find -keys keys.json -query 0a1b2c... -threshold 20

  # any command accepts -verbose to log milestones and register metrics;
  # defaults for -seed/-k/-threshold/-indexed come from NNINDEX_* env vars
  nnindex-cli vptree-knn -examples points.json -query '[0.1, 0.2, 0.3]' -verbose`)
}
