// Command pricer is a one-shot CLI: read a pricing.Request as JSON from
// a file (-f) or stdin, price it, and write the pricing.Response as JSON
// to stdout. It shares internal/config and internal/pricing with
// cmd/server rather than re-implementing anything.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/aristath/derivscript/internal/config"
	"github.com/aristath/derivscript/internal/pricing"
	"github.com/aristath/derivscript/pkg/logger"
)

func main() {
	file := flag.String("f", "", "path to a pricing request JSON file (default: read from stdin)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "pricer: loading configuration:", err)
		os.Exit(1)
	}
	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: false})

	input, err := readInput(*file)
	if err != nil {
		fmt.Fprintln(os.Stderr, "pricer: reading request:", err)
		os.Exit(1)
	}

	var req pricing.Request
	if err := json.Unmarshal(input, &req); err != nil {
		fmt.Fprintln(os.Stderr, "pricer: parsing request JSON:", err)
		os.Exit(1)
	}

	resp, err := pricing.Price(context.Background(), cfg, log, req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "pricer:", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(resp); err != nil {
		fmt.Fprintln(os.Stderr, "pricer: encoding response:", err)
		os.Exit(1)
	}
}

func readInput(path string) ([]byte, error) {
	if path == "" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}
