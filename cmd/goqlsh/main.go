// Command goqlsh is a thin driver: parse flags, open an engine, run the
// given statements, print the row/status stream as JSON. It deliberately
// has no banner, no REPL line editing, and no pretty result rendering.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/jessevdk/go-flags"
	"go.uber.org/zap"

	"github.com/goquel/goquel"
	"github.com/goquel/goquel/config"
)

type options struct {
	DataDir     string `long:"data-dir" description:"Directory holding table files" value-name:"dir"`
	BufferPages int    `long:"buffer-pages" description:"Buffer pool capacity in pages" value-name:"n"`
	Policy      string `long:"policy" description:"Buffer pool replacement policy (lru, fifo)" value-name:"policy"`
	Config      string `long:"config" description:"TOML file with data_dir/buffer_pages/policy" value-name:"file"`
	File        string `long:"file" description:"Read statements from the file, rather than stdin" value-name:"sql_file" default:"-"`
	Verbose     bool   `long:"verbose" description:"Enable debug logging"`
	Help        bool   `long:"help" description:"Show this help"`
}

func parseOptions(args []string) (*options, *flags.Parser) {
	var opts options
	parser := flags.NewParser(&opts, flags.None)
	parser.Usage = "[options]"
	if _, err := parser.ParseArgs(args); err != nil {
		log.Fatal(err)
	}
	if opts.Help {
		parser.WriteHelp(os.Stdout)
		os.Exit(0)
	}
	return &opts, parser
}

func readSource(path string) (string, error) {
	if path == "" || path == "-" {
		b, err := io.ReadAll(os.Stdin)
		return string(b), err
	}
	b, err := os.ReadFile(path)
	return string(b), err
}

func main() {
	opts, _ := parseOptions(os.Args[1:])

	cfg, err := config.Load(opts.Config)
	if err != nil {
		log.Fatal(err)
	}
	cfg = cfg.Override(opts.DataDir, opts.BufferPages, opts.Policy)

	var logger *zap.Logger
	if opts.Verbose {
		logger, err = zap.NewDevelopment()
	} else {
		logger = zap.NewNop()
	}
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	db, err := goquel.Open(cfg, logger.Sugar())
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	src, err := readSource(opts.File)
	if err != nil {
		log.Fatal(err)
	}

	enc := json.NewEncoder(os.Stdout)
	results, runErr := db.ExecScript(src)
	for _, rows := range results {
		for _, row := range rows {
			if err := enc.Encode(row); err != nil {
				log.Fatal(err)
			}
		}
	}
	if runErr != nil {
		fmt.Fprintln(os.Stderr, runErr)
		os.Exit(1)
	}
}
