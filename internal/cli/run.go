// Package cli wires the hash index's collaborators (disk manager, buffer
// pool, table) together behind a small set of subcommands, the way the
// teacher's internal/cli wires its ticket store behind tk's subcommands.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/hashindex/internal/buffer"
	"github.com/calvinalkan/hashindex/internal/config"
	"github.com/calvinalkan/hashindex/internal/disk"
	"github.com/calvinalkan/hashindex/internal/fs"
	"github.com/calvinalkan/hashindex/internal/hashindex"
	"github.com/calvinalkan/hashindex/internal/logging"
	"github.com/calvinalkan/hashindex/internal/page"
)

// tableHeaderPageID is the page id the index's header page always lands on:
// page 0 is reserved for the disk manager's own file header, so the first
// page NewTable ever allocates (on a freshly created file) is page 1.
const tableHeaderPageID = page.ID(1)

// Run is the process entry point logic, split out from main so tests can
// drive it without exec'ing a binary.
func Run(_ io.Reader, out, errOut io.Writer, args []string, env map[string]string, sigCh <-chan os.Signal) int {
	globalFlags := flag.NewFlagSet("hashindex", flag.ContinueOnError)
	globalFlags.SetInterspersed(false)
	globalFlags.Usage = func() {}
	globalFlags.SetOutput(io.Discard)

	flagHelp := globalFlags.BoolP("help", "h", false, "Show help")
	flagConfig := globalFlags.StringP("config", "c", "", "Use specified config `file`")
	flagDBPath := globalFlags.String("db-path", "", "Database file `path`")
	flagPoolSize := globalFlags.Int("pool-size", 0, "Buffer pool size in pages")
	flagInitialBuckets := globalFlags.Uint64("initial-buckets", 0, "Starting bucket count for a new database")
	flagLogLevel := globalFlags.String("log-level", "", "One of debug, info, warn, error")

	if err := globalFlags.Parse(args[1:]); err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}

	changed := make(map[string]bool, 4)
	globalFlags.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "db-path":
			changed["db_path"] = true
		case "pool-size":
			changed["pool_size"] = true
		case "initial-buckets":
			changed["initial_buckets"] = true
		case "log-level":
			changed["log_level"] = true
		}
	})

	commandAndArgs := globalFlags.Args()

	if *flagHelp || len(commandAndArgs) == 0 {
		printUsage(out)
		if *flagHelp {
			return 0
		}

		return 1
	}

	cfg, err := config.Load(*flagConfig, config.Config{
		DBPath:         *flagDBPath,
		PoolSize:       *flagPoolSize,
		InitialBuckets: *flagInitialBuckets,
		LogLevel:       *flagLogLevel,
	}, changed)
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}

	setLogLevel(cfg.LogLevel)

	table, _, mgr, err := open(cfg)
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}
	defer func() { _ = mgr.Shutdown() }()

	return dispatch(table, out, errOut, commandAndArgs)
}

func open(cfg config.Config) (*hashindex.Table[int64, int64], *buffer.Pool, *disk.Manager, error) {
	mgr, err := disk.Open(fs.NewReal(), cfg.DBPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("opening database file: %w", err)
	}

	pool := buffer.NewPool(mgr, cfg.PoolSize)

	keyCodec := hashindex.Int64Codec{}
	valCodec := hashindex.Int64Codec{}

	// A freshly created file has no header page yet: page 1 (the first
	// page NewPage ever hands out) has never been written, so its bytes
	// read back as all zero. We distinguish "new" vs "existing" by reading
	// that page's bucket-count field through a throwaway header view.
	probe, err := pool.FetchPage(tableHeaderPageID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("probing header page: %w", err)
	}

	probe.RLock()
	hdr := hashindex.NewHeaderView(probe)
	existingSize := hdr.GetSize()
	probe.RUnlock()

	if err := pool.UnpinPage(tableHeaderPageID, false); err != nil {
		return nil, nil, nil, err
	}

	var table *hashindex.Table[int64, int64]

	if existingSize == 0 {
		table, err = hashindex.NewTable[int64, int64](pool, hashindex.CompareInt64, hashindex.HashInt64, keyCodec, valCodec, cfg.InitialBuckets)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("creating table: %w", err)
		}
	} else {
		n := hashindex.NewBlockView(probe, keyCodec, valCodec).Capacity()
		table = hashindex.OpenTable[int64, int64](pool, hashindex.CompareInt64, hashindex.HashInt64, keyCodec, valCodec, tableHeaderPageID, n)
	}

	return table, pool, mgr, nil
}

func dispatch(table *hashindex.Table[int64, int64], out, errOut io.Writer, commandAndArgs []string) int {
	cmd := commandAndArgs[0]
	rest := commandAndArgs[1:]

	switch cmd {
	case "get":
		return cmdGet(table, out, errOut, rest)
	case "put":
		return cmdPut(table, out, errOut, rest)
	case "delete":
		return cmdDelete(table, out, errOut, rest)
	case "size":
		return cmdSize(table, out, errOut)
	case "resize":
		return cmdResize(table, out, errOut)
	case "stats":
		return cmdStats(table, out, errOut)
	case "repl":
		return cmdRepl(table, out, errOut)
	default:
		fmt.Fprintln(errOut, "error: unknown command:", cmd)
		printUsage(errOut)

		return 1
	}
}

func cmdGet(table *hashindex.Table[int64, int64], out, errOut io.Writer, args []string) int {
	k, err := parseInt64Arg(args, 0, "key")
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}

	values, found, err := table.GetValue(k)
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}

	if !found {
		fmt.Fprintln(out, "not found")
		return 1
	}

	strs := make([]string, len(values))
	for i, v := range values {
		strs[i] = strconv.FormatInt(v, 10)
	}

	fmt.Fprintln(out, strings.Join(strs, ","))

	return 0
}

func cmdPut(table *hashindex.Table[int64, int64], out, errOut io.Writer, args []string) int {
	k, err := parseInt64Arg(args, 0, "key")
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}

	v, err := parseInt64Arg(args, 1, "value")
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}

	inserted, err := table.Insert(k, v)
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}

	if !inserted {
		fmt.Fprintln(out, "duplicate")
		return 1
	}

	fmt.Fprintln(out, "ok")

	return 0
}

func cmdDelete(table *hashindex.Table[int64, int64], out, errOut io.Writer, args []string) int {
	k, err := parseInt64Arg(args, 0, "key")
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}

	v, err := parseInt64Arg(args, 1, "value")
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}

	removed, err := table.Remove(k, v)
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}

	if !removed {
		fmt.Fprintln(out, "not found")
		return 1
	}

	fmt.Fprintln(out, "ok")

	return 0
}

func cmdSize(table *hashindex.Table[int64, int64], out, errOut io.Writer) int {
	size, err := table.GetSize()
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}

	fmt.Fprintln(out, size)

	return 0
}

func cmdResize(table *hashindex.Table[int64, int64], out, errOut io.Writer) int {
	size, err := table.GetSize()
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}

	if err := table.Resize(size); err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}

	newSize, err := table.GetSize()
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}

	fmt.Fprintln(out, newSize)

	return 0
}

func cmdStats(table *hashindex.Table[int64, int64], out, errOut io.Writer) int {
	size, err := table.GetSize()
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}

	fmt.Fprintf(out, "buckets=%d slots_per_block=%d header_page=%d\n", size, table.SlotsPerBlock(), table.HeaderPageID())

	return 0
}

func parseInt64Arg(args []string, idx int, name string) (int64, error) {
	if idx >= len(args) {
		return 0, fmt.Errorf("missing %s argument", name)
	}

	v, err := strconv.ParseInt(args[idx], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, args[idx], err)
	}

	return v, nil
}

func setLogLevel(level string) {
	var l slog.Level

	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}

	logging.Configure(os.Stderr, l, false)
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "usage: hashindex [global flags] <command> [args]")
	fmt.Fprintln(w, "commands:")
	fmt.Fprintln(w, "  get <key>")
	fmt.Fprintln(w, "  put <key> <value>")
	fmt.Fprintln(w, "  delete <key> <value>")
	fmt.Fprintln(w, "  size")
	fmt.Fprintln(w, "  resize")
	fmt.Fprintln(w, "  stats")
	fmt.Fprintln(w, "  repl")
	fmt.Fprintln(w, "global flags:")
	fmt.Fprintln(w, "  -c, --config file          load JSONC config file")
	fmt.Fprintln(w, "      --db-path path         database file path")
	fmt.Fprintln(w, "      --pool-size n          buffer pool size in pages")
	fmt.Fprintln(w, "      --initial-buckets n    starting bucket count for a new database")
	fmt.Fprintln(w, "      --log-level level      debug, info, warn, or error")
}
