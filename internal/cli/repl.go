package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"

	"github.com/calvinalkan/hashindex/internal/hashindex"
)

// cmdRepl drives an interactive readline session over the same get/put/
// delete/size/resize/stats commands the non-interactive CLI exposes,
// mirroring the teacher's sloty REPL shape (a liner.State, a history file
// under the user's home directory, a Fields-split command loop).
func cmdRepl(table *hashindex.Table[int64, int64], out, errOut io.Writer) int {
	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)

	histPath := historyFile()
	if f, err := os.Open(histPath); err == nil {
		_, _ = line.ReadHistory(f)
		_ = f.Close()
	}

	fmt.Fprintln(out, "hashindex repl - type 'help' for commands, 'exit' to quit")

	for {
		input, err := line.Prompt("hashindex> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				break
			}

			fmt.Fprintln(errOut, "error:", err)

			return 1
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		line.AppendHistory(input)

		fields := strings.Fields(input)
		cmd, args := fields[0], fields[1:]

		switch cmd {
		case "exit", "quit":
			saveHistory(line, histPath)
			return 0
		case "help":
			printUsage(out)
		default:
			dispatch(table, out, errOut, append([]string{cmd}, args...))
		}
	}

	saveHistory(line, histPath)

	return 0
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".hashindex_history")
}

func saveHistory(line *liner.State, path string) {
	if path == "" {
		return
	}

	f, err := os.Create(path)
	if err != nil {
		return
	}
	defer f.Close()

	_, _ = line.WriteHistory(f)
}
