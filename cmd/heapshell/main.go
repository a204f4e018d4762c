package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/chzyer/readline"

	"github.com/tuannm99/heapscan/internal/config"
	"github.com/tuannm99/heapscan/internal/engine"
)

const prompt = "heapscan> "

func main() {
	var (
		cfgPath  = flag.String("config", "", "path to a YAML config file")
		histPath = flag.String("history", defaultHistoryPath(), "history file path")
		histMax  = flag.Int("history-max", 2000, "max history lines loaded into memory")
		oneShot  = flag.String("c", "", "run one command and exit")
	)
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	db, err := engine.Open(cfg, config.NewLogger(cfg.Log))
	if err != nil {
		fmt.Fprintf(os.Stderr, "open: %v\n", err)
		os.Exit(1)
	}

	os.Exit(run(db, cfg, *histPath, *histMax, *oneShot))
}

func run(db *engine.Database, cfg *config.Config, histPath string, histMax int, oneShot string) int {
	defer func() {
		if err := db.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "close: %v\n", err)
		}
	}()

	h := NewHistory(histPath)
	sh := NewShell(db, h, os.Stdout)
	defer sh.Shutdown()

	// one-shot mode
	if strings.TrimSpace(oneShot) != "" {
		if err := sh.Exec(oneShot); err != nil && !errors.Is(err, errQuit) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		return 0
	}

	_ = h.Load(histMax)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "readline: %v\n", err)
		return 1
	}
	defer func() { _ = rl.Close() }()

	// preload history into readline so the arrow keys work immediately
	for _, line := range h.Lines() {
		_ = rl.SaveHistory(line)
	}

	fmt.Printf("%s (%s storage, %d frames)\n", cfg.AppName, cfg.Storage.Mode, cfg.BufferPool.Capacity)
	fmt.Println("type \\help for help")

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			fmt.Println("^C")
			continue
		}
		if err != nil {
			// EOF
			fmt.Println()
			return 0
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, `\`) {
			_ = h.Append(line)
		}

		err = sh.Exec(line)
		if errors.Is(err, errQuit) {
			return 0
		}
		if err != nil {
			fmt.Printf("error: %v\n", err)
		}
	}
}
