package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/ergochat/readline"

	"github.com/drpcorg/mural/client"
	"github.com/drpcorg/mural/txn"
	"github.com/drpcorg/mural/utils"
)

// REPL drives one headless session.
type REPL struct {
	log     utils.Logger
	rl      *readline.Instance
	session *client.Session
	conn    *client.Conn
	cancel  context.CancelFunc
	ops     []txn.OpID
}

var completer = readline.NewPrefixCompleter(
	readline.PcItem("help"),

	readline.PcItem("connect"),
	readline.PcItem("bye"),

	readline.PcItem("pencil"),
	readline.PcItem("erase"),
	readline.PcItem("line"),
	readline.PcItem("fill"),
	readline.PcItem("resize"),
	readline.PcItem("undo"),
	readline.PcItem("redo"),

	readline.PcItem("name"),
	readline.PcItem("color"),
	readline.PcItem("who"),

	readline.PcItem("status"),
	readline.PcItem("digest"),
	readline.PcItem("png"),

	readline.PcItem("exit"),
	readline.PcItem("quit"),
)

func filterInput(r rune) (rune, bool) {
	switch r {
	// block CtrlZ feature
	case readline.CharCtrlZ:
		return r, false
	}
	return r, true
}

func (repl *REPL) Open() (err error) {
	repl.rl, err = readline.NewEx(&readline.Config{
		Prompt:          "◌ ",
		HistoryFile:     ".muralctl_history",
		AutoComplete:    completer,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",

		HistorySearchFold:   true,
		FuncFilterInputRune: filterInput,
	})
	if err != nil {
		return
	}
	repl.rl.CaptureExitSignal()
	return
}

func (repl *REPL) Close() error {
	_ = repl.CommandBye(nil)
	if repl.rl != nil {
		_ = repl.rl.Close()
		repl.rl = nil
	}
	return nil
}

// REPL reads and runs one command.
func (repl *REPL) REPL() (err error) {
	var line string
	line, err = repl.rl.Readline()
	if err == readline.ErrInterrupt && len(line) != 0 {
		return nil
	}
	if err != nil {
		return err
	}
	args := strings.Fields(line)
	if len(args) == 0 {
		return nil
	}
	cmd, args := args[0], args[1:]
	switch cmd {
	case "help":
		repl.CommandHelp()
	// ----- connection -----
	case "connect":
		err = repl.CommandConnect(args)
	case "bye":
		err = repl.CommandBye(args)
	// ----- drawing -----
	case "pencil":
		err = repl.CommandPencil(args, false)
	case "erase":
		err = repl.CommandPencil(args, true)
	case "line":
		err = repl.CommandLine(args)
	case "fill":
		err = repl.CommandFill(args)
	case "resize":
		err = repl.CommandResize(args)
	case "undo":
		err = repl.CommandUndo(args, false)
	case "redo":
		err = repl.CommandUndo(args, true)
	// ----- presence -----
	case "name":
		err = repl.CommandName(args)
	case "color":
		err = repl.CommandColor(args)
	case "who":
		err = repl.CommandWho(args)
	// ----- inspection -----
	case "status":
		err = repl.CommandStatus(args)
	case "digest":
		err = repl.CommandDigest(args)
	case "png":
		err = repl.CommandPNG(args)
	case "exit", "quit":
		err = io.EOF
	default:
		_, _ = fmt.Fprintf(os.Stderr, "command unknown: %s\n", cmd)
	}
	return
}

func main() {
	level := slog.LevelWarn
	if v, ok := os.LookupEnv("MURAL_LOG_LEVEL"); ok {
		var err error
		if level, err = utils.ParseLevel(v); err != nil {
			_, _ = fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(-1)
		}
	}
	if len(os.Args) > 2 && os.Args[2] == "-v" {
		level = slog.LevelDebug
	}
	repl := REPL{log: utils.NewDefaultLogger(level)}
	if err := repl.Open(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(-1)
	}
	defer repl.Close()

	if len(os.Args) > 1 {
		if err := repl.CommandConnect(os.Args[1:2]); err != nil {
			_, _ = fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(-2)
		}
	}

	for {
		err := repl.REPL()
		if errors.Is(err, io.EOF) || errors.Is(err, readline.ErrInterrupt) {
			break
		}
		if err != nil {
			_, _ = fmt.Fprintln(os.Stderr, err.Error())
		}
	}
}
