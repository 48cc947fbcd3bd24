package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	prompt "github.com/c-bata/go-prompt"
	"github.com/juju/errors"
	"github.com/nibewire/nibewire/engine"
	"github.com/nibewire/nibewire/helpers/cli"
	"github.com/nibewire/nibewire/log2"
	"github.com/nibewire/nibewire/nibe"
)

const usage = `syntax: commands separated by whitespace
(main)
- rN       read register N
- wN=V     write value V to register N
- last     show time since last pump message
- sN       pause N milliseconds

(meta)
- log=yes  enable debug logging
- log=no   disable debug logging
- loop=N   repeat N times all commands on this line
`

const readTimeout = 5 * time.Second

var log = log2.NewStderr(log2.LDebug)

func main() {
	cmdline := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	host := cmdline.String("host", "", "pump gateway address")
	listenPort := cmdline.Int("listen-port", nibe.DefaultPortListen, "")
	readPort := cmdline.Int("read-port", nibe.DefaultPortRead, "")
	writePort := cmdline.Int("write-port", nibe.DefaultPortWrite, "")
	adoptPeer := cmdline.Bool("adopt-peer", false, "adopt first sender as peer of record")
	cmdline.Parse(os.Args[1:])

	log.SetFlags(log2.LInteractiveFlags)

	conf := nibe.Config{
		Host:       *host,
		PortListen: *listenPort,
		PortRead:   *readPort,
		PortWrite:  *writePort,
		AdoptPeer:  *adoptPeer,
	}
	conn, err := nibe.Dial(log, conf)
	if err != nil {
		log.Fatalf("nibe dial: %s", errors.ErrorStack(err))
	}
	defer conn.Close()
	ctl := nibe.NewController(log, conn)
	defer ctl.Close()

	cli.MainLoop("nibe-cli", newExecutor(ctl, conn), newCompleter())
}

var doUsage = engine.Func{Name: "help", F: func(ctx context.Context) error {
	log.Infof(usage)
	return nil
}}
var doLogYes = engine.Func0{Name: "log=yes", F: func() error {
	log.SetLevel(log2.LDebug)
	return nil
}}
var doLogNo = engine.Func0{Name: "log=no", F: func() error {
	log.SetLevel(log2.LError)
	return nil
}}

func newCompleter() func(d prompt.Document) []prompt.Suggest {
	suggests := []prompt.Suggest{
		prompt.Suggest{Text: "rN", Description: "read register N"},
		prompt.Suggest{Text: "wN=V", Description: "write value V to register N"},
		prompt.Suggest{Text: "last", Description: "time since last pump message"},
		prompt.Suggest{Text: "sN", Description: "pause for N ms"},
		prompt.Suggest{Text: "loop=N", Description: "repeat line N times"},
		prompt.Suggest{Text: "log=yes", Description: "enable debug logging"},
		prompt.Suggest{Text: "log=no", Description: "disable debug logging"},
	}

	return func(d prompt.Document) []prompt.Suggest {
		return prompt.FilterFuzzy(suggests, d.GetWordBeforeCursor(), true)
	}
}

func newExecutor(ctl *nibe.Controller, conn *nibe.Connection) func(string) {
	return func(line string) {
		d, err := parseLine(ctl, conn, line)
		if err != nil {
			log.Errorf(errors.ErrorStack(err))
			return
		}
		if err = d.Do(context.Background()); err != nil {
			log.Errorf(errors.ErrorStack(err))
		}
	}
}

func newRead(ctl *nibe.Controller, register uint16) engine.Doer {
	return engine.Func{Name: fmt.Sprintf("read:%d", register), F: func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, readTimeout)
		defer cancel()
		value, err := ctl.Read(ctx, register)
		if err != nil {
			return err
		}
		log.Infof("< register=%d value=%d", register, value)
		return nil
	}}
}

func newWrite(ctl *nibe.Controller, register uint16, value uint32) engine.Doer {
	name := fmt.Sprintf("write:%d=%d", register, value)
	return engine.Func{Name: name, F: func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, readTimeout)
		defer cancel()
		if err := ctl.Write(ctx, register, value); err != nil {
			return err
		}
		log.Infof("< write register=%d ok", register)
		return nil
	}}
}

func newLast(conn *nibe.Connection) engine.Doer {
	return engine.Func{Name: "last", F: func(ctx context.Context) error {
		log.Infof("last pump message %v ago", conn.SinceLastMessage())
		return nil
	}}
}

func parseLine(ctl *nibe.Controller, conn *nibe.Connection, line string) (engine.Doer, error) {
	words := strings.Split(line, " ")
	empty := true
	for i, w := range words {
		wt := strings.TrimSpace(w)
		if wt != "" {
			empty = false
			words[i] = wt
		}
	}
	if empty {
		return engine.Nothing{}, nil
	}

	// pre-parse special commands
	loopn := uint(0)
	wordsRest := make([]string, 0, len(words))
	for _, word := range words {
		switch {
		case word == "":
		case word == "help":
			return doUsage, nil
		case strings.HasPrefix(word, "loop="):
			if loopn != 0 {
				return nil, errors.Errorf("multiple loop commands, expected at most one")
			}
			i, err := strconv.ParseUint(word[5:], 10, 32)
			if err != nil {
				return nil, errors.Annotatef(err, "word=%s", word)
			}
			loopn = uint(i)
		default:
			wordsRest = append(wordsRest, word)
		}
	}

	tx := engine.NewSeq("input:" + line)
	for _, word := range wordsRest {
		d, err := parseCommand(ctl, conn, word)
		if d == nil && err == nil {
			log.Fatalf("code error parseCommand word='%s' both doer and err are nil", word)
		}
		if err != nil {
			return nil, err
		}
		tx.Append(d)
	}

	if loopn != 0 {
		return engine.RepeatN{N: loopn, D: tx, Log: log}, nil
	}
	return tx, nil
}

func parseCommand(ctl *nibe.Controller, conn *nibe.Connection, word string) (engine.Doer, error) {
	switch {
	case word == "log=yes":
		return doLogYes, nil
	case word == "log=no":
		return doLogNo, nil
	case word == "last":
		return newLast(conn), nil
	case word[0] == 's':
		i, err := strconv.ParseUint(word[1:], 10, 32)
		if err != nil {
			return nil, errors.Annotatef(err, "word=%s", word)
		}
		return engine.Sleep{Duration: time.Duration(i) * time.Millisecond}, nil
	case word[0] == 'r':
		register, err := strconv.ParseUint(word[1:], 10, 16)
		if err != nil {
			return nil, errors.Annotatef(err, "word=%s", word)
		}
		return newRead(ctl, uint16(register)), nil
	case word[0] == 'w':
		parts := strings.SplitN(word[1:], "=", 2)
		if len(parts) != 2 {
			return nil, errors.Errorf("error: invalid write syntax, expected wN=V: '%s'", word)
		}
		register, err := strconv.ParseUint(parts[0], 10, 16)
		if err != nil {
			return nil, errors.Annotatef(err, "word=%s", word)
		}
		value, err := strconv.ParseUint(parts[1], 10, 32)
		if err != nil {
			return nil, errors.Annotatef(err, "word=%s", word)
		}
		return newWrite(ctl, uint16(register), uint32(value)), nil
	default:
		return nil, errors.Errorf("error: invalid command: '%s'", word)
	}
}
