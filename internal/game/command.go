package game

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/blukai/growbles/internal/protocol"
	"github.com/phuslu/log"
)

type CommandKind int

const (
	CommandInput CommandKind = iota
	CommandOutage
	CommandIgnoreDumps
)

// Command is one line typed into the console.
//
//	+up -jump        press up, release jump
//	outage on|off    simulate a network outage
//	dumps ignore|follow
type Command struct {
	Kind   CommandKind
	Inputs uint32 // CommandInput only
	On     bool   // toggles only
}

var inputNames = map[string]uint{
	"grow":   protocol.InputGrow,
	"shrink": protocol.InputShrink,
	"dash":   protocol.InputDash,
	"jump":   protocol.InputJump,
	"brake":  protocol.InputBrake,
	"up":     protocol.InputUp,
	"down":   protocol.InputDown,
	"left":   protocol.InputLeft,
	"right":  protocol.InputRight,
}

func parseToggle(word, on, off string) (bool, error) {
	switch word {
	case on:
		return true, nil
	case off:
		return false, nil
	default:
		return false, fmt.Errorf("want %s or %s; got %q", on, off, word)
	}
}

func ParseCommand(line string) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, fmt.Errorf("empty command")
	}

	switch fields[0] {
	case "outage":
		if len(fields) != 2 {
			return Command{}, fmt.Errorf("usage: outage on|off")
		}
		on, err := parseToggle(fields[1], "on", "off")
		return Command{Kind: CommandOutage, On: on}, err

	case "dumps":
		if len(fields) != 2 {
			return Command{}, fmt.Errorf("usage: dumps ignore|follow")
		}
		on, err := parseToggle(fields[1], "ignore", "follow")
		return Command{Kind: CommandIgnoreDumps, On: on}, err
	}

	cmd := Command{Kind: CommandInput}
	for _, field := range fields {
		if len(field) < 2 || (field[0] != '+' && field[0] != '-') {
			return Command{}, fmt.Errorf("bad input %q; want +name or -name", field)
		}

		index, ok := inputNames[field[1:]]
		if !ok {
			return Command{}, fmt.Errorf("unknown input %q", field[1:])
		}
		cmd.Inputs |= protocol.InputMask(index, field[0] == '+')
	}
	return cmd, nil
}

// ReadCommands parses r line by line until it is exhausted or ctx is done.
// lines that do not parse are logged and skipped.
func ReadCommands(ctx context.Context, r io.Reader, logger *log.Logger) <-chan Command {
	if logger == nil {
		tmp := log.DefaultLogger
		logger = &tmp
		logger.Writer = &log.IOWriter{Writer: io.Discard}
	}

	commands := make(chan Command)

	go func() {
		defer close(commands)

		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}

			cmd, err := ParseCommand(line)
			if err != nil {
				logger.Warn().Err(err).Str("line", line).Msg("could not parse command")
				continue
			}
			select {
			case commands <- cmd:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			logger.Error().Err(err).Msg("could not read commands")
		}
	}()

	return commands
}
