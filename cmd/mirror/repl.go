package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	mirror "github.com/drpcorg/mirror"
	"github.com/drpcorg/mirror/elements"
	"github.com/drpcorg/mirror/state"
	"github.com/ergochat/readline"
)

// REPL is the interactive shell of a running mirror.
type REPL struct {
	daemon *daemon
	out    io.Writer
	rl     *readline.Instance
}

var ErrBadArgs = errors.New("bad arguments")

var completer = readline.NewPrefixCompleter(
	readline.PcItem("help"),

	readline.PcItem("show"),
	readline.PcItem("digest"),
	readline.PcItem("recent"),
	readline.PcItem("types"),

	readline.PcItem("listen"),
	readline.PcItem("unlisten"),
	readline.PcItem("connect"),
	readline.PcItem("disconnect"),
	readline.PcItem("peers"),

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
		HistoryFile:     ".mirror_cmd_log.txt",
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
	if repl.rl != nil {
		_ = repl.rl.Close()
		repl.rl = nil
	}
	return nil
}

// Loop reads commands until exit or EOF.
func (repl *REPL) Loop() error {
	for {
		line, err := repl.rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if len(line) == 0 {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		err = repl.Execute(line)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			fmt.Fprintf(repl.out, "%s\n", err.Error())
		}
	}
}

// Execute runs one command line; io.EOF means exit.
func (repl *REPL) Execute(line string) error {
	args := strings.Fields(line)
	if len(args) == 0 {
		return nil
	}
	cmd, args := args[0], args[1:]
	switch cmd {
	case "help":
		return repl.CommandHelp()
	case "show", "ls":
		return repl.CommandShow(args)
	case "digest":
		printDigest(repl.out, repl.daemon.mirror)
		return nil
	case "recent":
		return repl.CommandRecent()
	case "types":
		return repl.CommandTypes()
	case "listen":
		return repl.withAddr(args, repl.daemon.net.Listen)
	case "unlisten":
		return repl.withAddr(args, repl.daemon.net.Unlisten)
	case "connect":
		return repl.withAddr(args, repl.daemon.net.Connect)
	case "disconnect":
		return repl.withAddr(args, repl.daemon.net.Disconnect)
	case "peers":
		stats := repl.daemon.net.Stats()
		for _, name := range repl.daemon.net.Peers() {
			st := stats[name]
			fmt.Fprintf(repl.out, "%s\tin %d\tout %d\tavg write %.0fB\n", name, st.Received, st.Sent, st.AvgWrite)
		}
		return nil
	case "exit", "quit":
		return io.EOF
	}
	return fmt.Errorf("command unknown: %s", cmd)
}

func (repl *REPL) CommandHelp() error {
	fmt.Fprint(repl.out, `show [container id]   list containers, or one container's elements
digest                store digest and fingerprint
recent                recently changed elements
types                 registered container types
listen <addr>         accept authorities, e.g. tcp://:8042
unlisten <addr>
connect <addr>        dial an authority
disconnect <name>
peers                 live connections
exit
`)
	return nil
}

func (repl *REPL) withAddr(args []string, action func(string) error) error {
	if len(args) != 1 {
		return ErrBadArgs
	}
	return action(args[0])
}

func (repl *REPL) CommandShow(args []string) error {
	if len(args) == 0 {
		repl.daemon.mirror.View(func(s *mirror.Store) {
			s.Ascend(func(id state.ContainerID, c state.Container, els []state.ElementID) bool {
				fmt.Fprintf(repl.out, "%d\t%s\t%d elements\n", id, containerName(c), len(els))
				return true
			})
		})
		return nil
	}
	id, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		return ErrBadArgs
	}
	cid := state.ContainerID(id)
	found := false
	repl.daemon.mirror.View(func(s *mirror.Store) {
		c, ok := s.Container(cid)
		if !ok {
			return
		}
		found = true
		fmt.Fprintf(repl.out, "%d\t%s\n", cid, containerName(c))
		for _, eid := range s.ElementsOf(cid) {
			e, _ := s.Element(eid)
			fmt.Fprintf(repl.out, "  %d\t%s\n", eid, elements.Format(e))
		}
	})
	if !found {
		return fmt.Errorf("no container %d", cid)
	}
	return nil
}

func (repl *REPL) CommandRecent() error {
	recent := repl.daemon.mirror.Recent()
	if recent == nil {
		return errors.New("recent changes are disabled")
	}
	fmt.Fprintf(repl.out, "%d batches\n", recent.Batches())
	for _, eid := range recent.Elements() {
		if ch, ok := recent.Get(eid); ok {
			fmt.Fprintf(repl.out, "%d\tcontainer %d\tbatch %d\t%s\n", eid, ch.Container, ch.Batch, ch.At.Format("15:04:05.000"))
		}
	}
	return nil
}

func (repl *REPL) CommandTypes() error {
	reg := repl.daemon.mirror.Registry()
	for _, tag := range reg.Tags() {
		fmt.Fprintf(repl.out, "%d\t%s\n", tag, reg.Name(tag))
	}
	return nil
}

func containerName(c state.Container) string {
	if g, ok := c.(*elements.Group); ok {
		return g.Name
	}
	return fmt.Sprintf("%T", c)
}

func printDigest(out io.Writer, m *mirror.Mirror) {
	m.View(func(s *mirror.Store) {
		fmt.Fprintf(out, "%s\nfingerprint %016x\n", s.Digest(), s.Fingerprint())
	})
}
