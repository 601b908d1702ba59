package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/wippyai/lua-bridge/engine"
	"github.com/wippyai/lua-bridge/mailbox"
	"github.com/wippyai/lua-bridge/ref"
	lua "github.com/yuin/gopher-lua"
	"golang.org/x/term"
)

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// eval runs src on the host. An expression is evaluated and its results
// are returned tab-separated; statements return "".
func (s *session) eval(src string) (string, error) {
	var out string
	err := s.host.Do(func(L *lua.LState) error {
		fn, err := L.LoadString("return " + src)
		if err != nil {
			if fn, err = L.LoadString(src); err != nil {
				return err
			}
		}
		top := L.GetTop()
		L.Push(fn)
		if err := engine.PCall(L, 0, lua.MultRet); err != nil {
			return err
		}
		n := L.GetTop() - top
		parts := make([]string, n)
		for i := 0; i < n; i++ {
			parts[i] = L.ToStringMeta(L.Get(top + 1 + i)).String()
		}
		L.SetTop(top)
		out = strings.Join(parts, "\t")
		return nil
	})
	return out, err
}

// stats is a point-in-time view of the bridge.
type stats struct {
	mailbox mailbox.Stats
	refs    ref.Stats
	engine  engine.RefStats
	ticks   uint64
}

func (s *session) stats() stats {
	st := stats{ticks: s.host.Ticks()}
	if c := s.entry.Context(); c != nil {
		st.mailbox = c.Mailbox().Stats()
		st.refs = c.Refs().Stats()
	}
	_ = s.host.Do(func(L *lua.LState) error {
		st.engine = engine.Stats(L)
		return nil
	})
	return st
}

func (st stats) String() string {
	return fmt.Sprintf("ticks %d | mailbox sent %d drained %d pending %d dropped %d | refs live %d deferred %d leaked %d",
		st.ticks,
		st.mailbox.Sent, st.mailbox.Drained, st.mailbox.Pending, st.mailbox.Dropped,
		st.engine.Live, st.refs.Deferred, st.refs.Leaked)
}

// runLines is the console for non-terminal input: one chunk per line.
func runLines(ctx context.Context, s *session, in io.Reader, out io.Writer) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(line)
			switch line {
			case "":
				continue
			case ":stats":
				fmt.Fprintln(out, s.stats())
				continue
			case ":quit":
				return nil
			}
			res, err := s.eval(line)
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
				continue
			}
			if res != "" {
				fmt.Fprintln(out, res)
			}
		}
	}
}
