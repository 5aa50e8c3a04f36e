package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/vibetunnel/vibetunneld/internal/asciicast"
	"github.com/vibetunnel/vibetunneld/internal/vtclient"
)

func main() {
	var addrFlag string

	root := &cobra.Command{
		Use:   "vt",
		Short: "vibetunnel — attach to and manage multiplexed terminal sessions",
	}
	root.PersistentFlags().StringVar(&addrFlag, "addr", defaultAddr(), "vtd daemon address (VT_ADDR)")

	root.AddCommand(
		listCmd(&addrFlag),
		newCmd(&addrFlag),
		killCmd(&addrFlag),
		cleanupCmd(&addrFlag),
		inputCmd(&addrFlag),
		resizeCmd(&addrFlag),
		attachCmd(&addrFlag),
		remoteCmd(&addrFlag),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func defaultAddr() string {
	if v := os.Getenv("VT_ADDR"); v != "" {
		return v
	}
	return "http://127.0.0.1:4020"
}

func clientFor(addr string) *vtclient.Client {
	return vtclient.New(addr)
}

func truncateDisplay(s string, width int) string {
	if runewidth.StringWidth(s) <= width {
		return s
	}
	return runewidth.Truncate(s, width-1, "…")
}

func listCmd(addr *string) *cobra.Command {
	var showAll bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := clientFor(*addr)
			sessions, err := c.ListSessions(context.Background())
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Println("no sessions")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tSTATUS\tCOMMAND\tSTARTED\tSOURCE")
			for _, s := range sessions {
				if !showAll && s.Status != "running" {
					continue
				}
				cmdline := truncateDisplay(strings.Join(s.Cmdline, " "), 40)
				started := s.StartedAt
				if t, err := time.Parse(time.RFC3339, s.StartedAt); err == nil {
					started = humanize.Time(t)
				}
				source := s.Source
				if source == "" {
					source = "local"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", s.ID[:8], s.Name, s.Status, cmdline, started, source)
			}
			w.Flush()
			return nil
		},
	}
	cmd.Flags().BoolVar(&showAll, "all", false, "include exited sessions")
	return cmd
}

func newCmd(addr *string) *cobra.Command {
	var name, cwd, remoteID string
	cmd := &cobra.Command{
		Use:   "new [command...]",
		Short: "Start a new session",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := clientFor(*addr)
			id, err := c.CreateSession(context.Background(), vtclient.CreateSessionRequest{
				Command:    args,
				WorkingDir: cwd,
				Name:       name,
				RemoteID:   remoteID,
			})
			if err != nil {
				return fmt.Errorf("create session: %w", err)
			}
			fmt.Println(id)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "session name")
	cmd.Flags().StringVar(&cwd, "cwd", "", "working directory")
	cmd.Flags().StringVar(&remoteID, "remote", "", "create on a registered remote (HQ only)")
	return cmd
}

func killCmd(addr *string) *cobra.Command {
	var signal string
	cmd := &cobra.Command{
		Use:   "kill [id]",
		Short: "Terminate a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := clientFor(*addr)
			if err := c.KillSession(context.Background(), args[0], signal); err != nil {
				return err
			}
			fmt.Println("killed:", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&signal, "signal", "", "signal to send (default SIGTERM)")
	return cmd
}

func cleanupCmd(addr *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cleanup [id]",
		Short: "Remove one exited session, or all exited sessions if no id given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := clientFor(*addr)
			ctx := context.Background()
			if len(args) == 1 {
				if err := c.CleanupSession(ctx, args[0]); err != nil {
					return err
				}
				fmt.Println("cleaned:", args[0])
				return nil
			}
			if err := c.CleanupExited(ctx); err != nil {
				return err
			}
			fmt.Println("cleaned up exited sessions")
			return nil
		},
	}
	return cmd
}

func inputCmd(addr *string) *cobra.Command {
	var key string
	cmd := &cobra.Command{
		Use:   "input [id] [text]",
		Short: "Send text or a named key to a session",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := clientFor(*addr)
			id := args[0]
			if key != "" {
				return c.SendInputKey(context.Background(), id, key)
			}
			if len(args) != 2 {
				return fmt.Errorf("provide text to send, or --key")
			}
			return c.SendInputText(context.Background(), id, args[1])
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "named key token (e.g. enter, ctrl_c) instead of literal text")
	return cmd
}

func resizeCmd(addr *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resize [id] [cols] [rows]",
		Short: "Resize a session's PTY",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cols, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid cols: %w", err)
			}
			rows, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("invalid rows: %w", err)
			}
			c := clientFor(*addr)
			return c.ResizeSession(context.Background(), args[0], cols, rows)
		},
	}
	return cmd
}

// attachCmd streams a session's live output to the terminal by following
// its SSE stream (§4.4) while the local terminal is in raw mode, relaying
// stdin as input. It pushes one resize from the local terminal size when it
// starts; later local resizes are not forwarded. It returns when the stream
// ends or the process receives an interrupt signal.
func attachCmd(addr *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "attach [id]",
		Short: "Attach to a session's live output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAttach(*addr, args[0])
		},
	}
	return cmd
}

func runAttach(addr, id string) error {
	c := clientFor(addr)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if cols, rows, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
		_ = c.ResizeSession(ctx, id, cols, rows)
	}

	var restore *term.State
	if term.IsTerminal(int(os.Stdin.Fd())) {
		var err error
		restore, err = term.MakeRaw(int(os.Stdin.Fd()))
		if err != nil {
			return fmt.Errorf("set raw mode: %w", err)
		}
		defer term.Restore(int(os.Stdin.Fd()), restore)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.StreamURL(id), nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	defer resp.Body.Close()

	go relayStdin(ctx, c, id)

	scanner := newSSEScanner(resp.Body)
	for scanner.next() {
		event, data := scanner.event()
		if event != "" {
			continue // "error"/other named frames, not a log line
		}
		// A data-only frame is either the asciicast header object (sent once,
		// to whichever subscribers are attached when the tail starts) or a
		// three-element event array; Unmarshal into Event rejects the former.
		var ev asciicast.Event
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			continue
		}
		if ev.Kind == asciicast.KindOutput {
			os.Stdout.WriteString(ev.Data)
		}
	}
	return nil
}

func relayStdin(ctx context.Context, c *vtclient.Client, id string) {
	buf := make([]byte, 4096)
	for {
		n, err := os.Stdin.Read(buf)
		if n > 0 {
			_ = c.SendInputText(ctx, id, string(buf[:n]))
		}
		if err != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// sseScanner pulls "event: foo\ndata: ...\n\n" frames off an SSE body, the
// same wire format internal/stream writes.
type sseScanner struct {
	r        io.Reader
	buf      []byte
	curEvent string
	curData  string
}

func newSSEScanner(r io.Reader) *sseScanner {
	return &sseScanner{r: r}
}

func (s *sseScanner) next() bool {
	chunk := make([]byte, 4096)
	for {
		if idx := indexDoubleNewline(s.buf); idx >= 0 {
			frame := s.buf[:idx]
			s.buf = s.buf[idx+2:]
			s.parseFrame(frame)
			return true
		}
		n, err := s.r.Read(chunk)
		if n > 0 {
			s.buf = append(s.buf, chunk[:n]...)
		}
		if err != nil {
			return false
		}
	}
}

func (s *sseScanner) parseFrame(frame []byte) {
	s.curEvent, s.curData = "", ""
	for _, line := range strings.Split(string(frame), "\n") {
		switch {
		case strings.HasPrefix(line, "event:"):
			s.curEvent = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			s.curData = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}
}

func (s *sseScanner) event() (string, string) {
	return s.curEvent, s.curData
}

func indexDoubleNewline(b []byte) int {
	for i := 0; i+1 < len(b); i++ {
		if b[i] == '\n' && b[i+1] == '\n' {
			return i
		}
	}
	return -1
}

func remoteCmd(addr *string) *cobra.Command {
	rc := &cobra.Command{
		Use:   "remote",
		Short: "Manage HQ-registered remote nodes",
	}
	rc.AddCommand(&cobra.Command{
		Use:   "add [name] [url]",
		Short: "Register a remote node",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := clientFor(*addr)
			remote, token, err := c.RegisterRemote(context.Background(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Printf("registered %s (%s)\ntoken: %s\n", remote.Name, remote.ID, token)
			return nil
		},
	})
	rc.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List registered remotes",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := clientFor(*addr)
			remotes, err := c.ListRemotes(context.Background())
			if err != nil {
				return err
			}
			if len(remotes) == 0 {
				fmt.Println("no remotes registered")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tURL\tSTATUS")
			for _, r := range remotes {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.ID, r.Name, r.URL, r.Status)
			}
			w.Flush()
			return nil
		},
	})
	rc.AddCommand(&cobra.Command{
		Use:   "remove [id]",
		Short: "Unregister a remote node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := clientFor(*addr)
			if err := c.UnregisterRemote(context.Background(), args[0]); err != nil {
				return err
			}
			fmt.Println("removed:", args[0])
			return nil
		},
	})
	return rc
}
