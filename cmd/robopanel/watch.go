package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/deixis/robopanel/internal/channel"
)

// --- watch ---

func watchMain(args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	addr := fs.String("addr", "ws://localhost:8000/ws", "panel WebSocket endpoint")
	device := fs.String("device", "", "device identifier (required)")
	_ = fs.Parse(args)

	if *device == "" {
		return fmt.Errorf("watch: -device is required")
	}
	u, err := url.Parse(*addr)
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	q := u.Query()
	q.Set("device", *device)
	u.RawQuery = q.Encode()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	ws, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", u, err)
	}
	defer ws.Close(websocket.StatusNormalClosure, "")

	// Lines typed on stdin are sent as actions, e.g. "action_chat|hello".
	go func() {
		if err := sendActions(ctx, ws, os.Stdin); err != nil {
			fmt.Fprintf(os.Stderr, "robopanel: %v\n", err)
		}
	}()

	err = printEvents(ctx, ws, os.Stdout)
	if errors.Is(err, context.Canceled) || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
		return nil
	}
	return err
}

// printEvents writes each received event to w until the connection ends.
func printEvents(ctx context.Context, ws *websocket.Conn, w io.Writer) error {
	h := channel.Handlers{
		RenderHTML: func(html string) { fmt.Fprintf(w, "[view] %s\n", html) },
		Listening: func(s channel.ListeningState) {
			switch s {
			case channel.ListeningStarted:
				fmt.Fprintln(w, "[listening]")
			case channel.ListeningDone:
				fmt.Fprintln(w, "[not listening]")
			}
		},
		Transcript: func(text string) { fmt.Fprintf(w, "[heard] %s\n", text) },
		Unknown:    func(name, msg string) { fmt.Fprintf(w, "[%s] %s\n", name, msg) },
	}
	for {
		var ev channel.Event
		if err := wsjson.Read(ctx, ws, &ev); err != nil {
			return err
		}
		h.Dispatch(ev)
	}
}

// sendActions sends each valid "name|value" line from r as an action.
func sendActions(ctx context.Context, ws *websocket.Conn, r io.Reader) error {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		a, err := channel.ParseAction(sc.Text())
		if err != nil {
			fmt.Fprintf(os.Stderr, "robopanel: %v\n", err)
			continue
		}
		if err := ws.Write(ctx, websocket.MessageText, []byte(a.String())); err != nil {
			return fmt.Errorf("sending action: %w", err)
		}
	}
	return sc.Err()
}
