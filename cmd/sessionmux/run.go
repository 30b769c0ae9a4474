package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/lightforgemedia/go-sessionmux/pkg/client"
	"github.com/lightforgemedia/go-sessionmux/pkg/diagnostics"
	"github.com/lightforgemedia/go-sessionmux/pkg/events"
	"github.com/lightforgemedia/go-sessionmux/pkg/metrics"
	"github.com/lightforgemedia/go-sessionmux/pkg/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

func run(ctx context.Context, args cliArgs, logger *slog.Logger, in io.Reader, out io.Writer) error {
	reg := prometheus.NewRegistry()
	met, err := metrics.New(reg, metrics.DefaultNamespace)
	if err != nil {
		return err
	}

	m, err := client.New(
		client.WithURL(args.url),
		client.WithLogger(logger),
		client.WithSenderName(args.senderName),
		client.WithVerbose(args.verbose),
		client.WithObserver(met),
	)
	if err != nil {
		return err
	}
	defer m.Close()

	diag := diagnostics.New(m.DebugLog(), m.Tracker(), m,
		diagnostics.WithInterval(args.sampleInterval),
		diagnostics.WithLogger(logger),
	)

	if err := m.Initialize(ctx, args.user, "", args.token); err != nil {
		return err
	}

	channel := args.channel
	if args.sessionURL != "" {
		p := &session.HTTPProvisioner{Endpoint: args.sessionURL, Credential: args.token}
		s, err := p.CreateSession(ctx, m.ClientID(), "")
		if err != nil {
			return err
		}
		logger.Info("sessionmux: session created", "sessionID", s.SessionID, "channelID", s.ChannelID)
		channel = s.ChannelID
		m.SetActiveSessionChannelID(channel)
	}

	// Start printing before the join so the state transitions show up.
	sub := m.Subscribe()
	defer sub.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return diag.Run(gctx) })
	g.Go(func() error { return printEvents(gctx, sub, out) })
	if args.metricsAddr != "" {
		g.Go(func() error { return serveMetrics(gctx, args.metricsAddr, reg, diag, logger) })
	}

	g.Go(func() error {
		if err := m.JoinChannel(gctx, channel, ""); err != nil {
			return err
		}
		fmt.Fprintf(out, "joined %s as %s; type a message, /report, /export or /quit\n", channel, m.ClientID())
		err := chat(gctx, m, diag, channel, in, out)
		// Ending the chat ends the program.
		m.Disconnect()
		return err
	})

	err = g.Wait()
	if errors.Is(err, errQuit) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

var errQuit = errors.New("quit")

func chat(ctx context.Context, m *client.Manager, diag *diagnostics.Diagnostics, channel string, in io.Reader, out io.Writer) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return errQuit
			}
			line = strings.TrimSpace(line)
			switch line {
			case "":
				continue
			case "/quit":
				return errQuit
			case "/report":
				fmt.Fprint(out, diag.Report().String())
				continue
			case "/export":
				if err := diag.WriteJSON(out); err != nil {
					return err
				}
				continue
			}
			if _, err := m.SendMessage(ctx, client.Message{ChannelID: channel, Text: line}); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}

func printEvents(ctx context.Context, sub *events.Subscription, out io.Writer) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.C():
			if !ok {
				return nil
			}
			if line := formatEvent(ev); line != "" {
				fmt.Fprintln(out, line)
			}
		}
	}
}

func formatEvent(ev events.Event) string {
	ts := ev.Timestamp().Format("15:04:05")
	switch e := ev.(type) {
	case events.MessageBroadcast:
		name := e.SenderName
		if name == "" {
			name = e.SenderID
		}
		return fmt.Sprintf("[%s] #%s <%s> %s", ts, e.Channel(), name, e.Text)
	case events.MessageState:
		return fmt.Sprintf("[%s] #%s %s is %s", ts, e.Channel(), e.MessageID, e.State)
	case events.MessageComplete:
		return fmt.Sprintf("[%s] #%s %s complete", ts, e.Channel(), e.MessageID)
	case events.MessageDeleted:
		return fmt.Sprintf("[%s] #%s %s deleted", ts, e.Channel(), e.MessageID)
	case events.ControlMessage:
		return fmt.Sprintf("[%s] #%s control: %s", ts, e.Channel(), e.Action)
	case events.ChannelCleared:
		return fmt.Sprintf("[%s] #%s cleared", ts, e.Channel())
	case events.ChannelDeleted:
		return fmt.Sprintf("[%s] #%s deleted", ts, e.Channel())
	case events.LogStream:
		return fmt.Sprintf("[%s] #%s log %s: %s", ts, e.Channel(), e.Level, e.Message)
	case events.ConnectionStateChanged:
		if e.Reason == "" {
			return fmt.Sprintf("[%s] connection %s -> %s", ts, e.Previous, e.Current)
		}
		return fmt.Sprintf("[%s] connection %s -> %s (%s)", ts, e.Previous, e.Current, e.Reason)
	default:
		return ""
	}
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, diag *diagnostics.Diagnostics, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/debug/diagnostics", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := diag.WriteJSON(w); err != nil {
			logger.Warn("sessionmux: diagnostics export failed", "error", err)
		}
	})
	mux.HandleFunc("/debug/report", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		io.WriteString(w, diag.Report().String())
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("sessionmux: metrics listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("sessionmux: metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
