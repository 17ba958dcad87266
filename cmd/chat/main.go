// Package main is an interactive terminal client for the EEG assistant.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/neurocare-ai/eeg-assist/internal/api"
	"github.com/neurocare-ai/eeg-assist/internal/chat"
	"github.com/neurocare-ai/eeg-assist/internal/config"
	"github.com/neurocare-ai/eeg-assist/internal/store"
	"github.com/neurocare-ai/eeg-assist/internal/transport"
	"github.com/neurocare-ai/eeg-assist/pkg/logger"
)

func main() {
	var (
		patientID = flag.String("patient", "", "patient identifier (required)")
		email     = flag.String("email", "clinician@example.com", "login email")
		password  = flag.String("password", "devpassword", "login password")
	)
	flag.Parse()

	if *patientID == "" {
		fmt.Fprintln(os.Stderr, "usage: chat -patient <id> [-email ...] [-password ...]")
		os.Exit(1)
	}

	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				log.Warn("metrics server stopped", "error", err)
			}
		}()
	}

	ctx := context.Background()

	client := api.NewClient(cfg.APIBaseURL, log)
	token, err := client.Login(ctx, *email, *password)
	if err != nil {
		fmt.Fprintf(os.Stderr, "login failed: %v\n", err)
		os.Exit(1)
	}

	tr := transport.NewWS(transport.Config{
		URL:         cfg.SocketURL,
		BaseDelay:   cfg.WSBaseDelay,
		MaxAttempts: cfg.WSMaxAttempts,
		EventBuffer: cfg.WSEventBuffer,
	}, log)
	if err := tr.Connect(ctx, token); err != nil {
		fmt.Fprintf(os.Stderr, "websocket connect failed: %v\n", err)
		os.Exit(1)
	}
	defer tr.Close()

	st := store.New(log)
	coord := chat.NewCoordinator(client, tr, st, log, chat.Options{
		IdleTimeout: cfg.StreamIdleTimeout,
		Token:       client.Token,
	})
	defer coord.Close()

	loader := chat.NewHistoryLoader(client, st, log)
	if err := loader.Load(ctx, *patientID); err != nil {
		fmt.Fprintf(os.Stderr, "history load failed: %v\n", err)
		os.Exit(1)
	}

	p := newPrinter(st, *patientID)
	p.printAll()
	changes := st.Watch()
	defer st.Unwatch(changes)
	go p.follow(changes)

	fmt.Println("Connected. Type a message, /cancel to stop a response, /quit to exit.")

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit":
			return
		case line == "/cancel":
			coord.CancelSession(*patientID)
		default:
			if err := coord.SendMessage(ctx, *patientID, chat.SendInput{Text: line}); err != nil {
				fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
			}
		}
	}
}

// printer renders store changes to stdout. Fragments arrive as store
// mutations, so it tracks how much of the trailing message has already been
// written and prints only the unseen suffix.
type printer struct {
	st     *store.Store
	convID string

	mu      sync.Mutex
	printed int // messages fully printed
	partial int // bytes printed of the message at index printed
}

func newPrinter(st *store.Store, convID string) *printer {
	return &printer{st: st, convID: convID}
}

func (p *printer) printAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.render()
}

// follow renders until the changes channel is closed by Unwatch.
func (p *printer) follow(changes <-chan store.Change) {
	for range changes {
		p.mu.Lock()
		p.render()
		p.mu.Unlock()
	}
}

func (p *printer) render() {
	msgs := p.st.Messages(p.convID)
	if p.printed > len(msgs) {
		// History was replaced or a message rolled back; start over.
		p.printed, p.partial = 0, 0
		fmt.Println("--- conversation reloaded ---")
	}

	open := p.st.Open(p.convID)
	for i := p.printed; i < len(msgs); i++ {
		msg := msgs[i]
		text := msg.Text()
		trailing := i == len(msgs)-1

		if p.partial == 0 {
			fmt.Printf("\n[%s] ", msg.Role)
			if msg.FileName != "" {
				fmt.Printf("(%s) ", msg.FileName)
			}
		}
		if p.partial > len(text) {
			p.partial = len(text)
		}
		fmt.Print(text[p.partial:])

		if trailing && open {
			// Stream still running; remember progress and wait for more.
			p.partial = len(text)
			return
		}
		fmt.Println()
		p.printed++
		p.partial = 0
	}
}
