package main

import (
	"bufio"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ageniuscoder/mmchat/realtime/internal/messagecenter"
	"github.com/ageniuscoder/mmchat/realtime/internal/metrics"
	"github.com/ageniuscoder/mmchat/realtime/internal/model"
	"github.com/ageniuscoder/mmchat/realtime/internal/storage/sqlite"
)

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Connect as a user and send stdin lines to a conversation",
	Long: `Connect to the messaging server as --user, join --conversation and send
every line read from stdin as a text message. Messages from others are
printed as they arrive.

Commands:
  /status <online|away|busy|offline>   change presence
  /ping                                 measure round trip
  /quit                                 leave`,
	RunE: runClient,
}

var (
	clientUser        string
	clientName        string
	clientConv        string
	clientMetricsAddr string
)

func init() {
	rootCmd.AddCommand(clientCmd)

	clientCmd.Flags().StringVar(&clientUser, "user", "", "user id to connect as (required)")
	clientCmd.Flags().StringVar(&clientName, "name", "", "display name (defaults to the user id)")
	clientCmd.Flags().StringVar(&clientConv, "conversation", "", "conversation to join")
	clientCmd.Flags().StringVar(&clientMetricsAddr, "metrics-addr", "", "serve session metrics on this address")
	_ = clientCmd.MarkFlagRequired("user")
}

func runClient(cmd *cobra.Command, _ []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := sqlite.New(cfg.Client.SQLITEDsn)
	if err != nil {
		return fmt.Errorf("open client database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate client database: %w", err)
	}

	reg := prometheus.NewRegistry()
	if clientMetricsAddr != "" {
		srv := &http.Server{Addr: clientMetricsAddr, Handler: metrics.Handler(reg), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warn("metrics server stopped", zap.Error(err))
			}
		}()
		defer srv.Close()
	}

	name := clientName
	if name == "" {
		name = clientUser
	}
	center, err := messagecenter.Open(ctx, cfg.Client, &model.User{ID: clientUser, Name: name}, messagecenter.Options{
		Logger:     log,
		Registerer: reg,
		Drafts:     db.Drafts(),
	})
	if err != nil {
		return err
	}
	defer center.Close()

	if err := center.Connect(ctx); err != nil {
		return err
	}
	if clientConv != "" {
		if err := center.SelectConversation(ctx, clientConv); err != nil {
			log.Warn("history unavailable", zap.String("conversation_id", clientConv), zap.Error(err))
		}
	}
	printer := &messagePrinter{seen: make(map[string]bool)}
	printer.print(center.Messages(), true)
	unsubscribe := center.Subscribe(func() { printer.print(center.Messages(), false) })
	defer unsubscribe()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
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
			if quit := handleLine(cmd, center, line); quit {
				return nil
			}
		}
	}
}

// messagePrinter writes each message of the selected conversation once.
type messagePrinter struct {
	mu   sync.Mutex
	seen map[string]bool
}

// print writes the messages not printed yet. Live sends of our own are left
// out unless withOwn is set, since the user just typed them.
func (p *messagePrinter) print(msgs []model.Message, withOwn bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range msgs {
		if (m.IsOwn && !withOwn) || p.seen[m.ID] {
			continue
		}
		p.seen[m.ID] = true
		fmt.Printf("[%s] %s: %s\n", m.Timestamp.Local().Format(time.Kitchen), m.SenderName, m.Content)
	}
}

// handleLine runs one stdin line and reports whether the user asked to quit.
func handleLine(cmd *cobra.Command, center messagecenter.Center, line string) bool {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
	case line == "/quit":
		return true
	case line == "/ping":
		rtt, err := center.Ping(cmd.Context())
		if err != nil {
			fmt.Println("ping failed:", err)
			break
		}
		fmt.Println("rtt", rtt.Round(time.Millisecond))
	case strings.HasPrefix(line, "/status "):
		if err := center.UpdateStatus(model.Presence(strings.TrimPrefix(line, "/status "))); err != nil {
			fmt.Println("status failed:", err)
		}
	default:
		if _, err := center.SendMessage(cmd.Context(), model.MessageDraft{Content: line}); err != nil {
			fmt.Println("send failed:", err)
		}
	}
	return false
}
