// ABOUTME: Admin CLI for the medibridge server
// ABOUTME: Manages conversations over HTTP, sends messages, and follows the realtime and relay feeds

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/fatih/color"
	"github.com/mattn/go-shellwords"

	"github.com/2389/medibridge/internal/gateway"
	"github.com/2389/medibridge/internal/relay"
)

const banner = `
                     _ _ _          _     _                       _           _
  _ __ ___   ___  __| (_) |__  _ __(_) __| | __ _  ___        __ _| |_ __ ___ (_)_ __
 | '_ ' _ \ / _ \/ _' | | '_ \| '__| |/ _' |/ _' |/ _ \_____ / _' | | '_ ' _ \| | '_ \
 | | | | | |  __/ (_| | | |_) | |  | | (_| | (_| |  __/_____| (_| | | | | | | | | | | |
 |_| |_| |_|\___|\__,_|_|_.__/|_|  |_|\__,_|\__, |\___|      \__,_|_|_| |_| |_|_|_| |_|
                                            |___/
`

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	client := newAPIClient(getEnv("MEDIBRIDGE_URL", "http://localhost:8000"))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "status":
		err = cmdStatus(ctx, client)
	case "conversations", "conv":
		err = cmdConversations(ctx, client, args)
	case "send":
		err = cmdSend(ctx, client, args)
	case "chat":
		err = cmdChat(ctx, client, args)
	case "search":
		err = cmdSearch(ctx, client, args)
	case "summary":
		err = cmdSummary(ctx, client, args)
	case "watch":
		err = cmdWatch(ctx, client, args)
	case "tail":
		err = cmdTail(ctx, args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()
	fmt.Println("Usage: medibridge-admin <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  status                          Show server name, version, and status")
	fmt.Println("  conversations                   List conversations")
	fmt.Println("  conversations create            Create a conversation")
	fmt.Println("  conversations show <id>         Show a conversation and its messages")
	fmt.Println("  conversations rename <id> <t>   Rename a conversation")
	fmt.Println("  conversations delete <id>       Delete a conversation and its messages")
	fmt.Println("  send <id> --role <r> [msg]      Submit one message (--audio <file> to upload)")
	fmt.Println("  chat <id> --role <r>            Interactive session (/role, /audio, /quit)")
	fmt.Println("  search <query> [--limit N]      Search message text")
	fmt.Println("  summary <id>                    Generate a clinical summary")
	fmt.Println("  watch <id>                      Follow a conversation over WebSocket")
	fmt.Println("  tail [id] [--nats URL]          Follow the NATS relay (all conversations by default)")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  MEDIBRIDGE_URL         Server base URL (default: http://localhost:8000)")
	fmt.Println("  MEDIBRIDGE_NATS_URL    NATS server for tail (default: nats://127.0.0.1:4222)")
	fmt.Println("  MEDIBRIDGE_NATS_PREFIX Relay subject prefix (default: medibridge.messages)")
	fmt.Println()
	yellow.Println("Examples:")
	fmt.Println("  medibridge-admin conversations create --doctor en --patient ar --title 'Ward 3'")
	fmt.Println("  medibridge-admin send <id> --role doctor 'Where does it hurt?'")
	fmt.Println("  medibridge-admin watch <id>")
	fmt.Println()
}

// cmdStatus shows the server banner
func cmdStatus(ctx context.Context, client *apiClient) error {
	root, err := client.Root(ctx)
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)

	fmt.Println()
	cyan.Println("  Server")
	cyan.Println("  ------")
	fmt.Printf("  URL:       %s\n", client.baseURL)
	fmt.Printf("  Name:      %s\n", root.Name)
	fmt.Printf("  Version:   %s\n", root.Version)
	green.Printf("  Status:    %s\n", root.Status)
	fmt.Println()
	return nil
}

// cmdConversations handles conversation subcommands
func cmdConversations(ctx context.Context, client *apiClient, args []string) error {
	// Default to list
	subcmd := "list"
	if len(args) > 0 {
		subcmd = args[0]
		args = args[1:]
	}

	switch subcmd {
	case "list", "ls":
		return cmdConversationsList(ctx, client)
	case "create", "new":
		return cmdConversationsCreate(ctx, client, args)
	case "show", "get":
		return cmdConversationsShow(ctx, client, args)
	case "rename":
		return cmdConversationsRename(ctx, client, args)
	case "delete", "rm", "remove":
		return cmdConversationsDelete(ctx, client, args)
	default:
		return fmt.Errorf("unknown conversations subcommand: %s (use list, create, show, rename, delete)", subcmd)
	}
}

func cmdConversationsList(ctx context.Context, client *apiClient) error {
	convs, err := client.ListConversations(ctx)
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Println("  Conversations")
	cyan.Println("  -------------")

	if len(convs) == 0 {
		fmt.Println("  (no conversations)")
		fmt.Println()
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  ID\tTITLE\tLANGS\tMESSAGES\tUPDATED")
	fmt.Fprintln(w, "  --\t-----\t-----\t--------\t-------")
	for _, c := range convs {
		fmt.Fprintf(w, "  %s\t%s\t%s→%s\t%d\t%s\n",
			c.ID, truncate(c.Title, 28), c.DoctorLanguage, c.PatientLanguage, c.MessageCount, shortTime(c.UpdatedAt))
	}
	w.Flush()
	fmt.Println()

	return nil
}

func cmdConversationsCreate(ctx context.Context, client *apiClient, args []string) error {
	var req gateway.CreateConversationRequest

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--title", "-t":
			if i+1 < len(args) {
				req.Title = args[i+1]
				i++
			}
		case "--doctor", "-d":
			if i+1 < len(args) {
				req.DoctorLanguage = args[i+1]
				i++
			}
		case "--patient", "-p":
			if i+1 < len(args) {
				req.PatientLanguage = args[i+1]
				i++
			}
		default:
			return fmt.Errorf("unknown flag: %s (use --title, --doctor, --patient)", args[i])
		}
	}

	conv, err := client.CreateConversation(ctx, req)
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Printf("✓ Created conversation: %s\n", conv.ID)
	fmt.Printf("  Title:     %s\n", conv.Title)
	fmt.Printf("  Doctor:    %s\n", conv.DoctorLanguage)
	fmt.Printf("  Patient:   %s\n", conv.PatientLanguage)
	return nil
}

func cmdConversationsShow(ctx context.Context, client *apiClient, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: conversations show <conversation-id>")
	}

	conv, err := client.GetConversation(ctx, args[0])
	if err != nil {
		return err
	}
	msgs, err := client.ListMessages(ctx, conv.ID)
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Printf("  %s\n", conv.Title)
	cyan.Println("  " + strings.Repeat("-", len([]rune(conv.Title))))
	fmt.Printf("  ID:        %s\n", conv.ID)
	fmt.Printf("  Languages: doctor %s, patient %s\n", conv.DoctorLanguage, conv.PatientLanguage)
	fmt.Printf("  Created:   %s\n", shortTime(conv.CreatedAt))
	fmt.Printf("  Messages:  %d\n", conv.MessageCount)
	fmt.Println()

	for _, m := range msgs {
		printMessage(m)
	}
	return nil
}

func cmdConversationsRename(ctx context.Context, client *apiClient, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: conversations rename <conversation-id> <title>")
	}

	conv, err := client.RenameConversation(ctx, args[0], strings.Join(args[1:], " "))
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Printf("✓ Renamed conversation %s: %s\n", conv.ID, conv.Title)
	return nil
}

func cmdConversationsDelete(ctx context.Context, client *apiClient, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: conversations delete <conversation-id>")
	}

	if err := client.DeleteConversation(ctx, args[0]); err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Printf("✓ Deleted conversation: %s\n", args[0])
	return nil
}

// sendOptions are the flags shared by send and chat
type sendOptions struct {
	convID    string
	role      string
	audioPath string
	text      string
}

func parseSendArgs(args []string) (sendOptions, error) {
	var opts sendOptions
	var words []string

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--role", "-r":
			if i+1 >= len(args) {
				return opts, fmt.Errorf("--role requires a value")
			}
			opts.role = args[i+1]
			i++
		case "--audio", "-a":
			if i+1 >= len(args) {
				return opts, fmt.Errorf("--audio requires a file path")
			}
			opts.audioPath = args[i+1]
			i++
		default:
			if opts.convID == "" {
				opts.convID = args[i]
				continue
			}
			words = append(words, args[i])
		}
	}

	if opts.convID == "" {
		return opts, fmt.Errorf("conversation id is required")
	}
	if opts.role != "doctor" && opts.role != "patient" {
		return opts, fmt.Errorf("--role must be doctor or patient")
	}
	opts.text = strings.Join(words, " ")
	return opts, nil
}

// submit uploads any audio and posts the message with a fresh idempotency key.
func submit(ctx context.Context, client *apiClient, opts sendOptions) (gateway.MessageResponse, error) {
	req := gateway.SubmitMessageRequest{
		ConversationID: opts.convID,
		Role:           opts.role,
		Text:           opts.text,
	}

	if opts.audioPath != "" {
		up, err := client.UploadAudio(ctx, opts.audioPath)
		if err != nil {
			return gateway.MessageResponse{}, fmt.Errorf("uploading audio: %w", err)
		}
		req.AudioURL = &up.URL
	}

	return client.SubmitMessage(ctx, req, generateIdempotencyKey())
}

// cmdSend submits a single message
func cmdSend(ctx context.Context, client *apiClient, args []string) error {
	opts, err := parseSendArgs(args)
	if err != nil {
		return fmt.Errorf("%w\nusage: send <conversation-id> --role doctor|patient [--audio file] [message]", err)
	}

	msg, err := submit(ctx, client, opts)
	if err != nil {
		return err
	}
	printMessage(msg)
	return nil
}

// cmdChat runs an interactive read-eval-print loop against one conversation
func cmdChat(ctx context.Context, client *apiClient, args []string) error {
	opts, err := parseSendArgs(args)
	if err != nil {
		return fmt.Errorf("%w\nusage: chat <conversation-id> --role doctor|patient", err)
	}
	return chatREPL(ctx, client, opts, os.Stdin)
}

func chatREPL(ctx context.Context, client *apiClient, opts sendOptions, in io.Reader) error {
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)

	cyan.Printf("Conversation %s as %s (Ctrl+D to exit, /help for commands)\n\n", opts.convID, opts.role)

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, bufio.MaxScanTokenSize), 1024*1024) // 1MB max input
	for {
		green.Printf("%s> ", opts.role)
		if !scanner.Scan() {
			// EOF (Ctrl+D) or error
			fmt.Println()
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		turn := opts
		turn.audioPath = ""
		turn.text = line

		if strings.HasPrefix(line, "/") {
			quit, next, send, err := chatCommand(line, opts)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				continue
			}
			if quit {
				return nil
			}
			opts = next
			if send == nil {
				continue
			}
			turn = *send
		}

		msg, err := submit(ctx, client, turn)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			fmt.Fprintf(os.Stderr, "Error sending: %v\n", err)
			continue
		}
		printMessage(msg)
	}
}

// chatCommand interprets a slash command. It returns whether to quit, the
// updated session options, and a message to send if the command produces one.
func chatCommand(line string, opts sendOptions) (bool, sendOptions, *sendOptions, error) {
	words, err := shellwords.Parse(line)
	if err != nil {
		return false, opts, nil, fmt.Errorf("parsing command: %w", err)
	}
	if len(words) == 0 {
		return false, opts, nil, nil
	}

	switch words[0] {
	case "/quit", "/exit":
		return true, opts, nil, nil
	case "/role":
		if len(words) != 2 || (words[1] != "doctor" && words[1] != "patient") {
			return false, opts, nil, fmt.Errorf("usage: /role doctor|patient")
		}
		opts.role = words[1]
		return false, opts, nil, nil
	case "/swap":
		if opts.role == "doctor" {
			opts.role = "patient"
		} else {
			opts.role = "doctor"
		}
		return false, opts, nil, nil
	case "/audio":
		if len(words) < 2 {
			return false, opts, nil, fmt.Errorf("usage: /audio <file> [fallback text]")
		}
		send := opts
		send.audioPath = words[1]
		send.text = strings.Join(words[2:], " ")
		return false, opts, &send, nil
	case "/help":
		fmt.Println("  /role doctor|patient   switch speaker")
		fmt.Println("  /swap                  toggle speaker")
		fmt.Println("  /audio <file> [text]   upload a recording and send it")
		fmt.Println("  /quit                  leave")
		return false, opts, nil, nil
	default:
		return false, opts, nil, fmt.Errorf("unknown command %s (try /help)", words[0])
	}
}

// cmdSearch searches message text across conversations
func cmdSearch(ctx context.Context, client *apiClient, args []string) error {
	limit := 0
	var words []string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--limit", "-n":
			if i+1 >= len(args) {
				return fmt.Errorf("--limit requires a value")
			}
			n, err := strconv.Atoi(args[i+1])
			if err != nil || n < 1 {
				return fmt.Errorf("--limit must be a positive integer")
			}
			limit = n
			i++
		default:
			words = append(words, args[i])
		}
	}
	query := strings.Join(words, " ")
	if strings.TrimSpace(query) == "" {
		return fmt.Errorf("usage: search <query> [--limit N]")
	}

	hits, err := client.Search(ctx, query, limit)
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	dim := color.New(color.Faint)
	fmt.Println()
	cyan.Printf("  %d result(s) for %q\n", len(hits), query)
	fmt.Println()

	for _, h := range hits {
		cyan.Printf("  %s", truncate(h.ConversationTitle, 40))
		dim.Printf("  %s  %s\n", h.ConversationID, shortTime(h.Timestamp))
		if h.ContextBefore != "" {
			dim.Printf("    … %s\n", truncate(h.ContextBefore, 70))
		}
		fmt.Printf("    %s: %s\n", h.Role, highlight(h.OriginalText, query))
		fmt.Printf("    %s  %s\n", dim.Sprint("→"), highlight(h.TranslatedText, query))
		if h.ContextAfter != "" {
			dim.Printf("    … %s\n", truncate(h.ContextAfter, 70))
		}
		fmt.Println()
	}
	return nil
}

// cmdSummary prints the clinical summary markdown
func cmdSummary(ctx context.Context, client *apiClient, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: summary <conversation-id>")
	}

	sum, err := client.Summary(ctx, args[0])
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Printf("  Summary of %d message(s)\n", sum.MessageCount)
	cyan.Println("  ------------------------")
	for _, line := range strings.Split(sum.Summary, "\n") {
		fmt.Printf("  %s\n", line)
	}
	fmt.Println()
	return nil
}

// cmdWatch follows a conversation's realtime feed until interrupted
func cmdWatch(ctx context.Context, client *apiClient, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: watch <conversation-id>")
	}

	conv, err := client.GetConversation(ctx, args[0])
	if err != nil {
		return err
	}

	wsURL, err := client.wsURL(conv.ID)
	if err != nil {
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, _, err := websocket.Dial(dialCtx, wsURL, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", wsURL, err)
	}
	defer conn.CloseNow()

	cyan := color.New(color.FgCyan)
	cyan.Printf("Watching %s (%s→%s), Ctrl+C to stop\n\n", conv.Title, conv.DoctorLanguage, conv.PatientLanguage)

	go keepAlive(ctx, conn)

	for {
		var msg gateway.MessageResponse
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			if ctx.Err() != nil {
				_ = conn.Close(websocket.StatusNormalClosure, "")
				return nil
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusGoingAway:
				return fmt.Errorf("server shutting down")
			case websocket.StatusPolicyViolation:
				return fmt.Errorf("disconnected: client too slow")
			}
			return fmt.Errorf("reading feed: %w", err)
		}
		if msg.ID == "" {
			// pong frames carry no message
			continue
		}
		printMessage(msg)
	}
}

func keepAlive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"ping"}`)); err != nil {
				return
			}
		}
	}
}

// cmdTail follows the NATS relay, which mirrors every committed message
func cmdTail(ctx context.Context, args []string) error {
	natsURL := getEnv("MEDIBRIDGE_NATS_URL", "nats://127.0.0.1:4222")
	prefix := getEnv("MEDIBRIDGE_NATS_PREFIX", relay.DefaultSubjectPrefix)
	convID := "*"

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--nats":
			if i+1 >= len(args) {
				return fmt.Errorf("--nats requires a URL")
			}
			natsURL = args[i+1]
			i++
		case "--prefix":
			if i+1 >= len(args) {
				return fmt.Errorf("--prefix requires a value")
			}
			prefix = args[i+1]
			i++
		default:
			convID = args[i]
		}
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r, err := relay.Connect([]string{natsURL}, prefix, logger)
	if err != nil {
		return err
	}
	defer r.Close()

	sub, err := r.Subscribe(convID, func(ev relay.Event) {
		printMessage(gatewayMessage(ev))
	})
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	cyan := color.New(color.FgCyan)
	cyan.Printf("Tailing %s on %s, Ctrl+C to stop\n\n", r.Subject(convID), natsURL)

	<-ctx.Done()
	return nil
}

func gatewayMessage(ev relay.Event) gateway.MessageResponse {
	return gateway.MessageResponse{
		ID:                 ev.ID,
		ConversationID:     ev.ConversationID,
		Role:               ev.Role,
		OriginalText:       ev.OriginalText,
		TranslatedText:     ev.TranslatedText,
		OriginalLanguage:   ev.OriginalLanguage,
		TranslatedLanguage: ev.TranslatedLanguage,
		AudioURL:           ev.AudioURL,
		TranslatedAudioURL: ev.TranslatedAudioURL,
		Timestamp:          ev.Timestamp.UTC().Format(time.RFC3339Nano),
	}
}

func printMessage(m gateway.MessageResponse) {
	dim := color.New(color.Faint)
	speaker := color.New(color.FgBlue, color.Bold)
	if m.Role == "patient" {
		speaker = color.New(color.FgMagenta, color.Bold)
	}

	dim.Printf("  %s ", shortTime(m.Timestamp))
	speaker.Printf("%-7s", m.Role)
	fmt.Printf(" [%s] %s\n", m.OriginalLanguage, m.OriginalText)
	dim.Printf("           %s ", "→")
	fmt.Printf("[%s] %s\n", m.TranslatedLanguage, m.TranslatedText)
	if m.TranslatedAudioURL != nil {
		dim.Printf("           ♪ %s\n", *m.TranslatedAudioURL)
	}
}

// highlight marks case-insensitive occurrences of query in s.
func highlight(s, query string) string {
	if query == "" {
		return s
	}
	lower := strings.ToLower(s)
	q := strings.ToLower(query)
	if len(lower) != len(s) {
		return s
	}

	yellow := color.New(color.FgYellow, color.Bold)
	var b strings.Builder
	for {
		i := strings.Index(lower, q)
		if i < 0 {
			b.WriteString(s)
			return b.String()
		}
		b.WriteString(s[:i])
		b.WriteString(yellow.Sprint(s[i : i+len(q)]))
		s, lower = s[i+len(q):], lower[i+len(q):]
	}
}

func shortTime(ts string) string {
	if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
		return t.Local().Format("Jan 02 15:04:05")
	}
	return ts
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// generateIdempotencyKey creates a random idempotency key for message sending
func generateIdempotencyKey() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d-%x", os.Getpid(), time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}
