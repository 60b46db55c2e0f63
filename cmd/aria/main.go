package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ariavoice/aria/chat"
	"github.com/ariavoice/aria/client"
	"github.com/ariavoice/aria/internal/observability"
	"github.com/ariavoice/aria/internal/profile"
	"github.com/ariavoice/aria/plugin/ai"
	"github.com/ariavoice/aria/plugin/search"
	"github.com/ariavoice/aria/server"
	"github.com/ariavoice/aria/server/auth"
	"github.com/ariavoice/aria/store"
	"github.com/ariavoice/aria/store/db"
)

var version = "0.1.0"

var (
	chatUserID  int32
	tokenUserID int32
)

func main() {
	root := &cobra.Command{
		Use:     "aria",
		Short:   "Aria is a conversational assistant with bounded context memory",
		Version: version,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Aria API server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
	root.AddCommand(serveCmd)

	chatCmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with Aria from the terminal",
		Long: "Chat with Aria interactively. With ARIA_SERVER_URL set the session talks\n" +
			"to a remote Aria server; otherwise it opens the local database directly\n" +
			"and streams from the configured model backend.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runChat(cmd.Context())
		},
	}
	chatCmd.Flags().Int32Var(&chatUserID, "user", 1, "User ID owning the conversations (local mode)")
	root.AddCommand(chatCmd)

	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API access token",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runToken()
		},
	}
	tokenCmd.Flags().Int32Var(&tokenUserID, "user", 1, "User ID the token authenticates as")
	root.AddCommand(tokenCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadProfile() (*profile.Profile, error) {
	p := &profile.Profile{Version: version}
	p.FromEnv()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func runServe(ctx context.Context) error {
	p, err := loadProfile()
	if err != nil {
		return err
	}
	logger := observability.NewLogger(p.IsDev())

	dbDriver, err := db.NewDBDriver(p)
	if err != nil {
		return err
	}
	st := store.New(dbDriver, p)
	if err := st.Migrate(ctx); err != nil {
		return err
	}

	var llm ai.LLMService
	if cfg := ai.NewConfigFromProfile(p); cfg.Enabled {
		if err := cfg.Validate(); err != nil {
			return err
		}
		llm, err = ai.NewLLMService(&cfg.LLM)
		if err != nil {
			return err
		}
	} else {
		logger.Warn("no model backend configured, chat streaming is disabled")
	}

	s, err := server.NewServer(ctx, p, st, llm, logger)
	if err != nil {
		return err
	}
	if err := s.Start(ctx); err != nil {
		return err
	}
	s.Shutdown(context.Background())
	return nil
}

func runToken() error {
	p, err := loadProfile()
	if err != nil {
		return err
	}
	if p.Secret == "" {
		return fmt.Errorf("ARIA_SECRET is not set")
	}
	token, err := auth.GenerateToken(p.Secret, tokenUserID, auth.DefaultTokenDuration)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func runChat(ctx context.Context) error {
	p, err := loadProfile()
	if err != nil {
		return err
	}
	logger := observability.NewLogger(p.IsDev())

	var (
		convStore chat.ConversationStore
		streamer  chat.ChatStreamer
		closeFn   func() error
	)
	if p.ServerURL != "" {
		c := client.NewClient(p.ServerURL, p.ServerToken, client.WithAuthFailureHandler(func() {
			fmt.Fprintln(os.Stderr, "authentication failed, check ARIA_SERVER_TOKEN")
		}))
		convStore = c
		streamer = c
	} else {
		dbDriver, err := db.NewDBDriver(p)
		if err != nil {
			return err
		}
		st := store.New(dbDriver, p)
		if err := st.Migrate(ctx); err != nil {
			return err
		}
		convStore = store.NewChatStore(st, chatUserID)
		closeFn = st.Close
	}
	if closeFn != nil {
		defer func() {
			if err := closeFn(); err != nil {
				logger.Error("failed to close store", "error", err)
			}
		}()
	}

	var summarizer chat.Summarizer
	if cfg := ai.NewConfigFromProfile(p); cfg.Enabled {
		if err := cfg.Validate(); err != nil {
			return err
		}
		llm, err := ai.NewLLMService(&cfg.LLM)
		if err != nil {
			return err
		}
		if streamer == nil {
			streamer = ai.NewStreamer(llm, cfg.LLM.ChatModel)
		}
		summarizer = ai.NewSummarizer(llm, cfg.LLM.SummaryModel, chat.DefaultMaxSummaryWords)
	}
	if streamer == nil {
		return fmt.Errorf("chat requires a model backend (ARIA_AI_API_KEY) or a remote server (ARIA_SERVER_URL)")
	}

	opts := []chat.OrchestratorOption{}
	if p.SearchAPIKey != "" {
		policy, err := search.NewPolicy(p.LookupTriggers)
		if err != nil {
			return err
		}
		opts = append(opts, chat.WithSearch(search.NewService(p.SearchBaseURL, p.SearchAPIKey), policy))
	}
	printer := &streamPrinter{w: os.Stdout}
	opts = append(opts, chat.WithObserver(printer.observe))

	ctxmgr := chat.NewContextManager(chat.DefaultContextConfig(), summarizer, logger)
	orch := chat.NewOrchestrator(convStore, streamer, ctxmgr, logger, opts...)

	fmt.Println("Aria. Type a message, or /help for commands.")
	return repl(ctx, orch, ctxmgr, printer)
}

func repl(ctx context.Context, orch *chat.Orchestrator, ctxmgr *chat.ContextManager, printer *streamPrinter) error {
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			ctxmgr.Wait()
			return scanner.Err()
		}
		if ctx.Err() != nil {
			ctxmgr.Wait()
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if quit := replCommand(ctx, orch, line); quit {
				ctxmgr.Wait()
				return nil
			}
			continue
		}

		printer.reset()
		if err := orch.SendMessage(ctx, line); err != nil {
			fmt.Fprintf(os.Stderr, "\nerror: %v\n", err)
			continue
		}
		printer.finish(orch.Session())
	}
}

// replCommand handles a slash command and reports whether the REPL should
// exit.
func replCommand(ctx context.Context, orch *chat.Orchestrator, line string) bool {
	fields := strings.Fields(line)
	arg := ""
	if len(fields) > 1 {
		arg = fields[1]
	}
	switch fields[0] {
	case "/quit", "/exit":
		return true
	case "/help":
		fmt.Println("/list            list conversations")
		fmt.Println("/open <id>       resume a conversation")
		fmt.Println("/new             start a fresh conversation")
		fmt.Println("/delete <id>     delete a conversation")
		fmt.Println("/quit            exit")
	case "/list":
		refs, err := orch.ListConversations(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return false
		}
		if len(refs) == 0 {
			fmt.Println("no conversations yet")
			return false
		}
		for _, ref := range refs {
			fmt.Printf("%s  %s\n", ref.ID, ref.Title)
		}
	case "/open":
		if arg == "" {
			fmt.Println("usage: /open <id>")
			return false
		}
		if err := orch.SelectConversation(ctx, arg); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return false
		}
		sess := orch.Session()
		fmt.Printf("resumed %q (%d turns)\n", sess.Title, len(sess.Turns))
	case "/new":
		if err := orch.SelectConversation(ctx, ""); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	case "/delete":
		if arg == "" {
			fmt.Println("usage: /delete <id>")
			return false
		}
		if err := orch.DeleteConversation(ctx, arg); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	default:
		fmt.Printf("unknown command %s, try /help\n", fields[0])
	}
	return false
}

// streamPrinter renders the pending assistant turn incrementally as session
// snapshots arrive. It only ever appends, so partial output stays on screen
// when a stream is interrupted.
type streamPrinter struct {
	mu      sync.Mutex
	w       io.Writer
	printed int
	active  bool
}

func (sp *streamPrinter) reset() {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	sp.printed = 0
	sp.active = false
}

func (sp *streamPrinter) observe(s chat.Session) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	if len(s.Turns) == 0 {
		return
	}
	last := s.Turns[len(s.Turns)-1]
	if !last.Pending {
		return
	}
	if last.Content == chat.ThinkingPlaceholder {
		sp.active = true
		return
	}
	if !sp.active {
		return
	}
	if len(last.Content) > sp.printed {
		fmt.Fprint(sp.w, last.Content[sp.printed:])
		sp.printed = len(last.Content)
	}
}

// finish prints whatever the stream never delivered incrementally, such as
// the no-response marker, and the trailing newline.
func (sp *streamPrinter) finish(s chat.Session) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	if len(s.Turns) > 0 {
		last := s.Turns[len(s.Turns)-1]
		if last.Role == chat.RoleAssistant && len(last.Content) > sp.printed {
			fmt.Fprint(sp.w, last.Content[sp.printed:])
			sp.printed = len(last.Content)
		}
	}
	fmt.Fprintln(sp.w)
}
