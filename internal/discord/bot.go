// ABOUTME: Discord platform glue wiring gateway events into the conversation engine
// ABOUTME: Owns the session lifecycle, periodic persistence flush, and reply delivery

package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/robfig/cron/v3"

	"github.com/transfaeries/faebot/internal/admin"
	"github.com/transfaeries/faebot/internal/conversation"
	"github.com/transfaeries/faebot/internal/responder"
	"github.com/transfaeries/faebot/internal/store"
)

const (
	arrivalNotice  = "*faebot slid into the conversation like a fae in the night*"
	failureNotice  = "`Something went wrong, please contact an administrator or try again`"
	maxMessageSize = 2000
)

// Config holds bot construction parameters.
type Config struct {
	Token         string
	BotName       string
	CommandPrefix string
	Admins        []string

	TypingInterval time.Duration
	RetryDelay     time.Duration

	// FlushInterval is how often in-memory conversations are written through
	// to the database. Zero disables the periodic flush.
	FlushInterval time.Duration

	DefaultModel string

	// ChannelPrompt and DMPrompt are templates with placeholders filled in
	// from the channel's server context when a conversation is initialized.
	ChannelPrompt string
	DMPrompt      string
}

// Bot connects a Discord session to the conversation store, the response
// coordinator, the admin router, and the persistence gateway.
type Bot struct {
	cfg     Config
	session *discordgo.Session
	convs   *conversation.Store
	db      *store.Gateway
	coord   *responder.Coordinator
	router  *admin.Router
	cron    *cron.Cron
	logger  *slog.Logger

	runCtx context.Context
}

// New builds the bot and its engine components around an unopened session.
// Nothing talks to Discord until Run.
func New(cfg Config, convs *conversation.Store, db *store.Gateway, gen responder.Generator, logger *slog.Logger) (*Bot, error) {
	if logger == nil {
		logger = slog.Default()
	}

	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("creating discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent
	// Handlers must run in arrival order so two rapid messages in the same
	// channel cannot be appended out of order. Generation and persistence
	// already run in their own goroutines, so intake never blocks on them.
	session.SyncEvents = true

	b := &Bot{
		cfg:     cfg,
		session: session,
		convs:   convs,
		db:      db,
		logger:  logger.With("component", "discord"),
	}
	b.coord = responder.New(convs, gen, b, responder.Config{
		BotName:        cfg.BotName,
		TypingInterval: cfg.TypingInterval,
		RetryDelay:     cfg.RetryDelay,
	}, logger)
	b.router = admin.NewRouter(convs, b.coord, b.initiateFromCommand, admin.Config{
		Prefix: cfg.CommandPrefix,
		Admins: cfg.Admins,
	}, logger)

	session.AddHandler(b.onMessageCreate)
	return b, nil
}

// Typing implements responder.Typist.
func (b *Bot) Typing(_ context.Context, conversationID string) error {
	return b.session.ChannelTyping(conversationID)
}

// Run connects the database, hydrates the store, opens the Discord gateway,
// and blocks until ctx is cancelled. Shutdown flushes every conversation
// before closing the session and the database.
func (b *Bot) Run(ctx context.Context) error {
	b.runCtx = ctx

	// A failed connect leaves the gateway in memory-only mode; it logs the
	// condition itself.
	_ = b.db.Connect(ctx)
	b.convs.Hydrate(b.db.LoadAll(ctx))
	b.logger.Info("conversations in memory", "count", b.convs.Len())

	if err := b.session.Open(); err != nil {
		return fmt.Errorf("opening discord gateway: %w", err)
	}
	user := b.session.State.User
	b.logger.Info("logged in", "bot", user.Username, "id", user.ID)

	if b.cfg.FlushInterval > 0 {
		b.cron = cron.New()
		if _, err := b.cron.AddFunc(fmt.Sprintf("@every %s", b.cfg.FlushInterval), b.flush); err != nil {
			return fmt.Errorf("scheduling persistence flush: %w", err)
		}
		b.cron.Start()
	}

	<-ctx.Done()
	return b.shutdown()
}

func (b *Bot) shutdown() error {
	b.logger.Info("shutting down")
	if b.cron != nil {
		<-b.cron.Stop().Done()
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	saved := b.db.SaveAll(flushCtx, b.convs.All())
	b.logger.Info("final flush", "saved", saved, "total", b.convs.Len())

	err := b.session.Close()
	if cerr := b.db.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func (b *Bot) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	saved := b.db.SaveAll(ctx, b.convs.All())
	b.logger.Debug("periodic flush", "saved", saved)
}

func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == s.State.User.ID {
		return
	}
	if ignorable(m.Content) {
		return
	}

	conversationID := m.ChannelID
	ctx := b.runCtx
	if ctx == nil {
		ctx = context.Background()
	}

	if b.router.Matches(m.Content) {
		reply := b.router.Dispatch(ctx, &admin.Request{
			ConversationID: conversationID,
			Author:         m.Author.Username,
			Content:        m.Content,
		})
		b.send(conversationID, reply)
		return
	}

	if _, ok := b.convs.Get(conversationID); !ok {
		// Server channels stay silent until an admin invites the bot in.
		// DMs initialize themselves on first contact.
		if m.GuildID != "" {
			return
		}
		if err := b.initiateDM(conversationID, m.Author.Username); err != nil {
			b.logger.Error("initializing DM conversation", "id", conversationID, "error", err)
			return
		}
	}

	b.record(conversationID, m)

	conv, ok := b.convs.Get(conversationID)
	if !ok {
		return
	}

	mentioned := false
	for _, u := range m.Mentions {
		if u.ID == s.State.User.ID {
			mentioned = true
			break
		}
	}
	if !b.coord.ShouldRespond(conv, m.Content, mentioned) {
		go b.persist(conversationID)
		return
	}
	if b.coord.Busy(conversationID) {
		b.logger.Debug("generation already in flight, skipping", "id", conversationID)
		return
	}

	go b.respond(ctx, conversationID, m.Timestamp)
}

// ignorable filters out messages addressed to other bots. A leading dot or
// comma is the common mute convention; a literal ellipsis is still speech.
func ignorable(content string) bool {
	if strings.HasPrefix(content, "...") {
		return false
	}
	return strings.HasPrefix(content, ".") || strings.HasPrefix(content, ",")
}

// record appends the message, synthesizing the referenced entry first when it
// is a reply.
func (b *Bot) record(conversationID string, m *discordgo.MessageCreate) {
	msg := conversation.Message{
		Author:    m.Author.Username,
		Content:   m.Content,
		Timestamp: m.Timestamp,
		IsReply:   m.MessageReference != nil,
	}
	if ref := m.ReferencedMessage; ref != nil && ref.Author != nil {
		msg.Referenced = &conversation.Message{
			Author:    ref.Author.Username,
			Content:   ref.Content,
			Timestamp: ref.Timestamp,
		}
	}
	if err := b.convs.AppendMessage(conversationID, msg); err != nil {
		b.logger.Error("recording message", "id", conversationID, "error", err)
	}
}

func (b *Bot) respond(ctx context.Context, conversationID string, at time.Time) {
	text, err := b.coord.Generate(ctx, conversationID, at)
	if err != nil {
		switch {
		case errors.Is(err, responder.ErrBusy), errors.Is(err, context.Canceled):
		case errors.Is(err, responder.ErrGenerationFailed):
			b.send(conversationID, failureNotice)
		default:
			b.logger.Error("response generation", "id", conversationID, "error", err)
		}
		return
	}

	text = strings.TrimSpace(text)
	if text == "" {
		b.logger.Info("model returned an empty reply", "id", conversationID)
		return
	}

	// The reply is logged at the same timestamp the prompt's open entry used.
	if err := b.convs.AppendMessage(conversationID, conversation.Message{
		Author:    b.cfg.BotName,
		Content:   text,
		Timestamp: at,
	}); err != nil {
		b.logger.Error("recording reply", "id", conversationID, "error", err)
	}

	b.send(conversationID, text)
	b.persist(conversationID)
}

func (b *Bot) persist(conversationID string) {
	conv, ok := b.convs.Get(conversationID)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if _, err := b.db.Save(ctx, conv, false); err != nil {
		b.logger.Error("saving conversation", "id", conversationID, "error", err)
	}
}

func (b *Bot) send(channelID, content string) {
	if content == "" {
		return
	}
	for _, chunk := range splitMessage(content, maxMessageSize) {
		if _, err := b.session.ChannelMessageSend(channelID, chunk); err != nil {
			b.logger.Error("sending message", "channel", channelID, "error", err)
			return
		}
	}
}

// splitMessage breaks content into chunks under the platform's message size
// limit, preferring newline boundaries. The limit counts characters, so cuts
// land on rune boundaries and never inside a multi-byte sequence.
func splitMessage(s string, limit int) []string {
	runes := []rune(s)
	if len(runes) <= limit {
		return []string{s}
	}
	var chunks []string
	for len(runes) > limit {
		cut := limit
		skipNewline := false
		for i := limit - 1; i > 0; i-- {
			if runes[i] == '\n' {
				cut = i
				skipNewline = true
				break
			}
		}
		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]
		if skipNewline {
			runes = runes[1:]
		}
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}

func (b *Bot) initiateDM(conversationID, author string) error {
	prompt := conversation.RenderPrompt(b.cfg.DMPrompt, conversation.ServerContext{}, []string{author})
	_, err := b.convs.Create(conversation.CreateParams{
		ID:             conversationID,
		Name:           author,
		Prompt:         prompt,
		Model:          b.cfg.DefaultModel,
		ReplyFrequency: conversation.DMReplyFrequency,
		IsDM:           true,
		Author:         author,
	})
	return err
}

// initiateFromCommand backs the admin "invite" command. It pulls the channel
// and guild metadata needed to fill the prompt placeholders.
func (b *Bot) initiateFromCommand(_ context.Context, req *admin.Request) (string, error) {
	channel, err := b.session.Channel(req.ConversationID)
	if err != nil {
		return "", fmt.Errorf("looking up channel: %w", err)
	}

	if channel.Type == discordgo.ChannelTypeDM {
		if err := b.initiateDM(req.ConversationID, req.Author); err != nil {
			return "", err
		}
		return arrivalNotice, nil
	}

	server := conversation.ServerContext{
		ChannelName:  channel.Name,
		ChannelTopic: channel.Topic,
	}
	if guild, err := b.session.Guild(channel.GuildID); err == nil {
		server.ServerName = guild.Name
	}

	prompt := conversation.RenderPrompt(b.cfg.ChannelPrompt, server, []string{req.Author})
	if _, err := b.convs.Create(conversation.CreateParams{
		ID:             req.ConversationID,
		Name:           channel.Name,
		Prompt:         prompt,
		Model:          b.cfg.DefaultModel,
		ReplyFrequency: conversation.DefaultReplyFrequency,
		Server:         server,
		Author:         req.Author,
	}); err != nil {
		return "", err
	}
	return arrivalNotice, nil
}
