package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/chzyer/readline"
	"github.com/mahaj/dupahar-composer/pkg/channelstore"
	"github.com/mahaj/dupahar-composer/pkg/composer"
	"github.com/mahaj/dupahar-composer/pkg/config"
	"github.com/mahaj/dupahar-composer/pkg/emoji"
	"github.com/mahaj/dupahar-composer/pkg/logging"
	"github.com/mahaj/dupahar-composer/pkg/model"
	"github.com/mahaj/dupahar-composer/pkg/upload"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

const closeTimeout = 5 * time.Second

type LoginResponse struct {
	Token string `json:"token"`
}

func login(ctx context.Context, apiAddr, userID, name string) (string, error) {
	reqBody, _ := json.Marshal(map[string]string{"user_id": userID, "name": name})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiAddr+"/login", bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("login failed: %s", strings.TrimSpace(string(body)))
	}

	var loginResp LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&loginResp); err != nil {
		return "", err
	}
	return loginResp.Token, nil
}

// dmChannel names the direct channel between two users independent of order.
func dmChannel(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("dm:%s:%s", a, b)
}

type options struct {
	addr    string
	api     string
	user    string
	name    string
	channel string
	dm      string
	private bool
}

func newRootCmd(cfg *config.Config) *cobra.Command {
	o := &options{}
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat composer",
		Long: `chat connects to the gateway and opens a composer for one channel.

Typing updates presence as you type; Enter sends the line. Commands start
with "/", see /help once connected.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cfg, o)
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.addr, "addr", "localhost"+cfg.GatewayAddr, "gateway service address")
	f.StringVar(&o.api, "api", "http://localhost"+cfg.APIAddr, "api service address")
	f.StringVar(&o.user, "user", "user1", "user id")
	f.StringVar(&o.name, "name", "", "display name (defaults to the user id)")
	f.StringVar(&o.channel, "channel", "general", "channel id")
	f.StringVar(&o.dm, "dm", "", "user id to dm (overrides --channel)")
	f.BoolVar(&o.private, "private", false, "store uploads for this channel under the private prefix")
	return cmd
}

func run(ctx context.Context, cfg *config.Config, o *options) error {
	logger := logging.New(cfg.LogFormat, cfg.LogLevel).With("service", "client")
	if o.name == "" {
		o.name = o.user
	}
	channel := composer.Channel{ID: o.channel, Private: o.private}
	if o.dm != "" {
		channel = composer.Channel{ID: dmChannel(o.user, o.dm), Private: true}
	}

	token, err := login(ctx, o.api, o.user, o.name)
	if err != nil {
		return err
	}
	remote, err := channelstore.DialRemote(ctx, o.addr, token, channel.ID, logger)
	if err != nil {
		return err
	}
	defer remote.Close()

	tr, err := emoji.LoadOrDefault(afero.NewOsFs(), cfg.EmojiFile)
	if err != nil {
		return err
	}
	c, err := composer.New(remote, remote, upload.NewHTTPBackend(o.api, token),
		model.Author{ID: o.user, Name: o.name}, channel,
		composer.WithEmoji(tr),
		composer.WithUploadRoot(cfg.UploadRoot),
		composer.WithChunkSize(int(cfg.UploadChunkSize)),
		composer.WithTypingRefresh(cfg.TypingRefresh()),
		composer.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	sh := &shell{c: c, subs: remote, fs: afero.NewOsFs(), emoji: tr, userID: o.user}
	rl, err := readline.NewEx(&readline.Config{
		Prompt: fmt.Sprintf("[%s] > ", channel.ID),
		Listener: readline.FuncListener(func(line []rune, pos int, key rune) ([]rune, int, bool) {
			// Enter is handled by exec once Readline returns.
			if key != readline.CharEnter {
				sh.onChange(string(line))
			}
			return nil, 0, false
		}),
	})
	if err != nil {
		return err
	}
	defer rl.Close()
	sh.out = rl.Stdout()
	remote.OnFrame(sh.onFrame)

	logger.Info("connected", "gateway", o.addr, "channel", channel.ID, "user", o.user)
	loop(ctx, rl, sh, remote)

	closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := c.Close(closeCtx); err != nil {
		logger.Warn("composer did not shut down cleanly", "error", err)
	}
	if err := sh.wait(closeCtx); err != nil {
		logger.Warn("pending work abandoned", "error", err)
	}
	return nil
}

func loop(ctx context.Context, rl *readline.Instance, sh *shell, remote *channelstore.Remote) {
	go func() {
		select {
		case <-remote.Done():
			sh.printf("! connection closed: %v", remote.Err())
		case <-ctx.Done():
		}
		rl.Close()
	}()
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			// Ctrl-C clears the line.
			sh.onChange("")
			continue
		}
		if err != nil {
			return
		}
		if sh.exec(ctx, line) {
			return
		}
		if ch := sh.c.State().Channel.ID; !strings.Contains(rl.Config.Prompt, "["+ch+"]") {
			rl.SetPrompt(fmt.Sprintf("[%s] > ", ch))
		}
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()
	if err := newRootCmd(cfg).ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
