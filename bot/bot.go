package bot

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"skland-checkin-bot/checkin"
	"skland-checkin-bot/command"
	"skland-checkin-bot/registry"

	"gopkg.in/telebot.v3"
)

const handlerTimeout = 2 * time.Minute

type Bot struct {
	B       *telebot.Bot
	Surface *command.Surface
	logger  *slog.Logger
}

func NewBot(token string, surface *command.Surface, logger *slog.Logger) (*Bot, error) {
	pref := telebot.Settings{
		Token:  token,
		Poller: &telebot.LongPoller{Timeout: 10 * time.Second},
		OnError: func(err error, c telebot.Context) {
			logger.Error("telegram handler failed", slog.String("error", err.Error()))
		},
	}

	b, err := telebot.NewBot(pref)
	if err != nil {
		return nil, err
	}

	bot := &Bot{
		B:       b,
		Surface: surface,
		logger:  logger,
	}
	bot.registerHandlers()
	return bot, nil
}

func (bot *Bot) Start() {
	bot.B.Start()
}

func (bot *Bot) Stop() {
	bot.B.Stop()
}

func (bot *Bot) registerHandlers() {
	bot.B.Handle("/start", bot.handleHelp)
	bot.B.Handle("/skdhelp", bot.handleHelp)
	bot.B.Handle("/skdlogin", bot.handleLogin)
	bot.B.Handle("/skdlogout", bot.handleLogout)
	bot.B.Handle("/skd", bot.handleStatus)
}

func identity(u *telebot.User) registry.Identity {
	return registry.Identity(strconv.FormatInt(u.ID, 10))
}

func displayName(u *telebot.User) string {
	if u.Username != "" {
		return u.Username
	}
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

func isPrivate(c telebot.Context) bool {
	return c.Chat() != nil && c.Chat().Type == telebot.ChatPrivate
}

// querying sends a temporary notice; the returned func removes it.
func (bot *Bot) querying(c telebot.Context, text string) func() {
	msg, err := bot.B.Send(c.Recipient(), text)
	if err != nil {
		return func() {}
	}
	return func() {
		if err := bot.B.Delete(msg); err != nil {
			bot.logger.Warn("failed to delete notice", slog.String("error", err.Error()))
		}
	}
}

// --- Handlers ---

func (bot *Bot) handleHelp(c telebot.Context) error {
	return c.Send(helpText)
}

func (bot *Bot) handleLogin(c telebot.Context) error {
	if !isPrivate(c) {
		return c.Reply("⚠️ 为保护 token 安全，请私聊机器人发送 /skdlogin <token>")
	}
	token := strings.TrimSpace(c.Message().Payload)
	if token == "" {
		return c.Send(tokenHowTo)
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	done := bot.querying(c, "正在登录并签到，请稍候...")
	ur, err := bot.Surface.Login(ctx, identity(c.Sender()), displayName(c.Sender()), token)
	done()
	if errors.Is(err, registry.ErrEmptyToken) {
		return c.Send(tokenHowTo)
	}
	if err != nil {
		bot.logger.Error("skdlogin failed", slog.Int64("user_id", c.Sender().ID), slog.String("error", err.Error()))
		return c.Send("❌ 登录失败，请稍后再试")
	}
	return c.Send(renderLogin(ur), telebot.ModeMarkdownV2)
}

func (bot *Bot) handleLogout(c telebot.Context) error {
	if !isPrivate(c) {
		return c.Reply("请私聊机器人发送 /skdlogout")
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	removed, err := bot.Surface.Logout(ctx, identity(c.Sender()))
	if err != nil {
		bot.logger.Error("skdlogout failed", slog.Int64("user_id", c.Sender().ID), slog.String("error", err.Error()))
		return c.Send("❌ 登出失败，请稍后再试")
	}
	if !removed {
		return c.Send("你尚未绑定森空岛账号")
	}
	return c.Send("✅ 已退出登录并清除绑定信息")
}

func (bot *Bot) handleStatus(c telebot.Context) error {
	chat := command.Chat{}
	if !isPrivate(c) {
		chat.GroupID = strconv.FormatInt(c.Chat().ID, 10)
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	done := bot.querying(c, "正在查询中，请稍候...")
	reply, err := bot.Surface.Status(ctx, identity(c.Sender()), chat)
	done()
	if err != nil {
		bot.logger.Error("skd failed",
			slog.Int64("user_id", c.Sender().ID),
			slog.String("group", chat.GroupID),
			slog.String("error", err.Error()),
		)
		return c.Send("❌ 查询失败，请稍后再试")
	}

	if reply.Group {
		return c.Send(renderGroup(reply), telebot.ModeMarkdownV2)
	}
	return c.Send(renderUser(reply.Report.Users[0]), telebot.ModeMarkdownV2)
}

// AutoSign is called by the cron scheduler. Each user gets their result
// in a private chat.
func (bot *Bot) AutoSign() {
	start := time.Now()
	report, err := bot.Surface.Sweep(context.Background())
	if err != nil {
		bot.logger.Error("auto sign failed", slog.String("error", err.Error()))
		return
	}

	for _, u := range report.Users {
		if u.State == checkin.StateNotBound {
			continue
		}
		id, err := strconv.ParseInt(string(u.Account.Identity), 10, 64)
		if err != nil {
			bot.logger.Warn("auto sign: identity is not a chat id", slog.String("user", string(u.Account.Identity)))
			continue
		}
		if _, err := bot.B.Send(telebot.ChatID(id), renderAutoSign(u), telebot.ModeMarkdownV2); err != nil {
			bot.logger.Error("auto sign: send failed", slog.Int64("user_id", id), slog.String("error", err.Error()))
		}
	}

	bot.logger.Info("auto sign finished",
		slog.String("run_id", report.RunID),
		slog.Int("users", len(report.Users)),
		slog.Duration("took", time.Since(start)),
	)
}
