package bot

import (
	"fmt"
	"strings"

	"skland-checkin-bot/checkin"
	"skland-checkin-bot/command"
	"skland-checkin-bot/skland"
)

const (
	helpText = "森空岛签到机器人\n" +
		"1. 私聊发送 /skdlogin <token> 登录并签到\n" +
		"2. 私聊发送 /skdlogout 登出\n" +
		"3. /skd 查看签到状态，在群内使用会统计本群所有已绑定用户"

	tokenHowTo = "请先获取 token:\n" +
		"1. 登录鹰角网络通行证后打开 https://web-api.hypergryph.com/account/info/hg ，记下 content 字段的值。\n" +
		"   或登录森空岛网页版后打开 https://web-api.skland.com/account/info/hg 。\n" +
		"2. 私聊发送 /skdlogin <content>"

	notBoundText = "你还未绑定账号，请私聊发送 /skdlogin <token>"
)

func escapeMarkdownV2(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!', '\\':
			b.WriteRune('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func escapeMarkdownV2Code(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '`', '\\':
			b.WriteRune('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func statusIcon(s checkin.Status) string {
	switch s {
	case checkin.StatusSuccess, checkin.StatusAlreadyDone:
		return "✅"
	case checkin.StatusAuthExpired:
		return "⚠️"
	case checkin.StatusRateLimited:
		return "⏳"
	default:
		return "❌"
	}
}

func formatAwards(awards []skland.Award) string {
	if len(awards) == 0 {
		return "无奖励"
	}
	parts := make([]string, len(awards))
	for i, a := range awards {
		parts[i] = a.String()
	}
	return strings.Join(parts, ", ")
}

func resultLine(r checkin.Result) string {
	name := "`" + escapeMarkdownV2Code(r.Binding.AccountID) + "`"
	if r.Binding.Nickname != "" {
		name = escapeMarkdownV2(r.Binding.Nickname) + " " + name
	}
	head := fmt.Sprintf("%s *%s* %s", statusIcon(r.Status), escapeMarkdownV2(r.Binding.Game.DisplayName()), name)

	switch r.Status {
	case checkin.StatusSuccess:
		return head + escapeMarkdownV2(fmt.Sprintf(" 签到成功 (%s)", formatAwards(r.Awards)))
	case checkin.StatusAlreadyDone:
		return head + escapeMarkdownV2(" 今日已签到")
	case checkin.StatusRateLimited:
		return head + escapeMarkdownV2(" 请求过于频繁: "+r.Message)
	default:
		return head + escapeMarkdownV2(" 签到失败: "+r.Message)
	}
}

// renderUser is the private view of one user's report.
func renderUser(u checkin.UserReport) string {
	switch u.State {
	case checkin.StateNotBound:
		return escapeMarkdownV2(notBoundText)
	case checkin.StateRevoked:
		return escapeMarkdownV2("❌ token 已失效，已自动解绑。请重新发送 /skdlogin <token>")
	case checkin.StateFailed:
		return escapeMarkdownV2("⚠️ 查询失败: " + u.Message)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "*【%s】*\n", escapeMarkdownV2(u.Name()))
	if len(u.Results) == 0 {
		b.WriteString(escapeMarkdownV2("没有绑定游戏"))
		return b.String()
	}
	for i, r := range u.Results {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(resultLine(r))
	}
	return b.String()
}

func renderLogin(u *checkin.UserReport) string {
	switch u.State {
	case checkin.StateRevoked:
		return escapeMarkdownV2("❌ 登录失败: token 无效或已过期，未保存。\n\n" + tokenHowTo)
	case checkin.StateFailed:
		return escapeMarkdownV2("⚠️ token 已保存，但暂时无法签到: " + u.Message + "\n稍后可发送 /skd 重试")
	}
	return "✅ *登录成功\\!*\n\n" + renderUser(*u)
}

func renderAutoSign(u checkin.UserReport) string {
	return "🎮 *森空岛自动签到结果*\n\n" + renderUser(u)
}

// renderGroup is the per-binding table for a group status query.
func renderGroup(reply *command.StatusReply) string {
	lines := []string{
		"📊 *森空岛签到统计*",
		"═══════════════",
		escapeMarkdownV2("状态 | 游戏 | 昵称"),
		escapeMarkdownV2("-----------------"),
	}

	if len(reply.Report.Users) == 0 {
		lines = append(lines, escapeMarkdownV2("本群暂无已绑定用户"))
	}
	for _, u := range reply.Report.Users {
		switch u.State {
		case checkin.StateRevoked:
			lines = append(lines, escapeMarkdownV2(fmt.Sprintf("❌ | - | %s (token 已失效，已自动解绑)", u.Name())))
			continue
		case checkin.StateFailed:
			lines = append(lines, escapeMarkdownV2(fmt.Sprintf("⚠️ | - | %s (%s)", u.Name(), u.Message)))
			continue
		case checkin.StateNotBound:
			// Logged-out members keep their enrollment but get no row.
			continue
		}
		if len(u.Results) == 0 {
			lines = append(lines, escapeMarkdownV2(fmt.Sprintf("➖ | - | %s (没有绑定游戏)", u.Name())))
		}
		for _, r := range u.Results {
			name := r.Binding.Nickname
			if name == "" {
				name = u.Name()
			}
			lines = append(lines, escapeMarkdownV2(fmt.Sprintf("%s | %s | %s", statusIcon(r.Status), r.Binding.Game.DisplayName(), name)))
		}
	}

	if !reply.SenderBound {
		lines = append(lines, "", escapeMarkdownV2(notBoundText))
	}
	return strings.Join(lines, "\n")
}
