// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aiku/roombridge/pkg/links"
	"github.com/aiku/roombridge/pkg/metrics"
	"github.com/aiku/roombridge/pkg/mmfmt"
)

const whoamiTimeLayout = "02.01.2006 15:04"

// parseCommand splits "!link LINK-AB12" into ("link", ["LINK-AB12"]).
func parseCommand(prefix, text string) (name string, args []string) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 {
		return "", nil
	}
	return strings.ToLower(strings.TrimPrefix(fields[0], prefix)), fields[1:]
}

func (b *Bridge) handleCommand(ctx context.Context, msg ChatMessage) {
	name, args := parseCommand(b.cfg.CommandPrefix, msg.Text)
	log := b.log.With().Str("command", name).Str("chat_user_id", msg.Sender.ID).Logger()

	var reply string
	switch name {
	case "start":
		reply = b.startText()
	case "help":
		reply = b.helpText()
	case "link":
		reply = b.cmdLink(ctx, msg.Sender, args)
	case "unlink":
		reply = b.cmdUnlink(ctx, msg.Sender)
	case "whoami":
		reply = b.cmdWhoami(ctx, msg.Sender)
	case "r", "reaction":
		if len(args) == 0 {
			metrics.Commands.WithLabelValues(name).Inc()
			b.sendPalette(ctx, msg.ChannelID)
			return
		}
		reply = b.cmdReaction(ctx, msg.Sender, strings.Join(args, " "))
	default:
		log.Debug().Msg("Ignoring unknown command")
		return
	}
	metrics.Commands.WithLabelValues(name).Inc()
	log.Debug().Msg("Handled command")
	b.reply(ctx, msg.ChannelID, reply)
}

func (b *Bridge) reply(ctx context.Context, channelID, text string) {
	if err := b.send(ctx, channelID, text); err != nil {
		b.log.Warn().Err(err).Str("channel_id", channelID).Msg("Failed to send command reply")
	}
}

func (b *Bridge) cmdLink(ctx context.Context, user ChatUser, args []string) string {
	p := b.cfg.CommandPrefix
	if len(args) == 0 {
		return "❌ Please give a code.\n\n" +
			"Usage: `" + p + "link LINK-XXXX`\n\n" +
			"You get a code on the site with the \"🔗 Link chat\" button."
	}
	link, err := b.links.Redeem(ctx, args[0], links.ChatIdentity{
		UserID:      user.ID,
		Username:    user.Username,
		DisplayName: user.Name(),
	})
	metrics.LinkOperations.WithLabelValues("link", linkResult(err)).Inc()

	var already *links.AlreadyLinkedError
	switch {
	case err == nil:
		return fmt.Sprintf("✅ **Linked!**\n\nYou are now **%s** 🎨\n\n"+
			"Your messages will show on the site with this name and color.", mmfmt.EscapeName(link.SiteName))
	case errors.As(err, &already):
		return fmt.Sprintf("⚠️ Your chat account is already linked to **%s**.\n\n"+
			"Unlink it first with `%sunlink`.", mmfmt.EscapeName(already.Link.SiteName), p)
	case errors.Is(err, links.ErrInvalidCode):
		return "❌ Invalid code.\n\nCheck that you copied the code from the site correctly."
	case errors.Is(err, links.ErrCodeExpired):
		return "⏰ This code has expired.\n\nCodes are valid for 5 minutes. Generate a new one on the site."
	case errors.Is(err, links.ErrCodeAlreadyUsed):
		return "❌ This code has already been used."
	default:
		b.log.Error().Err(err).Str("chat_user_id", user.ID).Msg("Failed to redeem link code")
		return "❌ Something went wrong while linking. Please try again."
	}
}

func (b *Bridge) cmdUnlink(ctx context.Context, user ChatUser) string {
	link, err := b.links.Unlink(ctx, user.ID)
	metrics.LinkOperations.WithLabelValues("unlink", linkResult(err)).Inc()
	switch {
	case err == nil:
		return fmt.Sprintf("✅ Unlinked from **%s**.\n\nYour messages will now appear as %s messages.",
			mmfmt.EscapeName(link.SiteName), mmfmt.EscapeName(b.cfg.ChatTag))
	case errors.Is(err, links.ErrNotLinked):
		return "ℹ️ Your chat account is not linked to any site account."
	default:
		b.log.Error().Err(err).Str("chat_user_id", user.ID).Msg("Failed to unlink")
		return "❌ Failed to unlink."
	}
}

func (b *Bridge) cmdWhoami(ctx context.Context, user ChatUser) string {
	link, err := b.links.ResolveByChatID(ctx, user.ID)
	if err != nil {
		b.log.Error().Err(err).Str("chat_user_id", user.ID).Msg("Failed to look up link")
		return "❌ Could not check your link right now. Please try again."
	}
	if link != nil {
		return fmt.Sprintf("✅ **You are linked!**\n\n"+
			"👤 Site name: **%s**\n"+
			"🎨 Color: `%s`\n"+
			"🔗 Linked: %s\n\n"+
			"Your messages show with this name and color.",
			mmfmt.EscapeName(link.SiteName),
			link.SiteColor,
			link.LinkedAt.Time.In(b.cfg.Location).Format(whoamiTimeLayout))
	}
	return fmt.Sprintf("⚪ **Not linked**\n\n"+
		"👤 Chat: %s\n"+
		"🆔 ID: `%s`\n\n"+
		"Your messages show with the %s prefix.\n"+
		"Use `%slink CODE` to link your site account.",
		mmfmt.EscapeName(user.Name()), user.ID, mmfmt.EscapeName(b.cfg.ChatTag), b.cfg.CommandPrefix)
}

func (b *Bridge) cmdReaction(ctx context.Context, user ChatUser, emoji string) string {
	if err := b.RelayReaction(ctx, user, emoji, SourceCommand); err != nil {
		return "❌ Failed to send the reaction."
	}
	return "✅ Reaction sent: " + emoji
}

func (b *Bridge) sendPalette(ctx context.Context, channelID string) {
	text := "🎭 Pick a reaction by reacting to this post.\n\n" +
		"Or send any emoji: `" + b.cfg.CommandPrefix + "r 🎉`"
	ctx, cancel := context.WithTimeout(ctx, b.cfg.SendTimeout)
	defer cancel()
	if err := b.chat.SendPalette(ctx, channelID, text, SitePalette); err != nil {
		b.log.Warn().Err(err).Str("channel_id", channelID).Msg("Failed to send reaction palette")
	}
}

func (b *Bridge) startText() string {
	p := b.cfg.CommandPrefix
	return "🎮 **Room bridge**\n\n" +
		"This bot syncs the chat between the site and this channel.\n\n" +
		"**Commands:**\n" +
		"`" + p + "link CODE` - link your site account\n" +
		"`" + p + "unlink` - unlink your account\n" +
		"`" + p + "whoami` - check your link\n" +
		"`" + p + "r` or `" + p + "reaction` - send a reaction\n" +
		"`" + p + "help` - help\n\n" +
		"**How to link:**\n" +
		"1. On the site, press \"🔗 Link chat\"\n" +
		"2. Copy the code (looks like LINK-XXXX)\n" +
		"3. Send it here: `" + p + "link LINK-XXXX`\n\n" +
		"Once linked, your messages show with your site name and color! 🎨"
}

func (b *Bridge) helpText() string {
	p := b.cfg.CommandPrefix
	tag := mmfmt.EscapeName(b.cfg.ChatTag)
	return "📖 **Help**\n\n" +
		"**Commands:**\n" +
		"• `" + p + "link CODE` - link your account\n" +
		"• `" + p + "unlink` - unlink your account\n" +
		"• `" + p + "whoami` - your status\n" +
		"• `" + p + "r` or `" + p + "reaction` - reaction palette\n\n" +
		"**How it works:**\n" +
		"✅ Linked users post with their site name and color\n" +
		"⚪ Everyone else posts with the " + tag + " prefix\n\n" +
		"**Reactions:**\n" +
		"Use `" + p + "r` to open the palette, or send any emoji directly:\n" +
		"`" + p + "r 🎉` or `" + p + "reaction ❤️`"
}

func linkResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, links.ErrAlreadyLinked):
		return "already_linked"
	case errors.Is(err, links.ErrInvalidCode):
		return "invalid_code"
	case errors.Is(err, links.ErrCodeExpired):
		return "expired"
	case errors.Is(err, links.ErrCodeAlreadyUsed):
		return "used"
	case errors.Is(err, links.ErrNotLinked):
		return "not_linked"
	default:
		return "error"
	}
}
