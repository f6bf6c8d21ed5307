// Copyright 2024-2026 Aiku AI

package mattermost

import (
	"strings"
	"text/template"
)

// DefaultDisplaynameTemplate prefers the nickname, then the first name, then
// the username.
const DefaultDisplaynameTemplate = "{{or .Nickname .FirstName .Username}}"

// Config holds the Mattermost connection settings.
type Config struct {
	ServerURL string `yaml:"server_url"`
	// Token is the bot account's personal access token. Usually supplied
	// through MATTERMOST_TOKEN rather than the config file.
	Token               string `yaml:"token"`
	DisplaynameTemplate string `yaml:"displayname_template"`
	// BotPrefix is a username prefix for echo prevention. Any Mattermost
	// username starting with it is treated as a bridge-managed bot and its
	// posts are never relayed. Leave empty to disable prefix filtering.
	BotPrefix string `yaml:"bot_prefix"`
	// RelayNativeReactions relays every reaction added in the primary
	// channel, not just palette picks.
	RelayNativeReactions bool `yaml:"relay_native_reactions"`

	displaynameTemplate *template.Template `yaml:"-"`
}

// PostProcess compiles the displayname template.
func (c *Config) PostProcess() error {
	tpl := c.DisplaynameTemplate
	if tpl == "" {
		tpl = DefaultDisplaynameTemplate
	}
	var err error
	c.displaynameTemplate, err = template.New("displayname").Parse(tpl)
	return err
}

// DisplaynameParams holds the parameters for rendering the displayname template.
type DisplaynameParams struct {
	Username  string
	Nickname  string
	FirstName string
	LastName  string
}

// FormatDisplayname renders the displayname template, falling back to the
// username when the template is missing, fails or renders blank.
func (c *Config) FormatDisplayname(params DisplaynameParams) string {
	if c.displaynameTemplate == nil {
		return params.Username
	}
	var sb strings.Builder
	if err := c.displaynameTemplate.Execute(&sb, params); err != nil {
		return params.Username
	}
	if name := strings.TrimSpace(sb.String()); name != "" {
		return name
	}
	return params.Username
}
