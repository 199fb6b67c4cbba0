package discord

import (
	"bytes"
	"fmt"

	"github.com/bwmarrin/discordgo"
	discordpkg "github.com/foxseedlab/vrchat-asr/internal/discord"
)

// discordMessageLimit is the maximum content length of a channel message.
const discordMessageLimit = 2000

type Client struct {
	session *discordgo.Session
}

func NewClient(token string) (discordpkg.Client, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	return &Client{session: s}, nil
}

func (c *Client) SendChannelMessage(channelID, content string) error {
	_, err := c.session.ChannelMessageSend(channelID, truncateMessage(content))
	return err
}

func (c *Client) SendChannelMessageWithFile(msg discordpkg.FileMessage) error {
	_, err := c.session.ChannelMessageSendComplex(msg.ChannelID, &discordgo.MessageSend{
		Content: truncateMessage(msg.Content),
		Files: []*discordgo.File{
			{Name: msg.Filename, ContentType: "text/plain", Reader: bytes.NewReader(msg.FileBody)},
		},
	})
	return err
}

// ResolveChannelName returns the channel's name, or its ID when the lookup
// fails.
func (c *Client) ResolveChannelName(channelID string) string {
	if c.session.State != nil {
		channel, err := c.session.State.Channel(channelID)
		if err == nil && channel != nil && channel.Name != "" {
			return channel.Name
		}
	}
	channel, err := c.session.Channel(channelID)
	if err != nil || channel == nil || channel.Name == "" {
		return channelID
	}
	return channel.Name
}

func truncateMessage(content string) string {
	runes := []rune(content)
	if len(runes) <= discordMessageLimit {
		return content
	}
	return string(runes[:discordMessageLimit-1]) + "…"
}
