package discord

type FileMessage struct {
	ChannelID string
	Content   string
	Filename  string
	FileBody  []byte
}

// Client is the REST surface used to mirror the chatbox into a text channel.
type Client interface {
	SendChannelMessage(channelID, content string) error
	SendChannelMessageWithFile(msg FileMessage) error
	ResolveChannelName(channelID string) string
}
