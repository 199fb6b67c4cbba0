package osc

import (
	"fmt"

	"github.com/foxseedlab/vrchat-asr/internal/overlay"
	"github.com/hypebeast/go-osc/osc"
)

const (
	addressTyping = "/chatbox/typing"
	addressInput  = "/chatbox/input"
)

var _ overlay.Sender = (*ChatboxSender)(nil)

// ChatboxSender writes VRChat chatbox messages as OSC datagrams.
type ChatboxSender struct {
	client *osc.Client
}

func NewChatboxSender(host string, port int) *ChatboxSender {
	return &ChatboxSender{client: osc.NewClient(host, port)}
}

func (s *ChatboxSender) SendTyping(typing bool) error {
	if err := s.client.Send(osc.NewMessage(addressTyping, typing)); err != nil {
		return fmt.Errorf("send %s: %w", addressTyping, err)
	}
	return nil
}

func (s *ChatboxSender) SendInput(text string, bypassKeyboard, sfx bool) error {
	if err := s.client.Send(osc.NewMessage(addressInput, text, bypassKeyboard, sfx)); err != nil {
		return fmt.Errorf("send %s: %w", addressInput, err)
	}
	return nil
}
