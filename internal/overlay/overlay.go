package overlay

// Sender delivers display state to the VRChat chatbox.
type Sender interface {
	SendTyping(typing bool) error
	SendInput(text string, bypassKeyboard, sfx bool) error
}
