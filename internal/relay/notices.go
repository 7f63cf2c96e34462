package relay

import "fmt"

const (
	noticeInvalidUsername  = "ERR: The provided username is invalid."
	noticeHandshakeTimeout = "ERR: timed out whilst waiting for username"
)

func welcomeNotice(username string, members int) string {
	return fmt.Sprintf("Welcome to the chat, %s! There's currently %s online.", username, MemberCountLabel(members))
}

func joinNotice(username string, members int) string {
	return fmt.Sprintf("%s has joined the chat. There's currently %s online.", username, MemberCountLabel(members))
}

func leftNotice(username string, members int) string {
	return fmt.Sprintf("%s has left the chat. There's now %s online.", username, MemberCountLabel(members))
}
