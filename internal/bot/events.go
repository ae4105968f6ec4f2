package bot

import "github.com/suPer8Hu/relay-bot/internal/mode"

type User struct {
	ID   int64  `json:"id" binding:"required"`
	Name string `json:"name"`
}

type Text struct {
	User   User   `json:"user"`
	ChatID int64  `json:"chat_id" binding:"required"`
	Text   string `json:"text"`
}

type Photo struct {
	User   User   `json:"user"`
	ChatID int64  `json:"chat_id" binding:"required"`
	URL    string `json:"url" binding:"required"`
	// Caption sent together with the photo is used as the instruction right away.
	Caption string `json:"caption"`
}

type Callback struct {
	User      User   `json:"user"`
	ChatID    int64  `json:"chat_id" binding:"required"`
	MessageID int64  `json:"message_id"`
	Data      string `json:"data" binding:"required"`
}

type Cancel struct {
	User   User  `json:"user"`
	ChatID int64 `json:"chat_id" binding:"required"`
}

type Command struct {
	User   User   `json:"user"`
	ChatID int64  `json:"chat_id" binding:"required"`
	Name   string `json:"name" binding:"required"`
}

func keyOf(u User, chatID int64) mode.Key {
	return mode.Key{UserID: u.ID, ChatID: chatID}
}
