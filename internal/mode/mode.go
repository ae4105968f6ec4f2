// Package mode tracks which interactive feature a user is in and owns the
// transient per-conversation working data that goes with it.
package mode

type Mode string

const (
	Idle                         Mode = "idle"
	AwaitingChatVoiceReply       Mode = "awaiting_chat_voice_reply"
	AwaitingSearchQuery          Mode = "awaiting_search_query"
	AwaitingImagePrompt          Mode = "awaiting_image_prompt"
	AwaitingImageCaptionTarget   Mode = "awaiting_image_caption_target"
	AwaitingTextToVoice          Mode = "awaiting_text_to_voice"
	AwaitingImageVariationUpload Mode = "awaiting_image_variation_upload"
	AwaitingBroadcastBody        Mode = "awaiting_broadcast_body"
	AwaitingAdminImagePrompt     Mode = "awaiting_admin_image_prompt"
)

type properties struct {
	// sticky modes stay active after each answer until an explicit exit.
	sticky     bool
	privileged bool
	// photoInput modes consume photo uploads instead of text.
	photoInput bool
}

var table = map[Mode]properties{
	Idle:                         {},
	AwaitingChatVoiceReply:       {sticky: true},
	AwaitingSearchQuery:          {sticky: true},
	AwaitingImagePrompt:          {},
	AwaitingImageCaptionTarget:   {},
	AwaitingTextToVoice:          {},
	AwaitingImageVariationUpload: {photoInput: true},
	AwaitingBroadcastBody:        {privileged: true},
	AwaitingAdminImagePrompt:     {privileged: true},
}

func (m Mode) Valid() bool {
	_, ok := table[m]
	return ok
}

func (m Mode) Sticky() bool { return table[m].sticky }

func (m Mode) Privileged() bool { return table[m].privileged }

func (m Mode) AcceptsPhoto() bool { return table[m].photoInput }

func (m Mode) String() string { return string(m) }
