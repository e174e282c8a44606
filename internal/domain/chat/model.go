package chat

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/carelink/carelink/internal/platform/blobstore"
)

const ThreadStatusActive = "active"

// Thread is the conversation record for one unordered pair of participants.
type Thread struct {
	ID              string    `json:"id"`
	Participants    [2]string `json:"participants"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
	LastMessage     string    `json:"last_message"`
	LastMessageTime time.Time `json:"last_message_time"`
	// UnreadCounts maps recipient id to unread messages. Filled on single reads.
	UnreadCounts map[string]int `json:"unread_counts,omitempty"`
	// Unread is the caller's own count in thread listings.
	Unread int `json:"unread"`
	// Created is set when the EnsureThread call that returned it created the row.
	Created bool `json:"-"`
}

// HasParticipant reports whether id is one of the thread's pair.
func (t *Thread) HasParticipant(id string) bool {
	return t.Participants[0] == id || t.Participants[1] == id
}

// Other returns the participant that is not id.
func (t *Thread) Other(id string) string {
	if t.Participants[0] == id {
		return t.Participants[1]
	}
	return t.Participants[0]
}

// PayloadKind names which payload field a message carries.
type PayloadKind string

const (
	KindText  PayloadKind = "text"
	KindImage PayloadKind = "image"
	KindVideo PayloadKind = "video"
	KindAudio PayloadKind = "audio"
)

var mediaLabels = map[PayloadKind]string{
	KindImage: "📷 Image",
	KindVideo: "🎥 Video",
	KindAudio: "🎤 Audio",
}

// MediaLabel is the text shown in place of a media message, in thread
// previews, reply previews and notifications. It is empty for text.
func MediaLabel(kind PayloadKind) string { return mediaLabels[kind] }

// Payload holds exactly one of text or a media reference.
type Payload struct {
	Text     *string `json:"text,omitempty"`
	ImageURI *string `json:"image_uri,omitempty"`
	VideoURI *string `json:"video_uri,omitempty"`
	AudioURI *string `json:"audio_uri,omitempty"`
}

// TextPayload builds a text payload.
func TextPayload(text string) Payload {
	return Payload{Text: &text}
}

// MediaPayload builds a payload referencing an uploaded asset.
func MediaPayload(kind PayloadKind, uri string) Payload {
	switch kind {
	case KindImage:
		return Payload{ImageURI: &uri}
	case KindVideo:
		return Payload{VideoURI: &uri}
	case KindAudio:
		return Payload{AudioURI: &uri}
	}
	return Payload{}
}

// Kind returns the kind of the first set field. Validate guarantees there is
// exactly one.
func (p Payload) Kind() PayloadKind {
	switch {
	case p.Text != nil:
		return KindText
	case p.ImageURI != nil:
		return KindImage
	case p.VideoURI != nil:
		return KindVideo
	case p.AudioURI != nil:
		return KindAudio
	}
	return ""
}

func (p Payload) Validate() error {
	set := 0
	for _, f := range []*string{p.Text, p.ImageURI, p.VideoURI, p.AudioURI} {
		if f != nil {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("message must carry exactly one of text, image, video or audio (got %d)", set)
	}
	switch p.Kind() {
	case KindText:
		if strings.TrimSpace(*p.Text) == "" {
			return fmt.Errorf("message text is empty")
		}
	default:
		for _, uri := range []*string{p.ImageURI, p.VideoURI, p.AudioURI} {
			if uri != nil && strings.TrimSpace(*uri) == "" {
				return fmt.Errorf("%s reference is empty", p.Kind())
			}
		}
	}
	return nil
}

// Preview is the literal text, or the fixed label of a media kind.
func (p Payload) Preview() string {
	if p.Text != nil {
		return *p.Text
	}
	return MediaLabel(p.Kind())
}

// Message is one entry of a thread's log.
type Message struct {
	ID          uuid.UUID `json:"id"`
	ThreadID    string    `json:"thread_id"`
	SenderID    string    `json:"sender_id"`
	RecipientID string    `json:"recipient_id"`
	CreatedAt   time.Time `json:"created_at"`
	Payload
	ReplyToID      *uuid.UUID `json:"reply_to_id,omitempty"`
	ReplyToPreview *string    `json:"reply_to_preview,omitempty"`
	Read           bool       `json:"read"`
}

// AppendRequest is the input of Append.
type AppendRequest struct {
	ThreadID    string
	SenderID    string
	RecipientID string
	Payload     Payload
	ReplyToID   *uuid.UUID
}

func (r AppendRequest) validate() error {
	if r.ThreadID == "" {
		return fmt.Errorf("thread id is required")
	}
	if !validParticipant(r.SenderID) || !validParticipant(r.RecipientID) {
		return fmt.Errorf("sender and recipient are required")
	}
	if r.SenderID == r.RecipientID {
		return fmt.Errorf("sender and recipient must differ")
	}
	return r.Payload.Validate()
}

// MediaRequest is the input of SendMedia. Body is uploaded before the
// message is appended.
type MediaRequest struct {
	ThreadID    string
	SenderID    string
	RecipientID string
	Kind        PayloadKind
	FileName    string
	ContentType string
	Body        io.Reader
	ReplyToID   *uuid.UUID
}

func (r MediaRequest) blobKind() (blobstore.Kind, error) {
	switch r.Kind {
	case KindImage:
		return blobstore.KindImage, nil
	case KindVideo:
		return blobstore.KindVideo, nil
	case KindAudio:
		return blobstore.KindAudio, nil
	}
	return "", fmt.Errorf("media kind must be image, video or audio")
}

// UnreadSummary is the dashboard badge payload.
type UnreadSummary struct {
	Total   int            `json:"total"`
	Threads map[string]int `json:"threads"`
}

// Event payloads published on the change stream.

type readEvent struct {
	ThreadID    string `json:"thread_id"`
	RecipientID string `json:"recipient_id"`
	Marked      int64  `json:"marked"`
}

type deletedEvent struct {
	ID          uuid.UUID `json:"id"`
	ThreadID    string    `json:"thread_id"`
	SenderID    string    `json:"sender_id"`
	RecipientID string    `json:"recipient_id"`
}

type unreadEvent struct {
	ThreadID string `json:"thread_id"`
	Count    int    `json:"count"`
}
