package line

// WebhookRequest is the body LINE posts to the webhook endpoint.
type WebhookRequest struct {
	Destination string  `json:"destination"`
	Events      []Event `json:"events"`
}

// Event is one webhook event. Only the fields this service consumes are
// mapped.
type Event struct {
	Type       string    `json:"type"`
	ReplyToken string    `json:"replyToken"`
	Timestamp  int64     `json:"timestamp"`
	Source     Source    `json:"source"`
	Message    *Message  `json:"message,omitempty"`
	Postback   *Postback `json:"postback,omitempty"`
}

type Source struct {
	Type    string `json:"type"`
	UserID  string `json:"userId"`
	GroupID string `json:"groupId,omitempty"`
}

// Message carries the message payload. ImageSet is present when the image
// belongs to a multi-image send and declares the group's total size.
type Message struct {
	ID       string    `json:"id"`
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageSet *ImageSet `json:"imageSet,omitempty"`
}

type ImageSet struct {
	ID    string `json:"id"`
	Index int    `json:"index"`
	Total int    `json:"total"`
}

type Postback struct {
	Data string `json:"data"`
}

// Profile is the subset of the profile API response used for rendering.
// Identity is always the platform user id, never the display name.
type Profile struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	PictureURL  string `json:"pictureUrl,omitempty"`
}

// CarouselColumn is one image card in an image carousel template.
type CarouselColumn struct {
	ImageURL string         `json:"imageUrl"`
	Action   PostbackAction `json:"action"`
}

type PostbackAction struct {
	Type  string `json:"type"`
	Label string `json:"label"`
	Data  string `json:"data"`
}

// NewPostbackColumn builds a carousel card whose tap posts back data.
func NewPostbackColumn(imageURL, label, data string) CarouselColumn {
	return CarouselColumn{
		ImageURL: imageURL,
		Action: PostbackAction{
			Type:  "postback",
			Label: label,
			Data:  data,
		},
	}
}
