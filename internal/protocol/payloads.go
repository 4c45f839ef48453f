package protocol

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"

	"github.com/edgard/webmax/errs"
	"github.com/edgard/webmax/models"
)

// UserAgent describes the client to the service in the hello frame.
type UserAgent struct {
	DeviceType      string `json:"deviceType"`
	Locale          string `json:"locale"`
	OSVersion       string `json:"osVersion"`
	DeviceName      string `json:"deviceName"`
	HeaderUserAgent string `json:"headerUserAgent"`
	DeviceLocale    string `json:"deviceLocale"`
	AppVersion      string `json:"appVersion"`
	Screen          string `json:"screen"`
	Timezone        string `json:"timezone"`
}

type HelloRequest struct {
	UserAgent UserAgent `json:"userAgent"`
	DeviceID  string    `json:"deviceId"`
}

type LoginRequest struct {
	Interactive  bool   `json:"interactive"`
	Token        string `json:"token"`
	ChatsSync    int    `json:"chatsSync"`
	ContactsSync int    `json:"contactsSync"`
	PresenceSync int    `json:"presenceSync"`
	DraftsSync   int    `json:"draftsSync"`
	ChatsCount   int    `json:"chatsCount"`
}

type StartAuthRequest struct {
	Phone    string `json:"phone"`
	Type     string `json:"type"`
	Language string `json:"language"`
}

type CheckCodeRequest struct {
	Token         string `json:"token"`
	VerifyCode    string `json:"verifyCode"`
	AuthTokenType string `json:"authTokenType"`
}

type PingRequest struct {
	Interactive bool `json:"interactive"`
}

type OutgoingLink struct {
	Type      string `json:"type"`
	MessageID string `json:"messageId"`
}

type OutgoingMessage struct {
	Text     string        `json:"text"`
	CID      int64         `json:"cid"`
	Elements []any         `json:"elements"`
	Attaches []any         `json:"attaches"`
	Link     *OutgoingLink `json:"link,omitempty"`
}

type SendMessageRequest struct {
	ChatID  int64           `json:"chatId"`
	Message OutgoingMessage `json:"message"`
	Notify  bool            `json:"notify"`
}

type EditMessageRequest struct {
	ChatID      int64  `json:"chatId"`
	MessageID   string `json:"messageId"`
	Text        string `json:"text"`
	Elements    []any  `json:"elements"`
	Attachments []any  `json:"attachments"`
}

type DeleteMessageRequest struct {
	ChatID     int64    `json:"chatId"`
	MessageIDs []string `json:"messageIds"`
	ForMe      bool     `json:"forMe"`
}

type ChatSettings struct {
	FavIndex int64 `json:"favIndex"`
}

type SettingsRequest struct {
	Settings struct {
		Chats map[string]ChatSettings `json:"chats"`
	} `json:"settings"`
}

// NewChatFavRequest builds the settings payload that pins (favIndex > 0)
// or unpins (favIndex == 0) a chat.
func NewChatFavRequest(chatID int64, favIndex int64) SettingsRequest {
	var req SettingsRequest
	req.Settings.Chats = map[string]ChatSettings{
		strconv.FormatInt(chatID, 10): {FavIndex: favIndex},
	}
	return req
}

type ContactsRequest struct {
	ContactIDs []int64 `json:"contactIds"`
}

type ContactByPhoneRequest struct {
	Phone string `json:"phone"`
}

// flexString accepts a JSON string or number.
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*s = flexString(n.String())
	return nil
}

// flexInt accepts a JSON number or a numeric string.
type flexInt int64

func (i *flexInt) UnmarshalJSON(data []byte) error {
	var s flexString
	if err := s.UnmarshalJSON(data); err != nil {
		return err
	}
	if s == "" {
		*i = 0
		return nil
	}
	n, err := strconv.ParseInt(string(s), 10, 64)
	if err != nil {
		return err
	}
	*i = flexInt(n)
	return nil
}

func millis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

type wireLink struct {
	Type      string     `json:"type"`
	ChatID    flexInt    `json:"chatId"`
	MessageID flexString `json:"messageId"`
	Message   *struct {
		ID flexString `json:"id"`
	} `json:"message"`
}

type wireMessage struct {
	Sender     flexInt           `json:"sender"`
	ID         flexString        `json:"id"`
	Time       flexInt           `json:"time"`
	UpdateTime flexInt           `json:"updateTime"`
	Text       string            `json:"text"`
	Type       string            `json:"type"`
	CID        flexInt           `json:"cid"`
	Options    json.RawMessage   `json:"options"`
	Attaches   []json.RawMessage `json:"attaches"`
	Link       *wireLink         `json:"link"`
}

// MessageEnvelope is the payload of message pushes and of send responses.
type MessageEnvelope struct {
	ChatID  flexInt     `json:"chatId"`
	Message wireMessage `json:"message"`
}

// ToModel converts the envelope into a models.Message. fallbackChat is used
// when the payload omits chatId, which edit responses do.
func (e *MessageEnvelope) ToModel(fallbackChat int64) (*models.Message, error) {
	chatID := int64(e.ChatID)
	if chatID == 0 {
		chatID = fallbackChat
	}
	w := e.Message
	if w.ID == "" {
		return nil, errs.NewProtocolError("message without id", nil)
	}

	msg := &models.Message{
		Chat:       models.Chat{ID: chatID},
		Sender:     int64(w.Sender),
		ID:         models.MessageID(w.ID),
		CID:        int64(w.CID),
		Time:       millis(int64(w.Time)),
		UpdateTime: millis(int64(w.UpdateTime)),
		Text:       w.Text,
		Type:       w.Type,
		Options:    decodeOptions(w.Options),
	}

	for _, raw := range w.Attaches {
		var fields map[string]any
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, errs.NewProtocolError("malformed attachment", err)
		}
		typ, _ := fields["_type"].(string)
		if typ == "" {
			typ, _ = fields["type"].(string)
		}
		msg.Attachments = append(msg.Attachments, models.Attachment{Type: typ, Fields: fields})
	}

	if w.Link != nil {
		link := &models.Link{
			Type:      models.LinkType(w.Link.Type),
			ChatID:    int64(w.Link.ChatID),
			MessageID: models.MessageID(w.Link.MessageID),
		}
		if link.MessageID == "" && w.Link.Message != nil {
			link.MessageID = models.MessageID(w.Link.Message.ID)
		}
		msg.Link = link
	}

	return msg, nil
}

// decodeOptions keeps object options as-is and wraps scalar option flags
// under the "flags" key.
func decodeOptions(raw json.RawMessage) map[string]any {
	if len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return map[string]any{"flags": v}
}

type wireName struct {
	Name      string `json:"name"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Type      string `json:"type"`
}

type WireContact struct {
	ID            flexInt    `json:"id"`
	AccountStatus int        `json:"accountStatus"`
	BaseURL       string     `json:"baseUrl"`
	BaseRawURL    string     `json:"baseRawUrl"`
	Names         []wireName `json:"names"`
	Phone         flexString `json:"phone"`
	Description   string     `json:"description"`
	Options       []string   `json:"options"`
	PhotoID       flexInt    `json:"photoId"`
	UpdateTime    flexInt    `json:"updateTime"`
}

// ToUser converts a contact record into a models.User.
func (c *WireContact) ToUser() *models.User {
	contact := models.Contact{
		ID:            int64(c.ID),
		AccountStatus: c.AccountStatus,
		BaseURL:       c.BaseURL,
		BaseRawURL:    c.BaseRawURL,
		Phone:         string(c.Phone),
		Description:   c.Description,
		Options:       c.Options,
		PhotoID:       int64(c.PhotoID),
		UpdateTime:    millis(int64(c.UpdateTime)),
	}
	for _, n := range c.Names {
		contact.Names = append(contact.Names, models.Name(n))
	}
	return &models.User{Contact: contact}
}

type LoginResponse struct {
	Profile *WireContact `json:"profile"`
}

type StartAuthResponse struct {
	Token string `json:"token"`
}

type CheckCodeResponse struct {
	TokenAttrs struct {
		Login struct {
			Token string `json:"token"`
		} `json:"LOGIN"`
	} `json:"tokenAttrs"`
	Profile *WireContact `json:"profile"`
}

type ContactsResponse struct {
	Contacts []WireContact `json:"contacts"`
}

type ContactByPhoneResponse struct {
	Contact *WireContact `json:"contact"`
}

type errorPayload struct {
	Error            string `json:"error"`
	Title            string `json:"title"`
	Message          string `json:"message"`
	LocalizedMessage string `json:"localizedMessage"`
}

// ResponseError returns an *errs.APIError when the frame reports a service
// error, either through cmd=3 or through an "error" field in the payload.
func ResponseError(f *Frame) error {
	var p errorPayload
	if len(f.Payload) > 0 && f.Payload[0] == '{' {
		_ = json.Unmarshal(f.Payload, &p)
	}
	if p.Error == "" && f.Cmd != CmdError {
		return nil
	}
	apiErr := &errs.APIError{Reason: p.Error, Title: p.Title, Message: p.LocalizedMessage}
	if apiErr.Message == "" {
		apiErr.Message = p.Message
	}
	if apiErr.Reason == "" {
		apiErr.Reason = "error." + f.Opcode.String()
	}
	return apiErr
}
