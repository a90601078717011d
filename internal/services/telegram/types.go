package telegram

// Update represents an incoming Bot API update
type Update struct {
	UpdateID      int            `json:"update_id"`
	Message       *Message       `json:"message,omitempty"`
	CallbackQuery *CallbackQuery `json:"callback_query,omitempty"`
}

// User represents a Telegram user
type User struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
	Username  string `json:"username,omitempty"`
}

// Chat types
const (
	ChatPrivate    = "private"
	ChatGroup      = "group"
	ChatSupergroup = "supergroup"
	ChatChannel    = "channel"
)

// Chat represents a conversation
type Chat struct {
	ID    int64  `json:"id"`
	Type  string `json:"type"`
	Title string `json:"title,omitempty"`
}

// IsGroup reports whether the chat is a group or supergroup
func (c Chat) IsGroup() bool {
	return c.Type == ChatGroup || c.Type == ChatSupergroup
}

// PhotoSize is one resolution of a photo
type PhotoSize struct {
	FileID       string `json:"file_id"`
	FileUniqueID string `json:"file_unique_id"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
}

// File describes a video or document attachment
type File struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	FileSize int64  `json:"file_size,omitempty"`
}

// Message represents a chat message
type Message struct {
	MessageID   int                   `json:"message_id"`
	From        *User                 `json:"from,omitempty"`
	Chat        Chat                  `json:"chat"`
	Date        int64                 `json:"date"`
	Text        string                `json:"text,omitempty"`
	Caption     string                `json:"caption,omitempty"`
	Photo       []PhotoSize           `json:"photo,omitempty"`
	Video       *File                 `json:"video,omitempty"`
	Document    *File                 `json:"document,omitempty"`
	ReplyMarkup *InlineKeyboardMarkup `json:"reply_markup,omitempty"`
}

// IsCommand reports whether the message text starts with a bot command
func (m *Message) IsCommand() bool {
	return len(m.Text) > 1 && m.Text[0] == '/'
}

// MediaFile returns the video or document attached to the message, if any
func (m *Message) MediaFile() *File {
	if m.Video != nil {
		return m.Video
	}
	return m.Document
}

// LargestPhoto returns the biggest resolution of an attached photo
func (m *Message) LargestPhoto() *PhotoSize {
	if len(m.Photo) == 0 {
		return nil
	}
	best := &m.Photo[0]
	for i := range m.Photo {
		if m.Photo[i].Width*m.Photo[i].Height > best.Width*best.Height {
			best = &m.Photo[i]
		}
	}
	return best
}

// CallbackQuery is sent when an inline button is pressed
type CallbackQuery struct {
	ID      string   `json:"id"`
	From    User     `json:"from"`
	Message *Message `json:"message,omitempty"`
	Data    string   `json:"data,omitempty"`
}

// InlineKeyboardMarkup is a grid of inline buttons
type InlineKeyboardMarkup struct {
	InlineKeyboard [][]InlineKeyboardButton `json:"inline_keyboard"`
}

// InlineKeyboardButton is one inline button
type InlineKeyboardButton struct {
	Text         string `json:"text"`
	URL          string `json:"url,omitempty"`
	CallbackData string `json:"callback_data,omitempty"`
}

// CallbackButton creates a button that sends data back to the bot
func CallbackButton(text, data string) InlineKeyboardButton {
	return InlineKeyboardButton{Text: text, CallbackData: data}
}

// URLButton creates a button that opens a link
func URLButton(text, url string) InlineKeyboardButton {
	return InlineKeyboardButton{Text: text, URL: url}
}

// Grid lays buttons out in rows of perRow
func Grid(buttons []InlineKeyboardButton, perRow int) [][]InlineKeyboardButton {
	var rows [][]InlineKeyboardButton
	for i := 0; i < len(buttons); i += perRow {
		end := i + perRow
		if end > len(buttons) {
			end = len(buttons)
		}
		row := make([]InlineKeyboardButton, end-i)
		copy(row, buttons[i:end])
		rows = append(rows, row)
	}
	return rows
}
