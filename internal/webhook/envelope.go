package webhook

// Envelope is the provider's outer webhook shape. Every nested field is
// optional: payloads vary by change field and the processor must tolerate
// anything missing.
type Envelope struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID      string   `json:"id"` // WABA id
	Changes []Change `json:"changes"`
}

type Change struct {
	Field string      `json:"field"`
	Value ChangeValue `json:"value"`
}

// ChangeValue is the union of every change payload this engine reads.
type ChangeValue struct {
	MessagingProduct string `json:"messaging_product,omitempty"`
	Metadata         *struct {
		DisplayPhoneNumber string `json:"display_phone_number"`
		PhoneNumberID      string `json:"phone_number_id"`
	} `json:"metadata,omitempty"`

	Contacts []struct {
		WaID    string `json:"wa_id"`
		Profile struct {
			Name string `json:"name"`
		} `json:"profile"`
	} `json:"contacts,omitempty"`
	Messages []InboundMessage `json:"messages,omitempty"`
	Statuses []StatusUpdate   `json:"statuses,omitempty"`

	// account_update
	BanInfo *struct {
		WabaBanState string `json:"waba_ban_state"`
		WabaBanDate  string `json:"waba_ban_date"`
	} `json:"ban_info,omitempty"`
	Event        string `json:"event,omitempty"`
	ReviewStatus string `json:"review_status,omitempty"`

	// phone_number_quality_update, phone_number_name_update
	DisplayPhoneNumber    string `json:"display_phone_number,omitempty"`
	CurrentLimit          string `json:"current_limit,omitempty"`
	VerifiedName          string `json:"verified_name,omitempty"`
	Decision              string `json:"decision,omitempty"`
	RequestedVerifiedName string `json:"requested_verified_name,omitempty"`

	// template updates
	MessageTemplateID       int64  `json:"message_template_id,omitempty"`
	MessageTemplateName     string `json:"message_template_name,omitempty"`
	MessageTemplateLanguage string `json:"message_template_language,omitempty"`
	Reason                  string `json:"reason,omitempty"`
	NewQualityScore         string `json:"new_quality_score,omitempty"`
	PreviousQualityScore    string `json:"previous_quality_score,omitempty"`
}

// InboundMessage is one user-originated message.
type InboundMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"` // unix seconds, as a string
	Type      string `json:"type"`

	Text *struct {
		Body string `json:"body"`
	} `json:"text,omitempty"`

	Button *struct {
		Payload string `json:"payload"`
		Text    string `json:"text"`
	} `json:"button,omitempty"`

	Interactive *struct {
		Type        string `json:"type"`
		ButtonReply *struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"button_reply,omitempty"`
		ListReply *struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"list_reply,omitempty"`
	} `json:"interactive,omitempty"`

	Image    *MediaContent `json:"image,omitempty"`
	Video    *MediaContent `json:"video,omitempty"`
	Audio    *MediaContent `json:"audio,omitempty"`
	Document *MediaContent `json:"document,omitempty"`
}

type MediaContent struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	SHA256   string `json:"sha256"`
	Caption  string `json:"caption,omitempty"`
}

// StatusUpdate is one element of the statuses array.
type StatusUpdate struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	RecipientID string `json:"recipient_id"`
	Errors      []struct {
		Code      int    `json:"code"`
		Title     string `json:"title"`
		Message   string `json:"message"`
		ErrorData *struct {
			Details string `json:"details"`
		} `json:"error_data,omitempty"`
	} `json:"errors,omitempty"`
}

// DisplayText returns the free-text content of an inbound message, falling back to
// media captions and interactive reply titles.
func (m *InboundMessage) DisplayText() string {
	switch {
	case m.Text != nil:
		return m.Text.Body
	case m.Button != nil:
		return m.Button.Text
	case m.Interactive != nil && m.Interactive.ButtonReply != nil:
		return m.Interactive.ButtonReply.Title
	case m.Interactive != nil && m.Interactive.ListReply != nil:
		return m.Interactive.ListReply.Title
	case m.Image != nil:
		return m.Image.Caption
	case m.Video != nil:
		return m.Video.Caption
	case m.Document != nil:
		return m.Document.Caption
	default:
		return ""
	}
}

// ButtonReply returns the interactive reply id and title, covering both the
// interactive shape and template quick-reply buttons.
func (m *InboundMessage) ButtonReply() (id, title string) {
	if m.Interactive != nil {
		if m.Interactive.ButtonReply != nil {
			return m.Interactive.ButtonReply.ID, m.Interactive.ButtonReply.Title
		}
		if m.Interactive.ListReply != nil {
			return m.Interactive.ListReply.ID, m.Interactive.ListReply.Title
		}
	}
	if m.Button != nil {
		return m.Button.Payload, m.Button.Text
	}
	return "", ""
}
