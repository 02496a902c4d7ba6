package rest

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// SendTextRequest es el cuerpo de POST .../messages/text.
type SendTextRequest struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

func (r SendTextRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.To, validation.Required, validation.Length(5, 64)),
		validation.Field(&r.Text, validation.Required, validation.Length(1, 65536)),
	)
}

// SendMediaRequest es el cuerpo de POST .../messages/media. Exactamente una
// fuente: url o dataB64.
type SendMediaRequest struct {
	To        string `json:"to"`
	URL       string `json:"url,omitempty"`
	DataB64   string `json:"dataB64,omitempty"`
	Mimetype  string `json:"mimetype,omitempty"`
	Filename  string `json:"filename,omitempty"`
	Caption   string `json:"caption,omitempty"`
	VoiceNote bool   `json:"voiceNote,omitempty"`
}

func (r SendMediaRequest) Validate() error {
	if (r.URL == "") == (r.DataB64 == "") {
		return validation.Errors{
			"url": validation.NewError("validation_source", "exactly one of url or dataB64 is required"),
		}
	}
	return validation.ValidateStruct(&r,
		validation.Field(&r.To, validation.Required, validation.Length(5, 64)),
		validation.Field(&r.URL, validation.When(r.URL != "", is.URL)),
	)
}

// GrantAclRequest es el cuerpo de POST .../users/:uid/acl.
type GrantAclRequest struct {
	Label string `json:"label"`
}

func (r GrantAclRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Label, validation.Required, validation.Length(1, 64)),
	)
}
