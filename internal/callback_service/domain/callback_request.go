package domain

import "time"

// RawCallback carries the unvalidated form fields of an inbound
// callback delivery, plus the HTTP method used. All values are strings
// exactly as received; validation and decoding happen in the
// three-stage validator.
type RawCallback struct {
	Method string

	AccessToken string
	From        string
	To          string
	MessageID   string
	Date        string
	NonceHex    string
	BoxHex      string
	MACHex      string
}

// HasField reports whether the named callback parameter was supplied.
// An empty value counts as missing; the gateway server never sends
// empty fields.
func (r *RawCallback) HasField(name string) bool {
	switch name {
	case "accesstoken":
		return r.AccessToken != ""
	case "from":
		return r.From != ""
	case "to":
		return r.To != ""
	case "messageId":
		return r.MessageID != ""
	case "date":
		return r.Date != ""
	case "nonce":
		return r.NonceHex != ""
	case "box":
		return r.BoxHex != ""
	case "mac":
		return r.MACHex != ""
	default:
		return false
	}
}

// CallbackRequest is the parsed, validated form of a RawCallback.
// It is immutable once built by the validator.
type CallbackRequest struct {
	AccessToken string
	FromID      string
	ToID        string
	// MessageID is canonical lowercase hex (16 chars).
	MessageID string
	SentAt    time.Time

	// Raw wire representations, kept because the callback MAC is
	// computed over the fields exactly as they arrived.
	MessageIDRaw string
	DateRaw      string
	NonceHex     string
	BoxHex       string

	Nonce      []byte
	Ciphertext []byte
	MAC        []byte
}
