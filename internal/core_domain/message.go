package core_domain

import "time"

// Message type codes as they appear as the first byte of a decrypted
// message payload.
const (
	TypeCodeText            byte = 0x01
	TypeCodeImage           byte = 0x02
	TypeCodeFile            byte = 0x17
	TypeCodeDeliveryReceipt byte = 0x80
)

// MessageKind identifies which variant of a DecodedMessage is set.
type MessageKind string

const (
	KindText            MessageKind = "text"
	KindImage           MessageKind = "image"
	KindFile            MessageKind = "file"
	KindDeliveryReceipt MessageKind = "delivery_receipt"
)

// ReceiptType is the acknowledgement class carried by a delivery
// receipt.
type ReceiptType uint8

const (
	ReceiptTypeReceived ReceiptType = 1
	ReceiptTypeRead     ReceiptType = 2
	ReceiptTypeConfirm  ReceiptType = 3
	ReceiptTypeDecline  ReceiptType = 4
)

func (t ReceiptType) String() string {
	switch t {
	case ReceiptTypeReceived:
		return "received"
	case ReceiptTypeRead:
		return "read"
	case ReceiptTypeConfirm:
		return "confirm"
	case ReceiptTypeDecline:
		return "decline"
	default:
		return "unknown"
	}
}

// Envelope holds the fields common to every decoded message. MessageID
// is the gateway-assigned id, canonically lowercase hex.
type Envelope struct {
	MessageID string    `json:"message_id"`
	FromID    string    `json:"from_id"`
	SentAt    time.Time `json:"sent_at"`
}

// TextMessage is a plain text message.
type TextMessage struct {
	Text string `json:"text"`
}

// DeliveryReceipt acknowledges previously sent messages.
// AckedMessageIDs is an ordered sequence of 16-hex-char ids.
type DeliveryReceipt struct {
	ReceiptType     ReceiptType `json:"receipt_type"`
	AckedMessageIDs []string    `json:"acked_message_ids"`
}

// FileMessage describes an encrypted blob upload.
type FileMessage struct {
	BlobID          string `json:"blob_id"`
	EncryptionKey   string `json:"encryption_key"`
	Filename        string `json:"filename"`
	MimeType        string `json:"mime_type"`
	SizeBytes       uint64 `json:"size_bytes"`
	ThumbnailBlobID string `json:"thumbnail_blob_id,omitempty"`
}

// ImageMessage describes an encrypted image blob.
type ImageMessage struct {
	BlobID      string `json:"blob_id"`
	LengthBytes uint32 `json:"length_bytes"`
	Nonce       string `json:"nonce"`
}

// DecodedMessage is the closed tagged-variant result of decoding a
// decrypted payload. Exactly one variant pointer is non-nil.
type DecodedMessage struct {
	Envelope Envelope

	Text            *TextMessage
	DeliveryReceipt *DeliveryReceipt
	File            *FileMessage
	Image           *ImageMessage
}

// Kind returns the populated variant. Callers switching on Kind must
// handle every MessageKind constant.
func (m *DecodedMessage) Kind() MessageKind {
	switch {
	case m.Text != nil:
		return KindText
	case m.DeliveryReceipt != nil:
		return KindDeliveryReceipt
	case m.File != nil:
		return KindFile
	case m.Image != nil:
		return KindImage
	default:
		return ""
	}
}
