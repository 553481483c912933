package app

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/threemagw/golang_services/internal/core_domain"
)

const (
	blobIDLen     = 16
	ackedIDLen    = 8
	imageNonceLen = 24
)

// MessageDecoder turns decrypted plaintext into a typed message
// variant. The first plaintext byte is the type code; the remainder is
// the type-specific payload.
type MessageDecoder struct {
	logger *slog.Logger
}

func NewMessageDecoder(logger *slog.Logger) *MessageDecoder {
	return &MessageDecoder{logger: logger.With("component", "message_decoder")}
}

// fileMessagePayload is the JSON body of a file message as defined by
// the wire protocol (single-letter keys).
type fileMessagePayload struct {
	BlobID          string `json:"b"`
	ThumbnailBlobID string `json:"t"`
	EncryptionKey   string `json:"k"`
	MimeType        string `json:"m"`
	Filename        string `json:"n"`
	SizeBytes       uint64 `json:"s"`
}

// Decode dispatches on the leading type code. Unknown codes are fatal
// for the message; the content will never become known by retrying.
func (d *MessageDecoder) Decode(plaintext []byte, env core_domain.Envelope) (*core_domain.DecodedMessage, *core_domain.GatewayError) {
	if len(plaintext) < 1 {
		return nil, core_domain.NewUnknownMessageType("empty plaintext")
	}

	typeCode := plaintext[0]
	payload := plaintext[1:]
	msg := &core_domain.DecodedMessage{Envelope: env}

	switch typeCode {
	case core_domain.TypeCodeText:
		msg.Text = &core_domain.TextMessage{Text: string(payload)}

	case core_domain.TypeCodeDeliveryReceipt:
		receipt, gerr := decodeDeliveryReceipt(payload)
		if gerr != nil {
			return nil, gerr
		}
		msg.DeliveryReceipt = receipt

	case core_domain.TypeCodeFile:
		var file fileMessagePayload
		if err := json.Unmarshal(payload, &file); err != nil {
			return nil, core_domain.NewUnknownMessageType(fmt.Sprintf("file message payload is not valid JSON: %v", err))
		}
		msg.File = &core_domain.FileMessage{
			BlobID:          file.BlobID,
			EncryptionKey:   file.EncryptionKey,
			Filename:        file.Filename,
			MimeType:        file.MimeType,
			SizeBytes:       file.SizeBytes,
			ThumbnailBlobID: file.ThumbnailBlobID,
		}

	case core_domain.TypeCodeImage:
		if len(payload) < blobIDLen+4+imageNonceLen {
			return nil, core_domain.NewUnknownMessageType(fmt.Sprintf("image payload too short: %d bytes", len(payload)))
		}
		msg.Image = &core_domain.ImageMessage{
			BlobID:      hex.EncodeToString(payload[:blobIDLen]),
			LengthBytes: binary.LittleEndian.Uint32(payload[blobIDLen : blobIDLen+4]),
			Nonce:       hex.EncodeToString(payload[blobIDLen+4 : blobIDLen+4+imageNonceLen]),
		}

	default:
		return nil, core_domain.NewUnknownMessageType(fmt.Sprintf("unknown message type code 0x%02x", typeCode))
	}

	d.logger.Debug("Decoded message", "message_id", env.MessageID, "kind", msg.Kind())
	return msg, nil
}

// decodeDeliveryReceipt parses a receipt type byte followed by one or
// more 8-byte acknowledged message ids.
func decodeDeliveryReceipt(payload []byte) (*core_domain.DeliveryReceipt, *core_domain.GatewayError) {
	if len(payload) < 1+ackedIDLen {
		return nil, core_domain.NewUnknownMessageType("delivery receipt payload too short")
	}
	idBytes := payload[1:]
	if len(idBytes)%ackedIDLen != 0 {
		return nil, core_domain.NewUnknownMessageType("delivery receipt ids are not a multiple of 8 bytes")
	}

	receipt := &core_domain.DeliveryReceipt{
		ReceiptType: core_domain.ReceiptType(payload[0]),
	}
	for off := 0; off < len(idBytes); off += ackedIDLen {
		receipt.AckedMessageIDs = append(receipt.AckedMessageIDs, hex.EncodeToString(idBytes[off:off+ackedIDLen]))
	}
	return receipt, nil
}
