package connstate

// Shape names the envelope a gateway payload arrived in.
type Shape string

const (
	ShapeInstance Shape = "instance"
	ShapeResponse Shape = "response"
	ShapeData     Shape = "data"
	ShapeBare     Shape = "bare"
)

// EnvelopeOrder is the order in which wrapper keys are tried. The first key
// holding an object wins; with none, the payload itself is the body.
var EnvelopeOrder = []Shape{ShapeInstance, ShapeResponse, ShapeData, ShapeBare}

// Unwrap returns the innermost object of a single-level envelope and the
// shape it matched. A nil payload unwraps to an empty bare body.
func Unwrap(payload map[string]any) (map[string]any, Shape) {
	if payload == nil {
		return map[string]any{}, ShapeBare
	}
	for _, shape := range EnvelopeOrder {
		if shape == ShapeBare {
			break
		}
		if inner, ok := payload[string(shape)].(map[string]any); ok {
			return inner, shape
		}
	}
	return payload, ShapeBare
}

var avatarFields = []string{"profilePictureUrl", "profilePicUrl", "profile_picture_url", "avatar", "picture"}

// ExtractAvatar returns the first profile picture URL present on the body,
// falling back to connection.profilePictureUrl.
func ExtractAvatar(body map[string]any) string {
	if s := firstString(body, avatarFields...); s != "" {
		return s
	}
	if conn := child(body, "connection"); conn != nil {
		return firstString(conn, "profilePictureUrl")
	}
	return ""
}

// QR is the pairing material a gateway may expose while a session starts.
type QR struct {
	QRCode      string `json:"qrcode,omitempty"`
	PairingCode string `json:"pairingCode,omitempty"`
	Ref         string `json:"ref,omitempty"`
}

func (q QR) Empty() bool { return q.QRCode == "" && q.PairingCode == "" && q.Ref == "" }

// ExtractQR looks for QR/pairing fields on the payload, then on its
// unwrapped body. ok is false when nothing was found.
func ExtractQR(payload map[string]any) (QR, bool) {
	q := qrFrom(payload)
	if q.Empty() {
		body, shape := Unwrap(payload)
		if shape != ShapeBare {
			q = qrFrom(body)
		}
	}
	return q, !q.Empty()
}

func qrFrom(m map[string]any) QR {
	q := QR{
		QRCode:      firstString(m, "qrcode", "qrCode", "qr", "base64", "code"),
		PairingCode: firstString(m, "pairingCode", "pairing_code"),
		Ref:         firstString(m, "ref", "reference"),
	}
	// Evolution nests the image as qrcode: {base64, code, pairingCode}.
	if q.QRCode == "" {
		for _, k := range []string{"qrcode", "qrCode"} {
			if nested := child(m, k); nested != nil {
				inner := qrFrom(nested)
				if q.PairingCode == "" {
					q.PairingCode = inner.PairingCode
				}
				q.QRCode = inner.QRCode
				break
			}
		}
	}
	return q
}
