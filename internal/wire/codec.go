package wire

import (
	"errors"
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	// ErrUnexpectedBinaryFrame is returned when a binary frame arrives
	// with no pending header awaiting attachments.
	ErrUnexpectedBinaryFrame = errors.New("wire: unexpected binary frame")
	// ErrUnexpectedTextFrame is returned when a text frame arrives while
	// a previous header is still waiting on attachments.
	ErrUnexpectedTextFrame = errors.New("wire: text frame arrived before prior attachments were complete")
)

type header struct {
	Type        PacketType `json:"type"`
	Nsp         string     `json:"nsp"`
	ID          *int64     `json:"id,omitempty"`
	Data        any        `json:"data,omitempty"`
	Attachments int        `json:"attachments,omitempty"`
	Compress    bool       `json:"compress,omitempty"`
}

// jsonCodec is the default Codec: a text header frame per packet,
// followed by one raw binary frame per attachment for BINARY_EVENT and
// BINARY_ACK packets. Attachments are located by walking Data for raw
// []byte values and replacing each with a `{"_placeholder":true,"num":n}`
// marker, the convention socket.io's own wire format uses.
type jsonCodec struct{}

// DefaultCodec returns the module's built-in JSON codec.
func DefaultCodec() Codec { return jsonCodec{} }

func (jsonCodec) Encoder() Encoder    { return jsonEncoder{} }
func (jsonCodec) NewDecoder() Decoder { return &jsonDecoder{} }

type jsonEncoder struct{}

func (jsonEncoder) Encode(p *Packet) ([]Frame, error) {
	if p == nil {
		return nil, errors.New("wire: nil packet")
	}

	var atts [][]byte
	cleaned := extractAttachments(p.Data, &atts)

	h := header{
		Type:        p.Type,
		Nsp:         p.Nsp,
		ID:          p.ID,
		Data:        cleaned,
		Attachments: len(atts),
		Compress:    p.Options.Compress,
	}
	headerBytes, err := json.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("wire: encode header: %w", err)
	}

	frames := make([]Frame, 0, 1+len(atts))
	frames = append(frames, Frame{Payload: headerBytes})
	for _, a := range atts {
		frames = append(frames, Frame{Payload: a, IsBinary: true})
	}
	return frames, nil
}

type pendingPacket struct {
	header    header
	data      any
	remaining int
	collected [][]byte
}

// jsonDecoder reassembles packets from a stream of frames. It holds at
// most one pending header at a time; binary frames fill in its
// attachments in arrival order.
type jsonDecoder struct {
	onDecoded func(*Packet)
	pending   *pendingPacket
}

func (d *jsonDecoder) OnDecoded(fn func(*Packet)) { d.onDecoded = fn }

func (d *jsonDecoder) Destroy() {
	d.pending = nil
}

func (d *jsonDecoder) Add(f Frame) error {
	if f.IsBinary {
		return d.addBinary(f.Payload)
	}
	return d.addText(f.Payload)
}

func (d *jsonDecoder) addText(payload []byte) error {
	if d.pending != nil {
		return ErrUnexpectedTextFrame
	}
	var h header
	if err := json.Unmarshal(payload, &h); err != nil {
		return fmt.Errorf("wire: decode header: %w", err)
	}
	if h.Attachments <= 0 {
		d.emit(h, h.Data, nil)
		return nil
	}
	d.pending = &pendingPacket{
		header:    h,
		data:      h.Data,
		remaining: h.Attachments,
		collected: make([][]byte, 0, h.Attachments),
	}
	return nil
}

func (d *jsonDecoder) addBinary(payload []byte) error {
	if d.pending == nil {
		return ErrUnexpectedBinaryFrame
	}
	d.pending.collected = append(d.pending.collected, payload)
	d.pending.remaining--
	if d.pending.remaining > 0 {
		return nil
	}
	h, data, atts := d.pending.header, d.pending.data, d.pending.collected
	d.pending = nil
	d.emit(h, data, atts)
	return nil
}

func (d *jsonDecoder) emit(h header, data any, atts [][]byte) {
	if d.onDecoded == nil {
		return
	}
	resolved := data
	if len(atts) > 0 {
		resolved = substituteAttachments(data, atts)
	}
	d.onDecoded(&Packet{
		Type:    h.Type,
		Nsp:     h.Nsp,
		Data:    resolved,
		ID:      h.ID,
		Options: Options{Compress: h.Compress},
	})
}

// extractAttachments walks v, replacing every raw []byte with a
// placeholder marker and appending it to atts in visitation order.
func extractAttachments(v any, atts *[][]byte) any {
	switch t := v.(type) {
	case []byte:
		idx := len(*atts)
		*atts = append(*atts, t)
		return map[string]any{"_placeholder": true, "num": idx}
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = extractAttachments(vv, atts)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = extractAttachments(vv, atts)
		}
		return out
	default:
		return v
	}
}

// substituteAttachments reverses extractAttachments using previously
// reassembled attachment bytes.
func substituteAttachments(v any, atts [][]byte) any {
	switch t := v.(type) {
	case map[string]any:
		if ph, ok := t["_placeholder"].(bool); ok && ph {
			if numF, ok := t["num"].(float64); ok {
				idx := int(numF)
				if idx >= 0 && idx < len(atts) {
					return atts[idx]
				}
			}
		}
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = substituteAttachments(vv, atts)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = substituteAttachments(vv, atts)
		}
		return out
	default:
		return v
	}
}
