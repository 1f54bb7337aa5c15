// Package split runs the classifier of a network on encrypted features:
// the client keeps the convolutional trunk and the secret key, the server
// holds the classifier weights and evaluation keys only.
package split

import (
	"encoding/gob"
	"fmt"
	"io"

	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/tuneinsight/lattigo/v6/schemes/ckks"
)

func init() {
	// Register types for gob encoding
	gob.Register(CipherPayload{})
}

// MessageType defines message types for the split inference protocol
type MessageType int

const (
	MsgFeatures MessageType = iota
	MsgLogits
	MsgDone
	MsgError
)

func (t MessageType) String() string {
	switch t {
	case MsgFeatures:
		return "features"
	case MsgLogits:
		return "logits"
	case MsgDone:
		return "done"
	case MsgError:
		return "error"
	}
	return fmt.Sprintf("MessageType(%d)", int(t))
}

// Message represents a message in the split inference protocol
type Message struct {
	Type    MessageType
	Payload interface{}
}

// CipherPayload carries one serialized ciphertext. Dim is the number of
// meaningful slots.
type CipherPayload struct {
	SampleID   int
	Ciphertext []byte
	Level      int
	ScaleFloat float64
	Dim        int
}

// NewCipherPayload serializes ct.
func NewCipherPayload(sampleID int, ct *rlwe.Ciphertext, dim int) (CipherPayload, error) {
	b, err := ct.MarshalBinary()
	if err != nil {
		return CipherPayload{}, fmt.Errorf("marshal ciphertext: %w", err)
	}
	return CipherPayload{SampleID: sampleID, Ciphertext: b, Level: ct.Level(), ScaleFloat: ct.Scale.Float64(), Dim: dim}, nil
}

// Unmarshal restores the ciphertext and checks it against the header.
func (p *CipherPayload) Unmarshal(params ckks.Parameters) (*rlwe.Ciphertext, error) {
	if p.Level < 0 || p.Level > params.MaxLevel() {
		return nil, fmt.Errorf("payload level %d outside [0, %d]", p.Level, params.MaxLevel())
	}
	ct := rlwe.NewCiphertext(params, 1, p.Level)
	if err := ct.UnmarshalBinary(p.Ciphertext); err != nil {
		return nil, fmt.Errorf("unmarshal ciphertext: %w", err)
	}
	if ct.Level() != p.Level {
		return nil, fmt.Errorf("ciphertext level %d does not match header %d", ct.Level(), p.Level)
	}
	return ct, nil
}

// Protocol handles split inference communication
type Protocol struct {
	encoder *gob.Encoder
	decoder *gob.Decoder
}

// NewProtocol creates a new protocol handler
func NewProtocol(r io.Reader, w io.Writer) *Protocol {
	p := &Protocol{}
	if w != nil {
		p.encoder = gob.NewEncoder(w)
	}
	if r != nil {
		p.decoder = gob.NewDecoder(r)
	}
	return p
}

// Send sends a message
func (p *Protocol) Send(msg *Message) error {
	if p.encoder == nil {
		return fmt.Errorf("protocol has no writer")
	}
	return p.encoder.Encode(msg)
}

// Receive receives a message
func (p *Protocol) Receive() (*Message, error) {
	if p.decoder == nil {
		return nil, fmt.Errorf("protocol has no reader")
	}
	var msg Message
	if err := p.decoder.Decode(&msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// SendFeatures sends an encrypted feature vector
func (p *Protocol) SendFeatures(payload CipherPayload) error {
	return p.Send(&Message{Type: MsgFeatures, Payload: payload})
}

// SendLogits sends encrypted classifier output
func (p *Protocol) SendLogits(payload CipherPayload) error {
	return p.Send(&Message{Type: MsgLogits, Payload: payload})
}

// SendDone signals completion
func (p *Protocol) SendDone() error {
	return p.Send(&Message{Type: MsgDone})
}

// SendError sends an error message
func (p *Protocol) SendError(err error) error {
	return p.Send(&Message{
		Type:    MsgError,
		Payload: err.Error(),
	})
}

// ReceiveFeatures returns the next feature payload, or io.EOF once the
// peer has sent MsgDone.
func (p *Protocol) ReceiveFeatures() (*CipherPayload, error) {
	return p.receiveCipher(MsgFeatures)
}

// ReceiveLogits returns the next logits payload.
func (p *Protocol) ReceiveLogits() (*CipherPayload, error) {
	return p.receiveCipher(MsgLogits)
}

func (p *Protocol) receiveCipher(want MessageType) (*CipherPayload, error) {
	msg, err := p.Receive()
	if err != nil {
		return nil, err
	}
	if msg.Type == MsgError {
		return nil, fmt.Errorf("remote error: %v", msg.Payload)
	}
	if msg.Type == MsgDone {
		return nil, io.EOF
	}
	if msg.Type != want {
		return nil, fmt.Errorf("expected %s message, got %s", want, msg.Type)
	}
	payload, ok := msg.Payload.(CipherPayload)
	if !ok {
		return nil, fmt.Errorf("invalid %s payload type %T", want, msg.Payload)
	}
	return &payload, nil
}
