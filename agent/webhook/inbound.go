package webhook

import (
	"errors"
	"strings"
)

// InboundConfig holds the keys callers sign inbound requests with. Two keys
// allow rotation: the next key is accepted before it becomes current.
type InboundConfig struct {
	CurrentSigningKey string `split_words:"true"`
	NextSigningKey    string `split_words:"true"`
	SignatureHeader   string `split_words:"true" default:"X-Webhook-Signature"`
}

type InboundVerifier struct {
	currentSigningKey string
	nextSigningKey    string
	header            string
}

func NewInboundVerifier(cfg InboundConfig) (*InboundVerifier, error) {
	current := strings.TrimSpace(cfg.CurrentSigningKey)
	next := strings.TrimSpace(cfg.NextSigningKey)
	if current == "" && next != "" {
		return nil, errors.New("inbound next signing key set without a current key")
	}

	header := strings.TrimSpace(cfg.SignatureHeader)
	if header == "" {
		header = DefaultSignatureHeader
	}

	return &InboundVerifier{
		currentSigningKey: current,
		nextSigningKey:    next,
		header:            header,
	}, nil
}

func MustNewInboundVerifier(cfg InboundConfig) *InboundVerifier {
	v, err := NewInboundVerifier(cfg)
	if err != nil {
		panic(err)
	}
	return v
}

// Enabled reports whether inbound requests must carry a signature.
func (v *InboundVerifier) Enabled() bool {
	return v != nil && v.currentSigningKey != ""
}

func (v *InboundVerifier) Header() string {
	if v == nil || v.header == "" {
		return DefaultSignatureHeader
	}
	return v.header
}

// Verify checks signature against the current and next keys. A disabled
// verifier accepts everything.
func (v *InboundVerifier) Verify(payload []byte, signature string) bool {
	if !v.Enabled() {
		return true
	}
	return VerifyAny(payload, signature, v.currentSigningKey, v.nextSigningKey)
}
