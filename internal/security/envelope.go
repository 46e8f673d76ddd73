package security

import (
	"encoding/json"
	"strings"

	"lexvault/internal/domain"
)

// FieldOutcome classifies what DecryptField found in a stored value.
type FieldOutcome int

const (
	// FieldPlaintext: not JSON, or JSON without the envelope shape.
	FieldPlaintext FieldOutcome = iota
	// FieldDecrypted: an envelope that opened cleanly.
	FieldDecrypted
	// FieldDecryptFailed: an envelope that could not be opened (wrong key,
	// corrupt data, missing encryptor). The stored value passes through.
	FieldDecryptFailed
)

func (o FieldOutcome) String() string {
	switch o {
	case FieldDecrypted:
		return "decrypted"
	case FieldDecryptFailed:
		return "decrypt_failed"
	default:
		return "plaintext"
	}
}

// FieldResult is the value to export plus how it was obtained.
type FieldResult struct {
	Value   string
	Outcome FieldOutcome
	Err     error
}

// ParseEnvelope returns the envelope encoded in stored, if stored has the
// envelope shape. Version 1 envelopes must carry an auth tag; other versions
// need only ciphertext and iv.
func ParseEnvelope(stored string) (*domain.Envelope, bool) {
	s := strings.TrimSpace(stored)
	if !strings.HasPrefix(s, "{") {
		return nil, false
	}
	var env domain.Envelope
	if err := json.Unmarshal([]byte(s), &env); err != nil {
		return nil, false
	}
	if env.Ciphertext == "" || env.IV == "" {
		return nil, false
	}
	if env.Version == envelopeVersionDetachedTag && env.AuthTag == "" {
		return nil, false
	}
	return &env, true
}

// DecryptField turns a stored column value into its exportable form. It
// never fails: anything that is not a decryptable envelope is returned
// unchanged, with the outcome telling the caller why.
func DecryptField(enc domain.ContentEncryptor, stored string) FieldResult {
	env, ok := ParseEnvelope(stored)
	if !ok {
		return FieldResult{Value: stored, Outcome: FieldPlaintext}
	}
	if enc == nil {
		return FieldResult{
			Value:   stored,
			Outcome: FieldDecryptFailed,
			Err:     domain.NewDomainError("DecryptField", domain.ErrDecryption, "no encryptor configured"),
		}
	}
	plain, err := enc.Decrypt(env)
	if err != nil {
		return FieldResult{Value: stored, Outcome: FieldDecryptFailed, Err: err}
	}
	return FieldResult{Value: plain, Outcome: FieldDecrypted}
}
