package domain

import (
	"context"
	"time"
)

// Envelope is the JSON structure the encryption primitive stores in place of
// a sensitive column value. Binary fields are base64 encoded.
type Envelope struct {
	Algorithm  string `json:"algorithm,omitempty"`
	Ciphertext string `json:"ciphertext"`
	IV         string `json:"iv"`
	AuthTag    string `json:"authTag,omitempty"`
	Version    int    `json:"version,omitempty"`
}

// ContentEncryptor provides symmetric encryption for column content.
type ContentEncryptor interface {
	Encrypt(plaintext string) (*Envelope, error)
	Decrypt(env *Envelope) (string, error)
}

// ConsentType names a processing purpose the user can consent to.
type ConsentType string

const (
	ConsentDataProcessing ConsentType = "data_processing"
	ConsentEncryption     ConsentType = "encryption"
	ConsentAIProcessing   ConsentType = "ai_processing"
	ConsentMarketing      ConsentType = "marketing"
)

// Valid reports whether c is a known consent type.
func (c ConsentType) Valid() bool {
	switch c {
	case ConsentDataProcessing, ConsentEncryption, ConsentAIProcessing, ConsentMarketing:
		return true
	}
	return false
}

// ConsentRecord is one grant in a user's consent history. A revoke stamps
// RevokedAt; records are never deleted.
type ConsentRecord struct {
	ID          int64       `json:"id"`
	UserID      int64       `json:"userId"`
	ConsentType ConsentType `json:"consentType"`
	Granted     bool        `json:"granted"`
	GrantedAt   *time.Time  `json:"grantedAt,omitempty"`
	RevokedAt   *time.Time  `json:"revokedAt,omitempty"`
	Version     string      `json:"version"`
	CreatedAt   time.Time   `json:"createdAt"`
}

// Active reports whether the record is a live grant.
func (r ConsentRecord) Active() bool {
	return r.Granted && r.RevokedAt == nil
}

// ConsentChecker answers whether a user currently holds a consent.
type ConsentChecker interface {
	HasActiveConsent(ctx context.Context, userID int64, consentType ConsentType) (bool, error)
}

// ConsentStore persists consent history.
type ConsentStore interface {
	ConsentChecker
	Grant(ctx context.Context, userID int64, consentType ConsentType, version string) (*ConsentRecord, error)
	Revoke(ctx context.Context, userID int64, consentType ConsentType) (int64, error)
	List(ctx context.Context, userID int64) ([]ConsentRecord, error)
}
