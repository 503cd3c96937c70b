package models

import "time"

// CredentialTypeAnthropic is the credential type the copilot resolves.
const CredentialTypeAnthropic = "anthropicApi"

// Credential is stored third-party API credential metadata. Data holds the
// encrypted secret blob and is never serialized to clients.
type Credential struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Type      string    `json:"type"`
	Name      string    `json:"name"`
	Data      string    `json:"-"`
	Shared    bool      `json:"shared"`
	CreatedAt time.Time `json:"created_at"`
}
