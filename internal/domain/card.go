package domain

import (
	"time"

	"github.com/google/uuid"
)

type CardNetwork string

const (
	CardNetworkVisa       CardNetwork = "VISA"
	CardNetworkMastercard CardNetwork = "MASTERCARD"
	CardNetworkAmex       CardNetwork = "AMEX"
	CardNetworkDiners     CardNetwork = "DINERS"
)

// CardRecord never holds the clear PAN. PANEncrypted is base64(iv|ciphertext|tag)
// and PANHash is the blind index used for lookups.
type CardRecord struct {
	ID           uuid.UUID
	AccountID    uuid.UUID
	PANEncrypted string
	PANHash      string
	LastFour     string
	HolderName   string
	ExpiryYear   int
	ExpiryMonth  int
	Network      *CardNetwork
	Active       bool
	CreatedAt    time.Time
}
