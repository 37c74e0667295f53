package model

import "time"

// Wallet is the connected companion account as seen by the local side.
type Wallet struct {
	Address     string
	PublicKey   []byte
	Connected   bool
	Chain       Chain
	Origin      string
	SessionID   string // session that established the connection
	ConnectedAt time.Time
}
