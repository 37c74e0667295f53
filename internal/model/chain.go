package model

import "fmt"

// Chain describes the destination chain of a request.
type Chain struct {
	Type int `json:"t" mapstructure:"type"`
	ID   int `json:"i" mapstructure:"id"`
}

// SolanaMainnet is the only chain the companion signer currently serves.
var SolanaMainnet = Chain{Type: 1, ID: 0}

func (c Chain) String() string {
	return fmt.Sprintf("%d:%d", c.Type, c.ID)
}
