package broker

import (
	"fmt"

	"github.com/google/uuid"
)

// GenerateClientID creates a server-assigned client identifier for v5
// clients that connect with an empty one. The id is echoed in the CONNACK
// assigned-client-identifier property.
func GenerateClientID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate client id: %w", err)
	}
	return "auto-" + id.String(), nil
}
