package utils

import "github.com/google/uuid"

// GenId returns a random identifier for viewers and log correlation.
func GenId() string {
	return uuid.NewString()
}
