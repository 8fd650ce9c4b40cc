package canonical

import "github.com/google/uuid"

// NewUUIDv7String mints a new UUIDv7 string, the immutable primary key
// minted at item creation.
func NewUUIDv7String() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// ParseUUID validates that s parses as a UUID of any version.
func ParseUUID(s string) (uuid.UUID, error) {
	return uuid.Parse(s)
}
