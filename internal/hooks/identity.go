package hooks

import (
	"fmt"
	"strconv"
	"strings"
)

// Identity is a parsed interface identity such as "IVRServerDriverHost_005".
type Identity struct {
	Name    string
	Version int
}

// ParseIdentity splits an identity string into name and version. Names
// without a numeric suffix have version 0.
func ParseIdentity(s string) (Identity, error) {
	if s == "" {
		return Identity{}, ErrInvalidIdentity
	}

	i := strings.LastIndexByte(s, '_')
	if i <= 0 || i == len(s)-1 {
		return Identity{Name: s}, nil
	}

	v, err := strconv.Atoi(s[i+1:])
	if err != nil || v < 0 {
		return Identity{Name: s}, nil
	}
	return Identity{Name: s[:i], Version: v}, nil
}

// String renders the identity in its wire form.
func (id Identity) String() string {
	if id.Version == 0 {
		return id.Name
	}
	return fmt.Sprintf("%s_%03d", id.Name, id.Version)
}
