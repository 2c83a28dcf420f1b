package registry

import (
	"fmt"
	"strings"
)

// MaxVersionNameLen bounds a module name in a version record.
const MaxVersionNameLen = 63

// Version is the API version a module registered.
type Version struct {
	Name  string
	Major uint32
	Minor uint32
	Patch uint32
}

func (v Version) String() string {
	return fmt.Sprintf("%s %d.%d.%d", v.Name, v.Major, v.Minor, v.Patch)
}

// AddVersion appends a module version record.
func (r *Registry) AddVersion(name string, major, minor, patch uint32) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyName
	}
	if len(name) > MaxVersionNameLen {
		return fmt.Errorf("%w: %q", ErrNameTooLong, name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.versions = append(r.versions, Version{Name: name, Major: major, Minor: minor, Patch: patch})
	return nil
}

// Versions returns the records in registration order.
func (r *Registry) Versions() []Version {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Version, len(r.versions))
	copy(out, r.versions)
	return out
}
