package topic

import "time"

// AddReference links topics a and b bidirectionally.
func AddReference(sharedRoot, a, b string, now time.Time) error {
	ma, err := loadManifest(sharedRoot, a)
	if err != nil {
		return err
	}
	mb, err := loadManifest(sharedRoot, b)
	if err != nil {
		return err
	}
	ma.References = addEdge(ma.References, b)
	mb.References = addEdge(mb.References, a)
	stamp := now.UTC().Format(time.RFC3339)
	ma.UpdatedAt, mb.UpdatedAt = stamp, stamp
	if err := saveManifest(sharedRoot, ma); err != nil {
		return err
	}
	return saveManifest(sharedRoot, mb)
}

// RemoveReference unlinks topics a and b.
func RemoveReference(sharedRoot, a, b string, now time.Time) error {
	ma, err := loadManifest(sharedRoot, a)
	if err != nil {
		return err
	}
	mb, err := loadManifest(sharedRoot, b)
	if err != nil {
		return err
	}
	ma.References = removeEdge(ma.References, b)
	mb.References = removeEdge(mb.References, a)
	stamp := now.UTC().Format(time.RFC3339)
	ma.UpdatedAt, mb.UpdatedAt = stamp, stamp
	if err := saveManifest(sharedRoot, ma); err != nil {
		return err
	}
	return saveManifest(sharedRoot, mb)
}
