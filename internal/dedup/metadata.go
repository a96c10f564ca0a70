// Package dedup binds the fingerprint index to chats: it chooses the
// storage backend per chat and reports every classification.
package dedup

// ImageMetadata identifies a stored chat image and the message that
// introduced it. Its JSON form is the sidecar record written next to each
// stored image.
type ImageMetadata struct {
	Name      string `json:"file_name"`
	UserID    int64  `json:"user_id"`
	MessageID int    `json:"message_id"`
}

// FileName returns the stored object name.
func (m ImageMetadata) FileName() string { return m.Name }
