package catchstore

import "time"

// CatchRecord is one identified-and-saved fish sighting. ID and CaughtAt are
// set at creation and never change; an empty ImageRef means no image is
// associated with the record.
type CatchRecord struct {
	ID         string    `json:"id"`
	Species    string    `json:"species"`
	Confidence float64   `json:"confidence"`
	CaughtAt   time.Time `json:"caught_at"`
	ImageRef   string    `json:"image_ref,omitempty"`
}
