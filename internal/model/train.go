package model

// Train statuses.
const (
	TrainActive      = "ACTIVE"
	TrainInactive    = "INACTIVE"
	TrainPublished   = "PUBLISHED"
	TrainUnpublished = "UNPUBLISHED"
)

// Train carries the seat capacity of the schedules it is assigned to.
// Schedules embed a snapshot of the train taken at assignment time.
type Train struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Number        string `json:"number"`
	Status        string `json:"status"`         // ACTIVE, INACTIVE
	PublishStatus string `json:"publish_status"` // PUBLISHED, UNPUBLISHED
	TotalSeats    int    `json:"total_seats"`
}

// Bookable reports whether the train may be assigned to a schedule.
func (t *Train) Bookable() bool {
	return t != nil && t.Status == TrainActive && t.PublishStatus == TrainPublished
}
