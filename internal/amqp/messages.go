package amqp

import (
	"encoding/json"
	"errors"
	"time"
)

// ExportRequestMessage names a queued export job. The worker reads the job
// row and fetches everything else from the backend.
type ExportRequestMessage struct {
	JobID     string    `json:"job_id"`
	ProjectID int64     `json:"project_id"`
	Timestamp time.Time `json:"timestamp"`
}

func NewExportRequestMessage(jobID string, projectID int64) *ExportRequestMessage {
	return &ExportRequestMessage{
		JobID:     jobID,
		ProjectID: projectID,
		Timestamp: time.Now(),
	}
}

func (m *ExportRequestMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ExportRequestMessageFromJSON rejects payloads without a job or project.
func ExportRequestMessageFromJSON(data []byte) (*ExportRequestMessage, error) {
	var msg ExportRequestMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.JobID == "" || msg.ProjectID <= 0 {
		return nil, errors.New("export request needs job_id and project_id")
	}
	return &msg, nil
}
