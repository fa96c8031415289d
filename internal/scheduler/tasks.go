package scheduler

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

// TaskPipelineRecompute re-derives and stores one contact's schedule.
const TaskPipelineRecompute = "pipeline.recompute"

type RecomputePayload struct {
	OrganizationID string `json:"organizationId"`
	ContactID      string `json:"contactId"`
}

func NewRecomputeTask(payload RecomputePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPipelineRecompute, data), nil
}

func ParseRecomputePayload(task *asynq.Task) (RecomputePayload, error) {
	var payload RecomputePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return RecomputePayload{}, err
	}
	return payload, nil
}
