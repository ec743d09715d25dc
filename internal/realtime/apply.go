package realtime

import (
	"encoding/json"

	"github.com/listlane/listlane/internal/listlane"
)

// BindStore registers a handler for every mutation kind so inbound events
// from other clients land in the local store. Handlers log and drop events
// they cannot decode or apply; a broadcast stream has nowhere to return an
// error to.
func BindStore(manager *Manager, store *listlane.Store, logger listlane.Logger) {
	logf := func(format string, args ...any) {
		if logger != nil {
			logger.Printf(format, args...)
		}
	}

	applyProject := func(envelope Envelope) {
		var payload ProjectPayload
		if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
			logf("bad project payload: %v", err)
			return
		}
		err := store.UpsertProject(listlane.ProjectUpsert{
			ID:    payload.ID,
			Name:  payload.Name,
			After: payload.After,
		})
		if err != nil {
			logf("apply %s %s: %v", envelope.Type, payload.ID, err)
		}
	}
	manager.Handle(KindProjectAdd, applyProject)
	manager.Handle(KindProjectUpdate, applyProject)
	manager.Handle(KindProjectDelete, func(envelope Envelope) {
		var payload ProjectPayload
		if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
			logf("bad project payload: %v", err)
			return
		}
		if err := store.DeleteProject(payload.ID); err != nil {
			logf("apply %s %s: %v", envelope.Type, payload.ID, err)
		}
	})

	applyGroup := func(envelope Envelope) {
		var payload GroupPayload
		if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
			logf("bad group payload: %v", err)
			return
		}
		err := store.UpsertGroup(listlane.GroupUpsert{
			ID:        payload.ID,
			Name:      payload.Name,
			ProjectID: payload.ProjectID,
			After:     payload.After,
		})
		if err != nil {
			logf("apply %s %s: %v", envelope.Type, payload.ID, err)
		}
	}
	manager.Handle(KindGroupAdd, applyGroup)
	manager.Handle(KindGroupUpdate, applyGroup)
	manager.Handle(KindGroupDelete, func(envelope Envelope) {
		var payload GroupPayload
		if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
			logf("bad group payload: %v", err)
			return
		}
		if err := store.DeleteGroup(payload.ID); err != nil {
			logf("apply %s %s: %v", envelope.Type, payload.ID, err)
		}
	})

	applyTask := func(envelope Envelope) {
		var payload TaskPayload
		if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
			logf("bad task payload: %v", err)
			return
		}
		err := store.UpsertTask(listlane.TaskUpsert{
			ID:      payload.ID,
			Text:    payload.Text,
			GroupID: payload.Group,
			Status:  payload.Status,
			After:   payload.After,
		})
		if err != nil {
			logf("apply %s %s: %v", envelope.Type, payload.ID, err)
		}
	}
	manager.Handle(KindTaskAdd, applyTask)
	manager.Handle(KindTaskUpdate, applyTask)
	manager.Handle(KindTaskDelete, func(envelope Envelope) {
		var payload TaskPayload
		if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
			logf("bad task payload: %v", err)
			return
		}
		if err := store.DeleteTask(payload.ID); err != nil {
			logf("apply %s %s: %v", envelope.Type, payload.ID, err)
		}
	})
}
