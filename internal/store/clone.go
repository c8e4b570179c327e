package store

import (
	"maps"
	"slices"

	"github.com/haasonsaas/relay/pkg/models"
)

// Stored entities and the values handed to callers must not share mutable
// state: slices get fresh backing arrays and nested pointers fresh targets,
// so mutating a returned value cannot corrupt the stored one.

func cloneAssistant(a *models.Assistant) *models.Assistant {
	cp := *a
	cp.Tools = slices.Clone(a.Tools)
	cp.Metadata = maps.Clone(a.Metadata)
	return &cp
}

func cloneThread(t *models.Thread) *models.Thread {
	cp := *t
	cp.Metadata = maps.Clone(t.Metadata)
	return &cp
}

func cloneMessage(m *models.Message) *models.Message {
	cp := *m
	cp.Content = slices.Clone(m.Content)
	for i, part := range cp.Content {
		if part.Text != nil {
			text := *part.Text
			text.Annotations = slices.Clone(part.Text.Annotations)
			cp.Content[i].Text = &text
		}
	}
	cp.ToolCalls = slices.Clone(m.ToolCalls)
	cp.Attachments = slices.Clone(m.Attachments)
	cp.Metadata = maps.Clone(m.Metadata)
	if m.IncompleteDetails != nil {
		d := *m.IncompleteDetails
		cp.IncompleteDetails = &d
	}
	return &cp
}

func cloneRun(r *models.Run) *models.Run {
	cp := *r
	cp.Tools = slices.Clone(r.Tools)
	cp.Metadata = maps.Clone(r.Metadata)
	if r.Usage != nil {
		u := *r.Usage
		cp.Usage = &u
	}
	if r.LastError != nil {
		le := *r.LastError
		cp.LastError = &le
	}
	if r.IncompleteDetails != nil {
		d := *r.IncompleteDetails
		cp.IncompleteDetails = &d
	}
	if r.RequiredAction != nil {
		ra := *r.RequiredAction
		if ra.SubmitToolOutputs != nil {
			sto := *ra.SubmitToolOutputs
			sto.ToolCalls = slices.Clone(sto.ToolCalls)
			ra.SubmitToolOutputs = &sto
		}
		cp.RequiredAction = &ra
	}
	return &cp
}
