package models

import "strings"

const maxGroupNameLen = 100

// Group is a named set of entities managed together.
type Group struct {
	ID       string   `json:"id" yaml:"id"`
	Name     string   `json:"name" yaml:"name"`
	Entities []string `json:"entities" yaml:"entities"`
}

// GroupRequest is the payload for creating or replacing a group.
type GroupRequest struct {
	Name     string   `json:"name"`
	Entities []string `json:"entities"`
}

// Validate checks the request, dropping duplicate entity ids.
func (r *GroupRequest) Validate() error {
	r.Name = strings.TrimSpace(r.Name)
	if r.Name == "" {
		return ErrFieldRequired("name")
	}

	if len(r.Name) > maxGroupNameLen {
		return ErrFieldTooLong("name", maxGroupNameLen)
	}

	seen := make(map[string]bool, len(r.Entities))
	out := make([]string, 0, len(r.Entities))
	for _, id := range r.Entities {
		if !ValidEntityID(id) {
			return ErrInvalidField("entities", "invalid entity id "+id)
		}

		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	r.Entities = out

	return nil
}
