package models

import "github.com/nicolastakashi/opsdash/internal/render"

type MetricsResponse struct {
	Status  string   `json:"status"`
	Metrics []string `json:"metrics"`
	Error   string   `json:"error,omitempty"`
}

type SeriesResponse struct {
	Version   uint64         `json:"version"`
	Status    string         `json:"status"`
	Selection []string       `json:"selection"`
	Traces    []render.Trace `json:"traces"`
	Layout    render.Layout  `json:"layout"`
}

type LatestResponse struct {
	Version uint64        `json:"version"`
	Status  string        `json:"status"`
	Chips   []render.Chip `json:"chips"`
}

type SelectionRequest struct {
	Selection []string `json:"selection"`
}

type SelectionResponse struct {
	Selection []string `json:"selection"`
	Metrics   []string `json:"metrics"`
}

// FrameEvent is the payload of a "frame" server-sent event.
type FrameEvent struct {
	Version   uint64         `json:"version"`
	Status    string         `json:"status"`
	Selection []string       `json:"selection"`
	Traces    []render.Trace `json:"traces"`
	Chips     []render.Chip  `json:"chips"`
}

type RefreshResponse struct {
	Status string `json:"status"`
}
