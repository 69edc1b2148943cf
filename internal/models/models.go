package models

import "time"

type Queue struct {
	Downloading     []Item `json:"downloading"`
	Pending         []Item `json:"pending"`
	Finished        []Item `json:"finished"`
	MaxConcurrent   int    `json:"maxConcurrent"`
	Paused          bool   `json:"paused"`
	OverallProgress int    `json:"overallProgress"`
}

type Item struct {
	Id               string `json:"id"`
	Link             string `json:"link"`
	Name             string `json:"name"`
	Priority         string `json:"priority"`
	Status           string `json:"status"`
	Progress         int    `json:"progress"`
	BytesTransferred int64  `json:"bytesTransferred"`
	Size             int64  `json:"size"`
	DownloadSpeed    string `json:"downloadSpeed"`
	ETA              string `json:"eta,omitempty"`
	RetryCount       int    `json:"retryCount"`
	QueuePosition    int    `json:"queuePosition"`
	Error            string `json:"error,omitempty"`
	AddedAt          string `json:"addedAt"`
}

// CachedFile is a completed download kept by the cache backend.
type CachedFile struct {
	Link        string    `json:"link"`
	Path        string    `json:"path"`
	Size        int64     `json:"size"`
	ContentType string    `json:"contentType,omitempty"`
	CompletedAt time.Time `json:"completedAt"`
}

type RequestResult struct {
	Outcome string      `json:"outcome"`
	Id      string      `json:"id,omitempty"`
	File    *CachedFile `json:"file,omitempty"`
}

type Message struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}
