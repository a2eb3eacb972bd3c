package service

import "errors"

var (
	// ErrNotStarted is returned by asynchronous intake before Start.
	ErrNotStarted = errors.New("service not started")
	// ErrDuplicateSubmission is returned when a submission id was already accepted.
	ErrDuplicateSubmission = errors.New("submission already accepted")
	// ErrBackpressure is returned when the ingestion queue is full.
	ErrBackpressure = errors.New("ingestion queue full")
)
